package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"

	"github.com/torrentnode/torrentnode/internal/domain"
)

func init() {
	rootCmd.AddCommand(connectCmd, peersCmd)
}

var connectCmd = &cobra.Command{
	Use:   "connect ADDR...",
	Short: "Dial peers by multiaddr through the running node",
	Long: `Dial one or more peers through the running node. Each address must be a
full multiaddr ending in /p2p/<peer-id>, for example
/ip4/192.168.1.20/tcp/8888/p2p/12D3KooW...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	// Reject malformed addresses before bothering the node.
	for _, a := range args {
		if _, err := multiaddr.NewMultiaddr(a); err != nil {
			return fmt.Errorf("%w: invalid multiaddr %q: %v", domain.ErrValidation, a, err)
		}
	}

	client, err := apiClient(time.Minute)
	if err != nil {
		return err
	}
	results, err := client.Connect(cmd.Context(), args)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Connected {
			fmt.Printf("connected  %s\n", r.Addr)
		} else {
			failed++
			fmt.Printf("failed     %s: %s\n", r.Addr, r.Error)
		}
	}
	if failed == len(results) {
		return fmt.Errorf("%w: no peer could be reached", domain.ErrTransport)
	}
	return nil
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List the running node's peers",
	Args:  cobra.NoArgs,
	RunE:  runPeers,
}

func runPeers(cmd *cobra.Command, args []string) error {
	client, err := apiClient(10 * time.Second)
	if err != nil {
		return err
	}
	peers, err := client.Peers(cmd.Context())
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Println("No peers connected.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tADDRESS\tREPUTATION\tDONE\tFAILED\tLAST SEEN")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s:%d\t%.2f\t%d\t%d\t%s ago\n",
			shortID(p.PeerID),
			p.Address, p.Port,
			p.Reputation,
			p.CompletedTasks,
			p.FailedTasks,
			time.Since(p.LastSeen).Round(time.Second),
		)
	}
	return w.Flush()
}
