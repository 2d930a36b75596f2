// Package cli implements the torrentnode command-line interface using Cobra.
// start runs a node; task, connect and peers talk to a running node over its
// control API; the ledger commands open the node's database directly.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "torrentnode",
	Short: "torrentnode: share compute over a peer-to-peer swarm",
	Long: `torrentnode runs a node of a peer-to-peer compute network.
Nodes publish signed tasks into the swarm, execute tasks from other peers
inside a sandbox and earn tokens in a local ledger for every result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	dataDir string
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Node data directory (default $TORRENTNODE_HOME or ~/.torrentnode)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "Control API address of the running node (default from config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
