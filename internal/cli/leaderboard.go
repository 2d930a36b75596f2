package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", 10, "Number of entries")
	rootCmd.AddCommand(leaderboardCmd)
}

var leaderboardLimit int

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show the top earners",
	Args:  cobra.NoArgs,
	RunE:  runLeaderboard,
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.Leaderboard(cmd.Context(), leaderboardLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No accounts yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tADDRESS\tEARNED\tBALANCE")
	for i, e := range entries {
		marker := ""
		if e.Address == l.nodeID {
			marker = " (you)"
		}
		fmt.Fprintf(w, "%d\t%s%s\t%s\t%s\n", i+1, e.Address, marker, e.EarnedTotal.Fixed(), e.Balance.Fixed())
	}
	return w.Flush()
}
