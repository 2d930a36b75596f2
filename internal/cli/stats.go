package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics and, if running, node counters",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	st, err := l.Statistics(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("Ledger")
	fmt.Printf("  Accounts:            %d\n", st.TotalAddresses)
	fmt.Printf("  Total supply:        %s\n", st.TotalSupply.Fixed())
	fmt.Printf("  Total locked:        %s\n", st.TotalLocked.Fixed())
	fmt.Printf("  Transactions:        %d\n", st.TotalTransactions)
	fmt.Printf("  Rewards distributed: %s\n", st.TotalRewardsDistributed.Fixed())
	fmt.Printf("  Initial balance:     %s\n", st.InitialBalancePerNode.Fixed())

	client, err := apiClient(2 * time.Second)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	status, err := client.Status(ctx)
	if err != nil {
		fmt.Println("\nNode: not running")
		return nil
	}

	fmt.Println("\nNode")
	fmt.Printf("  ID:                  %s\n", status.NodeID)
	fmt.Printf("  State:               %s\n", status.State)
	fmt.Printf("  Uptime:              %s\n", time.Duration(status.Uptime*float64(time.Second)).Round(time.Second))
	fmt.Printf("  Peers:               %d\n", status.Peers)
	fmt.Printf("  Active tasks:        %d\n", status.ActiveTasks)
	fmt.Printf("  Tasks completed:     %d\n", status.Stats.TasksCompleted)
	fmt.Printf("  Tasks failed:        %d\n", status.Stats.TasksFailed)
	fmt.Printf("  Tokens earned:       %s\n", status.Stats.TokensEarned.Fixed())
	fmt.Printf("  Uploaded:            %s\n", humanBytes(status.Stats.DataUploaded))
	fmt.Printf("  Downloaded:          %s\n", humanBytes(status.Stats.DataDownloaded))
	return nil
}
