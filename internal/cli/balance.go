package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	balanceCmd.Flags().StringVar(&balanceAddress, "address", "", "Account address (default: this node)")
	balanceCmd.Flags().IntVar(&balanceHistory, "history", 0, "Also show the last N transactions")
	rootCmd.AddCommand(balanceCmd)
}

var (
	balanceAddress string
	balanceHistory int
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show an account balance",
	Args:  cobra.NoArgs,
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	address, err := l.self(ctx, balanceAddress)
	if err != nil {
		return err
	}
	acct, err := l.Balance(ctx, address)
	if err != nil {
		return err
	}

	fmt.Printf("Address:   %s\n", acct.Address)
	fmt.Printf("Balance:   %s\n", acct.Balance.Fixed())
	fmt.Printf("Locked:    %s\n", acct.Locked.Fixed())
	fmt.Printf("Total:     %s\n", acct.Total().Fixed())
	fmt.Printf("Earned:    %s\n", acct.EarnedTotal.Fixed())
	fmt.Printf("Spent:     %s\n", acct.SpentTotal.Fixed())

	if balanceHistory <= 0 {
		return nil
	}

	txs, err := l.Transactions(ctx, address, balanceHistory)
	if err != nil {
		return err
	}
	fmt.Println()
	if len(txs) == 0 {
		fmt.Println("No transactions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tFROM\tTO\tAMOUNT\tTASK\tTIME")
	for _, tx := range txs {
		amount := tx.Amount.Fixed()
		if tx.From == address {
			amount = "-" + amount
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID,
			tx.Type,
			shortID(tx.From),
			shortID(tx.To),
			amount,
			shortID(tx.TaskID),
			tx.Timestamp.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}
