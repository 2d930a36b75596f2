package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/torrentnode/torrentnode/internal/domain"
)

func init() {
	transferCmd.Flags().StringVar(&transferTo, "to", "", "Recipient address")
	transferCmd.Flags().StringVar(&transferAmount, "amount", "", "Amount in tokens")
	_ = transferCmd.MarkFlagRequired("to")
	_ = transferCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(transferCmd)
}

var (
	transferTo     string
	transferAmount string
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer tokens from this node to another account",
	Args:  cobra.NoArgs,
	RunE:  runTransfer,
}

func runTransfer(cmd *cobra.Command, args []string) error {
	amount, err := parseAmountFlag("amount", transferAmount)
	if err != nil {
		return err
	}
	if transferTo == "" {
		return fmt.Errorf("%w: --to is required", domain.ErrValidation)
	}

	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	// Only the node's own account can be debited.
	from, err := l.self(ctx, "")
	if err != nil {
		return err
	}
	ref, err := l.Transfer(ctx, from, transferTo, amount)
	if err != nil {
		return err
	}

	acct, err := l.Balance(ctx, from)
	if err != nil {
		return err
	}
	fmt.Printf("Transferred %s from %s to %s (tx %d)\n", amount.Fixed(), from, transferTo, ref.ID)
	fmt.Printf("New balance: %s\n", acct.Balance.Fixed())
	return nil
}
