package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/torrentnode/torrentnode/internal/domain"
)

func init() {
	stakeCmd.Flags().StringVar(&stakeAmount, "amount", "", "Amount in tokens")
	unstakeCmd.Flags().StringVar(&stakeAmount, "amount", "", "Amount in tokens")
	_ = stakeCmd.MarkFlagRequired("amount")
	_ = unstakeCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(stakeCmd, unstakeCmd)
}

var stakeAmount string

var stakeCmd = &cobra.Command{
	Use:   "stake",
	Short: "Lock tokens from the node's balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStake(cmd.Context(), "Staked", (*localLedger).Stake)
	},
}

var unstakeCmd = &cobra.Command{
	Use:   "unstake",
	Short: "Release locked tokens back to the node's balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStake(cmd.Context(), "Unstaked", (*localLedger).Unstake)
	},
}

type stakeOp func(l *localLedger, ctx context.Context, address string, amount domain.Amount) error

func runStake(ctx context.Context, verb string, op stakeOp) error {
	amount, err := parseAmountFlag("amount", stakeAmount)
	if err != nil {
		return err
	}

	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	address, err := l.self(ctx, "")
	if err != nil {
		return err
	}
	if err := op(l, ctx, address, amount); err != nil {
		return err
	}

	acct, err := l.Balance(ctx, address)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", verb, amount.Fixed())
	fmt.Printf("Balance:   %s\n", acct.Balance.Fixed())
	fmt.Printf("Locked:    %s\n", acct.Locked.Fixed())
	return nil
}
