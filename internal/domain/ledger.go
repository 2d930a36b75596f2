package domain

import "time"

// TxType categorizes ledger transactions.
type TxType string

const (
	TxReward   TxType = "reward"
	TxTransfer TxType = "transfer"
	TxStake    TxType = "stake"
	TxUnstake  TxType = "unstake"
	TxInitial  TxType = "initial"
)

// Sentinel counterparties for transactions that do not move funds between
// two real accounts.
const (
	SystemAddress      = "system"
	RewardsPoolAddress = "rewards_pool"
	StakingPoolAddress = "staking_pool"
)

// InitialBalance is granted once to every account by InitBalance.
const InitialBalance = 100 * AmountScale

// Account is the balance state of one address.
type Account struct {
	Address     string    `json:"address"`
	Balance     Amount    `json:"balance"`
	Locked      Amount    `json:"locked"`
	EarnedTotal Amount    `json:"earned_total"`
	SpentTotal  Amount    `json:"spent_total"`
	LastUpdated time.Time `json:"last_updated"`
}

// Total returns available plus locked funds.
func (a Account) Total() Amount {
	return a.Balance + a.Locked
}

// Transaction is an append-only ledger record.
type Transaction struct {
	ID          int64     `json:"id"`
	From        string    `json:"from_address"`
	To          string    `json:"to_address"`
	Amount      Amount    `json:"amount"`
	Type        TxType    `json:"tx_type"`
	TaskID      string    `json:"task_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	BlockNumber int64     `json:"block_number,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
}

// TxRef identifies a committed transaction.
type TxRef struct {
	ID int64 `json:"id"`
}

// LeaderboardEntry is one row of the earnings leaderboard.
type LeaderboardEntry struct {
	Address     string `json:"address"`
	Balance     Amount `json:"balance"`
	EarnedTotal Amount `json:"earned_total"`
}

// LedgerStats summarizes the whole ledger.
type LedgerStats struct {
	TotalAddresses          int64  `json:"total_addresses"`
	TotalSupply             Amount `json:"total_supply"`
	TotalLocked             Amount `json:"total_locked"`
	TotalTransactions       int64  `json:"total_transactions"`
	TotalRewardsDistributed Amount `json:"total_rewards_distributed"`
	InitialBalancePerNode   Amount `json:"initial_balance_per_node"`
}
