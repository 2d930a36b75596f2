// Package ledger implements the local token ledger. Every operation runs in
// exactly one SQLite transaction: balances and the append-only transaction
// log change together or not at all.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/metrics"
	"github.com/torrentnode/torrentnode/internal/infra/sqlite"
)

// Defaults applied when callers pass a non-positive limit.
const (
	DefaultHistoryLimit     = 50
	DefaultLeaderboardLimit = 10
)

var _ domain.Ledger = (*Service)(nil)

// Service manages balances and the transaction log.
type Service struct {
	db  *sqlite.DB
	log *zap.Logger
	now func() time.Time
}

// NewService creates a ledger service on an open database.
func NewService(db *sqlite.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log.Named("ledger"), now: time.Now}
}

// InitBalance creates the account with the initial grant. Calling it again
// for an existing account changes nothing and returns the current state.
func (s *Service) InitBalance(ctx context.Context, address string) (domain.Account, error) {
	if err := validAddress(address); err != nil {
		return domain.Account{}, err
	}

	var acct domain.Account
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		now := s.now().UTC()
		created, err := tx.CreateAccount(ctx, address, domain.InitialBalance, now)
		if err != nil {
			return err
		}
		if created {
			if _, err := tx.AppendTransaction(ctx, newTx(domain.SystemAddress, address,
				domain.InitialBalance, domain.TxInitial, "", now)); err != nil {
				return err
			}
		}
		acct, _, err = tx.GetAccount(ctx, address)
		return err
	})
	s.observe("init", err)
	if err != nil {
		return domain.Account{}, fmt.Errorf("init balance for %s: %w", address, err)
	}
	return acct, nil
}

// AddReward credits a task reward from the rewards pool, creating the
// account if needed.
func (s *Service) AddReward(ctx context.Context, address string, amount domain.Amount, taskID string) error {
	if err := validAddress(address); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: reward must be positive, got %s", domain.ErrInvalidAmount, amount)
	}

	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		now := s.now().UTC()
		if err := tx.Credit(ctx, address, amount, amount, now); err != nil {
			return err
		}
		_, err := tx.AppendTransaction(ctx, newTx(domain.RewardsPoolAddress, address,
			amount, domain.TxReward, taskID, now))
		return err
	})
	s.observe("reward", err)
	if err != nil {
		return fmt.Errorf("add reward for %s: %w", address, err)
	}

	metrics.TokensRewarded.Add(amount.Decimal().InexactFloat64())
	s.log.Info("reward credited",
		zap.String("address", address),
		zap.String("amount", amount.String()),
		zap.String("task_id", taskID))
	return nil
}

// Transfer moves amount from one account to another. The debit is
// conditional on the sender's available balance, so concurrent transfers
// can never drive it negative.
func (s *Service) Transfer(ctx context.Context, from, to string, amount domain.Amount) (domain.TxRef, error) {
	if err := validAddress(from); err != nil {
		return domain.TxRef{}, err
	}
	if err := validAddress(to); err != nil {
		return domain.TxRef{}, err
	}
	if from == to {
		return domain.TxRef{}, fmt.Errorf("%w: cannot transfer to the same address", domain.ErrValidation)
	}
	if !amount.IsPositive() {
		return domain.TxRef{}, fmt.Errorf("%w: transfer amount must be positive, got %s", domain.ErrInvalidAmount, amount)
	}

	var ref domain.TxRef
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		now := s.now().UTC()
		ok, err := tx.Debit(ctx, from, amount, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.insufficient(ctx, tx, from, amount)
		}
		if err := tx.Credit(ctx, to, amount, 0, now); err != nil {
			return err
		}
		id, err := tx.AppendTransaction(ctx, newTx(from, to, amount, domain.TxTransfer, "", now))
		ref.ID = id
		return err
	})
	s.observe("transfer", err)
	if err != nil {
		return domain.TxRef{}, fmt.Errorf("transfer %s from %s to %s: %w", amount, from, to, err)
	}

	s.log.Info("transfer committed",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.Int64("tx_id", ref.ID))
	return ref, nil
}

// Stake locks part of the available balance.
func (s *Service) Stake(ctx context.Context, address string, amount domain.Amount) error {
	if err := validAddress(address); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: stake amount must be positive, got %s", domain.ErrInvalidAmount, amount)
	}

	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		now := s.now().UTC()
		ok, err := tx.Lock(ctx, address, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.insufficient(ctx, tx, address, amount)
		}
		_, err = tx.AppendTransaction(ctx, newTx(address, domain.StakingPoolAddress,
			amount, domain.TxStake, "", now))
		return err
	})
	s.observe("stake", err)
	if err != nil {
		return fmt.Errorf("stake %s for %s: %w", amount, address, err)
	}
	return nil
}

// Unstake releases locked funds back to the available balance.
func (s *Service) Unstake(ctx context.Context, address string, amount domain.Amount) error {
	if err := validAddress(address); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: unstake amount must be positive, got %s", domain.ErrInvalidAmount, amount)
	}

	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		now := s.now().UTC()
		ok, err := tx.Unlock(ctx, address, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			acct, _, err := tx.GetAccount(ctx, address)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: have %s locked, need %s", domain.ErrInsufficientLocked, acct.Locked, amount)
		}
		_, err = tx.AppendTransaction(ctx, newTx(domain.StakingPoolAddress, address,
			amount, domain.TxUnstake, "", now))
		return err
	})
	s.observe("unstake", err)
	if err != nil {
		return fmt.Errorf("unstake %s for %s: %w", amount, address, err)
	}
	return nil
}

// Balance returns the account state; unknown addresses read as zero.
func (s *Service) Balance(ctx context.Context, address string) (domain.Account, error) {
	return s.db.Account(ctx, address)
}

// Transactions returns the most recent transactions touching address.
func (s *Service) Transactions(ctx context.Context, address string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.db.Transactions(ctx, address, limit)
}

// Leaderboard returns the top n earners.
func (s *Service) Leaderboard(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = DefaultLeaderboardLimit
	}
	return s.db.Leaderboard(ctx, n)
}

// Statistics summarizes the whole ledger.
func (s *Service) Statistics(ctx context.Context) (domain.LedgerStats, error) {
	st, err := s.db.Stats(ctx)
	if err != nil {
		return domain.LedgerStats{}, err
	}
	st.InitialBalancePerNode = domain.InitialBalance
	return st, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Service) insufficient(ctx context.Context, tx *sqlite.Tx, address string, amount domain.Amount) error {
	acct, _, err := tx.GetAccount(ctx, address)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: have %s, need %s", domain.ErrInsufficientBalance, acct.Balance, amount)
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case domain.IsLedgerError(err), errors.Is(err, domain.ErrValidation):
		outcome = "rejected"
	default:
		outcome = "error"
		s.log.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
	}
	metrics.LedgerOperations.WithLabelValues(op, outcome).Inc()
}

func validAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: address is required", domain.ErrValidation)
	}
	return nil
}

func newTx(from, to string, amount domain.Amount, typ domain.TxType, taskID string, at time.Time) domain.Transaction {
	return domain.Transaction{
		From:      from,
		To:        to,
		Amount:    amount,
		Type:      typ,
		TaskID:    taskID,
		Timestamp: at,
		TxHash:    txHash(from, to, amount, typ, taskID, at),
	}
}

// txHash fingerprints a transaction's content for audit output.
func txHash(from, to string, amount domain.Amount, typ domain.TxType, taskID string, at time.Time) string {
	h := sha256.New()
	for _, part := range []string{from, to, strconv.FormatInt(int64(amount), 10), string(typ), taskID,
		strconv.FormatInt(at.UnixNano(), 10)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
