package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/torrentnode/torrentnode/internal/domain"
)

// Tx exposes the ledger statements that must run inside one transaction.
type Tx struct {
	tx *sql.Tx
}

// ─── Balances ───────────────────────────────────────────────────────────────

const accountColumns = `address, balance, locked, earned_total, spent_total, last_updated`

// GetAccount reads an account inside the transaction. found is false when
// the address has no row yet.
func (t *Tx) GetAccount(ctx context.Context, address string) (acct domain.Account, found bool, err error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM balances WHERE address = ?`, address)
	acct, err = scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{Address: address}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, err
	}
	return acct, true, nil
}

// CreateAccount inserts a new account row. It reports false if the address
// already existed, in which case nothing changes.
func (t *Tx) CreateAccount(ctx context.Context, address string, balance domain.Amount, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO balances (address, balance, locked, earned_total, spent_total, last_updated)
		 VALUES (?, ?, 0, 0, 0, ?)
		 ON CONFLICT(address) DO NOTHING`,
		address, int64(balance), unixNano(now))
	if err != nil {
		return false, fmt.Errorf("create account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Credit adds to an account's available balance, creating the row when
// missing. earned is added to earned_total as well.
func (t *Tx) Credit(ctx context.Context, address string, amount, earned domain.Amount, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO balances (address, balance, locked, earned_total, spent_total, last_updated)
		 VALUES (?, ?, 0, ?, 0, ?)
		 ON CONFLICT(address) DO UPDATE SET
			balance = balance + excluded.balance,
			earned_total = earned_total + excluded.earned_total,
			last_updated = excluded.last_updated`,
		address, int64(amount), int64(earned), unixNano(now))
	if err != nil {
		return fmt.Errorf("credit %s: %w", address, err)
	}
	return nil
}

// Debit subtracts from an account's available balance only if it covers the
// amount. spent is added to spent_total. It reports false, changing nothing,
// when the balance is insufficient or the account does not exist.
func (t *Tx) Debit(ctx context.Context, address string, amount, spent domain.Amount, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE balances
		 SET balance = balance - ?, spent_total = spent_total + ?, last_updated = ?
		 WHERE address = ? AND balance >= ?`,
		int64(amount), int64(spent), unixNano(now), address, int64(amount))
	if err != nil {
		return false, fmt.Errorf("debit %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Lock moves amount from available to locked if available covers it.
func (t *Tx) Lock(ctx context.Context, address string, amount domain.Amount, now time.Time) (bool, error) {
	return t.move(ctx,
		`UPDATE balances SET balance = balance - ?, locked = locked + ?, last_updated = ?
		 WHERE address = ? AND balance >= ?`,
		address, amount, now)
}

// Unlock moves amount from locked back to available if locked covers it.
func (t *Tx) Unlock(ctx context.Context, address string, amount domain.Amount, now time.Time) (bool, error) {
	return t.move(ctx,
		`UPDATE balances SET locked = locked - ?, balance = balance + ?, last_updated = ?
		 WHERE address = ? AND locked >= ?`,
		address, amount, now)
}

func (t *Tx) move(ctx context.Context, stmt, address string, amount domain.Amount, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, stmt,
		int64(amount), int64(amount), unixNano(now), address, int64(amount))
	if err != nil {
		return false, fmt.Errorf("move funds for %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

// AppendTransaction inserts an audit record and returns its sequential id.
func (t *Tx) AppendTransaction(ctx context.Context, rec domain.Transaction) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (from_address, to_address, amount, tx_type, task_id, timestamp, block_number, tx_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.From, rec.To, int64(rec.Amount), string(rec.Type),
		nullableString(rec.TaskID), unixNano(rec.Timestamp),
		nullableInt(rec.BlockNumber), nullableString(rec.TxHash))
	if err != nil {
		return 0, fmt.Errorf("append transaction: %w", err)
	}
	return res.LastInsertId()
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Account returns the account for address, or a zero-valued account.
func (d *DB) Account(ctx context.Context, address string) (domain.Account, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM balances WHERE address = ?`, address)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{Address: address}, nil
	}
	return acct, err
}

// Transactions returns up to limit transactions touching address, newest first.
func (d *DB) Transactions(ctx context.Context, address string, limit int) ([]domain.Transaction, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, from_address, to_address, amount, tx_type, task_id, timestamp, block_number, tx_hash
		 FROM transactions
		 WHERE from_address = ? OR to_address = ?
		 ORDER BY id DESC
		 LIMIT ?`, address, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// TransactionsByTask returns every transaction correlated with a task id.
func (d *DB) TransactionsByTask(ctx context.Context, taskID string) ([]domain.Transaction, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, from_address, to_address, amount, tx_type, task_id, timestamp, block_number, tx_hash
		 FROM transactions WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// Leaderboard returns the top n accounts by lifetime earnings.
func (d *DB) Leaderboard(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT address, balance, earned_total FROM balances
		 ORDER BY earned_total DESC, address ASC
		 LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		var bal, earned int64
		if err := rows.Scan(&e.Address, &bal, &earned); err != nil {
			return nil, err
		}
		e.Balance = domain.Amount(bal)
		e.EarnedTotal = domain.Amount(earned)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats aggregates ledger-wide totals.
func (d *DB) Stats(ctx context.Context) (domain.LedgerStats, error) {
	var s domain.LedgerStats
	var supply, locked, rewards int64

	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(balance), 0), COALESCE(SUM(locked), 0) FROM balances`,
	).Scan(&s.TotalAddresses, &supply, &locked)
	if err != nil {
		return s, fmt.Errorf("balance stats: %w", err)
	}

	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN tx_type = 'reward' THEN amount ELSE 0 END), 0)
		 FROM transactions`,
	).Scan(&s.TotalTransactions, &rewards)
	if err != nil {
		return s, fmt.Errorf("transaction stats: %w", err)
	}

	s.TotalSupply = domain.Amount(supply)
	s.TotalLocked = domain.Amount(locked)
	s.TotalRewardsDistributed = domain.Amount(rewards)
	return s, nil
}

// ─── Scanning ───────────────────────────────────────────────────────────────

func scanAccount(s scanner) (domain.Account, error) {
	var a domain.Account
	var bal, locked, earned, spent, updated int64
	if err := s.Scan(&a.Address, &bal, &locked, &earned, &spent, &updated); err != nil {
		return domain.Account{}, err
	}
	a.Balance = domain.Amount(bal)
	a.Locked = domain.Amount(locked)
	a.EarnedTotal = domain.Amount(earned)
	a.SpentTotal = domain.Amount(spent)
	a.LastUpdated = fromUnixNano(updated)
	return a, nil
}

func scanTransaction(s scanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var amount, ts int64
	var txType string
	var taskID, txHash sql.NullString
	var block sql.NullInt64

	if err := s.Scan(&tx.ID, &tx.From, &tx.To, &amount, &txType, &taskID, &ts, &block, &txHash); err != nil {
		return domain.Transaction{}, err
	}
	tx.Amount = domain.Amount(amount)
	tx.Type = domain.TxType(txType)
	tx.TaskID = taskID.String
	tx.Timestamp = fromUnixNano(ts)
	tx.BlockNumber = block.Int64
	tx.TxHash = txHash.String
	return tx, nil
}
