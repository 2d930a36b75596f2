package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/api"
	"github.com/torrentnode/torrentnode/internal/app/ledger"
	"github.com/torrentnode/torrentnode/internal/daemon"
	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/logging"
	"github.com/torrentnode/torrentnode/internal/infra/sqlite"
	"github.com/torrentnode/torrentnode/internal/security"
)

// loadConfig reads the config for --data-dir.
func loadConfig() (daemon.Config, error) {
	return daemon.LoadConfig(dataDir)
}

// newLogger builds the process logger from the [logging] section.
func newLogger(cfg daemon.Config) (*zap.Logger, error) {
	if cfg.Logging.File != "" {
		return logging.NewFile(cfg.Logging.Level, cfg.Logging.Encoding, cfg.Logging.File)
	}
	return logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
}

// localLedger is a ledger opened directly on the node's database, for
// commands that work whether or not the node is running.
type localLedger struct {
	*ledger.Service
	db     *sqlite.DB
	nodeID string
}

func (l *localLedger) Close() error { return l.db.Close() }

// self resolves an empty address to this node's own account and makes sure
// that account exists.
func (l *localLedger) self(ctx context.Context, address string) (string, error) {
	if address != "" && address != l.nodeID {
		return address, nil
	}
	if _, err := l.InitBalance(ctx, l.nodeID); err != nil {
		return "", err
	}
	return l.nodeID, nil
}

func openLedger() (*localLedger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	id, err := security.LoadOrCreateIdentity(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	db, err := sqlite.Open(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &localLedger{Service: ledger.NewService(db, nil), db: db, nodeID: id.NodeID}, nil
}

// apiClient returns a client for --api, falling back to the config.
func apiClient(timeout time.Duration) (*api.Client, error) {
	addr := apiAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.APIAddr()
	}
	return api.NewClient(addr, timeout), nil
}

// parseAmountFlag parses a token amount flag that must be positive.
func parseAmountFlag(name, value string) (domain.Amount, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: --%s is required", domain.ErrValidation, name)
	}
	amt, err := domain.ParseAmount(value)
	if err != nil {
		return 0, err
	}
	if !amt.IsPositive() {
		return 0, fmt.Errorf("%w: --%s must be positive", domain.ErrInvalidAmount, name)
	}
	return amt, nil
}

// humanBytes formats a byte count for tables.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// shortID trims long peer ids for display.
func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "…" + id[len(id)-6:]
}
