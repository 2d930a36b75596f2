// Package health provides periodic health checks with optional recovery.
// The standard checks cover the ledger database, the data directory, free
// disk space and the transport listener; they run every 60 seconds.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/infra/metrics"
)

// MinFreeDisk is the free space below which the disk check fails.
const MinFreeDisk = 100 * 1024 * 1024

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *zap.Logger
}

// NewChecker creates a health checker over the given checks.
func NewChecker(log *zap.Logger, checks ...Check) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		interval: 60 * time.Second,
		checks:   checks,
		log:      log.Named("health"),
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check once and records the results.
func (c *Checker) RunOnce(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			c.log.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Warn("recovery failed", zap.String("check", check.Name), zap.Error(rerr))
				} else if err := check.CheckFn(ctx); err == nil {
					s.Healthy, s.Error = true, ""
				}
			}
		} else {
			s.Healthy = true
		}

		gauge := 0.0
		if s.Healthy {
			gauge = 1
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(gauge)
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// Pinger is satisfied by the ledger database.
type Pinger interface {
	Ping() error
}

// LedgerCheck pings the ledger database.
func LedgerCheck(db Pinger) Check {
	return Check{
		Name: "ledger",
		CheckFn: func(ctx context.Context) error {
			return db.Ping()
		},
	}
}

// DataDirCheck verifies the data directory exists and is writable. Recovery
// recreates it.
func DataDirCheck(dir string) Check {
	return Check{
		Name: "data_dir",
		CheckFn: func(ctx context.Context) error {
			return checkWritable(dir)
		},
		RecoverFn: func(ctx context.Context) error {
			return os.MkdirAll(dir, 0700)
		},
	}
}

// DiskSpaceCheck fails when the data directory's filesystem has less than
// minFree bytes available.
func DiskSpaceCheck(dir string, minFree uint64) Check {
	return Check{
		Name: "disk_space",
		CheckFn: func(ctx context.Context) error {
			usage, err := disk.UsageWithContext(ctx, dir)
			if err != nil {
				return fmt.Errorf("check disk: %w", err)
			}
			if usage.Free < minFree {
				return fmt.Errorf("only %d MB free on %s", usage.Free/(1024*1024), usage.Path)
			}
			return nil
		},
	}
}

// Listener is satisfied by the swarm transport.
type Listener interface {
	Addrs() []string
}

// TransportCheck fails while the transport has no listen address.
func TransportCheck(t Listener) Check {
	return Check{
		Name: "transport",
		CheckFn: func(ctx context.Context) error {
			if len(t.Addrs()) == 0 {
				return errors.New("transport is not listening")
			}
			return nil
		},
	}
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
