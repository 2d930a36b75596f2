package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/api"
	"github.com/torrentnode/torrentnode/internal/app/ledger"
	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/health"
	"github.com/torrentnode/torrentnode/internal/infra/p2p"
	"github.com/torrentnode/torrentnode/internal/infra/sqlite"
	"github.com/torrentnode/torrentnode/internal/node"
	"github.com/torrentnode/torrentnode/internal/sandbox"
	"github.com/torrentnode/torrentnode/internal/security"
)

// Daemon is the node runtime. It wires together all services.
type Daemon struct {
	Config    Config
	Identity  *security.Identity
	DB        *sqlite.DB
	Ledger    *ledger.Service
	Executor  *sandbox.Executor
	Transport *p2p.Transport
	Node      *node.Node
	Health    *health.Checker
	Server    *api.Server

	log    *zap.Logger
	cancel context.CancelFunc
}

// New creates a Daemon with every service wired but nothing started.
func New(cfg Config, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
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

	exec, err := sandbox.New(cfg.SandboxConfig(), log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create executor: %w", err)
	}

	d := &Daemon{
		Config:    cfg,
		Identity:  id,
		DB:        db,
		Ledger:    ledger.NewService(db, log),
		Executor:  exec,
		Transport: p2p.New(cfg.TransportConfig(), id.Keypair.Private, log),
		log:       log,
	}

	d.Node, err = node.New(cfg.NodeConfig(), node.Deps{
		Identity:  id,
		Ledger:    d.Ledger,
		Executor:  d.Executor,
		Transport: d.Transport,
		Log:       log,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create node: %w", err)
	}

	d.Health = health.NewChecker(log,
		health.LedgerCheck(db),
		health.DataDirCheck(cfg.Node.DataDir),
		health.DiskSpaceCheck(cfg.Node.DataDir, health.MinFreeDisk),
		health.TransportCheck(d.Transport),
	)

	d.Server = api.NewServer(d.Node, d.Ledger, d.Health, log)
	d.Server.EnableMetrics()

	return d, nil
}

// Serve starts the node and the control API and blocks until SIGINT,
// SIGTERM or ctx cancellation.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	// Bind the API first so a taken port fails before joining the swarm.
	addr := d.Config.APIAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind control api %s: %w", addr, err)
	}

	if err := d.Node.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("start node: %w", err)
	}

	go d.Health.Run(ctx)

	httpServer := &http.Server{
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 11 * time.Minute, // Long for result waits
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			d.log.Info("shutdown signal received", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		if err := d.Node.Stop(); err != nil {
			d.log.Warn("node stop", zap.Error(err))
		}
	}()

	d.log.Info("node serving",
		zap.String("node_id", d.Identity.NodeID),
		zap.String("peer_id", d.Transport.ID()),
		zap.Strings("addrs", d.Transport.Addrs()),
		zap.String("api", "http://"+ln.Addr().String()),
	)

	err = httpServer.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-done
		return err
	}
	<-done
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Node != nil && d.Node.State() == domain.NodeRunning {
		_ = d.Node.Stop()
	}
	if d.Transport != nil {
		_ = d.Transport.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
