// Package node is the coordinating control loop of a torrentnode process.
//
// A running node owns these duties:
//
//  1. Event pump: consumes the transport's event stream.
//  2. Intake: deduplicates task announcements and fetches them while the
//     worker pool has capacity.
//  3. Execution: verified tasks run on a bounded worker pool, never inline in
//     the pump.
//  4. Maintenance: stale peers are swept, state is snapshotted, failed
//     announcements and result deliveries are retried, and stats reported.
//  5. Publishing: distributed tasks still waiting for a result are
//     re-announced on a ticker and whenever a peer joins the topic, and
//     expire after ResultTimeout.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/metrics"
	"github.com/torrentnode/torrentnode/internal/infra/scheduler"
	"github.com/torrentnode/torrentnode/internal/security"
)

// Config tunes the orchestrator's duties.
type Config struct {
	DataDir          string
	MaxConcurrent    int           // worker pool size
	PeerSweep        time.Duration // how often stale peers are dropped
	StaleAfter       time.Duration // a peer unseen for this long is stale
	SnapshotInterval time.Duration
	StatsInterval    time.Duration
	ResultTimeout    time.Duration // default AwaitResult timeout and pending-task lifetime
	Reannounce       time.Duration // how often pending tasks are announced again
	StopTimeout      time.Duration // bounded wait for duties and workers on Stop
	RetryInterval    time.Duration // how often the retry queue is polled
	Retry            scheduler.RetryConfig
	Intake           scheduler.IntakeConfig
}

// DefaultConfig returns the reference intervals.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    4,
		PeerSweep:        30 * time.Second,
		StaleAfter:       300 * time.Second,
		SnapshotInterval: 60 * time.Second,
		StatsInterval:    60 * time.Second,
		ResultTimeout:    10 * time.Minute,
		Reannounce:       30 * time.Second,
		StopTimeout:      10 * time.Second,
		RetryInterval:    time.Second,
		Retry:            scheduler.DefaultRetryConfig(),
		Intake:           scheduler.DefaultIntakeConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.PeerSweep <= 0 {
		c.PeerSweep = def.PeerSweep
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = def.SnapshotInterval
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = def.StatsInterval
	}
	if c.ResultTimeout <= 0 {
		c.ResultTimeout = def.ResultTimeout
	}
	if c.Reannounce <= 0 {
		c.Reannounce = def.Reannounce
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
}

// Deps are the collaborators a node drives.
type Deps struct {
	Identity  *security.Identity
	Ledger    domain.Ledger
	Executor  domain.Executor
	Transport domain.Transport
	Log       *zap.Logger
}

// waiter is a pending-request table entry for a distributed task. done is
// closed when the result arrives, expired when the entry times out first.
type waiter struct {
	contentID string
	expires   time.Time
	done      chan struct{}
	expired   chan struct{}
	env       *domain.ResultEnvelope
}

func newWaiter(expires time.Time) *waiter {
	return &waiter{expires: expires, done: make(chan struct{}), expired: make(chan struct{})}
}

// Node is the orchestrator. All mutable state is guarded by mu and only the
// node's own duties write it; readers get copies.
type Node struct {
	cfg       Config
	id        *security.Identity
	sealer    *security.Sealer
	ledger    domain.Ledger
	executor  domain.Executor
	transport domain.Transport
	log       *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	state     domain.NodeState
	stats     domain.NodeStats
	bytesBase domain.NodeStats // byte counters carried over from the last snapshot
	peers     map[string]*domain.PeerRecord
	published map[string]domain.PublishedTask
	pending   map[string]*waiter
	holding   map[string]bool    // content ids holding a worker slot
	inflight  map[string]bool    // content ids queued or holding a slot
	seen      *bloom.BloomFilter // content ids downloaded or published here

	reannouncing atomic.Bool

	intake  *scheduler.IntakeQueue
	retries *scheduler.RetryQueue
	slots   chan struct{}

	cancel  context.CancelFunc
	stopped chan struct{}
	duties  sync.WaitGroup
	workers sync.WaitGroup
}

// New creates a stopped node.
func New(cfg Config, deps Deps) (*Node, error) {
	if deps.Identity == nil || deps.Ledger == nil || deps.Executor == nil || deps.Transport == nil {
		return nil, fmt.Errorf("%w: node requires identity, ledger, executor and transport", domain.ErrValidation)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir is required", domain.ErrValidation)
	}
	cfg.applyDefaults()

	sealer, err := deps.Identity.Sealer()
	if err != nil {
		return nil, err
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Node{
		cfg:       cfg,
		id:        deps.Identity,
		sealer:    sealer,
		ledger:    deps.Ledger,
		executor:  deps.Executor,
		transport: deps.Transport,
		log:       log.Named("node").With(zap.String("node_id", deps.Identity.NodeID)),
		now:       time.Now,
		state:     domain.NodeStopped,
		peers:     make(map[string]*domain.PeerRecord),
		published: make(map[string]domain.PublishedTask),
		pending:   make(map[string]*waiter),
		holding:   make(map[string]bool),
		inflight:  make(map[string]bool),
		seen:      bloom.NewWithEstimates(100_000, 0.0001),
		intake:    scheduler.NewIntakeQueue(cfg.Intake),
		retries:   scheduler.NewRetryQueue(cfg.Retry),
		slots:     make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// NodeID returns the node's ledger address.
func (n *Node) NodeID() string { return n.id.NodeID }

// State returns the current lifecycle state.
func (n *Node) State() domain.NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) transition(from, to domain.NodeState) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != from {
		return fmt.Errorf("%w: %s -> %s (node is %s)", domain.ErrInvalidState, from, to, n.state)
	}
	n.state = to
	return nil
}

func (n *Node) setState(s domain.NodeState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start moves the node from stopped to running: it grants the initial
// balance, restores the last snapshot, opens the transport session and
// launches the duties. A failure leaves the node stopped.
func (n *Node) Start(ctx context.Context) error {
	if err := n.transition(domain.NodeStopped, domain.NodeStarting); err != nil {
		return err
	}
	if err := n.start(ctx); err != nil {
		n.setState(domain.NodeStopped)
		return err
	}
	n.setState(domain.NodeRunning)

	n.log.Info("node running",
		zap.String("peer_id", n.transport.ID()),
		zap.Strings("addrs", n.transport.Addrs()),
		zap.Int("max_concurrent", n.cfg.MaxConcurrent))
	return nil
}

func (n *Node) start(ctx context.Context) error {
	for _, sub := range []string{"tasks", "results", "downloads"} {
		if err := os.MkdirAll(filepath.Join(n.cfg.DataDir, sub), 0700); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	if _, err := n.ledger.InitBalance(ctx, n.id.NodeID); err != nil {
		return fmt.Errorf("init balance: %w", err)
	}
	n.restoreSnapshot()

	if err := n.transport.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.cancel = cancel
	n.stopped = make(chan struct{})
	n.mu.Unlock()

	n.duties.Add(6)
	go n.pump(runCtx)
	go n.every(runCtx, n.cfg.PeerSweep, func(context.Context) { n.sweepPeers() })
	go n.every(runCtx, n.cfg.SnapshotInterval, func(context.Context) { n.persist() })
	go n.every(runCtx, n.cfg.StatsInterval, n.report)
	go n.every(runCtx, n.cfg.RetryInterval, n.retry)
	go n.every(runCtx, n.cfg.Reannounce, n.maintainPublished)
	return nil
}

// Stop cancels the duties, waits up to StopTimeout for them and for in-flight
// workers (whose sandboxes are killed through context cancellation), writes
// a final snapshot and closes the transport.
func (n *Node) Stop() error {
	if err := n.transition(domain.NodeRunning, domain.NodeStopping); err != nil {
		return err
	}
	n.log.Info("stopping node")

	n.mu.Lock()
	n.cancel()
	close(n.stopped)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.duties.Wait()
		n.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(n.cfg.StopTimeout):
		n.log.Warn("stop timeout reached, abandoning stragglers", zap.Duration("timeout", n.cfg.StopTimeout))
	}

	n.persist()
	err := n.transport.Close()
	n.setState(domain.NodeStopped)
	n.log.Info("node stopped")
	return err
}

// every runs fn on a ticker until ctx ends.
func (n *Node) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer n.duties.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// ─── Event Pump ─────────────────────────────────────────────────────────────

func (n *Node) pump(ctx context.Context) {
	defer n.duties.Done()
	events := n.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			n.handle(ctx, ev)
		}
	}
}

func (n *Node) handle(ctx context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventPeerConnected:
		n.onPeerConnected(ev)
	case domain.EventPeerDisconnected:
		n.touchPeer(ev.PeerID)
		n.log.Debug("peer disconnected", zap.String("peer", ev.PeerID))
	case domain.EventTopicPeerJoined:
		n.touchPeer(ev.PeerID)
		n.reannounceAsync(ctx)
	case domain.EventTaskAnnounced:
		n.onTaskAnnounced(ctx, ev)
	case domain.EventDownloadFinished:
		n.onDownloadFinished(ctx, ev)
	case domain.EventDownloadFailed:
		metrics.TasksRejected.WithLabelValues("download_failed").Inc()
		n.log.Warn("task download failed", zap.String("content_id", ev.ContentID), zap.Error(ev.Err))
		if n.release(ev.ContentID) {
			n.dispatch(ctx)
		}
	case domain.EventResultReceived:
		n.onResultReceived(ev)
	case domain.EventAnnounceFailed:
		n.log.Warn("announce failed, scheduling retry", zap.String("content_id", ev.ContentID), zap.Error(ev.Err))
		n.scheduleRetry(scheduler.RetryEntry{
			Key:       "announce:" + ev.ContentID,
			Kind:      scheduler.RetryAnnounce,
			ContentID: ev.ContentID,
			Error:     errString(ev.Err),
		})
	case domain.EventSwarmStats:
		n.log.Debug("swarm stats",
			zap.Int("peers", ev.Stats.Peers),
			zap.Int("routing_table", ev.Stats.RoutingTable),
			zap.Int64("bytes_up", ev.Stats.BytesUploaded),
			zap.Int64("bytes_down", ev.Stats.BytesDownloaded))
	default:
		n.log.Debug("ignoring event", zap.String("kind", string(ev.Kind)))
	}
}

func (n *Node) onPeerConnected(ev domain.Event) {
	now := n.now()
	n.mu.Lock()
	if rec, ok := n.peers[ev.PeerID]; ok {
		rec.Address, rec.Port = ev.Address, ev.Port
		rec.Touch(now)
	} else {
		rec := domain.NewPeerRecord(ev.PeerID, ev.Address, ev.Port, now)
		n.peers[ev.PeerID] = &rec
	}
	count := len(n.peers)
	n.mu.Unlock()

	metrics.PeersKnown.Set(float64(count))
	n.log.Debug("peer connected", zap.String("peer", ev.PeerID), zap.String("address", ev.Address))
}

func (n *Node) touchPeer(peerID string) {
	if peerID == "" {
		return
	}
	n.mu.Lock()
	if rec, ok := n.peers[peerID]; ok {
		rec.Touch(n.now())
	}
	n.mu.Unlock()
}

// ─── Peer Table ─────────────────────────────────────────────────────────────

// Peers returns a copy of the peer table ordered by peer id.
func (n *Node) Peers() []domain.PeerRecord {
	n.mu.RLock()
	out := make([]domain.PeerRecord, 0, len(n.peers))
	for _, rec := range n.peers {
		out = append(out, *rec)
	}
	n.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.PeerRecord) int {
		return strings.Compare(a.PeerID, b.PeerID)
	})
	return out
}

// Connect dials a peer through the transport.
func (n *Node) Connect(ctx context.Context, addr string) error {
	if n.State() != domain.NodeRunning {
		return domain.ErrNodeNotRunning
	}
	return n.transport.Connect(ctx, addr)
}

// sweepPeers drops every peer not seen within StaleAfter.
func (n *Node) sweepPeers() {
	now := n.now()
	n.mu.Lock()
	var dropped []string
	for id, rec := range n.peers {
		if rec.IsStale(now, n.cfg.StaleAfter) {
			delete(n.peers, id)
			dropped = append(dropped, id)
		}
	}
	count := len(n.peers)
	n.mu.Unlock()

	metrics.PeersKnown.Set(float64(count))
	if len(dropped) > 0 {
		n.log.Info("dropped stale peers", zap.Int("count", len(dropped)), zap.Int("remaining", count))
	}
}

// ─── Status ─────────────────────────────────────────────────────────────────

// Status returns a point-in-time copy of the node state.
func (n *Node) Status() domain.NodeStatus {
	swarm := n.transport.Stats()

	n.mu.RLock()
	defer n.mu.RUnlock()

	st := domain.NodeStatus{
		NodeID:      n.id.NodeID,
		PeerID:      n.transport.ID(),
		Addrs:       n.transport.Addrs(),
		State:       n.state,
		Stats:       n.statsLocked(swarm),
		Swarm:       swarm,
		Peers:       len(n.peers),
		ActiveTasks: len(n.holding),
		QueuedTasks: n.intake.Len(),
	}
	for _, w := range n.pending {
		if w.env == nil {
			st.PendingTasks++
		}
	}
	if n.state == domain.NodeRunning && !n.stats.UptimeStart.IsZero() {
		st.Uptime = n.now().Sub(n.stats.UptimeStart).Seconds()
	}
	return st
}

// statsLocked merges the transport byte counters into the cumulative stats.
func (n *Node) statsLocked(swarm domain.SwarmStats) domain.NodeStats {
	s := n.stats
	s.DataUploaded = n.bytesBase.DataUploaded + swarm.BytesUploaded
	s.DataDownloaded = n.bytesBase.DataDownloaded + swarm.BytesDownloaded
	return s
}

// report logs the periodic stats line and refreshes the gauges.
func (n *Node) report(ctx context.Context) {
	st := n.Status()
	metrics.PeersKnown.Set(float64(st.Peers))

	fields := []zap.Field{
		zap.Duration("uptime", time.Duration(st.Uptime*float64(time.Second)).Round(time.Second)),
		zap.Int("peers", st.Peers),
		zap.Int("swarm_peers", st.Swarm.Peers),
		zap.Int("routing_table", st.Swarm.RoutingTable),
		zap.Int("active_downloads", st.Swarm.ActiveDownloads),
		zap.Int("active_tasks", st.ActiveTasks),
		zap.Int("queued_tasks", st.QueuedTasks),
		zap.Int64("tasks_completed", st.Stats.TasksCompleted),
		zap.Int64("tasks_failed", st.Stats.TasksFailed),
		zap.String("tokens_earned", st.Stats.TokensEarned.String()),
		zap.Int64("data_uploaded", st.Stats.DataUploaded),
		zap.Int64("data_downloaded", st.Stats.DataDownloaded),
	}
	if acct, err := n.ledger.Balance(ctx, n.id.NodeID); err == nil {
		fields = append(fields, zap.String("balance", acct.Balance.String()))
	} else {
		n.log.Warn("read balance for stats", zap.Error(err))
	}
	n.log.Info("node stats", fields...)
}

// ─── Retries ────────────────────────────────────────────────────────────────

func (n *Node) scheduleRetry(e scheduler.RetryEntry) {
	if !n.retries.ScheduleRetry(e) {
		n.log.Error("giving up after retries",
			zap.String("kind", string(e.Kind)),
			zap.String("key", e.Key),
			zap.String("error", e.Error))
	}
}

// retry re-attempts every entry whose backoff has elapsed.
func (n *Node) retry(ctx context.Context) {
	for _, e := range n.retries.DrainReady() {
		var err error
		switch e.Kind {
		case scheduler.RetryAnnounce:
			err = n.transport.Announce(ctx, e.ContentID)
		case scheduler.RetryResult:
			if e.Envelope == nil {
				continue
			}
			err = n.transport.SendResult(ctx, e.PeerID, *e.Envelope)
		default:
			continue
		}
		if err == nil {
			n.log.Info("retry succeeded", zap.String("key", e.Key), zap.Int("attempt", e.Attempt))
			continue
		}
		n.log.Warn("retry failed", zap.String("key", e.Key), zap.Int("attempt", e.Attempt), zap.Error(err))
		e.Error = err.Error()
		n.scheduleRetry(e)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
