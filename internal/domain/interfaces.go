package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the node orchestrator depends on them.

// Ledger is the token accounting service. Implemented by app/ledger.Service.
type Ledger interface {
	InitBalance(ctx context.Context, address string) (Account, error)
	AddReward(ctx context.Context, address string, amount Amount, taskID string) error
	Transfer(ctx context.Context, from, to string, amount Amount) (TxRef, error)
	Stake(ctx context.Context, address string, amount Amount) error
	Unstake(ctx context.Context, address string, amount Amount) error
	Balance(ctx context.Context, address string) (Account, error)
	Transactions(ctx context.Context, address string, limit int) ([]Transaction, error)
	Leaderboard(ctx context.Context, n int) ([]LeaderboardEntry, error)
	Statistics(ctx context.Context) (LedgerStats, error)
}

// Executor runs a task inside an isolation boundary. Execute always returns
// a result; internal faults are reported as failed results.
type Executor interface {
	Execute(ctx context.Context, task Task) TaskResult
}

// Transport bridges tasks to the content-distribution swarm.
// Implemented by infra/p2p.Transport.
type Transport interface {
	// Start opens the session; a failure is fatal to node startup.
	Start(ctx context.Context) error

	// Publish packages a task directory, seeds it and returns its content id.
	Publish(ctx context.Context, taskDir string) (string, error)

	// Announce re-advertises already published content.
	Announce(ctx context.Context, contentID string) error

	// Fetch starts downloading content; completion is reported as an event.
	Fetch(ctx context.Context, contentID, origin string) error

	// SendResult delivers a signed result envelope to a peer.
	SendResult(ctx context.Context, peerID string, env ResultEnvelope) error

	// Connect dials a peer by multiaddr.
	Connect(ctx context.Context, addr string) error

	// Events is the single event stream consumed by the orchestrator.
	Events() <-chan Event

	// Stats returns the session counters at this instant.
	Stats() SwarmStats

	ID() string
	Addrs() []string
	Close() error
}
