package node

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrentnode/torrentnode/internal/app/ledger"
	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/p2p"
	"github.com/torrentnode/torrentnode/internal/infra/scheduler"
	"github.com/torrentnode/torrentnode/internal/infra/sqlite"
	"github.com/torrentnode/torrentnode/internal/security"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeTransport struct {
	mu     sync.Mutex
	id     string
	events chan domain.Event

	startErr         error
	publishErr       error
	sendFailures     int
	announceFailures int

	published []string
	fetched   []string
	announced []string
	sent      []domain.ResultEnvelope
	sendCalls int
	downloads map[string]string // content id -> extracted dir
	stats     domain.SwarmStats
	closed    bool
}

func newFakeTransport(peerID string) *fakeTransport {
	return &fakeTransport{
		id:        peerID,
		events:    make(chan domain.Event, 64),
		downloads: make(map[string]string),
	}
}

func (f *fakeTransport) Start(context.Context) error { return f.startErr }

func (f *fakeTransport) Publish(_ context.Context, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.published = append(f.published, dir)
	return "cid-" + filepath.Base(dir), nil
}

func (f *fakeTransport) Announce(_ context.Context, contentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.announceFailures > 0 {
		f.announceFailures--
		return domain.ErrTransport
	}
	f.announced = append(f.announced, contentID)
	return nil
}

func (f *fakeTransport) Fetch(_ context.Context, contentID, origin string) error {
	f.mu.Lock()
	f.fetched = append(f.fetched, contentID)
	dir, ok := f.downloads[contentID]
	f.mu.Unlock()

	ev := domain.Event{Kind: domain.EventDownloadFinished, ContentID: contentID, Origin: origin, Dir: dir}
	if !ok {
		ev = domain.Event{Kind: domain.EventDownloadFailed, ContentID: contentID, Err: domain.ErrContentNotFound}
	}
	go func() { f.events <- ev }()
	return nil
}

func (f *fakeTransport) SendResult(_ context.Context, _ string, env domain.ResultEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendFailures > 0 {
		f.sendFailures--
		return domain.ErrTransport
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Connect(context.Context, string) error { return nil }
func (f *fakeTransport) Events() <-chan domain.Event          { return f.events }
func (f *fakeTransport) ID() string                           { return f.id }
func (f *fakeTransport) Addrs() []string                      { return []string{"/ip4/127.0.0.1/tcp/1/p2p/" + f.id} }

func (f *fakeTransport) Stats() domain.SwarmStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) snapshot() (fetched, announced []string, sent []domain.ResultEnvelope, calls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...), append([]string(nil), f.announced...),
		append([]domain.ResultEnvelope(nil), f.sent...), f.sendCalls
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context, task domain.Task) domain.TaskResult
}

func (e *fakeExecutor) Execute(ctx context.Context, task domain.Task) domain.TaskResult {
	e.mu.Lock()
	e.calls++
	run := e.run
	e.mu.Unlock()
	if run != nil {
		return run(ctx, task)
	}
	return domain.Succeeded(task.ID, json.RawMessage(`6`))
}

func (e *fakeExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type testEnv struct {
	node      *Node
	transport *fakeTransport
	executor  *fakeExecutor
	ledger    *ledger.Service
	identity  *security.Identity
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newIdentity(t *testing.T) *security.Identity {
	t.Helper()
	id, err := security.GenerateIdentity()
	require.NoError(t, err)
	return id
}

func peerIDOf(t *testing.T, id *security.Identity) string {
	t.Helper()
	pid, err := p2p.PeerIDFromPublicKey(id.PublicKeyHex())
	require.NoError(t, err)
	return pid
}

func testConfig(dataDir string) Config {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.Retry = scheduler.RetryConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	cfg.StopTimeout = 5 * time.Second
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	id := newIdentity(t)
	env := &testEnv{
		transport: newFakeTransport(peerIDOf(t, id)),
		executor:  &fakeExecutor{},
		ledger:    ledger.NewService(newTestDB(t), nil),
		identity:  id,
	}
	cfg := testConfig(t.TempDir())
	for _, m := range mutate {
		m(&cfg)
	}
	n, err := New(cfg, Deps{
		Identity:  id,
		Ledger:    env.ledger,
		Executor:  env.executor,
		Transport: env.transport,
	})
	require.NoError(t, err)
	env.node = n
	return env
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.node.Start(context.Background()))
	t.Cleanup(func() {
		if e.node.State() == domain.NodeRunning {
			_ = e.node.Stop()
		}
	})
}

func (e *testEnv) push(ev domain.Event) {
	e.transport.events <- ev
}

// signedTaskDir writes a task signed by publisher and returns its directory.
// mutate runs after signing, so it can tamper with the signed payload.
func signedTaskDir(t *testing.T, publisher *security.Identity, mutate func(*domain.Task)) (string, domain.Task) {
	t.Helper()
	reward := domain.Tokens(15)
	task, err := domain.NewTask(domain.TaskSpec{
		Kind:   domain.KindSum,
		Data:   json.RawMessage(`[1, 2, 3]`),
		Reward: &reward,
	}, time.Now())
	require.NoError(t, err)
	task.Origin = peerIDOf(t, publisher)
	require.NoError(t, security.SignTask(publisher.Keypair, &task))
	if mutate != nil {
		mutate(&task)
	}

	dir := filepath.Join(t.TempDir(), task.ID)
	require.NoError(t, writeTask(dir, task))
	return dir, task
}

func (e *testEnv) announce(t *testing.T, contentID, dir, origin string) {
	t.Helper()
	e.transport.mu.Lock()
	e.transport.downloads[contentID] = dir
	e.transport.mu.Unlock()
	e.push(domain.Event{Kind: domain.EventTaskAnnounced, ContentID: contentID, Origin: origin, PeerID: origin})
}

func balance(t *testing.T, svc *ledger.Service, addr string) domain.Amount {
	t.Helper()
	acct, err := svc.Balance(context.Background(), addr)
	require.NoError(t, err)
	return acct.Balance
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestNode_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	n := env.node

	assert.Equal(t, domain.NodeStopped, n.State())
	assert.ErrorIs(t, n.Stop(), domain.ErrInvalidState)

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, domain.NodeRunning, n.State())
	assert.ErrorIs(t, n.Start(context.Background()), domain.ErrInvalidState)

	require.NoError(t, n.Stop())
	assert.Equal(t, domain.NodeStopped, n.State())
	assert.True(t, env.transport.closed)
	assert.FileExists(t, filepath.Join(n.cfg.DataDir, snapshotFile), "stop writes a final snapshot")
}

func TestNode_StartFailureLeavesStopped(t *testing.T) {
	env := newTestEnv(t)
	env.transport.startErr = errors.New("bind: address in use")

	err := env.node.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.NodeStopped, env.node.State())
}

func TestNode_StartGrantsInitialBalance(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	assert.Equal(t, domain.Amount(domain.InitialBalance), balance(t, env.ledger, env.node.NodeID()))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{DataDir: t.TempDir()}, Deps{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// ─── Executing Side ─────────────────────────────────────────────────────────

func TestNode_ExecutesAnnouncedTask(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	publisher := newIdentity(t)
	dir, task := signedTaskDir(t, publisher, nil)

	env.announce(t, "cid-1", dir, task.Origin)

	require.Eventually(t, func() bool {
		_, _, sent, _ := env.transport.snapshot()
		return len(sent) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, _, sent, _ := env.transport.snapshot()
	res := sent[0]
	assert.Equal(t, task.ID, res.TaskID)
	assert.Equal(t, env.node.NodeID(), res.Executor)
	assert.Equal(t, env.transport.ID(), res.ExecutorPeer)
	assert.True(t, security.VerifyResult(res), "result must be signed by the executor")
	assert.NoError(t, verifyResult(res))
	assert.True(t, res.Result.Success)

	assert.Equal(t, domain.Amount(domain.InitialBalance)+domain.Tokens(15), balance(t, env.ledger, env.node.NodeID()))

	st := env.node.Status()
	assert.Equal(t, int64(1), st.Stats.TasksCompleted)
	assert.Equal(t, domain.Tokens(15), st.Stats.TokensEarned)
	assert.Equal(t, 0, st.ActiveTasks)
}

func TestNode_RejectsUnverifiableTasks(t *testing.T) {
	publisher := newIdentity(t)
	other := newIdentity(t)

	tests := []struct {
		name   string
		mutate func(*domain.Task)
	}{
		{"tampered reward", func(task *domain.Task) { task.Reward = domain.Tokens(1000) }},
		{"unsigned", func(task *domain.Task) { task.Signature = "" }},
		{"wrong key", func(task *domain.Task) { task.PublicKey = other.PublicKeyHex() }},
		{"origin not signer", func(task *domain.Task) {
			task.Origin = peerIDOf(t, other)
			require.NoError(t, security.SignTask(publisher.Keypair, task))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.start(t)
			dir, task := signedTaskDir(t, publisher, tt.mutate)

			env.announce(t, "cid-"+task.ID, dir, task.Origin)
			require.Eventually(t, func() bool {
				fetched, _, _, _ := env.transport.snapshot()
				return len(fetched) == 1 && env.node.Status().ActiveTasks == 0
			}, 5*time.Second, 10*time.Millisecond)

			assert.Zero(t, env.executor.Calls(), "a task that fails verification must never execute")
			_, _, sent, _ := env.transport.snapshot()
			assert.Empty(t, sent)
			assert.Equal(t, domain.Amount(domain.InitialBalance), balance(t, env.ledger, env.node.NodeID()))
		})
	}
}

func TestVerifyTask_Errors(t *testing.T) {
	publisher := newIdentity(t)
	_, task := signedTaskDir(t, publisher, nil)
	require.NoError(t, verifyTask(task))

	task.Origin = peerIDOf(t, newIdentity(t))
	assert.ErrorIs(t, verifyTask(task), domain.ErrSignature)

	task.Kind = "mine_bitcoin"
	assert.ErrorIs(t, verifyTask(task), domain.ErrValidation)
}

func TestNode_DedupesAnnouncements(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	dir, task := signedTaskDir(t, newIdentity(t), nil)

	env.announce(t, "cid-dup", dir, task.Origin)
	env.announce(t, "cid-dup", dir, task.Origin)

	require.Eventually(t, func() bool {
		_, _, sent, _ := env.transport.snapshot()
		return len(sent) == 1
	}, 5*time.Second, 10*time.Millisecond)
	fetched, _, _, _ := env.transport.snapshot()
	assert.Equal(t, []string{"cid-dup"}, fetched)
	assert.Equal(t, 1, env.executor.Calls())
}

func TestNode_FailedExecutionCounted(t *testing.T) {
	env := newTestEnv(t)
	env.executor.run = func(_ context.Context, task domain.Task) domain.TaskResult {
		return domain.Failed(task.ID, domain.FailResourceExceeded, "memory limit exceeded")
	}
	env.start(t)
	dir, task := signedTaskDir(t, newIdentity(t), nil)

	env.announce(t, "cid-fail", dir, task.Origin)
	require.Eventually(t, func() bool {
		_, _, sent, _ := env.transport.snapshot()
		return len(sent) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, _, sent, _ := env.transport.snapshot()
	assert.False(t, sent[0].Result.Success, "failures are reported back too")
	st := env.node.Status()
	assert.Equal(t, int64(1), st.Stats.TasksFailed)
	assert.Zero(t, st.Stats.TasksCompleted)
	assert.Equal(t, domain.Amount(domain.InitialBalance), balance(t, env.ledger, env.node.NodeID()))
}

func TestNode_DownloadFailureFreesSlot(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxConcurrent = 1 })
	env.start(t)
	dir, task := signedTaskDir(t, newIdentity(t), nil)

	// The first content id has no download registered and fails.
	env.push(domain.Event{Kind: domain.EventTaskAnnounced, ContentID: "cid-missing", Origin: task.Origin})
	env.announce(t, "cid-ok", dir, task.Origin)

	require.Eventually(t, func() bool {
		_, _, sent, _ := env.transport.snapshot()
		return len(sent) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNode_WorkerPoolIsBounded(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, func(c *Config) { c.MaxConcurrent = 1 })
	env.executor.run = func(ctx context.Context, task domain.Task) domain.TaskResult {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return domain.Succeeded(task.ID, json.RawMessage(`6`))
	}
	env.start(t)

	publisher := newIdentity(t)
	for _, cid := range []string{"cid-a", "cid-b", "cid-c"} {
		dir, task := signedTaskDir(t, publisher, nil)
		env.announce(t, cid, dir, task.Origin)
	}

	require.Eventually(t, func() bool {
		return env.node.Status().QueuedTasks == 2 && env.executor.Calls() == 1
	}, 5*time.Second, 10*time.Millisecond, "only one task may hold the pool")
	fetched, _, _, _ := env.transport.snapshot()
	assert.Len(t, fetched, 1)

	close(gate)
	require.Eventually(t, func() bool {
		_, _, sent, _ := env.transport.snapshot()
		return len(sent) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNode_StopCancelsInFlightWork(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{})
	env.executor.run = func(ctx context.Context, task domain.Task) domain.TaskResult {
		close(started)
		<-ctx.Done()
		return domain.Failed(task.ID, domain.FailInternal, "killed")
	}
	env.start(t)
	dir, task := signedTaskDir(t, newIdentity(t), nil)
	env.announce(t, "cid-slow", dir, task.Origin)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	begin := time.Now()
	require.NoError(t, env.node.Stop())
	assert.Less(t, time.Since(begin), env.node.cfg.StopTimeout)

	_, _, sent, _ := env.transport.snapshot()
	assert.Empty(t, sent, "abandoned work is not reported")
	assert.Zero(t, env.node.Status().Stats.TasksFailed)
}

// ─── Retries ────────────────────────────────────────────────────────────────

func TestNode_ResultDeliveryRetried(t *testing.T) {
	env := newTestEnv(t)
	env.transport.sendFailures = 2
	env.start(t)
	dir, task := signedTaskDir(t, newIdentity(t), nil)

	env.announce(t, "cid-retry", dir, task.Origin)
	require.Eventually(t, func() bool {
		_, _, sent, _ := env.transport.snapshot()
		return len(sent) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, _, sent, calls := env.transport.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, task.ID, sent[0].TaskID)
	assert.True(t, security.VerifyResult(sent[0]))
}

func TestNode_AnnounceFailureRetried(t *testing.T) {
	env := newTestEnv(t)
	env.transport.announceFailures = 1
	env.start(t)

	env.push(domain.Event{Kind: domain.EventAnnounceFailed, ContentID: "cid-pub", Err: errors.New("no peers")})
	require.Eventually(t, func() bool {
		_, announced, _, _ := env.transport.snapshot()
		return len(announced) == 1 && announced[0] == "cid-pub"
	}, 5*time.Second, 10*time.Millisecond)
}

// ─── Distributing Side ──────────────────────────────────────────────────────

func newResultFrom(t *testing.T, executor *security.Identity, taskID string) domain.ResultEnvelope {
	t.Helper()
	env := domain.ResultEnvelope{
		TaskID:       taskID,
		Executor:     executor.NodeID,
		ExecutorPeer: peerIDOf(t, executor),
		Result:       domain.Succeeded(taskID, json.RawMessage(`6`)),
		SentAt:       time.Now().UTC(),
	}
	require.NoError(t, security.SignResult(executor.Keypair, &env))
	return env
}

func distribute(t *testing.T, env *testEnv) domain.PublishedTask {
	t.Helper()
	pub, err := env.node.DistributeTask(context.Background(), domain.TaskSpec{
		Kind: domain.KindSum,
		Data: json.RawMessage(`[1, 2, 3]`),
	})
	require.NoError(t, err)
	return pub
}

func TestNode_DistributeTask(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)

	pub := distribute(t, env)
	assert.Equal(t, "cid-"+pub.TaskID, pub.ContentID)
	assert.Equal(t, domain.Amount(domain.DefaultReward), pub.Reward)

	task, err := readTask(filepath.Join(env.node.cfg.DataDir, "tasks", pub.TaskID))
	require.NoError(t, err)
	assert.Equal(t, env.transport.ID(), task.Origin)
	assert.Equal(t, env.identity.PublicKeyHex(), task.PublicKey)
	assert.NoError(t, verifyTask(task), "published task must pass executor-side verification")

	got, ok := env.node.Published(pub.TaskID)
	require.True(t, ok)
	assert.Equal(t, pub, got)
	assert.Equal(t, 1, env.node.Status().PendingTasks)
}

func TestNode_DistributeErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.node.DistributeTask(context.Background(), domain.TaskSpec{Kind: domain.KindSum, Data: json.RawMessage(`[1]`)})
	assert.ErrorIs(t, err, domain.ErrNodeNotRunning)

	env.start(t)
	_, err = env.node.DistributeTask(context.Background(), domain.TaskSpec{Kind: "bogus", Data: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, domain.ErrUnknownTaskKind)

	env.transport.publishErr = domain.ErrPublishFailed
	_, err = env.node.DistributeTask(context.Background(), domain.TaskSpec{Kind: domain.KindSum, Data: json.RawMessage(`[1]`)})
	assert.ErrorIs(t, err, domain.ErrPublishFailed)

	entries, _ := os.ReadDir(filepath.Join(env.node.cfg.DataDir, "tasks"))
	assert.Empty(t, entries, "a failed publish leaves no task directory")
	assert.Zero(t, env.node.Status().PendingTasks)
}

func TestNode_ResultDeliveredToWaiter(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	pub := distribute(t, env)

	executor := newIdentity(t)
	execPeer := peerIDOf(t, executor)
	env.push(domain.Event{Kind: domain.EventPeerConnected, PeerID: execPeer, Address: "10.0.0.2", Port: 8888})

	result := newResultFrom(t, executor, pub.TaskID)
	env.push(domain.Event{Kind: domain.EventResultReceived, PeerID: execPeer, Result: &result})

	got, err := env.node.AwaitResult(context.Background(), pub.TaskID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, pub.TaskID, got.TaskID)
	assert.JSONEq(t, `6`, string(got.Result.Result))

	// Stored sealed: decryptable by the node, opaque on disk.
	sealed, err := os.ReadFile(env.node.resultPath(pub.TaskID))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), pub.TaskID)
	stored, err := env.node.LoadResult(pub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, result.Signature, stored.Signature)

	peers := env.node.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, 1, peers[0].CompletedTasks)
	assert.InDelta(t, 1.0, peers[0].Reputation, 1e-9)
	assert.Zero(t, env.node.Status().PendingTasks)

	res, err := env.node.Result(pub.TaskID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, pub.TaskID, res.TaskID)
}

func TestNode_FailedResultLowersReputation(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	pub := distribute(t, env)

	executor := newIdentity(t)
	result := newResultFrom(t, executor, pub.TaskID)
	result.Result = domain.Failed(pub.TaskID, domain.FailTimeout, "deadline")
	require.NoError(t, security.SignResult(executor.Keypair, &result))
	env.push(domain.Event{Kind: domain.EventResultReceived, PeerID: result.ExecutorPeer, Result: &result})

	_, err := env.node.AwaitResult(context.Background(), pub.TaskID, 5*time.Second)
	require.NoError(t, err)
	peers := env.node.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, 1, peers[0].FailedTasks)
	assert.InDelta(t, 0.5, peers[0].Reputation, 1e-9)
}

func TestNode_RejectsForgedResults(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	pub := distribute(t, env)

	executor := newIdentity(t)
	tampered := newResultFrom(t, executor, pub.TaskID)
	tampered.Result.Result = json.RawMessage(`999`)

	impostor := newResultFrom(t, executor, pub.TaskID)
	impostor.ExecutorPeer = peerIDOf(t, newIdentity(t))
	require.NoError(t, security.SignResult(executor.Keypair, &impostor))

	for _, r := range []domain.ResultEnvelope{tampered, impostor} {
		env.push(domain.Event{Kind: domain.EventResultReceived, PeerID: r.ExecutorPeer, Result: &r})
	}

	_, err := env.node.AwaitResult(context.Background(), pub.TaskID, 200*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrResultTimeout)
	res, err := env.node.Result(pub.TaskID)
	require.NoError(t, err)
	assert.Nil(t, res, "task is still pending")
}

func TestNode_AwaitResultErrors(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)

	_, err := env.node.AwaitResult(context.Background(), "no-such-task", time.Second)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = env.node.Result("no-such-task")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	pub := distribute(t, env)
	_, err = env.node.AwaitResult(context.Background(), pub.TaskID, 50*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrResultTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = env.node.AwaitResult(ctx, pub.TaskID, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	done := make(chan error, 1)
	go func() {
		_, err := env.node.AwaitResult(context.Background(), pub.TaskID, time.Minute)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, env.node.Stop())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrNodeNotRunning)
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitResult did not return on stop")
	}
}

func countOf(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}

func (e *testEnv) announcedCount(contentID string) int {
	_, announced, _, _ := e.transport.snapshot()
	return countOf(announced, contentID)
}

func TestNode_ReannouncesPendingTasks(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Reannounce = 20 * time.Millisecond })
	env.start(t)
	pub := distribute(t, env)

	require.Eventually(t, func() bool { return env.announcedCount(pub.ContentID) >= 2 },
		5*time.Second, 10*time.Millisecond, "pending task must be announced again")

	executor := newIdentity(t)
	result := newResultFrom(t, executor, pub.TaskID)
	env.push(domain.Event{Kind: domain.EventResultReceived, PeerID: result.ExecutorPeer, Result: &result})
	_, err := env.node.AwaitResult(context.Background(), pub.TaskID, 5*time.Second)
	require.NoError(t, err)

	// A pass already under way may announce once more; then it stops.
	before := env.announcedCount(pub.ContentID)
	assert.Never(t, func() bool { return env.announcedCount(pub.ContentID) > before+1 },
		200*time.Millisecond, 20*time.Millisecond)
}

func TestNode_ReannouncesWhenPeerJoinsTopic(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	pub := distribute(t, env)
	require.Zero(t, env.announcedCount(pub.ContentID))

	env.push(domain.Event{Kind: domain.EventTopicPeerJoined, PeerID: peerIDOf(t, newIdentity(t))})
	require.Eventually(t, func() bool { return env.announcedCount(pub.ContentID) == 1 },
		5*time.Second, 10*time.Millisecond)
}

func TestNode_RefetchesAfterFailedDownload(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	dir, task := signedTaskDir(t, newIdentity(t), nil)

	// Nothing serves the content yet, so the first download fails.
	env.push(domain.Event{Kind: domain.EventTaskAnnounced, ContentID: "cid-late", Origin: task.Origin})
	require.Eventually(t, func() bool {
		fetched, _, _, _ := env.transport.snapshot()
		return len(fetched) == 1 && env.node.Status().ActiveTasks == 0
	}, 5*time.Second, 10*time.Millisecond)

	env.announce(t, "cid-late", dir, task.Origin)
	require.Eventually(t, func() bool {
		_, _, sent, _ := env.transport.snapshot()
		return len(sent) == 1
	}, 5*time.Second, 10*time.Millisecond)
	fetched, _, _, _ := env.transport.snapshot()
	assert.Equal(t, []string{"cid-late", "cid-late"}, fetched)
	assert.Equal(t, 1, env.executor.Calls())

	// Executed content is not fetched again.
	env.announce(t, "cid-late", dir, task.Origin)
	assert.Never(t, func() bool {
		fetched, _, _, _ := env.transport.snapshot()
		return len(fetched) > 2
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestNode_PendingTasksExpire(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ResultTimeout = time.Minute })
	env.start(t)
	pub := distribute(t, env)

	env.node.expirePending(time.Now())
	require.Equal(t, 1, env.node.Status().PendingTasks, "entry is still within its lifetime")

	done := make(chan error, 1)
	go func() {
		_, err := env.node.AwaitResult(context.Background(), pub.TaskID, time.Hour)
		done <- err
	}()

	env.node.expirePending(time.Now().Add(2 * time.Minute))
	assert.Zero(t, env.node.Status().PendingTasks)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrResultTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitResult did not return on expiry")
	}
	res, err := env.node.Result(pub.TaskID)
	assert.ErrorIs(t, err, domain.ErrResultTimeout)
	assert.Nil(t, res)

	// A late result still lands in storage and counts for the executor.
	executor := newIdentity(t)
	result := newResultFrom(t, executor, pub.TaskID)
	env.push(domain.Event{Kind: domain.EventResultReceived, PeerID: result.ExecutorPeer, Result: &result})
	require.Eventually(t, func() bool {
		res, err := env.node.Result(pub.TaskID)
		return err == nil && res != nil
	}, 5*time.Second, 10*time.Millisecond)

	got, err := env.node.AwaitResult(context.Background(), pub.TaskID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, result.Signature, got.Signature)
	peers := env.node.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, 1, peers[0].CompletedTasks)
	assert.Zero(t, env.node.Status().PendingTasks)
}

// ─── Peers & Snapshot ───────────────────────────────────────────────────────

func TestNode_PeerSweep(t *testing.T) {
	env := newTestEnv(t)
	n := env.node
	base := time.Unix(1_700_000_000, 0)
	n.now = func() time.Time { return base }

	n.onPeerConnected(domain.Event{PeerID: "old", Address: "10.0.0.1", Port: 1})
	n.now = func() time.Time { return base.Add(200 * time.Second) }
	n.onPeerConnected(domain.Event{PeerID: "fresh", Address: "10.0.0.2", Port: 2})

	n.now = func() time.Time { return base.Add(301 * time.Second) }
	n.sweepPeers()

	peers := n.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "fresh", peers[0].PeerID)

	// A touch keeps a peer alive.
	n.touchPeer("fresh")
	n.now = func() time.Time { return base.Add(600 * time.Second) }
	n.sweepPeers()
	assert.Len(t, n.Peers(), 1)
}

func TestNode_SnapshotRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	n := env.node
	n.stats.TasksCompleted = 3
	n.stats.TasksFailed = 1
	n.stats.TokensEarned = domain.Tokens(45)
	env.transport.stats = domain.SwarmStats{BytesUploaded: 500, BytesDownloaded: 700}
	n.onPeerConnected(domain.Event{PeerID: "peer-1", Address: "10.0.0.1", Port: 8888})
	require.NoError(t, n.saveSnapshot())

	raw, err := os.ReadFile(n.snapshotPath())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{"node_id", "stats", "peers", "timestamp"} {
		assert.Contains(t, doc, key)
	}

	// Same identity and data dir: counters and peers come back.
	again, err := New(n.cfg, Deps{Identity: env.identity, Ledger: env.ledger, Executor: env.executor, Transport: newFakeTransport(env.transport.id)})
	require.NoError(t, err)
	again.restoreSnapshot()
	st := again.Status()
	assert.Equal(t, int64(3), st.Stats.TasksCompleted)
	assert.Equal(t, int64(1), st.Stats.TasksFailed)
	assert.Equal(t, domain.Tokens(45), st.Stats.TokensEarned)
	assert.Equal(t, int64(500), st.Stats.DataUploaded)
	assert.Equal(t, int64(700), st.Stats.DataDownloaded)
	assert.Equal(t, 1, st.Peers)

	// Another node's snapshot is ignored.
	stranger, err := New(n.cfg, Deps{Identity: newIdentity(t), Ledger: env.ledger, Executor: env.executor, Transport: newFakeTransport("x")})
	require.NoError(t, err)
	stranger.restoreSnapshot()
	assert.Zero(t, stranger.Status().Stats.TasksCompleted)
	assert.Zero(t, stranger.Status().Peers)
}

func TestNode_CorruptSnapshotIgnored(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.node.snapshotPath(), []byte("{not json"), 0600))
	env.start(t)
	assert.Zero(t, env.node.Status().Stats.TasksCompleted)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, writeFileAtomic(path, []byte("one"), 0600))
	require.NoError(t, writeFileAtomic(path, []byte("two"), 0600))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
