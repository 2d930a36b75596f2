package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/metrics"
	"github.com/torrentnode/torrentnode/internal/infra/p2p"
	"github.com/torrentnode/torrentnode/internal/infra/scheduler"
	"github.com/torrentnode/torrentnode/internal/security"
)

const taskFile = "task.json"

// ─── Executing Side ─────────────────────────────────────────────────────────

// onTaskAnnounced queues announced content unless it is already queued,
// running, or was downloaded before. Content whose download failed is not
// remembered, so a later announcement fetches it again.
func (n *Node) onTaskAnnounced(ctx context.Context, ev domain.Event) {
	n.touchPeer(ev.PeerID)

	n.mu.RLock()
	dup := n.inflight[ev.ContentID] || n.seen.Test([]byte(ev.ContentID))
	n.mu.RUnlock()
	if dup {
		n.log.Debug("duplicate announcement", zap.String("content_id", ev.ContentID))
		return
	}

	err := n.intake.Enqueue(scheduler.Announcement{ContentID: ev.ContentID, Origin: ev.Origin})
	if err != nil {
		metrics.TasksRejected.WithLabelValues("back_pressure").Inc()
		n.log.Warn("announcement dropped", zap.String("content_id", ev.ContentID), zap.Error(err))
		return
	}
	n.mu.Lock()
	n.inflight[ev.ContentID] = true
	n.mu.Unlock()

	n.log.Debug("task announced", zap.String("content_id", ev.ContentID), zap.String("origin", ev.Origin))
	n.dispatch(ctx)
}

// dispatch starts fetches for queued announcements while worker slots are
// free. A slot is held from fetch until execution finishes.
func (n *Node) dispatch(ctx context.Context) {
	for {
		select {
		case n.slots <- struct{}{}:
		default:
			return
		}
		a, ok := n.intake.Dequeue()
		if !ok {
			<-n.slots
			return
		}

		n.mu.Lock()
		n.holding[a.ContentID] = true
		n.mu.Unlock()

		if err := n.transport.Fetch(ctx, a.ContentID, a.Origin); err != nil {
			n.log.Warn("fetch failed to start", zap.String("content_id", a.ContentID), zap.Error(err))
			n.release(a.ContentID)
		}
	}
}

// release frees the worker slot held by contentID.
func (n *Node) release(contentID string) bool {
	n.mu.Lock()
	held := n.holding[contentID]
	delete(n.holding, contentID)
	delete(n.inflight, contentID)
	n.mu.Unlock()
	if held {
		<-n.slots
	}
	return held
}

func (n *Node) onDownloadFinished(ctx context.Context, ev domain.Event) {
	n.mu.Lock()
	held := n.holding[ev.ContentID]
	if held {
		// Verified content is executed once; later announcements are duplicates.
		n.seen.Add([]byte(ev.ContentID))
	}
	n.mu.Unlock()
	if !held {
		n.log.Debug("download was not requested by intake", zap.String("content_id", ev.ContentID))
		return
	}

	n.workers.Add(1)
	go func() {
		defer n.workers.Done()
		defer func() {
			n.release(ev.ContentID)
			if ctx.Err() == nil {
				n.dispatch(ctx)
			}
		}()
		n.runDownloaded(ctx, ev)
	}()
}

// runDownloaded verifies and executes a fetched task, credits the reward and
// sends the signed result to the task's origin.
func (n *Node) runDownloaded(ctx context.Context, ev domain.Event) {
	log := n.log.With(zap.String("content_id", ev.ContentID))

	task, err := readTask(ev.Dir)
	if err != nil {
		metrics.TasksRejected.WithLabelValues("malformed").Inc()
		log.Warn("rejected task", zap.Error(err))
		return
	}
	log = log.With(zap.String("task_id", task.ID), zap.String("kind", string(task.Kind)))

	if err := verifyTask(task); err != nil {
		metrics.TasksRejected.WithLabelValues("signature").Inc()
		log.Warn("rejected task", zap.Error(err))
		return
	}

	log.Info("executing task", zap.String("origin", task.Origin), zap.String("reward", task.Reward.String()))
	res := n.executor.Execute(ctx, task)
	if ctx.Err() != nil {
		log.Warn("execution abandoned at shutdown")
		return
	}

	n.recordExecution(ctx, task, res, log)
	n.sendResult(ctx, task, res, log)
}

func readTask(dir string) (domain.Task, error) {
	raw, err := os.ReadFile(filepath.Join(dir, taskFile))
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: read task: %v", domain.ErrValidation, err)
	}
	var task domain.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return domain.Task{}, fmt.Errorf("%w: decode task: %v", domain.ErrValidation, err)
	}
	return task, nil
}

// verifyTask checks structure, the signature and that the origin peer id is
// the one derived from the signing key.
func verifyTask(task domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if !security.VerifyTask(task) {
		return fmt.Errorf("%w: task %s", domain.ErrSignature, task.ID)
	}
	origin, err := p2p.PeerIDFromPublicKey(task.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignature, err)
	}
	if origin != task.Origin {
		return fmt.Errorf("%w: origin %s is not the signer %s", domain.ErrSignature, task.Origin, origin)
	}
	return nil
}

func (n *Node) recordExecution(ctx context.Context, task domain.Task, res domain.TaskResult, log *zap.Logger) {
	if !res.Success {
		n.mu.Lock()
		n.stats.TasksFailed++
		n.mu.Unlock()
		log.Warn("task failed",
			zap.String("state", string(res.State)),
			zap.String("error_kind", string(res.ErrorKind)),
			zap.String("error", res.Error))
		return
	}

	credited := domain.Amount(0)
	if task.Reward.IsPositive() {
		if err := n.ledger.AddReward(ctx, n.id.NodeID, task.Reward, task.ID); err != nil {
			log.Error("credit reward", zap.Error(err))
		} else {
			credited = task.Reward
		}
	}

	n.mu.Lock()
	n.stats.TasksCompleted++
	n.stats.TokensEarned += credited
	n.mu.Unlock()
	log.Info("task completed",
		zap.Float64("execution_time", res.ExecutionTime),
		zap.String("reward", credited.String()))
}

func (n *Node) sendResult(ctx context.Context, task domain.Task, res domain.TaskResult, log *zap.Logger) {
	env := domain.ResultEnvelope{
		TaskID:       task.ID,
		Executor:     n.id.NodeID,
		ExecutorPeer: n.transport.ID(),
		Result:       res,
		SentAt:       n.now().UTC(),
	}
	if err := security.SignResult(n.id.Keypair, &env); err != nil {
		log.Error("sign result", zap.Error(err))
		return
	}
	if err := n.transport.SendResult(ctx, task.Origin, env); err != nil {
		log.Warn("result delivery failed, scheduling retry", zap.Error(err))
		n.scheduleRetry(scheduler.RetryEntry{
			Key:      "result:" + task.ID,
			Kind:     scheduler.RetryResult,
			PeerID:   task.Origin,
			Envelope: &env,
			Error:    err.Error(),
		})
		return
	}
	log.Debug("result delivered", zap.String("origin", task.Origin))
}

// ─── Distributing Side ──────────────────────────────────────────────────────

// DistributeTask builds and signs a task, writes it to the tasks directory,
// publishes it and registers a waiter for its result.
func (n *Node) DistributeTask(ctx context.Context, spec domain.TaskSpec) (domain.PublishedTask, error) {
	if n.State() != domain.NodeRunning {
		return domain.PublishedTask{}, domain.ErrNodeNotRunning
	}

	task, err := domain.NewTask(spec, n.now())
	if err != nil {
		return domain.PublishedTask{}, err
	}
	task.Origin = n.transport.ID()
	if err := security.SignTask(n.id.Keypair, &task); err != nil {
		return domain.PublishedTask{}, fmt.Errorf("sign task: %w", err)
	}

	dir := filepath.Join(n.cfg.DataDir, "tasks", task.ID)
	if err := writeTask(dir, task); err != nil {
		return domain.PublishedTask{}, err
	}

	// The waiter exists before the content is announced.
	w := newWaiter(n.now().Add(n.cfg.ResultTimeout))
	n.mu.Lock()
	n.pending[task.ID] = w
	n.mu.Unlock()

	contentID, err := n.transport.Publish(ctx, dir)
	if err != nil {
		n.mu.Lock()
		delete(n.pending, task.ID)
		n.mu.Unlock()
		_ = os.RemoveAll(dir)
		return domain.PublishedTask{}, err
	}

	pub := domain.PublishedTask{
		TaskID:      task.ID,
		ContentID:   contentID,
		Kind:        task.Kind,
		Reward:      task.Reward,
		PublishedAt: task.CreatedAt,
	}
	n.mu.Lock()
	n.published[task.ID] = pub
	w.contentID = contentID
	n.seen.Add([]byte(contentID))
	n.mu.Unlock()

	metrics.TasksDistributed.WithLabelValues(string(task.Kind)).Inc()
	metrics.TasksPending.Inc()
	n.log.Info("task distributed",
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.String("content_id", contentID),
		zap.String("reward", task.Reward.String()))
	return pub, nil
}

func writeTask(dir string, task domain.Task) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	raw, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, taskFile), raw, 0644); err != nil {
		return fmt.Errorf("write task: %w", err)
	}
	return nil
}

// Published returns the distribution record of a task.
func (n *Node) Published(taskID string) (domain.PublishedTask, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	pub, ok := n.published[taskID]
	return pub, ok
}

func (n *Node) onResultReceived(ev domain.Event) {
	env := ev.Result
	if env == nil {
		return
	}
	n.touchPeer(ev.PeerID)
	log := n.log.With(zap.String("task_id", env.TaskID), zap.String("peer", ev.PeerID))

	if err := verifyResult(*env); err != nil {
		metrics.ResultsReceived.WithLabelValues("bad_signature").Inc()
		log.Warn("rejected result", zap.Error(err))
		return
	}

	n.mu.RLock()
	w, ok := n.pending[env.TaskID]
	answered := ok && w.env != nil
	_, published := n.published[env.TaskID]
	n.mu.RUnlock()
	switch {
	case answered:
		metrics.ResultsReceived.WithLabelValues("duplicate").Inc()
		log.Debug("duplicate result")
		return
	case !ok && !published:
		metrics.ResultsReceived.WithLabelValues("unknown_task").Inc()
		log.Warn("result for unknown task")
		return
	case !ok:
		// The waiter expired; the result still goes to storage.
		if _, err := os.Stat(n.resultPath(env.TaskID)); err == nil {
			metrics.ResultsReceived.WithLabelValues("duplicate").Inc()
			log.Debug("duplicate result")
			return
		}
	}

	if err := n.storeResult(*env); err != nil {
		log.Error("store result", zap.Error(err))
	}

	now := n.now()
	n.mu.Lock()
	if ok && n.pending[env.TaskID] != w {
		ok = false // expired meanwhile
	}
	if ok {
		w.env = env
		close(w.done)
	}
	rec, known := n.peers[ev.PeerID]
	if !known {
		r := domain.NewPeerRecord(ev.PeerID, "", 0, now)
		rec = &r
		n.peers[ev.PeerID] = rec
	}
	rec.RecordOutcome(env.Result.Success, now)
	n.mu.Unlock()

	if ok {
		metrics.TasksPending.Dec()
		metrics.ResultsReceived.WithLabelValues("accepted").Inc()
	} else {
		metrics.ResultsReceived.WithLabelValues("late").Inc()
	}
	log.Info("result received",
		zap.Bool("success", env.Result.Success),
		zap.Bool("late", !ok),
		zap.String("executor", env.Executor))
}

// verifyResult checks the envelope signature and that the signing key is
// the executing peer's own.
func verifyResult(env domain.ResultEnvelope) error {
	if !security.VerifyResult(env) {
		return fmt.Errorf("%w: result for %s", domain.ErrSignature, env.TaskID)
	}
	peerID, err := p2p.PeerIDFromPublicKey(env.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignature, err)
	}
	if peerID != env.ExecutorPeer {
		return fmt.Errorf("%w: result key belongs to %s, not %s", domain.ErrSignature, peerID, env.ExecutorPeer)
	}
	return nil
}

// AwaitResult blocks until the result of a distributed task arrives, the
// timeout elapses or the task expires (ErrResultTimeout), ctx ends or the
// node stops. A non-positive timeout uses the configured default.
func (n *Node) AwaitResult(ctx context.Context, taskID string, timeout time.Duration) (domain.ResultEnvelope, error) {
	n.mu.RLock()
	w, ok := n.pending[taskID]
	stopped := n.stopped
	n.mu.RUnlock()
	if !ok {
		return n.storedResult(taskID)
	}
	if timeout <= 0 {
		timeout = n.cfg.ResultTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		n.mu.RLock()
		defer n.mu.RUnlock()
		return *w.env, nil
	case <-timer.C:
		return domain.ResultEnvelope{}, fmt.Errorf("%w: task %s after %s", domain.ErrResultTimeout, taskID, timeout)
	case <-w.expired:
		return n.storedResult(taskID)
	case <-ctx.Done():
		return domain.ResultEnvelope{}, ctx.Err()
	case <-stopped:
		return domain.ResultEnvelope{}, domain.ErrNodeNotRunning
	}
}

// Result returns the result of a distributed task without waiting. A nil
// envelope with a nil error means the task is still pending.
func (n *Node) Result(taskID string) (*domain.ResultEnvelope, error) {
	n.mu.RLock()
	w, ok := n.pending[taskID]
	var env *domain.ResultEnvelope
	if ok && w.env != nil {
		cp := *w.env
		env = &cp
	}
	n.mu.RUnlock()
	if ok {
		return env, nil
	}

	stored, err := n.storedResult(taskID)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// storedResult loads the result of a task no longer in the pending table.
// A task published here that expired unanswered reports ErrResultTimeout.
func (n *Node) storedResult(taskID string) (domain.ResultEnvelope, error) {
	env, err := n.LoadResult(taskID)
	if !errors.Is(err, domain.ErrTaskNotFound) {
		return env, err
	}
	if _, published := n.Published(taskID); published {
		return domain.ResultEnvelope{}, fmt.Errorf("%w: task %s expired without a result", domain.ErrResultTimeout, taskID)
	}
	return env, err
}

// ─── Pending Maintenance ────────────────────────────────────────────────────

// maintainPublished expires overdue pending tasks and re-announces the rest.
func (n *Node) maintainPublished(ctx context.Context) {
	n.expirePending(n.now())
	n.reannounce(ctx)
}

// expirePending drops pending-table entries older than ResultTimeout.
// Waiters of unanswered tasks are released with ErrResultTimeout; a result
// arriving later is still stored.
func (n *Node) expirePending(now time.Time) {
	var expired []string
	n.mu.Lock()
	for id, w := range n.pending {
		if now.Before(w.expires) {
			continue
		}
		delete(n.pending, id)
		if w.env == nil {
			close(w.expired)
			expired = append(expired, id)
		}
	}
	n.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	metrics.TasksPending.Sub(float64(len(expired)))
	n.log.Warn("distributed tasks expired without a result",
		zap.Int("count", len(expired)), zap.Strings("task_ids", expired))
}

// reannounceAsync re-announces pending tasks off the event pump. Calls made
// while a pass is running are folded into it.
func (n *Node) reannounceAsync(ctx context.Context) {
	if !n.reannouncing.CompareAndSwap(false, true) {
		return
	}
	n.workers.Add(1)
	go func() {
		defer n.workers.Done()
		defer n.reannouncing.Store(false)
		n.reannounce(ctx)
	}()
}

// reannounce advertises every distributed task still waiting for a result,
// for peers that joined after publication or missed the first announcement.
func (n *Node) reannounce(ctx context.Context) {
	n.mu.RLock()
	var contentIDs []string
	for _, w := range n.pending {
		if w.env == nil && w.contentID != "" {
			contentIDs = append(contentIDs, w.contentID)
		}
	}
	n.mu.RUnlock()

	for _, contentID := range contentIDs {
		if ctx.Err() != nil {
			return
		}
		if err := n.transport.Announce(ctx, contentID); err != nil {
			n.log.Debug("re-announce failed", zap.String("content_id", contentID), zap.Error(err))
		}
	}
}

// ─── Result Storage ─────────────────────────────────────────────────────────

func (n *Node) resultPath(taskID string) string {
	return filepath.Join(n.cfg.DataDir, "results", filepath.Base(taskID)+".sealed")
}

// storeResult seals the envelope with the node's secret key, bound to the
// task id, and writes it atomically.
func (n *Node) storeResult(env domain.ResultEnvelope) error {
	plain, err := json.Marshal(env)
	if err != nil {
		return err
	}
	sealed, err := n.sealer.Seal(plain, []byte(env.TaskID))
	if err != nil {
		return err
	}
	return writeFileAtomic(n.resultPath(env.TaskID), sealed, 0600)
}

// LoadResult opens a stored result. Unknown tasks return ErrTaskNotFound.
func (n *Node) LoadResult(taskID string) (domain.ResultEnvelope, error) {
	sealed, err := os.ReadFile(n.resultPath(taskID))
	if errors.Is(err, os.ErrNotExist) {
		return domain.ResultEnvelope{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return domain.ResultEnvelope{}, err
	}
	plain, err := n.sealer.Open(sealed, []byte(taskID))
	if err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("open result %s: %w", taskID, err)
	}
	var env domain.ResultEnvelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("decode result %s: %w", taskID, err)
	}
	return env, nil
}
