// Package scheduler holds the orchestrator's work queues: a retry queue for
// failed announcements and result deliveries, and an intake queue that
// applies back-pressure to task announcements.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/metrics"
)

// ─── Retry Queue ────────────────────────────────────────────────────────────
// Failed work is re-queued with exponential backoff. The min-heap is ordered
// by next retry time, so extracting the next due entry is O(log n).

// RetryConfig configures the retry queue behavior.
type RetryConfig struct {
	MaxRetries int           // Maximum retry attempts before permanent failure
	BaseDelay  time.Duration // Initial backoff delay (doubles each retry)
	MaxDelay   time.Duration // Cap on backoff delay
}

// DefaultRetryConfig returns production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// RetryKind names the operation being retried.
type RetryKind string

const (
	RetryAnnounce RetryKind = "announce"
	RetryResult   RetryKind = "result"
)

// RetryEntry tracks one failed operation's retry state.
type RetryEntry struct {
	Key       string // unique per operation; a second schedule replaces the first
	Kind      RetryKind
	ContentID string                 // RetryAnnounce
	PeerID    string                 // RetryResult: destination peer
	Envelope  *domain.ResultEnvelope // RetryResult
	Attempt   int                    // Retry attempts so far
	NextRetry time.Time              // Earliest time this can be retried
	FailedAt  time.Time              // When the last failure occurred
	Error     string                 // Last failure reason

	index int
}

type retryHeap []*RetryEntry

func (h retryHeap) Len() int { return len(h) }
func (h retryHeap) Less(i, j int) bool {
	if h[i].NextRetry.Equal(h[j].NextRetry) {
		return h[i].Attempt < h[j].Attempt
	}
	return h[i].NextRetry.Before(h[j].NextRetry)
}
func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *retryHeap) Push(x any) {
	e := x.(*RetryEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// RetryQueue schedules retries with exponential backoff.
type RetryQueue struct {
	mu     sync.Mutex
	config RetryConfig
	heap   retryHeap
	byKey  map[string]*RetryEntry
	now    func() time.Time

	// Stats
	totalRetries   int64
	totalExhausted int64 // Entries that exceeded MaxRetries
}

// NewRetryQueue creates an empty retry queue.
func NewRetryQueue(cfg RetryConfig) *RetryQueue {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	return &RetryQueue{
		config: cfg,
		byKey:  make(map[string]*RetryEntry),
		now:    time.Now,
	}
}

// Backoff returns the delay before the given attempt: baseDelay * 2^(attempt-1),
// capped at MaxDelay.
func (rq *RetryQueue) Backoff(attempt int) time.Duration {
	delay := rq.config.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= rq.config.MaxDelay {
			return rq.config.MaxDelay
		}
	}
	return delay
}

// ScheduleRetry queues a failed operation for another attempt.
// Returns false if the entry has exhausted MaxRetries.
func (rq *RetryQueue) ScheduleRetry(entry RetryEntry) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	entry.Attempt++
	if entry.Attempt > rq.config.MaxRetries {
		rq.totalExhausted++
		return false // Permanent failure
	}

	now := rq.now()
	entry.FailedAt = now
	entry.NextRetry = now.Add(rq.Backoff(entry.Attempt))

	if old, ok := rq.byKey[entry.Key]; ok {
		heap.Remove(&rq.heap, old.index)
	}
	e := &entry
	heap.Push(&rq.heap, e)
	rq.byKey[e.Key] = e

	rq.totalRetries++
	metrics.RetryQueueDepth.Set(float64(len(rq.heap)))
	return true
}

// NextReady returns the next entry whose backoff has elapsed, if any.
func (rq *RetryQueue) NextReady() (*RetryEntry, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if len(rq.heap) == 0 {
		return nil, false
	}
	if rq.now().Before(rq.heap[0].NextRetry) {
		return nil, false // Not yet ready
	}

	e := heap.Pop(&rq.heap).(*RetryEntry)
	delete(rq.byKey, e.Key)
	metrics.RetryQueueDepth.Set(float64(len(rq.heap)))
	return e, true
}

// DrainReady removes and returns every ready entry, earliest first.
func (rq *RetryQueue) DrainReady() []RetryEntry {
	var ready []RetryEntry
	for {
		entry, ok := rq.NextReady()
		if !ok {
			break
		}
		ready = append(ready, *entry)
	}
	return ready
}

// Cancel drops a pending entry by key.
func (rq *RetryQueue) Cancel(key string) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	e, ok := rq.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&rq.heap, e.index)
	delete(rq.byKey, key)
	metrics.RetryQueueDepth.Set(float64(len(rq.heap)))
	return true
}

// Len returns the number of entries pending retry.
func (rq *RetryQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.heap)
}

// RetryStats holds retry queue statistics.
type RetryStats struct {
	PendingRetries int   `json:"pending_retries"`
	TotalRetries   int64 `json:"total_retries"`
	TotalExhausted int64 `json:"total_exhausted"` // Exceeded MaxRetries
}

// RetryStats returns current retry queue statistics.
func (rq *RetryQueue) RetryStats() RetryStats {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	return RetryStats{
		PendingRetries: len(rq.heap),
		TotalRetries:   rq.totalRetries,
		TotalExhausted: rq.totalExhausted,
	}
}
