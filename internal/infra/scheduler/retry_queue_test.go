package scheduler

import (
	"testing"
	"time"
)

// fakeClock lets tests step time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(cfg RetryConfig) (*RetryQueue, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rq := NewRetryQueue(cfg)
	rq.now = clock.now
	return rq, clock
}

// ─── Retry Queue Tests ──────────────────────────────────────────────────────

func TestRetryQueue_ScheduleAndDrain(t *testing.T) {
	rq, clock := newTestQueue(RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
	})

	ok := rq.ScheduleRetry(RetryEntry{Key: "announce:c1", Kind: RetryAnnounce, ContentID: "c1", Error: "no peers"})
	if !ok {
		t.Fatal("expected ScheduleRetry to succeed for first retry")
	}
	if rq.Len() != 1 {
		t.Fatalf("expected 1 pending retry, got %d", rq.Len())
	}

	if ready := rq.DrainReady(); len(ready) != 0 {
		t.Fatalf("nothing should be ready before the backoff, got %d", len(ready))
	}

	clock.advance(time.Second)
	ready := rq.DrainReady()
	if len(ready) != 1 {
		t.Fatalf("expected 1 ready retry, got %d", len(ready))
	}
	if ready[0].ContentID != "c1" {
		t.Errorf("got content id %q, want c1", ready[0].ContentID)
	}
	if ready[0].Attempt != 1 {
		t.Errorf("attempt = %d, want 1", ready[0].Attempt)
	}
	if rq.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", rq.Len())
	}
}

func TestRetryQueue_MaxRetriesExhausted(t *testing.T) {
	rq, _ := newTestQueue(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	entry := RetryEntry{Key: "result:t1", Kind: RetryResult}

	if !rq.ScheduleRetry(entry) {
		t.Fatal("retry 1 should succeed")
	}
	entry.Attempt = 1
	if !rq.ScheduleRetry(entry) {
		t.Fatal("retry 2 should succeed")
	}
	entry.Attempt = 2
	if rq.ScheduleRetry(entry) {
		t.Fatal("retry 3 should fail (exceeds MaxRetries=2)")
	}

	stats := rq.RetryStats()
	if stats.TotalExhausted != 1 {
		t.Errorf("exhausted = %d, want 1", stats.TotalExhausted)
	}
	if stats.PendingRetries != 1 {
		t.Errorf("pending = %d, want 1 (same key replaces)", stats.PendingRetries)
	}
}

func TestRetryQueue_ExponentialBackoff(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 10 * time.Second})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := rq.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryQueue_OrderedByNextRetry(t *testing.T) {
	rq, clock := newTestQueue(RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Minute})

	// "late" is on its third attempt (4s backoff), "early" on its first (1s).
	rq.ScheduleRetry(RetryEntry{Key: "late", Attempt: 2})
	rq.ScheduleRetry(RetryEntry{Key: "early"})

	clock.advance(5 * time.Second)
	ready := rq.DrainReady()
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready, got %d", len(ready))
	}
	if ready[0].Key != "early" || ready[1].Key != "late" {
		t.Errorf("order = [%s %s], want [early late]", ready[0].Key, ready[1].Key)
	}
}

func TestRetryQueue_Cancel(t *testing.T) {
	rq, _ := newTestQueue(DefaultRetryConfig())
	rq.ScheduleRetry(RetryEntry{Key: "a"})
	rq.ScheduleRetry(RetryEntry{Key: "b"})

	if !rq.Cancel("a") {
		t.Fatal("Cancel(a) = false, want true")
	}
	if rq.Cancel("a") {
		t.Error("second Cancel(a) should report false")
	}
	if rq.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rq.Len())
	}
}

func TestRetryQueue_EmptyQueue(t *testing.T) {
	rq := NewRetryQueue(DefaultRetryConfig())

	if _, ok := rq.NextReady(); ok {
		t.Error("empty queue should return not ready")
	}
	if ready := rq.DrainReady(); len(ready) != 0 {
		t.Errorf("empty drain should return 0 items, got %d", len(ready))
	}
}

func TestNewRetryQueue_Defaults(t *testing.T) {
	rq := NewRetryQueue(RetryConfig{})
	def := DefaultRetryConfig()
	if rq.config != def {
		t.Errorf("config = %+v, want %+v", rq.config, def)
	}
}
