package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ─── Intake Queue ───────────────────────────────────────────────────────────
// Announced content waits here until the worker pool has a free slot.
// Back-pressure rejects new announcements once the queue is full.

// ErrBackPressure is returned when the intake queue is full.
var ErrBackPressure = errors.New("intake queue full: back-pressure")

// IntakeConfig configures the intake queue.
type IntakeConfig struct {
	MaxDepth  int // reject everything at this depth (default 1_000)
	SoftDepth int // report soft back-pressure from this depth (default 100)
}

// DefaultIntakeConfig returns production intake defaults.
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		MaxDepth:  1_000,
		SoftDepth: 100,
	}
}

// BackPressureLevel indicates load severity.
type BackPressureLevel int

const (
	BPNone BackPressureLevel = iota // accepting all announcements
	BPSoft                          // accepting, but the pool is falling behind
	BPHard                          // rejecting everything
)

// String returns a human-readable back-pressure level.
func (bp BackPressureLevel) String() string {
	switch bp {
	case BPNone:
		return "NONE"
	case BPSoft:
		return "SOFT"
	case BPHard:
		return "HARD"
	default:
		return "UNKNOWN"
	}
}

// Announcement is content waiting to be fetched and executed.
type Announcement struct {
	ContentID string
	Origin    string
	QueuedAt  time.Time
}

// IntakeQueue is a FIFO of announcements with back-pressure.
type IntakeQueue struct {
	mu     sync.Mutex
	config IntakeConfig
	items  []Announcement

	totalEnqueued atomic.Int64
	totalRejected atomic.Int64
}

// NewIntakeQueue creates an empty intake queue.
func NewIntakeQueue(cfg IntakeConfig) *IntakeQueue {
	def := DefaultIntakeConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.SoftDepth <= 0 || cfg.SoftDepth > cfg.MaxDepth {
		cfg.SoftDepth = min(def.SoftDepth, cfg.MaxDepth)
	}
	return &IntakeQueue{config: cfg}
}

// Enqueue appends an announcement, or returns ErrBackPressure when full.
func (q *IntakeQueue) Enqueue(a Announcement) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.levelLocked() == BPHard {
		q.totalRejected.Add(1)
		return ErrBackPressure
	}
	if a.QueuedAt.IsZero() {
		a.QueuedAt = time.Now()
	}
	q.items = append(q.items, a)
	q.totalEnqueued.Add(1)
	return nil
}

// Dequeue removes and returns the oldest announcement.
func (q *IntakeQueue) Dequeue() (Announcement, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Announcement{}, false
	}
	a := q.items[0]
	q.items[0] = Announcement{}
	q.items = q.items[1:]
	return a, true
}

// Len returns the current queue depth.
func (q *IntakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// BackPressureLevel returns the current back-pressure level.
func (q *IntakeQueue) BackPressureLevel() BackPressureLevel {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.levelLocked()
}

func (q *IntakeQueue) levelLocked() BackPressureLevel {
	switch depth := len(q.items); {
	case depth >= q.config.MaxDepth:
		return BPHard
	case depth >= q.config.SoftDepth:
		return BPSoft
	default:
		return BPNone
	}
}

// IntakeStats holds intake queue statistics.
type IntakeStats struct {
	Depth         int    `json:"depth"`
	BackPressure  string `json:"back_pressure"`
	TotalEnqueued int64  `json:"total_enqueued"`
	TotalRejected int64  `json:"total_rejected"`
}

// Stats returns current intake statistics.
func (q *IntakeQueue) Stats() IntakeStats {
	q.mu.Lock()
	depth, level := len(q.items), q.levelLocked()
	q.mu.Unlock()

	return IntakeStats{
		Depth:         depth,
		BackPressure:  level.String(),
		TotalEnqueued: q.totalEnqueued.Load(),
		TotalRejected: q.totalRejected.Load(),
	}
}
