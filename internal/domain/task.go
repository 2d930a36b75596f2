// Package domain holds the pure types of the compute network: tasks and their
// results, peers, ledger records and transport events.
// A Task flows: build → sign → publish → fetch → verify → execute → reward.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskKind is the closed set of computations a node knows how to run.
type TaskKind string

const (
	KindSum            TaskKind = "sum"
	KindMultiply       TaskKind = "multiply"
	KindSort           TaskKind = "sort"
	KindHash           TaskKind = "hash"
	KindFactorial      TaskKind = "factorial"
	KindPrimeCheck     TaskKind = "prime_check"
	KindMatrixMultiply TaskKind = "matrix_multiply"
	KindTextAnalysis   TaskKind = "text_analysis"
	KindCustom         TaskKind = "custom"
)

// TaskKinds lists every kind in display order.
var TaskKinds = []TaskKind{
	KindSum, KindMultiply, KindSort, KindHash, KindFactorial,
	KindPrimeCheck, KindMatrixMultiply, KindTextAnalysis, KindCustom,
}

// ParseTaskKind maps a wire name to a TaskKind.
func ParseTaskKind(s string) (TaskKind, error) {
	k := TaskKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskKind, s)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	for _, known := range TaskKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ─── Task ───────────────────────────────────────────────────────────────────

// Task defaults, matching what a publisher gets when it does not say otherwise.
const (
	DefaultReward        = 10 * AmountScale
	DefaultTimeout       = 300 // seconds
	MaxTimeout           = 24 * 60 * 60
	DefaultMaxMemoryMB   = 512
	DefaultMaxCPUPercent = 80
)

// Task is a unit of work distributed through the swarm. Its JSON form is the
// task-on-wire format stored as task.json inside published content.
type Task struct {
	ID            string          `json:"id"`
	Kind          TaskKind        `json:"type"`
	Data          json.RawMessage `json:"data"`
	Code          string          `json:"code,omitempty"`
	Reward        Amount          `json:"reward"`
	Timeout       int             `json:"timeout"`
	MaxMemoryMB   int             `json:"max_memory"`
	MaxCPUPercent int             `json:"max_cpu_percent"`
	CreatedAt     time.Time       `json:"created_at"`
	Origin        string          `json:"origin,omitempty"`
	PublicKey     string          `json:"public_key,omitempty"`
	Signature     string          `json:"signature,omitempty"`
}

// TaskSpec is what a caller supplies to build a task.
type TaskSpec struct {
	Kind          TaskKind        `json:"type"`
	Data          json.RawMessage `json:"data"`
	Code          string          `json:"code,omitempty"`
	Reward        *Amount         `json:"reward,omitempty"`
	Timeout       int             `json:"timeout,omitempty"`
	MaxMemoryMB   int             `json:"max_memory,omitempty"`
	MaxCPUPercent int             `json:"max_cpu_percent,omitempty"`
}

// NewTask builds an unsigned task from a spec, filling defaults, and validates it.
func NewTask(spec TaskSpec, now time.Time) (Task, error) {
	t := Task{
		ID:            uuid.NewString(),
		Kind:          spec.Kind,
		Data:          spec.Data,
		Code:          spec.Code,
		Reward:        DefaultReward,
		Timeout:       spec.Timeout,
		MaxMemoryMB:   spec.MaxMemoryMB,
		MaxCPUPercent: spec.MaxCPUPercent,
		CreatedAt:     now.UTC(),
	}
	if spec.Reward != nil {
		t.Reward = *spec.Reward
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultTimeout
	}
	if t.MaxMemoryMB == 0 {
		t.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if t.MaxCPUPercent == 0 {
		t.MaxCPUPercent = DefaultMaxCPUPercent
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Validate checks the structural invariants of a task. Payload semantics are
// checked by the executor for the specific kind.
func (t *Task) Validate() error {
	if _, err := uuid.Parse(t.ID); err != nil {
		return fmt.Errorf("%w: task id %q is not a UUID", ErrValidation, t.ID)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrUnknownTaskKind, t.Kind)
	}
	if t.Kind == KindCustom && t.Code == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrCodeRequired)
	}
	if t.Kind != KindCustom && t.Code != "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrCodeForbidden)
	}
	if len(bytes.TrimSpace(t.Data)) == 0 && t.Kind != KindCustom {
		return fmt.Errorf("%w: task data is empty", ErrValidation)
	}
	if len(t.Data) > 0 && !json.Valid(t.Data) {
		return fmt.Errorf("%w: task data is not valid JSON", ErrValidation)
	}
	if t.Reward < 0 {
		return fmt.Errorf("%w: reward must not be negative", ErrValidation)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrValidation)
	}
	if t.Timeout > MaxTimeout {
		return fmt.Errorf("%w: timeout must not exceed %d seconds", ErrValidation, MaxTimeout)
	}
	if t.MaxMemoryMB <= 0 {
		return fmt.Errorf("%w: max_memory must be positive", ErrValidation)
	}
	if t.MaxCPUPercent <= 0 || t.MaxCPUPercent > 100 {
		return fmt.Errorf("%w: max_cpu_percent must be within 1..100", ErrValidation)
	}
	return nil
}

// TimeoutDuration returns the task timeout as a Duration.
func (t *Task) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// Unsigned returns a copy of the task with the signature cleared.
func (t Task) Unsigned() Task {
	t.Signature = ""
	return t
}

// IsSigned reports whether the task carries a signature.
func (t *Task) IsSigned() bool {
	return t.Signature != "" && t.PublicKey != ""
}
