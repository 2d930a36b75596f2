package domain

import (
	"encoding/json"
	"time"
)

// ExecState is the executor's per-task state machine:
// Pending → Running → {Succeeded, Failed, TimedOut}.
type ExecState string

const (
	ExecPending   ExecState = "pending"
	ExecRunning   ExecState = "running"
	ExecSucceeded ExecState = "succeeded"
	ExecFailed    ExecState = "failed"
	ExecTimedOut  ExecState = "timed_out"
)

// IsTerminal returns true if the state produces a TaskResult.
func (s ExecState) IsTerminal() bool {
	return s == ExecSucceeded || s == ExecFailed || s == ExecTimedOut
}

// FailureKind classifies why a task did not succeed.
type FailureKind string

const (
	FailValidation       FailureKind = "validation"
	FailResourceExceeded FailureKind = "resource-exceeded"
	FailTimeout          FailureKind = "timeout"
	FailInternal         FailureKind = "internal"
)

// TaskResult is produced exactly once per execution attempt and never mutated.
type TaskResult struct {
	TaskID        string          `json:"task_id"`
	Success       bool            `json:"success"`
	State         ExecState       `json:"state"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorKind     FailureKind     `json:"error_kind,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime float64         `json:"execution_time"` // seconds, wall clock
	MemoryUsed    int64           `json:"memory_used"`    // peak RSS, bytes
	CPUTime       float64         `json:"cpu_time"`       // seconds, user+system
}

// Succeeded builds a successful result.
func Succeeded(taskID string, value json.RawMessage) TaskResult {
	return TaskResult{TaskID: taskID, Success: true, State: ExecSucceeded, Result: value}
}

// Failed builds a failed result with a classified reason.
func Failed(taskID string, kind FailureKind, msg string) TaskResult {
	state := ExecFailed
	if kind == FailTimeout {
		state = ExecTimedOut
	}
	return TaskResult{TaskID: taskID, State: state, ErrorKind: kind, Error: msg}
}

// WithUsage returns a copy annotated with resource usage.
func (r TaskResult) WithUsage(wall time.Duration, peakRSS int64, cpu time.Duration) TaskResult {
	r.ExecutionTime = wall.Seconds()
	r.MemoryUsed = peakRSS
	r.CPUTime = cpu.Seconds()
	return r
}

// ResultEnvelope carries a TaskResult back to the task's origin, signed by
// the node that executed it.
type ResultEnvelope struct {
	TaskID       string     `json:"task_id"`
	Executor     string     `json:"executor"`      // executing node id
	ExecutorPeer string     `json:"executor_peer"` // executing libp2p peer id
	PublicKey    string     `json:"public_key"`
	Result       TaskResult `json:"result"`
	SentAt       time.Time  `json:"sent_at"`
	Signature    string     `json:"signature,omitempty"`
}
