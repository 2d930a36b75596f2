// Package sandbox runs tasks in a separate worker process with memory,
// CPU-time, file-size and wall-clock ceilings. The parent talks to the
// worker over stdin/stdout with one JSON request and one JSON response.
package sandbox

import (
	"encoding/json"

	"github.com/torrentnode/torrentnode/internal/domain"
)

// Limits are the ceilings a worker applies to itself before running a task.
type Limits struct {
	MemoryMB      int   `json:"memory_mb"`
	CPUSeconds    int   `json:"cpu_seconds"`
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Request is written by the parent to the worker's stdin.
type Request struct {
	TaskID string          `json:"task_id"`
	Kind   domain.TaskKind `json:"kind"`
	Data   json.RawMessage `json:"data"`
	Code   string          `json:"code,omitempty"`
	Limits Limits          `json:"limits"`
}

// Response is written by the worker to stdout exactly once.
type Response struct {
	OK        bool               `json:"ok"`
	Result    json.RawMessage    `json:"result,omitempty"`
	ErrorKind domain.FailureKind `json:"error_kind,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Size caps on the two pipe messages.
const (
	maxRequestBytes  = 64 << 20
	maxResponseBytes = 16 << 20
	maxStderrBytes   = 64 << 10
)
