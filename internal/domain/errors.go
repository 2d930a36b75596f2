package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Validation errors: rejected before any side effect.
	ErrValidation      = errors.New("validation error")
	ErrUnknownTaskKind = errors.New("unknown task kind")
	ErrCodeRequired    = errors.New("custom task requires code")
	ErrCodeForbidden   = errors.New("code is only allowed for custom tasks")

	// Executor errors
	ErrResourceExceeded = errors.New("resource limit exceeded")
	ErrTaskTimeout      = errors.New("task exceeded its timeout")

	// Trust errors
	ErrSignature = errors.New("task signature verification failed")

	// Ledger errors
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientLocked  = fmt.Errorf("%w: not enough locked funds", ErrInsufficientBalance)

	// Transport errors
	ErrTransport       = errors.New("transport error")
	ErrPublishFailed   = errors.New("publish failed")
	ErrContentNotFound = errors.New("no peer provides the requested content")
	ErrChunkCorrupted  = errors.New("chunk integrity check failed: SHA-256 mismatch")
	ErrManifestInvalid = errors.New("content manifest signature invalid")

	// Orchestrator errors
	ErrInvalidState   = errors.New("invalid node state transition")
	ErrNodeNotRunning = errors.New("node is not running")
	ErrResultTimeout  = errors.New("timed out waiting for task result")
	ErrTaskNotFound   = errors.New("task not found")
)

// IsLedgerError reports whether err is one of the ledger's caller-facing errors.
func IsLedgerError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientLocked)
}
