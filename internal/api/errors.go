package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/torrentnode/torrentnode/internal/domain"
)

// Error types carried in the "type" field of error bodies.
const (
	errTypeValidation   = "validation_error"
	errTypeInsufficient = "insufficient_balance"
	errTypeNotFound     = "not_found"
	errTypeTimeout      = "result_timeout"
	errTypeNotRunning   = "node_not_running"
	errTypeTransport    = "transport_error"
	errTypeInternal     = "error"
)

// errorKinds maps sentinels to HTTP status and wire type. Order matters:
// the first match wins.
var errorKinds = []struct {
	sentinel error
	status   int
	typ      string
}{
	{domain.ErrValidation, http.StatusBadRequest, errTypeValidation},
	{domain.ErrUnknownTaskKind, http.StatusBadRequest, errTypeValidation},
	{domain.ErrInvalidAmount, http.StatusBadRequest, errTypeValidation},
	{domain.ErrInsufficientBalance, http.StatusConflict, errTypeInsufficient},
	{domain.ErrTaskNotFound, http.StatusNotFound, errTypeNotFound},
	{domain.ErrResultTimeout, http.StatusGatewayTimeout, errTypeTimeout},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, errTypeTimeout},
	{domain.ErrNodeNotRunning, http.StatusServiceUnavailable, errTypeNotRunning},
	{domain.ErrTransport, http.StatusBadGateway, errTypeTransport},
	{domain.ErrPublishFailed, http.StatusBadGateway, errTypeTransport},
}

func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			return k.status, k.typ
		}
	}
	return http.StatusInternalServerError, errTypeInternal
}

// APIError is a non-2xx response from the control API. It unwraps to the
// domain sentinel its type names, so callers can use errors.Is.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	switch e.Type {
	case errTypeValidation:
		return domain.ErrValidation
	case errTypeInsufficient:
		return domain.ErrInsufficientBalance
	case errTypeNotFound:
		return domain.ErrTaskNotFound
	case errTypeTimeout:
		return domain.ErrResultTimeout
	case errTypeNotRunning:
		return domain.ErrNodeNotRunning
	case errTypeTransport:
		return domain.ErrTransport
	}
	return nil
}
