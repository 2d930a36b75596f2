package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/sandbox/kinds"
)

const mib = 1 << 20

// Worker exit codes. A response is always attempted before exiting.
const (
	ExitOK           = 0
	ExitBadRequest   = 3
	ExitLimitFailure = 4
)

// RunWorker is the body of the hidden worker command. It reads one Request
// from in, confines the current process, runs the task and writes one
// Response to out. Nothing else may be written to out.
func RunWorker(in io.Reader, out io.Writer) int {
	w := &responder{out: out}

	var req Request
	if err := json.NewDecoder(io.LimitReader(in, maxRequestBytes)).Decode(&req); err != nil {
		w.fail(domain.FailInternal, fmt.Sprintf("decode request: %v", err))
		return ExitBadRequest
	}

	if err := applyLimits(req.Limits); err != nil {
		w.fail(domain.FailInternal, fmt.Sprintf("apply limits: %v", err))
		return ExitLimitFailure
	}
	watchCPULimit(func() {
		w.fail(domain.FailResourceExceeded, "cpu time limit exceeded")
		os.Exit(ExitOK)
	})

	runtime.GOMAXPROCS(1)
	if req.Limits.MemoryMB > 0 {
		debug.SetMemoryLimit(int64(req.Limits.MemoryMB) * mib)
	}

	result, err := runTask(req)
	if err != nil {
		w.fail(classify(err), err.Error())
		return ExitOK
	}
	w.send(Response{OK: true, Result: result})
	return ExitOK
}

func runTask(req Request) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return kinds.Run(req.Kind, req.Data, req.Code)
}

func classify(err error) domain.FailureKind {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return domain.FailValidation
	case errors.Is(err, domain.ErrResourceExceeded):
		return domain.FailResourceExceeded
	default:
		return domain.FailInternal
	}
}

// responder guarantees a single response even when the CPU-limit signal
// races with normal completion.
type responder struct {
	once sync.Once
	out  io.Writer
}

func (r *responder) send(resp Response) {
	r.once.Do(func() {
		_ = json.NewEncoder(r.out).Encode(resp)
	})
}

func (r *responder) fail(kind domain.FailureKind, msg string) {
	r.send(Response{ErrorKind: kind, Error: msg})
}
