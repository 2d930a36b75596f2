package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/metrics"
)

// WorkerSubcommand is the hidden CLI command that runs RunWorker.
const WorkerSubcommand = "worker"

// Config controls how workers are launched and confined.
type Config struct {
	// Command is the worker argv. Empty means the running binary with
	// WorkerSubcommand.
	Command []string
	// Env is appended to the parent's environment for the worker.
	Env []string

	// Custom tasks get the lower of their own caps and these.
	CustomMaxMemoryMB int
	CustomMaxTimeout  time.Duration

	// GracePeriod bounds how long Wait blocks on a killed worker's pipes.
	GracePeriod time.Duration
	// SampleInterval is the RSS sampling period.
	SampleInterval time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		CustomMaxMemoryMB: 128,
		CustomMaxTimeout:  30 * time.Second,
		GracePeriod:       2 * time.Second,
		SampleInterval:    50 * time.Millisecond,
	}
}

var _ domain.Executor = (*Executor)(nil)

// Executor runs each task in its own worker process.
type Executor struct {
	cfg  Config
	argv []string
	log  *zap.Logger

	// onStart is called with the worker pid; tests use it to check cleanup.
	onStart func(pid int)
}

// New creates an executor. It resolves the worker command up front so a
// missing binary fails at startup, not at the first task.
func New(cfg Config, log *zap.Logger) (*Executor, error) {
	def := DefaultConfig()
	if cfg.CustomMaxMemoryMB <= 0 {
		cfg.CustomMaxMemoryMB = def.CustomMaxMemoryMB
	}
	if cfg.CustomMaxTimeout <= 0 {
		cfg.CustomMaxTimeout = def.CustomMaxTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if log == nil {
		log = zap.NewNop()
	}

	argv := cfg.Command
	if len(argv) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker binary: %w", err)
		}
		argv = []string{self, WorkerSubcommand}
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("worker command %q: %w", argv[0], err)
	}

	return &Executor{cfg: cfg, argv: argv, log: log.Named("sandbox")}, nil
}

// plan is the resolved ceilings for one execution.
type plan struct {
	timeout time.Duration
	limits  Limits
}

func (e *Executor) planFor(task domain.Task) plan {
	timeout := task.TimeoutDuration()
	memMB := task.MaxMemoryMB
	if task.Kind == domain.KindCustom {
		timeout = min(timeout, e.cfg.CustomMaxTimeout)
		memMB = min(memMB, e.cfg.CustomMaxMemoryMB)
	}
	cpu := int(math.Ceil(timeout.Seconds() * float64(task.MaxCPUPercent) / 100))
	if cpu < 1 {
		cpu = 1
	}
	return plan{
		timeout: timeout,
		limits:  Limits{MemoryMB: memMB, CPUSeconds: cpu, FileSizeBytes: 0},
	}
}

// Execute runs task in a fresh worker. It always returns a result; every
// failure is classified into the result rather than returned as an error.
func (e *Executor) Execute(ctx context.Context, task domain.Task) (res domain.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("executor panic", zap.String("task_id", task.ID), zap.Any("panic", r))
			res = domain.Failed(task.ID, domain.FailInternal, fmt.Sprintf("executor panic: %v", r))
		}
		e.record(task, res)
	}()

	if err := task.Validate(); err != nil {
		return domain.Failed(task.ID, domain.FailValidation, err.Error())
	}

	p := e.planFor(task)
	req, err := json.Marshal(Request{
		TaskID: task.ID,
		Kind:   task.Kind,
		Data:   task.Data,
		Code:   task.Code,
		Limits: p.limits,
	})
	if err != nil {
		return domain.Failed(task.ID, domain.FailInternal, fmt.Sprintf("encode request: %v", err))
	}

	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	e.log.Debug("starting worker",
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Duration("timeout", p.timeout),
		zap.Int("memory_mb", p.limits.MemoryMB),
		zap.Int("cpu_seconds", p.limits.CPUSeconds))

	return e.run(ctx, task.ID, p, req)
}

func (e *Executor) run(ctx context.Context, taskID string, p plan, req []byte) domain.TaskResult {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.argv[0], e.argv[1:]...)
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Stdin = bytes.NewReader(req)
	stdout := &cappedBuffer{max: maxResponseBytes}
	stderr := &cappedBuffer{max: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	isolateProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = e.cfg.GracePeriod

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return domain.Failed(taskID, domain.FailInternal, fmt.Sprintf("start worker: %v", err))
	}
	if e.onStart != nil {
		e.onStart(cmd.Process.Pid)
	}

	memLimit := uint64(p.limits.MemoryMB) * mib
	mon := newMemoryMonitor(cmd.Process.Pid, memLimit, e.cfg.SampleInterval, func() {
		_ = killProcessGroup(cmd)
	})
	go mon.Run()

	waitErr := cmd.Wait()
	wall := time.Since(start)
	mon.Stop()
	// Reap anything the worker left behind in its group.
	_ = killProcessGroup(cmd)

	var cpu time.Duration
	if cmd.ProcessState != nil {
		cpu = cmd.ProcessState.UserTime() + cmd.ProcessState.SystemTime()
	}

	res := e.classify(taskID, p, runCtx, ctx, waitErr, cmd.ProcessState, mon, stdout, stderr, cpu)
	return res.WithUsage(wall, int64(mon.Peak()), cpu)
}

func (e *Executor) classify(taskID string, p plan, runCtx, parent context.Context, waitErr error,
	state *os.ProcessState, mon *memoryMonitor, stdout, stderr *cappedBuffer, cpu time.Duration) domain.TaskResult {

	switch {
	case parent.Err() != nil:
		return domain.Failed(taskID, domain.FailInternal, "execution cancelled")
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return domain.Failed(taskID, domain.FailTimeout,
			fmt.Sprintf("%v: limit %s", domain.ErrTaskTimeout, p.timeout))
	case mon.Breached():
		return domain.Failed(taskID, domain.FailResourceExceeded,
			fmt.Sprintf("%v: memory limit of %d MB", domain.ErrResourceExceeded, p.limits.MemoryMB))
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err == nil && (resp.OK || resp.ErrorKind != "") {
		if resp.OK {
			return domain.Succeeded(taskID, resp.Result)
		}
		return domain.Failed(taskID, resp.ErrorKind, resp.Error)
	}

	errText := strings.TrimSpace(stderr.String())
	switch {
	case strings.Contains(errText, "out of memory"):
		return domain.Failed(taskID, domain.FailResourceExceeded,
			fmt.Sprintf("%v: worker ran out of memory (limit %d MB)", domain.ErrResourceExceeded, p.limits.MemoryMB))
	case killedHard(state) && cpu >= time.Duration(p.limits.CPUSeconds)*time.Second:
		return domain.Failed(taskID, domain.FailResourceExceeded,
			fmt.Sprintf("%v: cpu time limit of %ds", domain.ErrResourceExceeded, p.limits.CPUSeconds))
	}

	msg := "worker produced no response"
	if waitErr != nil {
		msg = fmt.Sprintf("worker failed: %v", waitErr)
	}
	if errText != "" {
		msg += ": " + lastLine(errText)
	}
	return domain.Failed(taskID, domain.FailInternal, msg)
}

func (e *Executor) record(task domain.Task, res domain.TaskResult) {
	kind := string(task.Kind)
	metrics.TasksExecuted.WithLabelValues(kind, string(res.State)).Inc()
	metrics.ExecutionDuration.WithLabelValues(kind).Observe(res.ExecutionTime)
	if res.MemoryUsed > 0 {
		metrics.ExecutionPeakMemory.Observe(float64(res.MemoryUsed))
	}
	if !res.Success {
		metrics.TasksFailed.WithLabelValues(kind, string(res.ErrorKind)).Inc()
	}

	fields := []zap.Field{
		zap.String("task_id", task.ID),
		zap.String("kind", kind),
		zap.String("state", string(res.State)),
		zap.Float64("execution_time", res.ExecutionTime),
		zap.Int64("memory_used", res.MemoryUsed),
	}
	if res.Success {
		e.log.Info("task executed", fields...)
		return
	}
	e.log.Warn("task failed", append(fields,
		zap.String("error_kind", string(res.ErrorKind)),
		zap.String("error", res.Error))...)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
