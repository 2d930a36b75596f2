package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrentnode/torrentnode/internal/domain"
)

const helperEnv = "TORRENTNODE_SANDBOX_HELPER"

// TestMain doubles as the worker binary: when helperEnv is set the test
// executable behaves as the requested worker instead of running tests.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "worker":
		os.Exit(RunWorker(os.Stdin, os.Stdout))
	case "sleep":
		time.Sleep(time.Hour)
	case "oom":
		fmt.Fprintln(os.Stderr, "fatal error: runtime: out of memory")
		os.Exit(2)
	case "garbage":
		fmt.Print("this is not a response")
		os.Exit(0)
	case "crash":
		fmt.Fprintln(os.Stderr, "panic: worker exploded")
		os.Exit(2)
	case "hog":
		var keep [][]byte
		for i := 0; i < 256; i++ {
			chunk := make([]byte, 4<<20)
			for j := range chunk {
				chunk[j] = byte(j)
			}
			keep = append(keep, chunk)
			time.Sleep(10 * time.Millisecond)
		}
		time.Sleep(time.Hour)
		_ = keep
	}
	os.Exit(0)
}

func newTestExecutor(t *testing.T, mode string) *Executor {
	t.Helper()
	e, err := New(Config{
		Command:     []string{os.Args[0], "-test.run=^$"},
		Env:         []string{helperEnv + "=" + mode},
		GracePeriod: 500 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return e
}

func newTask(t *testing.T, kind domain.TaskKind, data string, mutate ...func(*domain.TaskSpec)) domain.Task {
	t.Helper()
	spec := domain.TaskSpec{Kind: kind, Data: json.RawMessage(data)}
	for _, m := range mutate {
		m(&spec)
	}
	task, err := domain.NewTask(spec, time.Now())
	require.NoError(t, err)
	return task
}

// ─── Worker round trip ──────────────────────────────────────────────────────

func TestExecute_Sum(t *testing.T) {
	e := newTestExecutor(t, "worker")
	task := newTask(t, domain.KindSum, `[10, 20, 30, 40]`)

	res := e.Execute(context.Background(), task)

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, domain.ExecSucceeded, res.State)
	assert.Equal(t, task.ID, res.TaskID)
	assert.JSONEq(t, `100`, string(res.Result))
	assert.Greater(t, res.ExecutionTime, 0.0)
}

func TestExecute_ValidationFailure(t *testing.T) {
	e := newTestExecutor(t, "worker")
	res := e.Execute(context.Background(), newTask(t, domain.KindFactorial, `-1`))

	assert.False(t, res.Success)
	assert.Equal(t, domain.ExecFailed, res.State)
	assert.Equal(t, domain.FailValidation, res.ErrorKind)
}

func TestExecute_InvalidTaskNeverStartsWorker(t *testing.T) {
	e := newTestExecutor(t, "worker")
	started := false
	e.onStart = func(int) { started = true }

	task := newTask(t, domain.KindSum, `[1]`)
	task.Code = "(module)"
	res := e.Execute(context.Background(), task)

	assert.Equal(t, domain.FailValidation, res.ErrorKind)
	assert.False(t, started)
}

// ─── Ceilings ───────────────────────────────────────────────────────────────

func TestExecute_TimeoutKillsWorkerGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix-only")
	}
	e := newTestExecutor(t, "sleep")
	var pid int
	e.onStart = func(p int) { pid = p }

	task := newTask(t, domain.KindSum, `[1]`, func(s *domain.TaskSpec) { s.Timeout = 1 })

	start := time.Now()
	res := e.Execute(context.Background(), task)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, domain.ExecTimedOut, res.State)
	assert.Equal(t, domain.FailTimeout, res.ErrorKind)
	assert.Less(t, elapsed, time.Second+e.cfg.GracePeriod+time.Second, "overshoot must be bounded")

	require.NotZero(t, pid)
	assert.Eventually(t, func() bool { return !processGroupAlive(pid) },
		3*time.Second, 50*time.Millisecond, "worker group must not outlive the timeout")
}

func TestExecute_MemoryBreach(t *testing.T) {
	e := newTestExecutor(t, "hog")
	task := newTask(t, domain.KindSum, `[1]`, func(s *domain.TaskSpec) {
		s.MaxMemoryMB = 32
		s.Timeout = 20
	})

	res := e.Execute(context.Background(), task)

	assert.Equal(t, domain.ExecFailed, res.State)
	assert.Equal(t, domain.FailResourceExceeded, res.ErrorKind)
	assert.Greater(t, res.MemoryUsed, int64(32<<20))
}

func TestExecute_CPULimit(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("RLIMIT_CPU is applied on linux only")
	}
	e := newTestExecutor(t, "worker")
	spin := `(module (func (export "run") (loop $l (br $l))))`
	task, err := domain.NewTask(domain.TaskSpec{
		Kind:          domain.KindCustom,
		Code:          spin,
		Timeout:       4,
		MaxCPUPercent: 25,
	}, time.Now())
	require.NoError(t, err)

	res := e.Execute(context.Background(), task)

	assert.Equal(t, domain.ExecFailed, res.State)
	assert.Equal(t, domain.FailResourceExceeded, res.ErrorKind, "error: %s", res.Error)
}

// ─── Classification ─────────────────────────────────────────────────────────

func TestExecute_Classification(t *testing.T) {
	tests := []struct {
		mode string
		want domain.FailureKind
	}{
		{"oom", domain.FailResourceExceeded},
		{"garbage", domain.FailInternal},
		{"crash", domain.FailInternal},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			e := newTestExecutor(t, tt.mode)
			res := e.Execute(context.Background(), newTask(t, domain.KindSum, `[1]`))
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.ErrorKind, "error: %s", res.Error)
		})
	}
}

func TestExecute_ParentCancel(t *testing.T) {
	e := newTestExecutor(t, "sleep")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res := e.Execute(ctx, newTask(t, domain.KindSum, `[1]`))
	assert.False(t, res.Success)
	assert.Equal(t, domain.FailInternal, res.ErrorKind)
}

// ─── Planning ───────────────────────────────────────────────────────────────

func TestPlanFor_CustomCaps(t *testing.T) {
	e := newTestExecutor(t, "worker")

	custom, err := domain.NewTask(domain.TaskSpec{
		Kind: domain.KindCustom, Code: "(module)", Timeout: 300, MaxMemoryMB: 1024, MaxCPUPercent: 50,
	}, time.Now())
	require.NoError(t, err)
	p := e.planFor(custom)
	assert.Equal(t, 30*time.Second, p.timeout)
	assert.Equal(t, 128, p.limits.MemoryMB)
	assert.Equal(t, 15, p.limits.CPUSeconds)

	sum := newTask(t, domain.KindSum, `[1]`, func(s *domain.TaskSpec) { s.Timeout = 3; s.MaxCPUPercent = 10 })
	p = e.planFor(sum)
	assert.Equal(t, 3*time.Second, p.timeout)
	assert.Equal(t, domain.DefaultMaxMemoryMB, p.limits.MemoryMB)
	assert.Equal(t, 1, p.limits.CPUSeconds, "ceil(0.3) = 1")
}

func TestNew_MissingBinary(t *testing.T) {
	_, err := New(Config{Command: []string{"/nonexistent/torrentnode-worker"}}, nil)
	assert.Error(t, err)
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.truncated)
}
