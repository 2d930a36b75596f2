package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

// ─── Amount Tests ───────────────────────────────────────────────────────────

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input string
		want  Amount
	}{
		{"15", 15 * AmountScale},
		{"0.5", AmountScale / 2},
		{"0.00000001", 1},
		{"100.25", 10025 * AmountScale / 100},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if err != nil {
				t.Fatalf("ParseAmount(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, in := range []string{"abc", "0.000000001", ""} {
		if _, err := ParseAmount(in); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseAmount(%q) error = %v, want ErrValidation", in, err)
		}
	}
}

func TestAmount_String(t *testing.T) {
	if got := Tokens(15).String(); got != "15" {
		t.Errorf("Tokens(15).String() = %q, want %q", got, "15")
	}
	if got := Amount(AmountScale / 4).String(); got != "0.25" {
		t.Errorf("String() = %q, want %q", got, "0.25")
	}
	if got := Tokens(100).Fixed(); got != "100.00" {
		t.Errorf("Fixed() = %q, want %q", got, "100.00")
	}
}

func TestAmount_JSON(t *testing.T) {
	b, err := json.Marshal(Tokens(15))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"15"` {
		t.Errorf("Marshal = %s, want \"15\"", b)
	}

	var a Amount
	if err := json.Unmarshal([]byte(`12.5`), &a); err != nil {
		t.Fatalf("Unmarshal number: %v", err)
	}
	if a != 125*AmountScale/10 {
		t.Errorf("Unmarshal(12.5) = %d", a)
	}
	if err := json.Unmarshal([]byte(`"3"`), &a); err != nil {
		t.Fatalf("Unmarshal string: %v", err)
	}
	if a != Tokens(3) {
		t.Errorf("Unmarshal(\"3\") = %d, want %d", a, Tokens(3))
	}
}

// ─── Task Tests ─────────────────────────────────────────────────────────────

func TestParseTaskKind(t *testing.T) {
	for _, k := range TaskKinds {
		got, err := ParseTaskKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseTaskKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseTaskKind("render"); !errors.Is(err, ErrUnknownTaskKind) {
		t.Errorf("ParseTaskKind(render) error = %v, want ErrUnknownTaskKind", err)
	}
}

func TestNewTask_Defaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task, err := NewTask(TaskSpec{Kind: KindSum, Data: json.RawMessage(`[1,2,3]`)}, now)
	if err != nil {
		t.Fatalf("NewTask() error: %v", err)
	}
	if task.Reward != DefaultReward {
		t.Errorf("Reward = %s, want %s", task.Reward, Amount(DefaultReward))
	}
	if task.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %d, want %d", task.Timeout, DefaultTimeout)
	}
	if task.MaxMemoryMB != DefaultMaxMemoryMB {
		t.Errorf("MaxMemoryMB = %d, want %d", task.MaxMemoryMB, DefaultMaxMemoryMB)
	}
	if task.MaxCPUPercent != DefaultMaxCPUPercent {
		t.Errorf("MaxCPUPercent = %d, want %d", task.MaxCPUPercent, DefaultMaxCPUPercent)
	}
	if !task.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", task.CreatedAt, now)
	}
}

func TestTask_CodeInvariant(t *testing.T) {
	now := time.Now()
	_, err := NewTask(TaskSpec{Kind: KindCustom, Data: json.RawMessage(`{}`)}, now)
	if !errors.Is(err, ErrCodeRequired) {
		t.Errorf("custom without code: error = %v, want ErrCodeRequired", err)
	}
	_, err = NewTask(TaskSpec{Kind: KindSum, Data: json.RawMessage(`[1]`), Code: "(module)"}, now)
	if !errors.Is(err, ErrCodeForbidden) {
		t.Errorf("sum with code: error = %v, want ErrCodeForbidden", err)
	}
	if _, err := NewTask(TaskSpec{Kind: KindCustom, Code: "(module)"}, now); err != nil {
		t.Errorf("custom with code: unexpected error %v", err)
	}
}

func TestTask_TimeoutAtCap(t *testing.T) {
	task, err := NewTask(TaskSpec{Kind: KindSum, Data: json.RawMessage(`[1]`), Timeout: MaxTimeout}, time.Now())
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if got := task.TimeoutDuration(); got != 24*time.Hour {
		t.Errorf("TimeoutDuration = %s, want 24h", got)
	}
}

func TestTask_ValidateRejects(t *testing.T) {
	neg := Amount(-1)
	specs := map[string]TaskSpec{
		"negative reward":    {Kind: KindSum, Data: json.RawMessage(`[1]`), Reward: &neg},
		"negative timeout":   {Kind: KindSum, Data: json.RawMessage(`[1]`), Timeout: -1},
		"timeout over a day": {Kind: KindSum, Data: json.RawMessage(`[1]`), Timeout: MaxTimeout + 1},
		"timeout overflows":  {Kind: KindSum, Data: json.RawMessage(`[1]`), Timeout: math.MaxInt},
		"cpu over 100":       {Kind: KindSum, Data: json.RawMessage(`[1]`), MaxCPUPercent: 150},
		"bad json":           {Kind: KindSum, Data: json.RawMessage(`[1,`)},
		"unknown kind":       {Kind: "render", Data: json.RawMessage(`[1]`)},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			if _, err := NewTask(spec, time.Now()); !errors.Is(err, ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

// ─── Result Tests ───────────────────────────────────────────────────────────

func TestFailed_TimeoutState(t *testing.T) {
	r := Failed("t1", FailTimeout, "deadline")
	if r.State != ExecTimedOut {
		t.Errorf("State = %s, want %s", r.State, ExecTimedOut)
	}
	if r.Success {
		t.Error("timed out result should not be a success")
	}
	r = Failed("t1", FailValidation, "bad")
	if r.State != ExecFailed {
		t.Errorf("State = %s, want %s", r.State, ExecFailed)
	}
}

func TestExecState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    ExecState
		terminal bool
	}{
		{ExecPending, false},
		{ExecRunning, false},
		{ExecSucceeded, true},
		{ExecFailed, true},
		{ExecTimedOut, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

// ─── Peer Tests ─────────────────────────────────────────────────────────────

func TestPeerRecord_Reputation(t *testing.T) {
	now := time.Now()
	p := NewPeerRecord("peer-1", "10.0.0.1", 4001, now)
	if p.Reputation != 1.0 {
		t.Fatalf("initial reputation = %v, want 1.0", p.Reputation)
	}
	p.RecordOutcome(false, now)
	if p.Reputation != 0.5 {
		t.Errorf("reputation after one failure = %v, want 0.5", p.Reputation)
	}
	p.RecordOutcome(true, now)
	if want := 2.0 / 3.0; p.Reputation != want {
		t.Errorf("reputation = %v, want %v", p.Reputation, want)
	}
}

func TestPeerRecord_IsStale(t *testing.T) {
	now := time.Now()
	p := NewPeerRecord("peer-1", "10.0.0.1", 4001, now.Add(-301*time.Second))
	if !p.IsStale(now, 300*time.Second) {
		t.Error("peer last seen 301s ago should be stale")
	}
	p.Touch(now)
	if p.IsStale(now, 300*time.Second) {
		t.Error("touched peer should not be stale")
	}
}

func TestIsLedgerError(t *testing.T) {
	if !IsLedgerError(ErrInsufficientLocked) {
		t.Error("ErrInsufficientLocked should be a ledger error")
	}
	if IsLedgerError(ErrSignature) {
		t.Error("ErrSignature should not be a ledger error")
	}
}
