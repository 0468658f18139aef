package breaker

import (
	"testing"
	"time"

	"github.com/warden/warden/pkg/clock"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *clock.MockClock) {
	clk := clock.NewMock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	b := New("webhook-a", &Config{FailureThreshold: threshold, Cooldown: cooldown}, clk)
	return b, clk
}

func TestBreakerInitialState(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	if b.State() != StateClosed {
		t.Errorf("expected initial state closed, got %v", b.State())
	}
	if !b.Allow() {
		t.Error("expected Allow() in closed state")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("expected closed after %d failures, got %v", i+1, b.State())
		}
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("expected open after threshold failures, got %v", b.State())
	}
	if b.Allow() {
		t.Error("expected Allow() to reject while open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// Two more failures should not reach the threshold of three.
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Errorf("expected closed after success reset, got %v", b.State())
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	clk.Add(59 * time.Second)
	if b.State() != StateOpen {
		t.Errorf("expected still open before cooldown, got %v", b.State())
	}

	clk.Add(time.Second)
	if b.State() != StateHalfOpen {
		t.Errorf("expected half_open after cooldown, got %v", b.State())
	}
}

func TestBreakerSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clk.Add(time.Minute)

	if !b.Allow() {
		t.Fatal("expected first probe to be allowed")
	}
	if b.Allow() {
		t.Error("expected second concurrent probe to be rejected")
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, clk := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clk.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected probe allowed")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("expected closed after probe success, got %v", b.State())
	}
	if b.Stats().ConsecutiveFailures != 0 {
		t.Errorf("expected failure count reset, got %d", b.Stats().ConsecutiveFailures)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clk.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected probe allowed")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("expected open after probe failure, got %v", b.State())
	}

	// Cooldown restarted: another full cooldown before the next probe.
	clk.Add(30 * time.Second)
	if b.State() != StateOpen {
		t.Errorf("expected open during restarted cooldown, got %v", b.State())
	}
	clk.Add(30 * time.Second)
	if b.State() != StateHalfOpen {
		t.Errorf("expected half_open after restarted cooldown, got %v", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected closed after reset, got %v", b.State())
	}
}

func TestRegistrySummary(t *testing.T) {
	clk := clock.NewMock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	r := NewRegistry(&Config{FailureThreshold: 1, Cooldown: time.Minute}, clk)

	r.Get("a")
	r.Get("b").RecordFailure()
	r.Get("c").RecordFailure()
	clk.Add(time.Minute) // c and b both move to half_open

	s := r.Summary()
	if s.Closed != 1 || s.HalfOpen != 2 || s.Open != 0 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestRegistryGetSameInstance(t *testing.T) {
	r := NewRegistry(nil, nil)
	if r.Get("x") != r.Get("x") {
		t.Error("expected the same breaker instance per target")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	transitions := make(chan [2]State, 4)
	clk := clock.NewMock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	b := New("t", &Config{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(target string, from, to State) {
			transitions <- [2]State{from, to}
		},
	}, clk)

	b.RecordFailure()

	select {
	case tr := <-transitions:
		if tr[0] != StateClosed || tr[1] != StateOpen {
			t.Errorf("unexpected transition %v -> %v", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("expected state change callback")
	}
}
