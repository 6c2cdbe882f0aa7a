package redis

import (
	"errors"
	"testing"
	"time"
)

var errFail = errors.New("fail")

// fakeClock lets tests move past the reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(max int) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(max, 10*time.Second)
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newBreaker(3)
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected Closed, got %v", cb.CurrentState())
	}
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected Open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("open breaker must not call fn")
	}
}

func TestCircuitBreaker_ProbeAfterTimeout(t *testing.T) {
	for _, tc := range []struct {
		name  string
		probe error
		want  State
	}{
		{"success closes", nil, StateClosed},
		{"failure reopens", errFail, StateOpen},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cb, clk := newBreaker(2)
			cb.Execute(func() error { return errFail })
			cb.Execute(func() error { return errFail })

			clk.advance(11 * time.Second)
			cb.Execute(func() error { return tc.probe })
			if cb.CurrentState() != tc.want {
				t.Fatalf("expected %v after probe, got %v", tc.want, cb.CurrentState())
			}
		})
	}
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clk := newBreaker(1)
	cb.Execute(func() error { return errFail })
	clk.advance(11 * time.Second)

	var inner error
	cb.Execute(func() error {
		if cb.CurrentState() != StateHalfOpen {
			t.Errorf("expected HalfOpen during probe, got %v", cb.CurrentState())
		}
		inner = cb.Execute(func() error { return nil })
		return nil
	})
	if !errors.Is(inner, ErrCircuitOpen) {
		t.Fatalf("second call during probe: expected ErrCircuitOpen, got %v", inner)
	}
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected Closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newBreaker(3)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed (counter should have reset), got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []State
	cb, clk := newBreaker(1)
	cb.OnStateChange = func(from, to State) {
		transitions = append(transitions, to)
	}

	cb.Execute(func() error { return errFail })
	clk.advance(11 * time.Second)
	cb.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, transitions)
		}
	}
}
