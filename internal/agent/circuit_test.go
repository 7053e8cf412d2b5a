package agent

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	for range 2 {
		cb.Failure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("state after 2 failures = %s, want closed", cb.State())
	}

	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state after 3 failures = %s, want open", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow on open circuit = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow after timeout = %v, want probe allowed", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}

	cb.Success()
	if cb.State() != CircuitHalfOpen {
		t.Errorf("state after 1 success = %s, want half-open", cb.State())
	}
	cb.Success()
	if cb.State() != CircuitClosed {
		t.Errorf("state after 2 successes = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	cb.Failure()
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow after timeout = %v", err)
	}

	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Errorf("state after half-open failure = %s, want open", cb.State())
	}
}

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	for range 4 {
		cb.Failure()
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state after 4 failures = %s, want closed with default threshold 5", cb.State())
	}
	cb.Failure()
	if cb.State() != CircuitOpen {
		t.Errorf("state after 5 failures = %s, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("state after Reset = %s, want closed", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow after Reset = %v, want nil", err)
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
