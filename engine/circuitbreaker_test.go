package engine

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "t", FailureThreshold: 2, SuccessThreshold: 1, CooldownPeriod: time.Hour, MaxHalfOpen: 1})

	boom := errors.New("boom")
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })

	if cb.State() != stateOpen {
		t.Fatalf("State() = %q, want open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("Execute() on open breaker = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreakerRecoversAfterCooldown(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "t", FailureThreshold: 1, SuccessThreshold: 1, CooldownPeriod: 10 * time.Millisecond, MaxHalfOpen: 1})

	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.State() != stateOpen {
		t.Fatalf("State() = %q, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute() during half-open probe error = %v", err)
	}
	if cb.State() != stateClosed {
		t.Errorf("State() = %q, want closed after successful probe", cb.State())
	}
}

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("t"))
	for i := 0; i < 10; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if cb.State() != stateClosed {
		t.Errorf("State() = %q, want closed", cb.State())
	}
}
