package engine

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker states.
const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half-open"
)

// ErrCircuitOpen is returned by Execute when the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker protects an AWS-backed engine adapter from hammering a
// degraded service: after enough consecutive failures it trips open and
// short-circuits calls until a cooldown passes, then probes with a
// half-open trial before fully closing again.
type CircuitBreaker struct {
	name             string
	state            string
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	cooldownPeriod   time.Duration
	openTime         time.Time
	halfOpenRequests int
	maxHalfOpen      int
	mu               sync.Mutex

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	lastFailureTime time.Time
	lastSuccessTime time.Time
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	CooldownPeriod   time.Duration
	MaxHalfOpen      int
}

// DefaultCircuitBreakerConfig returns sane defaults for an AWS-call breaker.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 3,
		CooldownPeriod:   30 * time.Second,
		MaxHalfOpen:      1,
	}
}

// NewCircuitBreaker builds a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultCircuitBreakerConfig(cfg.Name)
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		state:            stateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldownPeriod:   cfg.CooldownPeriod,
		maxHalfOpen:      cfg.MaxHalfOpen,
	}
}

// Execute runs fn with circuit breaker protection, rejecting immediately
// with ErrCircuitOpen when the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if !cb.allowRequestLocked() {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.totalRequests++
	wasHalfOpen := cb.state == stateHalfOpen
	if wasHalfOpen {
		cb.halfOpenRequests++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if wasHalfOpen && cb.state == stateHalfOpen {
		cb.halfOpenRequests--
	}
	if err != nil {
		cb.recordFailureLocked()
		return err
	}
	cb.recordSuccessLocked()
	return nil
}

func (cb *CircuitBreaker) allowRequestLocked() bool {
	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.openTime) > cb.cooldownPeriod {
			cb.state = stateHalfOpen
			cb.halfOpenRequests = 0
			cb.successCount = 0
			return true
		}
		return false
	case stateHalfOpen:
		return cb.halfOpenRequests < cb.maxHalfOpen
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordFailureLocked() {
	cb.totalFailures++
	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case stateClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.tripLocked()
		}
	case stateHalfOpen:
		cb.tripLocked()
	}
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	cb.totalSuccesses++
	cb.successCount++
	cb.lastSuccessTime = time.Now()

	switch cb.state {
	case stateClosed:
		cb.failureCount = 0
	case stateHalfOpen:
		if cb.successCount >= cb.successThreshold {
			cb.resetLocked()
		}
	}
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = stateOpen
	cb.openTime = time.Now()
	cb.failureCount = 0
	cb.successCount = 0
}

func (cb *CircuitBreaker) resetLocked() {
	cb.state = stateClosed
	cb.failureCount = 0
	cb.successCount = 0
}

// State returns the breaker's current state name.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerStats is a point-in-time snapshot of breaker counters.
type CircuitBreakerStats struct {
	Name           string
	State          string
	TotalRequests  int64
	TotalFailures  int64
	TotalSuccesses int64
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		Name:           cb.name,
		State:          cb.state,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
	}
}
