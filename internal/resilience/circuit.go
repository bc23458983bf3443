// Package resilience keeps provider and storage hiccups from killing
// jobs. A shared circuit breaker suspends billed search calls during a
// provider outage; the retry helpers absorb the brief blips around it.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned in place of the wrapped call while the
// circuit is open. It classifies as retryable, so callers stall on
// their backoff instead of failing outright.
var ErrCircuitOpen = eris.New("circuit open: calls suspended")

// CircuitState is a point-in-time view of a breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreakerConfig controls when the breaker opens and how long it
// stays that way.
type CircuitBreakerConfig struct {
	// FailureThreshold opens the circuit after this many consecutive
	// tripworthy failures. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects calls before
	// letting a probe through. Default: 30s.
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used when no
// breaker settings are configured.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards one external service. The engine shares a
// single breaker across every job talking to the search provider, so
// an outage opens the circuit once instead of once per job.
//
// In the half-open state exactly one probe call is admitted; the rest
// keep getting ErrCircuitOpen until that probe settles.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	// clock is swapped out by tests.
	clock func() time.Time
}

// NewCircuitBreaker creates a closed breaker, filling in defaults for
// zero config fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: CircuitClosed,
		clock: time.Now,
	}
}

// Execute runs fn unless the circuit is open. The outcome feeds the
// breaker's failure accounting before being returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.settle(err)
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, ferr := fn(ctx)
		if ferr == nil {
			out = v
		}
		return ferr
	})
	return out, err
}

// State reports the breaker's current state. An open circuit past its
// reset timeout reads as half-open even before a probe arrives.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.clock().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.clock().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		zap.L().Info("circuit half-open, probing",
			zap.Duration("reset_timeout", cb.cfg.ResetTimeout))
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	switch {
	case err == nil:
		switch cb.state {
		case CircuitHalfOpen:
			cb.state = CircuitClosed
			cb.failures = 0
			zap.L().Info("circuit closed")
		case CircuitClosed:
			cb.failures = 0
		}
	case !tripworthy(err):
		// A cancelled call neither trips nor heals the circuit; it only
		// releases the probe slot it may have held.
	default:
		cb.failures++
		switch cb.state {
		case CircuitClosed:
			if cb.failures >= cb.cfg.FailureThreshold {
				cb.open()
			}
		case CircuitHalfOpen:
			cb.open()
		case CircuitOpen:
			// A straggler failing after the circuit opened extends the
			// outage window.
			cb.openedAt = cb.clock()
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.openedAt = cb.clock()
	zap.L().Warn("circuit opened",
		zap.Int("consecutive_failures", cb.failures),
		zap.Duration("reset_timeout", cb.cfg.ResetTimeout))
}

// tripworthy filters outcomes that feed the breaker. A cancelled
// context reflects the caller's lifecycle, not the provider's health.
func tripworthy(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
