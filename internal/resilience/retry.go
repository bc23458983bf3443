package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the attempt budget and backoff for Do and DoVal.
// Backoff doubles from InitialBackoff with additive jitter of up to
// half the step; MaxBackoff bounds the sleep, including any Retry-After
// hint the provider sent.
type RetryConfig struct {
	// MaxAttempts is the total number of tries including the first.
	// A value of 1 disables retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the sleep before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps every sleep. Default: 30s.
	MaxBackoff time.Duration

	// ShouldRetry classifies errors; nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each sleep with the 1-based number of the
	// attempt that just failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry settings used for provider calls
// when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Do runs fn until it succeeds, fails permanently, or exhausts the
// attempt budget. The error returned is always fn's own, never a bare
// context error, so callers can classify what actually went wrong.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	step := cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt == cfg.MaxAttempts {
			return err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if sleepCtx(ctx, nextDelay(step, cfg.MaxBackoff, err)) != nil {
			return err
		}
		step = min(step*2, cfg.MaxBackoff)
	}
}

// DoVal is Do for calls that return a value. On failure the zero value
// is returned alongside the last error.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		v, ferr := fn(ctx)
		if ferr == nil {
			out = v
		}
		return ferr
	})
	return out, err
}

// nextDelay picks the sleep before the next attempt: the current
// backoff step, stretched to any provider Retry-After hint, plus up to
// half a step of jitter, capped at limit.
func nextDelay(step, limit time.Duration, err error) time.Duration {
	delay := step
	if hint := RetryAfterHint(err); hint > delay {
		delay = hint
	}
	if delay > 0 {
		delay += rand.N(delay/2 + 1)
	}
	return min(delay, limit)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback logging each failed attempt
// against the named service and operation.
func RetryLogger(service, op string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("transient failure, will retry",
			zap.String("service", service),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
