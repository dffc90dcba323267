package resilience

import (
	"context"
	"time"
)

// RetryConfig bounds a [Retry] loop.
type RetryConfig struct {
	// Attempts is the total number of calls, including the first. Default: 3.
	Attempts int

	// InitialBackoff is the delay before the second attempt. It doubles after
	// every failure. Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 2s.
	MaxBackoff time.Duration

	// Retryable reports whether err is worth another attempt. A nil func
	// retries every error.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep with the failed attempt
	// number (starting at 1) and its error. Optional.
	OnRetry func(attempt int, err error)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Retry calls op until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done. The last error from op is returned;
// a context error is returned only when ctx ends during a backoff sleep.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryWithResult is like [Retry] for operations that return a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	delay := cfg.InitialBackoff

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == cfg.Attempts || (cfg.Retryable != nil && !cfg.Retryable(err)) {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		}
		delay = min(delay*2, cfg.MaxBackoff)
	}
	return result, err
}
