package errs

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures Do's backoff schedule.
type RetryConfig struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// DefaultRetryConfig mirrors the backoff spec.md prescribes for
// transient storage failures: 1s base, 30s cap, 3 retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Base:       time.Second,
		Cap:        30 * time.Second,
		MaxRetries: 3,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, exhausts
// MaxRetries, or ctx is done. Backoff is full-jitter exponential between
// attempts, grounded on the re-read-and-retry idiom the teacher's WAL
// recovery path uses around transient I/O errors.
func Do(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var err error
	delay := cfg.Base
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		jittered := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > cfg.Cap {
			delay = cfg.Cap
		}
	}
	return err
}
