package tiers

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff for storage writes.
type RetryConfig struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryConfig matches the recommended storage retry policy: 3
// attempts, backoff 1s -> 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Base: time.Second, Max: 30 * time.Second}
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// attempts, returning the last error if every attempt fails. Cancellation is
// honored between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var err error
	backoff := cfg.Base
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > cfg.Max {
			backoff = cfg.Max
		}
	}
	return err
}
