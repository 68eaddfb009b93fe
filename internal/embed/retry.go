package embed

import (
	"context"
	"strconv"
	"time"

	apperrors "github.com/jrmatherly/apollos/internal/errors"
)

// RetryConfig configures retry behavior for remote provider calls.
type RetryConfig struct {
	MaxRetries   int           // Attempts before giving up (including the first)
	InitialDelay time.Duration // Delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// withRetry executes fn with exponential backoff. After exhausting all
// attempts it returns a ProviderUnavailable error wrapping the last
// failure, so callers can surface the outage without partial results.
// Context cancellation aborts immediately with the context error.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		if err := fn(); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}

	return apperrors.ProviderUnavailable("provider failed after retries", lastErr).
		WithDetail("attempts", strconv.Itoa(cfg.MaxRetries))
}
