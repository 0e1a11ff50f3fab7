package llm

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/lexcodex/codemend/framework"
)

// RetryConfig configures backoff for backend calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryConfig suits a local server that may still be starting.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		MaxJitter:   200 * time.Millisecond,
	}
}

// Validate checks the configuration for negative values.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 || c.BaseBackoff < 0 || c.MaxBackoff < 0 || c.MaxJitter < 0 {
		return errors.New("retry configuration values cannot be negative")
	}
	return nil
}

// IsTransient reports whether err is a backend failure worth retrying.
// Rejections are final.
func IsTransient(err error) bool {
	var be *framework.BackendError
	if errors.As(err, &be) {
		return be.Kind != framework.BackendRejected || be.Status == 429 || be.Status >= 500
	}
	return false
}

// RetryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// or the retries are spent.
func RetryWithBackoff[T any](ctx context.Context, cfg RetryConfig, operation string, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if !isRetryable(lastErr) {
			return result, lastErr
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		backoff := min(cfg.BaseBackoff<<attempt, cfg.MaxBackoff)
		var jitter time.Duration
		if cfg.MaxJitter > 0 {
			if n, err := rand.Int(rand.Reader, big.NewInt(int64(cfg.MaxJitter))); err == nil {
				jitter = time.Duration(n.Int64())
			}
		}

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", cfg.MaxRetries).
			With("backoff", backoff+jitter).
			With("error", lastErr.Error()).
			Warn("backend call failed, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return result, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, lastErr)
}

// Pinger is implemented by backends that support a health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitReady pings the backend with backoff until it answers.
func WaitReady(ctx context.Context, p Pinger, cfg RetryConfig) error {
	_, err := RetryWithBackoff(ctx, cfg, "backend health check", IsTransient, func() (struct{}, error) {
		return struct{}{}, p.Ping(ctx)
	})
	return err
}
