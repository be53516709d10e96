package fedtrain

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for pure-I/O operations (artifact
// publishing, metric pushes). Computational failures are never retried;
// they indicate structural bugs.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries. Default: 30s.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff after each retry. Default: 2.0.
	BackoffMultiplier float64

	// Jitter between 0 and 1 randomizes the backoff; 0.1 means ±10%.
	// Default: 0.1.
	Jitter float64

	// RetryIf decides whether an error is retryable. Nil retries all.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns a retry configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Retryer performs operations with exponential backoff.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a retryer, backfilling zero config fields with
// defaults.
func NewRetryer(config RetryConfig) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = 0.1
	}
	return &Retryer{config: config}
}

// Do runs op until it succeeds, exhausts attempts, or the context ends.
// It returns the last error, nil on success.
func (r *Retryer) Do(ctx context.Context, op func() error) error {
	backoff := r.config.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if r.config.RetryIf != nil && !r.config.RetryIf(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := backoff
		if r.config.Jitter > 0 {
			spread := r.config.Jitter * float64(delay)
			delay += time.Duration((rand.Float64()*2 - 1) * spread)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		backoff = time.Duration(math.Min(
			float64(backoff)*r.config.BackoffMultiplier,
			float64(r.config.MaxBackoff),
		))
	}
	return lastErr
}
