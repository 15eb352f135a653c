package upstream

import (
	"context"
	"math/rand"
	"time"

	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/common/logging"
)

// RetryConfig controls the bounded exponential backoff applied to the
// candidate generator. Only retryable failures (upstream errors and
// timeouts) trigger another attempt; validation and quota errors surface
// immediately.
type RetryConfig struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps exponential growth.
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64
	// JitterFactor randomizes delays by up to this fraction.
	JitterFactor float64
}

// DefaultRetryConfig returns settings suited to a slow generation API.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// retryGenerator decorates a Generator with backoff.
type retryGenerator struct {
	inner  Generator
	config RetryConfig
	logger logging.Logger
}

// WithRetry wraps a generator so transient failures are retried with
// exponential backoff before the error propagates.
func WithRetry(inner Generator, config RetryConfig, logger logging.Logger) Generator {
	if config.MaxAttempts <= 0 {
		config = DefaultRetryConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &retryGenerator{inner: inner, config: config, logger: logger}
}

func (g *retryGenerator) Generate(ctx context.Context, req GenerateRequest) ([]RawCandidate, error) {
	var lastErr error
	delay := g.config.InitialDelay

	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		candidates, err := g.inner.Generate(ctx, req)
		if err == nil {
			return candidates, nil
		}
		lastErr = err

		if !apperrors.Retryable(err) {
			return nil, err
		}
		if attempt == g.config.MaxAttempts {
			break
		}

		g.logger.Warn("generation attempt failed, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, apperrors.TimeoutError("keyword generation", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * g.config.BackoffFactor)
		if delay > g.config.MaxDelay {
			delay = g.config.MaxDelay
		}
		if g.config.JitterFactor > 0 {
			jitter := time.Duration(float64(delay) * g.config.JitterFactor)
			if jitter > 0 {
				delay += time.Duration(rand.Int63n(int64(jitter)))
			}
		}
	}

	return nil, lastErr
}
