package upstream

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/common/logging"
	"keyword-engine/internal/models"
)

// BreakerConfig controls the circuit breaker in front of the enrichment
// provider.
type BreakerConfig struct {
	// MaxFailures opens the circuit after this many consecutive failures.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a probe.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns settings suited to a flaky search provider.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// breakerEnricher wraps an Enricher in a circuit breaker. An open circuit
// reports as a timeout, which the pipeline already treats as "score without
// enrichment", so a dead provider degrades requests immediately instead of
// making each one wait out the full timeout.
type breakerEnricher struct {
	inner   Enricher
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker wraps an enricher with a circuit breaker.
func WithBreaker(inner Enricher, config BreakerConfig, logger logging.Logger) Enricher {
	if config.MaxFailures == 0 {
		config = DefaultBreakerConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	settings := gobreaker.Settings{
		Name:    "serp-enricher",
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("enricher circuit state change",
				logging.String("from", from.String()),
				logging.String("to", to.String()))
		},
	}

	return &breakerEnricher{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *breakerEnricher) FetchSerp(ctx context.Context, keyword, region, language string) (*models.SerpResult, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.FetchSerp(ctx, keyword, region, language)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperrors.TimeoutError("serp enrichment", err)
		}
		return nil, err
	}
	return result.(*models.SerpResult), nil
}
