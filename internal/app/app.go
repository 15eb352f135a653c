// Package app wires the engine together: storage, cache tiers, rate
// limiter, upstream clients, metrics, HTTP surface, and the periodic
// expiry sweep.
package app

import (
	"context"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"

	"keyword-engine/internal/cache"
	"keyword-engine/internal/common/logging"
	"keyword-engine/internal/config"
	"keyword-engine/internal/engine"
	"keyword-engine/internal/handlers"
	"keyword-engine/internal/intent"
	"keyword-engine/internal/metrics"
	"keyword-engine/internal/middleware"
	"keyword-engine/internal/ratelimit"
	"keyword-engine/internal/scoring"
	"keyword-engine/internal/storage"
	"keyword-engine/internal/upstream"
)

// App holds all application dependencies.
type App struct {
	Config  *config.Config
	Logger  logging.Logger
	Engine  *engine.Engine
	Metrics *metrics.Collector

	store       storage.Store
	cacheMgr    *cache.Manager
	redisClient *redis.Client
	sweeper     *cron.Cron
}

// New builds the application from configuration.
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.NewCollector()}

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initEngine(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initSweeper(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initStorage() error {
	ctx := context.Background()

	needsRedis := a.Config.StorageType == storage.TypeRedis ||
		a.Config.RateLimitBackend == ratelimit.BackendDistributed
	if needsRedis {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddress,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	store, err := storage.New(ctx, storage.Config{
		Type:        a.Config.StorageType,
		SQLitePath:  a.Config.DatabasePath,
		PostgresDSN: a.Config.PostgresURL,
		RedisClient: a.redisClient,
	})
	if err != nil {
		return err
	}
	a.store = store

	a.cacheMgr = cache.NewManager(
		cache.NewLocalStore(a.Config.FastTierCap, a.Config.FastTierCap),
		store,
		cache.Config{
			TTLs:        a.Config.CacheTTLs,
			FastTierCap: a.Config.FastTierCap,
			Logger:      a.Logger.WithFields(logging.String("component", "cache")),
			Metrics:     a.Metrics,
		},
	)
	return nil
}

func (a *App) initEngine() error {
	limiter, err := ratelimit.New(ratelimit.Config{
		Backend: a.Config.RateLimitBackend,
		Quotas:  a.Config.Quotas,
	}, a.redisClient)
	if err != nil {
		return err
	}

	generator, err := upstream.NewHTTPGenerator(upstream.HTTPConfig{
		BaseURL: a.Config.GeneratorURL,
		APIKey:  a.Config.GeneratorAPIKey,
	})
	if err != nil {
		return err
	}
	wrappedGenerator := upstream.WithRetry(generator, upstream.DefaultRetryConfig(),
		a.Logger.WithFields(logging.String("component", "generator")))

	var enricher upstream.Enricher
	if a.Config.EnricherURL != "" {
		httpEnricher, err := upstream.NewHTTPEnricher(upstream.HTTPConfig{
			BaseURL: a.Config.EnricherURL,
			APIKey:  a.Config.EnricherAPIKey,
			Timeout: a.Config.EnrichTimeout,
		}, 10)
		if err != nil {
			return err
		}
		enricher = upstream.WithBreaker(httpEnricher, upstream.DefaultBreakerConfig(),
			a.Logger.WithFields(logging.String("component", "enricher")))
	} else {
		a.Logger.Warn("no enricher configured, all scoring will be heuristic-only")
	}

	a.Engine = engine.New(
		a.cacheMgr,
		limiter,
		wrappedGenerator,
		enricher,
		scoring.NewScorer(a.Config.ScoringWeights),
		intent.NewClassifier(a.Config.BrandTerms...),
		engine.Config{
			EnrichTimeout: a.Config.EnrichTimeout,
			EnrichTopK:    a.Config.EnrichTopK,
			Logger:        a.Logger.WithFields(logging.String("component", "engine")),
			Metrics:       a.Metrics,
		},
	)
	return nil
}

func (a *App) initSweeper() error {
	a.sweeper = cron.New()
	_, err := a.sweeper.AddFunc(a.Config.SweepSchedule, func() {
		removed, err := a.Engine.CleanupExpired(context.Background())
		if err != nil {
			a.Logger.Error("cache sweep failed", err)
			return
		}
		if removed > 0 {
			a.Logger.Info("cache sweep", logging.Int("removed", removed))
		}
	})
	if err != nil {
		return err
	}
	a.sweeper.Start()
	return nil
}

// Handler builds the full HTTP handler with middleware.
func (a *App) Handler() http.Handler {
	router := mux.NewRouter()
	handlers.New(a.Engine, a.Logger.WithFields(logging.String("component", "http")), a.Metrics.Handler()).
		RegisterRoutes(router)

	throttle := middleware.NewThrottle(a.Config.ThrottleRPS, a.Config.ThrottleBurst)

	var h http.Handler = router
	h = throttle.Handler(h)
	h = middleware.Logging(a.Logger)(h)
	return h
}

// Close releases all resources. Safe to call on a partially built app.
func (a *App) Close() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn("error closing store", logging.String("error", err.Error()))
		}
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
}
