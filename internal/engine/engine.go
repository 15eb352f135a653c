// Package engine orchestrates the scoring pipeline: admission against plan
// quotas, cache lookup with single-flight generation, enrichment with
// graceful degradation, scoring, and intent classification.
package engine

import (
	"context"
	"strings"
	"time"

	"keyword-engine/internal/cache"
	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/common/logging"
	"keyword-engine/internal/intent"
	"keyword-engine/internal/models"
	"keyword-engine/internal/ratelimit"
	"keyword-engine/internal/scoring"
	"keyword-engine/internal/upstream"
)

// MetricsRecorder receives pipeline outcomes. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	LimiterDecision(op ratelimit.OperationClass, allowed bool)
	UpstreamLatency(operation string, d time.Duration)
}

// Config holds engine settings.
type Config struct {
	// EnrichTimeout bounds the whole enrichment phase of one request.
	// Expiry degrades scoring to heuristic-only, it never fails the
	// request.
	EnrichTimeout time.Duration
	// EnrichTopK bounds how many candidates per batch are verified
	// against live search results.
	EnrichTopK int
	// MaxCandidates caps the requested batch size.
	MaxCandidates int
	Logger        logging.Logger
	Metrics       MetricsRecorder
}

// Engine wires the pipeline together. All state lives in the injected
// collaborators; the engine itself is stateless and safe for concurrent
// use.
type Engine struct {
	cache      *cache.Manager
	limiter    ratelimit.Limiter
	generator  upstream.Generator
	enricher   upstream.Enricher
	scorer     *scoring.Scorer
	classifier *intent.Classifier

	enrichTimeout time.Duration
	enrichTopK    int
	maxCandidates int
	logger        logging.Logger
	metrics       MetricsRecorder
}

// New creates an engine over the given collaborators.
func New(cacheManager *cache.Manager, limiter ratelimit.Limiter, generator upstream.Generator, enricher upstream.Enricher, scorer *scoring.Scorer, classifier *intent.Classifier, config Config) *Engine {
	if config.EnrichTimeout <= 0 {
		config.EnrichTimeout = 10 * time.Second
	}
	if config.EnrichTopK <= 0 {
		config.EnrichTopK = 5
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 100
	}
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}

	return &Engine{
		cache:         cacheManager,
		limiter:       limiter,
		generator:     generator,
		enricher:      enricher,
		scorer:        scorer,
		classifier:    classifier,
		enrichTimeout: config.EnrichTimeout,
		enrichTopK:    config.EnrichTopK,
		maxCandidates: config.MaxCandidates,
		logger:        config.Logger,
		metrics:       config.Metrics,
	}
}

// ScoreRequest is one keyword research request.
type ScoreRequest struct {
	UserID   string                `json:"user_id"`
	Plan     ratelimit.Plan        `json:"plan"`
	Topic    string                `json:"topic"`
	Region   string                `json:"region"`
	Language string                `json:"language"`
	Mode     models.DifficultyMode `json:"difficulty_mode"`
	Count    int                   `json:"count"`
}

func (r *ScoreRequest) normalize() error {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		return apperrors.ValidationError("topic is required")
	}
	if r.UserID == "" {
		return apperrors.ValidationError("user id is required")
	}
	if r.Region == "" {
		r.Region = "us"
	}
	if r.Language == "" {
		r.Language = "en"
	}
	if r.Mode == "" {
		r.Mode = models.ModeMedium
	}
	if !r.Mode.Valid() {
		return apperrors.ValidationError("unknown difficulty mode").WithContext("difficulty_mode", string(r.Mode))
	}
	return nil
}

// ScoreResult is a scored candidate batch plus provenance.
type ScoreResult struct {
	Candidates  []models.KeywordCandidate `json:"candidates"`
	Source      models.Source             `json:"source"`
	CacheStatus cache.CacheStatus         `json:"cache_status"`
}

// ScoreAndCacheKeywords runs the full pipeline for one topic. The rate
// limiter is consulted before any cache or upstream work; a denial carries
// reset_at and triggers no generation. Concurrent requests for the same
// topic share one generation via the cache's single-flight contract.
func (e *Engine) ScoreAndCacheKeywords(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	decision, err := e.limiter.Admit(ctx, req.UserID, req.Plan, ratelimit.OpGeneration)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.LimiterDecision(ratelimit.OpGeneration, decision.Allowed)
	}
	if !decision.Allowed {
		return nil, apperrors.RateLimitError("keyword generation", decision.ResetAt)
	}

	key := cache.Key(models.DataTypeKeywords, req.Topic, map[string]string{
		"region":   req.Region,
		"language": req.Language,
	})

	// Serp results fetched during generation are cached after the batch
	// entry exists, so their dependency edges always point at a live key.
	var collected []*models.SerpResult

	payload, status, err := e.cache.GetOrGenerate(ctx, key, nil, func(ctx context.Context) (models.Payload, error) {
		batch, serps, err := e.generate(ctx, req)
		if err != nil {
			return nil, err
		}
		collected = serps
		return batch, nil
	})
	if err != nil {
		return nil, err
	}

	if status == cache.StatusMiss && len(collected) > 0 {
		e.cacheSerpResults(ctx, key, collected)
	}

	batch, ok := payload.(models.KeywordBatch)
	if !ok {
		return nil, apperrors.InternalError("cache returned unexpected payload type", nil)
	}

	// Stored batches are mode-independent; only the quick-win flag varies
	// with the requested mode, so it is recomputed per call.
	candidates := make([]models.KeywordCandidate, len(batch.Candidates))
	for i, c := range batch.Candidates {
		candidates[i] = e.scorer.ApplyQuickWin(c, req.Mode)
	}

	return &ScoreResult{
		Candidates:  candidates,
		Source:      batch.Source,
		CacheStatus: status,
	}, nil
}

// generate produces a fresh scored batch: raw candidates from the
// generator, best-effort enrichment, then scoring and classification.
func (e *Engine) generate(ctx context.Context, req ScoreRequest) (models.KeywordBatch, []*models.SerpResult, error) {
	start := time.Now()
	raw, err := e.generator.Generate(ctx, upstream.GenerateRequest{
		Topic:    req.Topic,
		Region:   req.Region,
		Language: req.Language,
		Count:    req.Count,
	})
	if e.metrics != nil {
		e.metrics.UpstreamLatency("generation", time.Since(start))
	}
	if err != nil {
		return models.KeywordBatch{}, nil, err
	}
	if len(raw) == 0 {
		return models.KeywordBatch{}, nil, apperrors.UpstreamError("generator returned no candidates", nil)
	}
	if len(raw) > e.maxCandidates {
		raw = raw[:e.maxCandidates]
	}

	candidates := make([]models.KeywordCandidate, 0, len(raw))
	for _, rc := range raw {
		text := strings.TrimSpace(rc.Text)
		if text == "" {
			continue
		}
		// An absent competition signal means the keyword is unmeasured,
		// not uncontested; default to the worst case.
		competition := 1.0
		if rc.Competition != nil {
			competition = *rc.Competition
		}
		candidates = append(candidates, models.KeywordCandidate{
			Text:        text,
			Volume:      rc.Volume,
			CPC:         rc.CPC,
			Competition: competition,
		})
	}
	if len(candidates) == 0 {
		return models.KeywordBatch{}, nil, apperrors.UpstreamError("generator returned only blank candidates", nil)
	}

	serps := e.enrich(ctx, req, candidates)

	batchSource := models.SourceHeuristic
	for i := range candidates {
		serp := serps[candidates[i].Text]
		if serp != nil {
			difficulty := difficultyFromSerp(candidates[i].Text, serp)
			candidates[i].EnrichmentDifficulty = &difficulty
			batchSource = models.SourceEnrichmentEnhanced
		}

		titles := serpTitles(serp)
		candidates[i].Intent = e.classifier.ClassifyWithTitles(candidates[i].Text, titles)
		candidates[i] = e.scorer.Score(candidates[i], models.ModeMedium)
	}

	batch := models.KeywordBatch{
		Topic:       req.Topic,
		Region:      req.Region,
		Language:    req.Language,
		Candidates:  candidates,
		Source:      batchSource,
		GeneratedAt: time.Now().UTC(),
	}

	ordered := make([]*models.SerpResult, 0, len(serps))
	for _, c := range candidates {
		if serp := serps[c.Text]; serp != nil {
			ordered = append(ordered, serp)
		}
	}
	return batch, ordered, nil
}

// enrich fetches live results for the top candidates under one shared
// deadline. Every failure path (quota, timeout, provider error, open
// breaker) leaves the affected candidates heuristic-only.
func (e *Engine) enrich(ctx context.Context, req ScoreRequest, candidates []models.KeywordCandidate) map[string]*models.SerpResult {
	serps := make(map[string]*models.SerpResult)
	if e.enricher == nil {
		return serps
	}

	decision, err := e.limiter.Admit(ctx, req.UserID, req.Plan, ratelimit.OpEnrichment)
	if e.metrics != nil && err == nil {
		e.metrics.LimiterDecision(ratelimit.OpEnrichment, decision.Allowed)
	}
	if err != nil || !decision.Allowed {
		e.logger.Info("skipping enrichment",
			logging.String("topic", req.Topic),
			logging.Bool("quota_denied", err == nil))
		return serps
	}

	enrichCtx, cancel := context.WithTimeout(ctx, e.enrichTimeout)
	defer cancel()

	limit := e.enrichTopK
	if limit > len(candidates) {
		limit = len(candidates)
	}
	for _, c := range candidates[:limit] {
		start := time.Now()
		serp, err := e.enricher.FetchSerp(enrichCtx, c.Text, req.Region, req.Language)
		if e.metrics != nil {
			e.metrics.UpstreamLatency("enrichment", time.Since(start))
		}
		if err != nil {
			e.logger.Debug("enrichment failed, scoring heuristically",
				logging.String("keyword", c.Text),
				logging.String("error", err.Error()))
			if enrichCtx.Err() != nil {
				// Deadline hit; the rest of the batch stays heuristic.
				break
			}
			continue
		}
		serps[c.Text] = serp
	}
	return serps
}

// cacheSerpResults stores fetched serp payloads with an edge back to the
// keywords entry so invalidating the topic cascades over them. Write
// failures are logged and ignored; the batch itself is already cached.
func (e *Engine) cacheSerpResults(ctx context.Context, keywordsKey string, serps []*models.SerpResult) {
	for _, serp := range serps {
		serpKey := cache.Key(models.DataTypeSerp, serp.Keyword, map[string]string{
			"region":   serp.Region,
			"language": serp.Language,
		})
		if err := e.cache.Set(ctx, serpKey, *serp, keywordsKey); err != nil {
			e.logger.Warn("failed to cache serp result",
				logging.String("keyword", serp.Keyword),
				logging.String("error", err.Error()))
		}
	}
}

// GetUsage reports current quota consumption for a user. The lookup itself
// is admitted under the read class, so the snapshot reflects this call.
func (e *Engine) GetUsage(ctx context.Context, userID string, plan ratelimit.Plan) (ratelimit.Usage, error) {
	decision, err := e.limiter.Admit(ctx, userID, plan, ratelimit.OpRead)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.LimiterDecision(ratelimit.OpRead, decision.Allowed)
	}
	if !decision.Allowed {
		return nil, apperrors.RateLimitError("usage lookup", decision.ResetAt)
	}
	return e.limiter.Usage(ctx, userID, plan)
}

// GetCacheStats reports cache effectiveness counters.
func (e *Engine) GetCacheStats(ctx context.Context) cache.Stats {
	return e.cache.Stats(ctx)
}

// InvalidateTopic removes a topic's cached batch and every entry derived
// from it. It returns the removed keys and is idempotent.
func (e *Engine) InvalidateTopic(ctx context.Context, topic, region, language string) ([]string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apperrors.ValidationError("topic is required")
	}
	if region == "" {
		region = "us"
	}
	if language == "" {
		language = "en"
	}

	key := cache.Key(models.DataTypeKeywords, topic, map[string]string{
		"region":   region,
		"language": language,
	})
	return e.cache.Invalidate(ctx, key)
}

// CleanupExpired sweeps both cache tiers.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	return e.cache.CleanupExpired(ctx)
}
