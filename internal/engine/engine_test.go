package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyword-engine/internal/cache"
	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/intent"
	"keyword-engine/internal/models"
	"keyword-engine/internal/ratelimit"
	"keyword-engine/internal/scoring"
	"keyword-engine/internal/storage"
	"keyword-engine/internal/upstream"
)

type stubGenerator struct {
	calls      int32
	err        error
	candidates []upstream.RawCandidate
}

func (s *stubGenerator) Generate(ctx context.Context, req upstream.GenerateRequest) ([]upstream.RawCandidate, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

type stubEnricher struct {
	calls int32
	err   error
	serp  func(keyword string) *models.SerpResult
}

func (s *stubEnricher) FetchSerp(ctx context.Context, keyword, region, language string) (*models.SerpResult, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	if s.serp != nil {
		return s.serp(keyword), nil
	}
	return &models.SerpResult{Keyword: keyword, Region: region, Language: language}, nil
}

func comp(v float64) *float64 {
	return &v
}

func defaultCandidates() []upstream.RawCandidate {
	return []upstream.RawCandidate{
		{Text: "best ergonomic chair", Volume: 9000, CPC: 2.1, Competition: comp(0.35)},
		{Text: "ergonomic chair under 300", Volume: 1500, CPC: 1.4, Competition: comp(0.2)},
		{Text: "herman miller", Volume: 2500, CPC: 3.8, Competition: comp(0.7)},
	}
}

func newTestEngine(t *testing.T, gen upstream.Generator, enr upstream.Enricher) (*Engine, *cache.Manager) {
	t.Helper()

	manager := cache.NewManager(
		cache.NewLocalStore(time.Minute, 0),
		storage.NewMemoryStore(),
		cache.Config{},
	)
	limiter, err := ratelimit.NewLocalLimiter(nil, nil)
	require.NoError(t, err)

	e := New(manager, limiter, gen, enr,
		scoring.NewScorer(scoring.DefaultWeights()),
		intent.NewClassifier("herman miller"),
		Config{EnrichTimeout: time.Second},
	)
	return e, manager
}

func scoreReq() ScoreRequest {
	return ScoreRequest{
		UserID: "u1",
		Plan:   ratelimit.PlanPro,
		Topic:  "ergonomic chairs",
		Mode:   models.ModeMedium,
	}
}

func TestScoreAndCacheKeywordsFullPipeline(t *testing.T) {
	gen := &stubGenerator{candidates: defaultCandidates()}
	enr := &stubEnricher{serp: func(keyword string) *models.SerpResult {
		return &models.SerpResult{
			Keyword: keyword,
			Region:  "us",
			Entries: []models.SerpEntry{
				{Title: "The Best Ergonomic Chairs of 2025, Reviewed", Position: 1},
				{Title: "Office Chair Buying Guide", Position: 2},
			},
		}
	}}
	e, _ := newTestEngine(t, gen, enr)

	result, err := e.ScoreAndCacheKeywords(context.Background(), scoreReq())
	require.NoError(t, err)

	assert.Equal(t, cache.StatusMiss, result.CacheStatus)
	assert.Equal(t, models.SourceEnrichmentEnhanced, result.Source)
	require.Len(t, result.Candidates, 3)
	for _, c := range result.Candidates {
		assert.GreaterOrEqual(t, c.OpportunityScore, 0)
		assert.LessOrEqual(t, c.OpportunityScore, 100)
		assert.NotEqual(t, models.Intent(""), c.Intent)
	}
	// Brand keyword classifies navigational.
	assert.Equal(t, models.IntentNavigational, result.Candidates[2].Intent)
}

func TestSecondCallIsCacheHit(t *testing.T) {
	gen := &stubGenerator{candidates: defaultCandidates()}
	e, _ := newTestEngine(t, gen, &stubEnricher{})

	ctx := context.Background()
	first, err := e.ScoreAndCacheKeywords(ctx, scoreReq())
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, first.CacheStatus)

	second, err := e.ScoreAndCacheKeywords(ctx, scoreReq())
	require.NoError(t, err)
	assert.Equal(t, cache.StatusHit, second.CacheStatus)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls), "cache hit must not regenerate")
	assert.Equal(t, first.Candidates, second.Candidates)
}

func TestRateLimitRejectionSkipsGeneration(t *testing.T) {
	quotas := ratelimit.QuotaTable{
		ratelimit.PlanFree: {
			ratelimit.OpGeneration: {ratelimit.WindowMinute: 1},
		},
	}
	limiter, err := ratelimit.NewLocalLimiter(quotas, nil)
	require.NoError(t, err)

	gen := &stubGenerator{candidates: defaultCandidates()}
	manager := cache.NewManager(cache.NewLocalStore(time.Minute, 0), storage.NewMemoryStore(), cache.Config{})
	e := New(manager, limiter, gen, nil,
		scoring.NewScorer(scoring.DefaultWeights()), intent.NewClassifier(), Config{})

	ctx := context.Background()
	req := scoreReq()
	req.Plan = ratelimit.PlanFree
	req.Topic = "first topic"
	_, err = e.ScoreAndCacheKeywords(ctx, req)
	require.NoError(t, err)

	req.Topic = "second topic"
	_, err = e.ScoreAndCacheKeywords(ctx, req)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRateLimit))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.False(t, appErr.ResetAt.IsZero(), "rate limit error must carry reset_at")
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls), "denied requests must not reach the generator")
}

func TestEnrichmentFailureDegradesToHeuristic(t *testing.T) {
	gen := &stubGenerator{candidates: defaultCandidates()}
	enr := &stubEnricher{err: apperrors.TimeoutError("serp enrichment", context.DeadlineExceeded)}
	e, _ := newTestEngine(t, gen, enr)

	result, err := e.ScoreAndCacheKeywords(context.Background(), scoreReq())
	require.NoError(t, err, "enrichment failure must not fail the request")

	assert.Equal(t, models.SourceHeuristic, result.Source)
	for _, c := range result.Candidates {
		assert.Nil(t, c.EnrichmentDifficulty)
		assert.Equal(t, models.SourceHeuristic, c.Source)
		assert.GreaterOrEqual(t, c.OpportunityScore, 0)
	}
}

func TestGeneratorFailurePropagatesTyped(t *testing.T) {
	gen := &stubGenerator{err: apperrors.UpstreamError("model overloaded", nil)}
	e, manager := newTestEngine(t, gen, nil)

	_, err := e.ScoreAndCacheKeywords(context.Background(), scoreReq())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUpstream))

	// Nothing may be cached on failure.
	stats := manager.Stats(context.Background())
	assert.Empty(t, stats.EntriesByType)
}

func TestQuickWinRecomputedPerMode(t *testing.T) {
	gen := &stubGenerator{candidates: []upstream.RawCandidate{
		// High score, competition 0.5: quick win under medium, not easy.
		{Text: "standing desk mat", Volume: 60000, CPC: 1.0, Competition: comp(0.5)},
	}}
	e, _ := newTestEngine(t, gen, &stubEnricher{})
	ctx := context.Background()

	req := scoreReq()
	req.Mode = models.ModeMedium
	medium, err := e.ScoreAndCacheKeywords(ctx, req)
	require.NoError(t, err)
	require.True(t, medium.Candidates[0].OpportunityScore >= 55, "fixture must clear the score floor")
	assert.True(t, medium.Candidates[0].IsQuickWin)

	req.Mode = models.ModeEasy
	easy, err := e.ScoreAndCacheKeywords(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusHit, easy.CacheStatus, "mode change must not bypass the cache")
	assert.False(t, easy.Candidates[0].IsQuickWin, "easy mode caps competition at 0.4")
	assert.Equal(t, medium.Candidates[0].OpportunityScore, easy.Candidates[0].OpportunityScore)
}

func TestMissingCompetitionScoresAsWorstCase(t *testing.T) {
	gen := &stubGenerator{candidates: []upstream.RawCandidate{
		{Text: "standing desk", Volume: 5000, CPC: 1.1},
		{Text: "standing desk twin", Volume: 5000, CPC: 1.1, Competition: comp(1.0)},
	}}
	e, _ := newTestEngine(t, gen, &stubEnricher{})

	result, err := e.ScoreAndCacheKeywords(context.Background(), scoreReq())
	require.NoError(t, err)
	require.Len(t, result.Candidates, 2)

	unmeasured, worst := result.Candidates[0], result.Candidates[1]
	assert.Equal(t, 1.0, unmeasured.Competition, "absent signal must not read as uncontested")
	assert.Equal(t, worst.OpportunityScore, unmeasured.OpportunityScore)
	assert.False(t, unmeasured.IsQuickWin)
}

func TestInvalidateTopicCascadesOverSerpEntries(t *testing.T) {
	gen := &stubGenerator{candidates: defaultCandidates()}
	e, manager := newTestEngine(t, gen, &stubEnricher{})
	ctx := context.Background()

	_, err := e.ScoreAndCacheKeywords(ctx, scoreReq())
	require.NoError(t, err)

	stats := manager.Stats(ctx)
	require.Equal(t, 1, stats.EntriesByType[models.DataTypeKeywords])
	require.Greater(t, stats.EntriesByType[models.DataTypeSerp], 0, "serp payloads should be cached alongside the batch")

	removed, err := e.InvalidateTopic(ctx, "ergonomic chairs", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1+stats.EntriesByType[models.DataTypeSerp], len(removed))

	stats = manager.Stats(ctx)
	assert.Equal(t, 0, stats.EntriesByType[models.DataTypeKeywords])
	assert.Equal(t, 0, stats.EntriesByType[models.DataTypeSerp])

	// Idempotent.
	removed, err = e.InvalidateTopic(ctx, "ergonomic chairs", "", "")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestScoreRequestValidation(t *testing.T) {
	e, _ := newTestEngine(t, &stubGenerator{candidates: defaultCandidates()}, nil)
	ctx := context.Background()

	_, err := e.ScoreAndCacheKeywords(ctx, ScoreRequest{UserID: "u1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, err = e.ScoreAndCacheKeywords(ctx, ScoreRequest{Topic: "chairs"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, err = e.ScoreAndCacheKeywords(ctx, ScoreRequest{UserID: "u1", Topic: "chairs", Mode: "impossible"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestGetUsageReflectsAdmissions(t *testing.T) {
	gen := &stubGenerator{candidates: defaultCandidates()}
	e, _ := newTestEngine(t, gen, &stubEnricher{})
	ctx := context.Background()

	_, err := e.ScoreAndCacheKeywords(ctx, scoreReq())
	require.NoError(t, err)

	usage, err := e.GetUsage(ctx, "u1", ratelimit.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, 1, usage[ratelimit.OpGeneration][ratelimit.WindowMinute].Used)
	assert.Equal(t, 1, usage[ratelimit.OpEnrichment][ratelimit.WindowMinute].Used)
	assert.Equal(t, 1, usage[ratelimit.OpRead][ratelimit.WindowMinute].Used, "the lookup itself consumes a read")
}

func TestGetUsageExhaustsReadQuota(t *testing.T) {
	gen := &stubGenerator{candidates: defaultCandidates()}
	e, _ := newTestEngine(t, gen, &stubEnricher{})
	quotas := ratelimit.QuotaTable{
		ratelimit.PlanFree: {
			ratelimit.OpGeneration: {ratelimit.WindowMinute: 5},
			ratelimit.OpRead:       {ratelimit.WindowMinute: 1},
		},
	}
	limiter, err := ratelimit.NewLocalLimiter(quotas, nil)
	require.NoError(t, err)
	e.limiter = limiter
	ctx := context.Background()

	_, err = e.GetUsage(ctx, "u1", ratelimit.PlanFree)
	require.NoError(t, err)

	_, err = e.GetUsage(ctx, "u1", ratelimit.PlanFree)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRateLimit))
}

func TestDifficultyFromSerp(t *testing.T) {
	contested := &models.SerpResult{Entries: []models.SerpEntry{
		{Title: "Best standing desk picks", Position: 1},
		{Title: "Standing desk reviews", Position: 2},
		{Title: "Why a standing desk helps", Position: 3},
	}}
	sparse := &models.SerpResult{Entries: []models.SerpEntry{
		{Title: "Unrelated article", Position: 1},
		{Title: "Another unrelated page", Position: 2},
	}}

	high := difficultyFromSerp("standing desk", contested)
	low := difficultyFromSerp("standing desk", sparse)

	assert.Greater(t, high, low)
	assert.GreaterOrEqual(t, low, 0)
	assert.LessOrEqual(t, high, 100)
	assert.Equal(t, 10, difficultyFromSerp("standing desk", nil))
}
