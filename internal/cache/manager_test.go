package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/models"
	"keyword-engine/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	durable := storage.NewMemoryStore()
	fast := NewLocalStore(time.Minute, 0)
	m := NewManager(fast, durable, Config{Now: clock.Now})
	return m, durable, clock
}

func testBatch(topic string) models.KeywordBatch {
	return models.KeywordBatch{
		Topic:    topic,
		Region:   "us",
		Language: "en",
		Source:   models.SourceHeuristic,
		Candidates: []models.KeywordCandidate{
			{Text: topic + " reviews", Volume: 1200, Competition: 0.3, OpportunityScore: 72},
		},
	}
}

func TestManagerRoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	key := Key(models.DataTypeKeywords, "standing desks", map[string]string{"region": "us"})
	require.NoError(t, m.Set(ctx, key, testBatch("standing desks")))

	got, ok := m.Get(ctx, key)
	require.True(t, ok)
	batch, ok := got.(models.KeywordBatch)
	require.True(t, ok)
	assert.Equal(t, "standing desks", batch.Topic)
	assert.Len(t, batch.Candidates, 1)
}

func TestManagerGetMissing(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, ok := m.Get(context.Background(), Key(models.DataTypeKeywords, "absent", nil))
	assert.False(t, ok)
}

func TestManagerLazyExpiration(t *testing.T) {
	m, durable, clock := newTestManager(t)
	ctx := context.Background()

	key := Key(models.DataTypeKeywords, "air fryers", nil)
	require.NoError(t, m.Set(ctx, key, testBatch("air fryers")))

	// Keywords entries live 24h; one second past expiry is a miss.
	clock.Advance(24*time.Hour + time.Second)

	_, ok := m.Get(ctx, key)
	assert.False(t, ok)

	// The expired record must also be physically gone.
	_, err := durable.Get(ctx, key)
	assert.Equal(t, storage.ErrNotFound, err)
}

func TestManagerFastTierPromotion(t *testing.T) {
	m, durable, clock := newTestManager(t)
	ctx := context.Background()

	key := Key(models.DataTypeSerp, "hiking boots", nil)
	require.NoError(t, m.Set(ctx, key, models.SerpResult{Keyword: "hiking boots"}))

	// Simulate a restart: only the durable tier survives.
	m.fast.Flush()
	_, ok := m.Get(ctx, key)
	require.True(t, ok)

	// The lookup must have promoted the entry back into the fast tier.
	_, inFast := m.fast.Get(key)
	assert.True(t, inFast)

	// Promotion must not extend the entry's logical lifetime.
	clock.Advance(12*time.Hour + time.Second)
	_, ok = m.Get(ctx, key)
	assert.False(t, ok)

	rec, err := durable.Get(ctx, key)
	assert.Error(t, err)
	assert.Nil(t, rec)
}

func TestManagerSetRejectsForwardDependency(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	serpKey := Key(models.DataTypeSerp, "a", nil)
	suggestionsKey := Key(models.DataTypeSuggestions, "a", nil)

	// A serp entry may not depend on a later-stage suggestions entry.
	err := m.Set(ctx, serpKey, models.SerpResult{Keyword: "a"}, suggestionsKey)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	// Same-stage edges are rejected too.
	err = m.Set(ctx, serpKey, models.SerpResult{Keyword: "a"}, Key(models.DataTypeSerp, "b", nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	err = m.Set(ctx, serpKey, models.SerpResult{Keyword: "a"}, "not-a-key")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestManagerCascadeInvalidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	keyA := Key(models.DataTypeKeywords, "coffee grinders", nil)
	keyB := Key(models.DataTypeSerp, "burr coffee grinder", nil)
	keyC := Key(models.DataTypeBrief, "burr coffee grinder", nil)
	keyD := Key(models.DataTypeKeywords, "unrelated topic", nil)

	require.NoError(t, m.Set(ctx, keyA, testBatch("coffee grinders")))
	require.NoError(t, m.Set(ctx, keyB, models.SerpResult{Keyword: "burr coffee grinder"}, keyA))
	require.NoError(t, m.Set(ctx, keyC, models.BriefDocument{Keyword: "burr coffee grinder"}, keyB))
	require.NoError(t, m.Set(ctx, keyD, testBatch("unrelated topic")))

	removed, err := m.Invalidate(ctx, keyA)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{keyA, keyB, keyC}, removed)

	for _, k := range []string{keyA, keyB, keyC} {
		_, ok := m.Get(ctx, k)
		assert.False(t, ok, "key %s should be gone", k)
	}
	_, ok := m.Get(ctx, keyD)
	assert.True(t, ok, "unrelated entry must survive the cascade")
}

func TestManagerInvalidateIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	key := Key(models.DataTypeKeywords, "toaster ovens", nil)
	require.NoError(t, m.Set(ctx, key, testBatch("toaster ovens")))

	removed, err := m.Invalidate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, removed)

	removed, err = m.Invalidate(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestManagerCorruptEntrySelfHeals(t *testing.T) {
	m, durable, clock := newTestManager(t)
	ctx := context.Background()

	key := Key(models.DataTypeKeywords, "robot vacuums", nil)
	require.NoError(t, durable.Set(ctx, &models.CacheRecord{
		Key:       key,
		DataType:  models.DataTypeKeywords,
		Payload:   []byte("{not json"),
		CreatedAt: clock.Now(),
		ExpiresAt: clock.Now().Add(time.Hour),
	}))

	_, ok := m.Get(ctx, key)
	assert.False(t, ok)

	// The corrupt record must have been removed so the next write starts clean.
	_, err := durable.Get(ctx, key)
	assert.Equal(t, storage.ErrNotFound, err)

	require.NoError(t, m.Set(ctx, key, testBatch("robot vacuums")))
	_, ok = m.Get(ctx, key)
	assert.True(t, ok)
}

func TestManagerGetOrGenerateSingleFlight(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	key := Key(models.DataTypeKeywords, "mechanical keyboards", nil)
	var calls int32
	generate := func(ctx context.Context) (models.Payload, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return testBatch("mechanical keyboards"), nil
	}

	const workers = 10
	var wg sync.WaitGroup
	statuses := make([]CacheStatus, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, status, err := m.GetOrGenerate(ctx, key, nil, generate)
			statuses[i] = status
			errs[i] = err
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent misses must share one generation")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
	}

	// The result is now cached for subsequent callers.
	_, status, err := m.GetOrGenerate(ctx, key, nil, generate)
	require.NoError(t, err)
	assert.Equal(t, StatusHit, status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestManagerGetOrGenerateSharesFailure(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	key := Key(models.DataTypeKeywords, "ice makers", nil)
	upstreamErr := apperrors.UpstreamError("provider unavailable", errors.New("connection refused"))

	var calls int32
	generate := func(ctx context.Context) (models.Payload, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return nil, upstreamErr
	}

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = m.GetOrGenerate(ctx, key, nil, generate)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < workers; i++ {
		require.Error(t, errs[i])
		assert.True(t, apperrors.IsType(errs[i], apperrors.ErrTypeUpstream))
	}

	// Nothing was cached; a later caller triggers a fresh attempt.
	_, ok := m.Get(ctx, key)
	assert.False(t, ok)
}

func TestManagerCleanupExpired(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	fresh := Key(models.DataTypeSuggestions, "fresh", nil)
	stale := Key(models.DataTypeSerp, "stale", nil)
	require.NoError(t, m.Set(ctx, stale, models.SerpResult{Keyword: "stale"}))
	require.NoError(t, m.Set(ctx, fresh, models.SuggestionSet{Seed: "fresh"}))

	// Serp lives 12h, suggestions 48h.
	clock.Advance(13 * time.Hour)

	removed, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := m.Get(ctx, fresh)
	assert.True(t, ok)
}

func TestManagerStats(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	key := Key(models.DataTypeKeywords, "blenders", nil)
	require.NoError(t, m.Set(ctx, key, testBatch("blenders")))

	m.Get(ctx, key)
	m.Get(ctx, key)
	m.Get(ctx, Key(models.DataTypeKeywords, "missing", nil))

	stats := m.Stats(ctx)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.EntriesByType[models.DataTypeKeywords])
}
