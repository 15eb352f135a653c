package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/models"
)

type mockGenerator struct {
	calls            int32
	failuresBeforeOK int32
	err              error
	candidates       []RawCandidate
}

func (m *mockGenerator) Generate(ctx context.Context, req GenerateRequest) ([]RawCandidate, error) {
	n := atomic.AddInt32(&m.calls, 1)
	if m.failuresBeforeOK > 0 && n <= m.failuresBeforeOK {
		return nil, m.err
	}
	if m.failuresBeforeOK == 0 && m.err != nil {
		return nil, m.err
	}
	return m.candidates, nil
}

type mockEnricher struct {
	calls int32
	err   error
}

func (m *mockEnricher) FetchSerp(ctx context.Context, keyword, region, language string) (*models.SerpResult, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return nil, m.err
	}
	return &models.SerpResult{Keyword: keyword, Region: region, Language: language}, nil
}

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	mock := &mockGenerator{
		failuresBeforeOK: 2,
		err:              apperrors.UpstreamError("provider blip", nil),
		candidates:       []RawCandidate{{Text: "espresso grinder", Volume: 900}},
	}
	g := WithRetry(mock, fastRetryConfig(3), nil)

	candidates, err := g.Generate(context.Background(), GenerateRequest{Topic: "espresso"})
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&mock.calls))
}

func TestRetryExhaustionPropagatesLastError(t *testing.T) {
	mock := &mockGenerator{err: apperrors.UpstreamError("provider down", nil)}
	g := WithRetry(mock, fastRetryConfig(3), nil)

	_, err := g.Generate(context.Background(), GenerateRequest{Topic: "espresso"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUpstream))
	assert.Equal(t, int32(3), atomic.LoadInt32(&mock.calls))
}

func TestRetrySkipsNonRetryableErrors(t *testing.T) {
	mock := &mockGenerator{err: apperrors.ValidationError("bad topic")}
	g := WithRetry(mock, fastRetryConfig(3), nil)

	_, err := g.Generate(context.Background(), GenerateRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	assert.Equal(t, int32(1), atomic.LoadInt32(&mock.calls), "validation errors must not be retried")
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	mock := &mockGenerator{err: apperrors.UpstreamError("slow provider", nil)}
	g := WithRetry(mock, RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      time.Second,
		BackoffFactor: 1.0,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, GenerateRequest{Topic: "espresso"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUpstreamTimeout))
	assert.Equal(t, int32(1), atomic.LoadInt32(&mock.calls))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	mock := &mockEnricher{err: apperrors.UpstreamError("provider down", nil)}
	e := WithBreaker(mock, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.FetchSerp(ctx, "kw", "us", "en")
		require.Error(t, err)
	}

	// Circuit is open: the provider is no longer called and the error
	// reads as a timeout so the pipeline falls back to heuristics.
	before := atomic.LoadInt32(&mock.calls)
	_, err := e.FetchSerp(ctx, "kw", "us", "en")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUpstreamTimeout))
	assert.Equal(t, before, atomic.LoadInt32(&mock.calls))
}

func TestBreakerPassesThroughWhenHealthy(t *testing.T) {
	mock := &mockEnricher{}
	e := WithBreaker(mock, DefaultBreakerConfig(), nil)

	serp, err := e.FetchSerp(context.Background(), "standing desk", "us", "en")
	require.NoError(t, err)
	assert.Equal(t, "standing desk", serp.Keyword)
}

func TestHTTPGeneratorRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/keywords", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"candidates":[{"text":"best espresso machine","volume":5400,"cpc":1.2,"competition":0.35}]}`))
	}))
	defer srv.Close()

	g, err := NewHTTPGenerator(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	candidates, err := g.Generate(context.Background(), GenerateRequest{Topic: "espresso machines"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "best espresso machine", candidates[0].Text)
	assert.Equal(t, 5400, candidates[0].Volume)
	require.NotNil(t, candidates[0].Competition)
	assert.Equal(t, 0.35, *candidates[0].Competition)
}

func TestHTTPGeneratorOmittedCompetitionDecodesToNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"text":"standing desk","volume":5000}]}`))
	}))
	defer srv.Close()

	g, err := NewHTTPGenerator(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	candidates, err := g.Generate(context.Background(), GenerateRequest{Topic: "desks"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Nil(t, candidates[0].Competition, "omitted field must stay distinguishable from 0.0")
}

func TestHTTPGeneratorServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	g, err := NewHTTPGenerator(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), GenerateRequest{Topic: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.Retryable(err))
}

func TestHTTPGeneratorClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	g, err := NewHTTPGenerator(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), GenerateRequest{Topic: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUpstream), "a provider rejection is still an upstream failure")
	assert.False(t, apperrors.Retryable(err))
}

func TestHTTPEnricherRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/serp", r.URL.Path)
		assert.Equal(t, "standing desk", r.URL.Query().Get("q"))
		w.Write([]byte(`{"entries":[{"title":"Best Standing Desks 2025","url":"https://example.com","position":1}]}`))
	}))
	defer srv.Close()

	e, err := NewHTTPEnricher(HTTPConfig{BaseURL: srv.URL}, 10)
	require.NoError(t, err)

	serp, err := e.FetchSerp(context.Background(), "standing desk", "us", "en")
	require.NoError(t, err)
	require.Len(t, serp.Entries, 1)
	assert.Equal(t, "Best Standing Desks 2025", serp.Entries[0].Title)
	assert.Equal(t, "standing desk", serp.Keyword)
}

func TestHTTPEnricherTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	e, err := NewHTTPEnricher(HTTPConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, 10)
	require.NoError(t, err)

	_, err = e.FetchSerp(context.Background(), "kw", "us", "en")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUpstreamTimeout))
}

func TestHTTPConfigValidation(t *testing.T) {
	_, err := NewHTTPGenerator(HTTPConfig{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))

	_, err = NewHTTPEnricher(HTTPConfig{}, 10)
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*apperrors.AppError)))
}
