package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/models"
)

// HTTPConfig configures an HTTP upstream client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPGenerator calls a keyword generation service over HTTP.
type HTTPGenerator struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPGenerator creates an HTTP-backed candidate generator.
func NewHTTPGenerator(config HTTPConfig) (*HTTPGenerator, error) {
	if config.BaseURL == "" {
		return nil, apperrors.ConfigError("generator base url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &HTTPGenerator{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

func (g *HTTPGenerator) Generate(ctx context.Context, req GenerateRequest) ([]RawCandidate, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.InternalError("failed to encode generation request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/v1/keywords", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.InternalError("failed to build generation request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("keyword generation", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("keyword generation", resp); err != nil {
		return nil, err
	}

	var out struct {
		Candidates []RawCandidate `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.UpstreamError("generator returned malformed response", err)
	}
	return out.Candidates, nil
}

// HTTPEnricher calls a live search-results provider over HTTP.
type HTTPEnricher struct {
	config HTTPConfig
	client *http.Client
	// TopN bounds how many organic results are kept per keyword.
	topN int
}

// NewHTTPEnricher creates an HTTP-backed enrichment client.
func NewHTTPEnricher(config HTTPConfig, topN int) (*HTTPEnricher, error) {
	if config.BaseURL == "" {
		return nil, apperrors.ConfigError("enricher base url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if topN <= 0 {
		topN = 10
	}
	return &HTTPEnricher{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		topN:   topN,
	}, nil
}

func (e *HTTPEnricher) FetchSerp(ctx context.Context, keyword, region, language string) (*models.SerpResult, error) {
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("region", region)
	q.Set("language", language)
	q.Set("limit", fmt.Sprintf("%d", e.topN))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.BaseURL+"/v1/serp?"+q.Encode(), nil)
	if err != nil {
		return nil, apperrors.InternalError("failed to build enrichment request", err)
	}
	if e.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("serp enrichment", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("serp enrichment", resp); err != nil {
		return nil, err
	}

	var out struct {
		Entries []models.SerpEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.UpstreamError("enricher returned malformed response", err)
	}
	if len(out.Entries) > e.topN {
		out.Entries = out.Entries[:e.topN]
	}

	return &models.SerpResult{
		Keyword:   keyword,
		Region:    region,
		Language:  language,
		Entries:   out.Entries,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// classifyTransportError maps client errors to the taxonomy: deadline hits
// become timeouts, everything else a generic upstream failure.
func classifyTransportError(operation string, err error) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return apperrors.TimeoutError(operation, err)
	}
	return apperrors.UpstreamError(operation+" request failed", err)
}

func contextError(err error) error {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok && te.Timeout() {
		return err
	}
	// url.Error wraps context cancellation and client timeouts.
	if ue, ok := err.(*url.Error); ok {
		if ue.Timeout() {
			return ue
		}
		if ue.Err == context.DeadlineExceeded {
			return ue
		}
	}
	if err == context.DeadlineExceeded {
		return err
	}
	return nil
}

func checkStatus(operation string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	// Read a bounded slice of the body for the error context.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.UpstreamError(
			fmt.Sprintf("%s returned status %d", operation, resp.StatusCode), nil).
			WithContext("body", string(snippet))
	}
	// Provider rejected the request outright; retrying the same call
	// cannot help.
	return apperrors.UpstreamError(
		fmt.Sprintf("%s rejected with status %d", operation, resp.StatusCode), nil).
		WithContext("body", string(snippet)).
		AsPermanent()
}
