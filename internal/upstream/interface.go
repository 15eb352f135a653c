// Package upstream holds the clients for the two external collaborators:
// the candidate generator that proposes raw keywords for a topic, and the
// enrichment provider that returns live organic results for a keyword.
// Both are fallible and possibly slow; resilience policy (retry for the
// generator, circuit breaking for the enricher) is layered on with
// decorators so transports stay plain.
package upstream

import (
	"context"

	"keyword-engine/internal/models"
)

// GenerateRequest describes one keyword generation call.
type GenerateRequest struct {
	Topic    string `json:"topic"`
	Region   string `json:"region"`
	Language string `json:"language"`
	// Count is the number of candidates requested; 0 lets the provider
	// choose.
	Count int `json:"count,omitempty"`
}

// RawCandidate is an unscored keyword tuple as the generator returns it.
// Volume and competition may be missing or out of range; bad signals score
// as worst case rather than rejecting the candidate. Competition is a
// pointer so an omitted field stays distinguishable from a literal 0.0,
// which would otherwise read as the least contested keyword possible.
type RawCandidate struct {
	Text        string   `json:"text"`
	Volume      int      `json:"volume"`
	CPC         float64  `json:"cpc"`
	Competition *float64 `json:"competition"`
}

// Generator proposes raw keyword candidates for a topic. There is no
// fallback data source for it, so failures propagate to the caller after
// retries are exhausted.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]RawCandidate, error)
}

// Enricher fetches top organic results for a keyword. Enrichment is
// best-effort: a failure or timeout downgrades scoring to heuristic-only
// instead of failing the request.
type Enricher interface {
	FetchSerp(ctx context.Context, keyword, region, language string) (*models.SerpResult, error)
}
