package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DataType identifies which payload variant a cache entry holds.
type DataType string

const (
	DataTypeKeywords    DataType = "keywords"
	DataTypeSerp        DataType = "serp"
	DataTypeBrief       DataType = "brief"
	DataTypeSuggestions DataType = "suggestions"
)

// Valid reports whether the data type is known.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeKeywords, DataTypeSerp, DataTypeBrief, DataTypeSuggestions:
		return true
	}
	return false
}

// Stage returns the pipeline position of the data type. Dependency edges may
// only point at entries of a strictly earlier stage, which keeps the
// dependency graph acyclic without cycle detection at insert time.
func (d DataType) Stage() int {
	switch d {
	case DataTypeKeywords:
		return 0
	case DataTypeSerp:
		return 1
	case DataTypeBrief:
		return 2
	case DataTypeSuggestions:
		return 3
	}
	return -1
}

// Payload is one of the typed cache payload variants. Exactly one struct
// implements it per DataType, so stored blobs get compile-time shape checking
// instead of runtime duck-typing.
type Payload interface {
	CacheDataType() DataType
}

// KeywordBatch is the scored candidate set for a topic.
type KeywordBatch struct {
	Topic       string             `json:"topic"`
	Region      string             `json:"region"`
	Language    string             `json:"language"`
	Candidates  []KeywordCandidate `json:"candidates"`
	Source      Source             `json:"source"`
	GeneratedAt time.Time          `json:"generated_at"`
}

func (KeywordBatch) CacheDataType() DataType { return DataTypeKeywords }

// SerpEntry is a single organic search result.
type SerpEntry struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// SerpResult is the top-N organic results for a keyword.
type SerpResult struct {
	Keyword   string      `json:"keyword"`
	Region    string      `json:"region"`
	Language  string      `json:"language"`
	Entries   []SerpEntry `json:"entries"`
	FetchedAt time.Time   `json:"fetched_at"`
}

func (SerpResult) CacheDataType() DataType { return DataTypeSerp }

// BriefDocument is a generated content brief.
type BriefDocument struct {
	Keyword     string    `json:"keyword"`
	Markdown    string    `json:"markdown"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (BriefDocument) CacheDataType() DataType { return DataTypeBrief }

// SuggestionSet is a set of related-keyword suggestions for a seed.
type SuggestionSet struct {
	Seed        string    `json:"seed"`
	Suggestions []string  `json:"suggestions"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (SuggestionSet) CacheDataType() DataType { return DataTypeSuggestions }

// MarshalPayload serializes a payload for durable storage.
func MarshalPayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload deserializes a stored blob into the variant matching the
// data type. A blob that fails to deserialize is reported to the caller so
// the entry can be treated as corrupt and regenerated.
func UnmarshalPayload(dt DataType, raw []byte) (Payload, error) {
	switch dt {
	case DataTypeKeywords:
		var p KeywordBatch
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case DataTypeSerp:
		var p SerpResult
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case DataTypeBrief:
		var p BriefDocument
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case DataTypeSuggestions:
		var p SuggestionSet
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown cache data type: %s", dt)
}
