package models

// Intent is the search-intent label assigned to a keyword.
type Intent string

const (
	IntentInformational Intent = "informational"
	IntentCommercial    Intent = "commercial"
	IntentTransactional Intent = "transactional"
	IntentNavigational  Intent = "navigational"
	IntentUnknown       Intent = "unknown"
)

// Source indicates whether a candidate's difficulty was verified against
// live search results or estimated from volume/competition alone.
type Source string

const (
	SourceHeuristic          Source = "heuristic"
	SourceEnrichmentEnhanced Source = "enrichment_enhanced"
)

// DifficultyMode is the user-selected strictness tier controlling the
// competition cap used when flagging quick wins.
type DifficultyMode string

const (
	ModeEasy   DifficultyMode = "easy"
	ModeMedium DifficultyMode = "medium"
	ModeHard   DifficultyMode = "hard"
)

// Valid reports whether the mode is one of the known tiers.
func (m DifficultyMode) Valid() bool {
	switch m {
	case ModeEasy, ModeMedium, ModeHard:
		return true
	}
	return false
}

// KeywordCandidate is a single keyword with its raw signals and derived
// opportunity metrics.
type KeywordCandidate struct {
	Text                 string  `json:"text"`
	Volume               int     `json:"volume"`
	CPC                  float64 `json:"cpc"`
	Competition          float64 `json:"competition"`
	EnrichmentDifficulty *int    `json:"enrichment_difficulty,omitempty"`
	Intent               Intent  `json:"intent"`
	OpportunityScore     int     `json:"opportunity_score"`
	IsQuickWin           bool    `json:"is_quick_win"`
	Source               Source  `json:"source"`
}
