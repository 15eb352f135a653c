// Package scoring turns raw volume/competition/CPC/SERP signals into a
// comparable 0-100 opportunity score and a quick-win classification.
package scoring

import (
	"math"

	"keyword-engine/internal/models"
)

// Weights are the tunable constants of the scoring formula. The monotonicity
// guarantees hold for any weights with non-negative components.
type Weights struct {
	VolumeWeight      float64 `json:"volume_weight"`
	CompetitionWeight float64 `json:"competition_weight"`
	VolumeCap         int     `json:"volume_cap"`
	DifficultyPivot   int     `json:"difficulty_pivot"`
	DifficultyFactor  float64 `json:"difficulty_factor"`
	QuickWinFloor     int     `json:"quick_win_floor"`
}

// DefaultWeights returns the default scoring constants.
func DefaultWeights() Weights {
	return Weights{
		VolumeWeight:      0.4,
		CompetitionWeight: 0.6,
		VolumeCap:         1_000_000,
		DifficultyPivot:   50,
		DifficultyFactor:  0.3,
		QuickWinFloor:     55,
	}
}

// Scorer computes opportunity scores. It is stateless after construction and
// safe to share across goroutines.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights Weights) *Scorer {
	if weights.VolumeCap <= 0 {
		weights.VolumeCap = DefaultWeights().VolumeCap
	}
	return &Scorer{weights: weights}
}

// Score fills in OpportunityScore, IsQuickWin, and Source on a copy of the
// candidate. It is a total function: missing or out-of-range signals are
// treated as worst case (volume 0, competition 1.0) so partial upstream data
// degrades a candidate's rank instead of aborting the batch.
func (s *Scorer) Score(c models.KeywordCandidate, mode models.DifficultyMode) models.KeywordCandidate {
	volume := c.Volume
	if volume < 0 {
		volume = 0
	}

	competition := c.Competition
	if math.IsNaN(competition) || competition < 0 || competition > 1 {
		competition = 1.0
	}

	normalizedVolume := 100 * math.Log10(float64(volume)+1) / math.Log10(float64(s.weights.VolumeCap)+1)
	if normalizedVolume > 100 {
		normalizedVolume = 100
	}

	base := s.weights.VolumeWeight*normalizedVolume + s.weights.CompetitionWeight*(100*(1-competition))

	penalty := 0.0
	if c.EnrichmentDifficulty != nil {
		excess := float64(*c.EnrichmentDifficulty - s.weights.DifficultyPivot)
		if excess > 0 {
			penalty = excess * s.weights.DifficultyFactor
		}
		c.Source = models.SourceEnrichmentEnhanced
	} else {
		c.Source = models.SourceHeuristic
	}

	score := int(math.Round(base - penalty))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	c.OpportunityScore = score
	c.IsQuickWin = s.quickWin(score, competition, mode)
	return c
}

// ScoreBatch scores every candidate. Scoring is pure computation, so the
// batch needs no locking and keeps its input order.
func (s *Scorer) ScoreBatch(candidates []models.KeywordCandidate, mode models.DifficultyMode) []models.KeywordCandidate {
	scored := make([]models.KeywordCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = s.Score(c, mode)
	}
	return scored
}

// ApplyQuickWin recomputes only the quick-win flag for an already scored
// candidate. Cached batches are stored mode-independently and re-flagged per
// request, since the flag is the only mode-dependent field.
func (s *Scorer) ApplyQuickWin(c models.KeywordCandidate, mode models.DifficultyMode) models.KeywordCandidate {
	competition := c.Competition
	if math.IsNaN(competition) || competition < 0 || competition > 1 {
		competition = 1.0
	}
	c.IsQuickWin = s.quickWin(c.OpportunityScore, competition, mode)
	return c
}

func (s *Scorer) quickWin(score int, competition float64, mode models.DifficultyMode) bool {
	if score < s.weights.QuickWinFloor {
		return false
	}
	return competition <= competitionCap(mode)
}

// competitionCap returns the quick-win competition ceiling for a mode. Hard
// mode has no cap; unknown modes fall back to medium.
func competitionCap(mode models.DifficultyMode) float64 {
	switch mode {
	case models.ModeEasy:
		return 0.4
	case models.ModeHard:
		return math.Inf(1)
	default:
		return 0.6
	}
}
