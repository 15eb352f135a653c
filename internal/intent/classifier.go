// Package intent classifies keyword text into search-intent labels using
// rule-based pattern matching. Classification is pure computation with no
// I/O, so it is trivially safe to run across candidates in parallel.
package intent

import (
	"strings"

	"keyword-engine/internal/models"
)

var (
	transactionalTerms = []string{
		"buy", "price", "pricing", "cheap", "discount", "coupon", "deal",
		"order", "purchase", "cost", "for sale",
	}
	commercialTerms = []string{
		"best", "review", "reviews", "top", "vs", "versus", "compare",
		"comparison", "alternative", "alternatives",
	}
	informationalTerms = []string{
		"how", "what", "why", "when", "guide", "tutorial", "tips",
		"examples", "learn", "meaning",
	}
)

// Classifier maps keyword text to an intent label. Brand names are matched
// exactly (after normalization) for navigational intent.
type Classifier struct {
	brands map[string]struct{}
}

// NewClassifier creates a classifier. Brands are optional; without them no
// keyword classifies as navigational.
func NewClassifier(brands ...string) *Classifier {
	c := &Classifier{brands: make(map[string]struct{}, len(brands))}
	for _, b := range brands {
		normalized := normalize(b)
		if normalized != "" {
			c.brands[normalized] = struct{}{}
		}
	}
	return c
}

// Classify returns the intent label for a keyword based on its text alone.
func (c *Classifier) Classify(text string) models.Intent {
	normalized := normalize(text)
	if normalized == "" {
		return models.IntentUnknown
	}

	if _, ok := c.brands[normalized]; ok {
		return models.IntentNavigational
	}

	words := strings.Fields(normalized)
	switch {
	case containsAny(normalized, words, transactionalTerms):
		return models.IntentTransactional
	case containsAny(normalized, words, commercialTerms):
		return models.IntentCommercial
	case containsAny(normalized, words, informationalTerms):
		return models.IntentInformational
	default:
		return models.IntentUnknown
	}
}

// ClassifyWithTitles classifies a keyword, consulting a sample of
// search-result titles only to break an otherwise unknown classification.
// A confident text-based label is never overridden by titles.
func (c *Classifier) ClassifyWithTitles(text string, titles []string) models.Intent {
	fromText := c.Classify(text)
	if fromText != models.IntentUnknown || len(titles) == 0 {
		return fromText
	}

	counts := make(map[models.Intent]int)
	for _, title := range titles {
		if label := c.Classify(title); label != models.IntentUnknown {
			counts[label]++
		}
	}

	majority := models.IntentUnknown
	best := 0
	for _, label := range []models.Intent{
		models.IntentTransactional,
		models.IntentCommercial,
		models.IntentInformational,
		models.IntentNavigational,
	} {
		if counts[label] > best {
			best = counts[label]
			majority = label
		}
	}
	return majority
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// containsAny matches single-word terms against the token list and multi-word
// terms as substrings, so "for sale" matches without "sale" alone triggering.
func containsAny(normalized string, words []string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(term, " ") {
			if strings.Contains(normalized, term) {
				return true
			}
			continue
		}
		for _, w := range words {
			if w == term {
				return true
			}
		}
	}
	return false
}
