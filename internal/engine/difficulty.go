package engine

import (
	"math"
	"strings"

	"keyword-engine/internal/models"
)

// difficultyFromSerp estimates ranking difficulty from live results. The
// more of the top results carry the keyword in their title, the more the
// page is contested by optimized competitors; a thin result set reads as
// low difficulty. Output is bounded to [0, 100].
func difficultyFromSerp(keyword string, serp *models.SerpResult) int {
	if serp == nil || len(serp.Entries) == 0 {
		return 10
	}

	kw := strings.ToLower(strings.TrimSpace(keyword))
	matches := 0
	weighted := 0.0
	for _, entry := range serp.Entries {
		title := strings.ToLower(entry.Title)
		if strings.Contains(title, kw) {
			matches++
			// Matches near the top weigh more than matches at the bottom.
			if entry.Position > 0 {
				weighted += 1.0 / float64(entry.Position)
			} else {
				weighted += 0.1
			}
		}
	}

	coverage := float64(matches) / float64(len(serp.Entries))
	score := 25 + 55*coverage + 20*math.Min(1, weighted)
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

func serpTitles(serp *models.SerpResult) []string {
	if serp == nil {
		return nil
	}
	titles := make([]string, 0, len(serp.Entries))
	for _, entry := range serp.Entries {
		titles = append(titles, entry.Title)
	}
	return titles
}
