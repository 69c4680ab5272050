package retriever

import (
	"math"
	"time"
)

// applyPolicy implements Stage D: reweight each result's score per the
// selected strategy (spec.md §4.6 Stage D). Scores are otherwise left
// untouched by earlier stages so the strategies compose predictably.
func applyPolicy(results []Result, strategy PolicyStrategy, halfLifeDays float64) []Result {
	now := time.Now().UTC()
	for i := range results {
		switch strategy {
		case PolicyQualityBoost:
			results[i].Score *= 1 + 0.2*results[i].Unit.RelevanceScore
		case PolicyTypePriority:
			results[i].Score *= typePriority(results[i].Unit)
		case PolicyRelevanceTime:
			fallthrough
		default:
			deltaDays := now.Sub(results[i].Unit.CreatedAt).Hours() / 24
			if deltaDays < 0 {
				deltaDays = 0
			}
			results[i].Score *= math.Exp(-deltaDays / halfLifeDays)
		}
	}
	return results
}
