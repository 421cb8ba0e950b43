package dedup

import "github.com/stitchtrace/stitch/internal/types"

// ScoreFunc ranks duplicate test rows; the highest-scoring row in a
// group survives. Pure, so weights stay testable apart from deletion.
type ScoreFunc func(t *types.Test) float64

// DefaultScore weights the evidence that a row is the canonical one:
// a resolved epic link, an execution record, an explicitly chosen
// priority, and classification tags. The id term breaks exact ties in
// favor of the most recently inserted row.
func DefaultScore(t *types.Test) float64 {
	score := 0.0
	if t.EpicID != nil {
		score += 10
	}
	if t.LastExecutionTime != nil {
		score += 5
	}
	if t.PriorityExplicit {
		score += 3
	}
	if t.Component != "" {
		score += 2
	}
	if t.TestCategory != "" {
		score += 2
	}
	score += float64(t.ID) * 0.001
	return score
}
