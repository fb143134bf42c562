package engine

import (
	"math"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

// AggregateScore returns round(100 * sum(score) / (MaxScore * len(steps))).
// Steps without an evaluation count as zero.
func AggregateScore(steps []Step) int {
	if len(steps) == 0 {
		return 0
	}
	total := 0
	for _, step := range steps {
		if step.Evaluated {
			total += clampScore(step.Score)
		}
	}
	return int(math.Round(100 * float64(total) / float64(oracle.MaxScore*len(steps))))
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > oracle.MaxScore {
		return oracle.MaxScore
	}
	return score
}
