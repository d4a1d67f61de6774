// Package score computes the final score for a finished repair job.
package score

import (
	"time"

	"github.com/fyrsmithlabs/cifixd/internal/job"
)

const (
	baseScore = 100

	// speedBonus is awarded when the whole job finishes under speedThreshold.
	speedBonus     = 10
	speedThreshold = 5 * time.Minute

	// Commits beyond freeCommits cost penaltyPerCommit points each.
	freeCommits      = 20
	penaltyPerCommit = 2
)

// Compute derives the score breakdown from elapsed wall-clock time and the
// number of commits pushed. It is a pure function: identical inputs always
// yield identical output, and the final score is floored at zero.
func Compute(elapsed time.Duration, commits int) job.ScoreBreakdown {
	bonus := 0
	if elapsed < speedThreshold {
		bonus = speedBonus
	}

	penalty := 0
	if commits > freeCommits {
		penalty = (commits - freeCommits) * penaltyPerCommit
	}

	final := baseScore + bonus - penalty
	if final < 0 {
		final = 0
	}

	return job.ScoreBreakdown{
		Base:              baseScore,
		SpeedBonus:        bonus,
		EfficiencyPenalty: penalty,
		Final:             final,
	}
}
