// Package scoring computes the result score for a finished run.
package scoring

import (
	"time"

	"github.com/fyrsmithlabs/mendd/internal/run"
)

const (
	baseScore      = 100
	speedBonus     = 10
	speedThreshold = 5 * time.Minute
	freeCommits    = 20
	commitPenalty  = 2
)

// Compute derives the score breakdown from terminal run metrics. It is pure
// and deterministic: the same inputs always produce the same breakdown.
//
//   - base: 100 when the run reached a passing local-test state, else 0
//   - speed_bonus: +10 when wall-clock elapsed time is under 5 minutes
//   - efficiency_penalty: -2 per commit beyond the first 20
func Compute(localPass bool, elapsed time.Duration, commitCount int) run.Score {
	s := run.Score{}
	if localPass {
		s.Base = baseScore
	}
	if elapsed < speedThreshold {
		s.SpeedBonus = speedBonus
	}
	extra := commitCount - freeCommits
	if extra > 0 {
		s.EfficiencyPenalty = -commitPenalty * extra
	}
	s.Final = s.Base + s.SpeedBonus + s.EfficiencyPenalty
	return s
}
