package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		localPass   bool
		elapsed     time.Duration
		commitCount int
		wantBase    int
		wantBonus   int
		wantPenalty int
		wantFinal   int
	}{
		{
			name:      "fast pass with no commits",
			localPass: true,
			elapsed:   90 * time.Second,
			wantBase:  100, wantBonus: 10, wantFinal: 110,
		},
		{
			name:      "slow pass loses the bonus",
			localPass: true,
			elapsed:   6 * time.Minute,
			wantBase:  100, wantFinal: 100,
		},
		{
			name:      "exactly the threshold is not fast",
			localPass: true,
			elapsed:   5 * time.Minute,
			wantBase:  100, wantFinal: 100,
		},
		{
			name:        "commits at the free limit cost nothing",
			localPass:   true,
			elapsed:     10 * time.Minute,
			commitCount: 20,
			wantBase:    100, wantFinal: 100,
		},
		{
			name:        "commits over the limit are penalized",
			localPass:   true,
			elapsed:     10 * time.Minute,
			commitCount: 23,
			wantBase:    100, wantPenalty: -6, wantFinal: 94,
		},
		{
			name:      "failed run can still earn the speed bonus",
			localPass: false,
			elapsed:   time.Minute,
			wantBonus: 10, wantFinal: 10,
		},
		{
			name:        "failed slow run with heavy commits goes negative",
			localPass:   false,
			elapsed:     20 * time.Minute,
			commitCount: 30,
			wantPenalty: -20, wantFinal: -20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.localPass, tt.elapsed, tt.commitCount)

			assert.Equal(t, tt.wantBase, got.Base)
			assert.Equal(t, tt.wantBonus, got.SpeedBonus)
			assert.Equal(t, tt.wantPenalty, got.EfficiencyPenalty)
			assert.Equal(t, tt.wantFinal, got.Final)
		})
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a := Compute(true, 3*time.Minute, 25)
	b := Compute(true, 3*time.Minute, 25)
	assert.Equal(t, a, b)
}
