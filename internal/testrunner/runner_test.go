package testrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mendd/internal/controller"
)

func TestRun_EmptyPlanPasses(t *testing.T) {
	svc := NewService(nil)

	res, err := svc.Run(context.Background(), t.TempDir(), &controller.TestPlan{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Failures)
}

func TestTestCommand(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		framework string
		wantArgs  []string
	}{
		{FrameworkGo, []string{"go", "test", "./..."}},
		{FrameworkPytest, []string{"python3", "-m", "pytest", "-x", "--tb=short", "-q"}},
		{FrameworkJest, []string{"npx", "--no-install", "jest", "--silent"}},
		{FrameworkVitest, []string{"npx", "--no-install", "vitest", "run"}},
		{FrameworkMocha, []string{"npx", "--no-install", "mocha"}},
	}

	for _, tt := range tests {
		t.Run(tt.framework, func(t *testing.T) {
			cmd, err := testCommand(context.Background(), dir, tt.framework)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, cmd.Args)
			assert.Equal(t, dir, cmd.Dir)
		})
	}

	t.Run("unknown framework is an error", func(t *testing.T) {
		_, err := testCommand(context.Background(), dir, "cargo")
		assert.Error(t, err)
	})
}
