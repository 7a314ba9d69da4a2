package testrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mendd/internal/controller"
)

// Run executes the discovered suite and parses failures from its output.
// A non-zero exit with parseable output is a failing result, not an error;
// only a harness-level problem (missing interpreter, context timeout)
// surfaces as an error.
func (s *Service) Run(ctx context.Context, workdir string, plan *controller.TestPlan) (*controller.TestResult, error) {
	if plan.Empty() {
		return &controller.TestResult{Passed: true}, nil
	}

	s.ensureDeps(ctx, workdir, plan.Framework)

	cmd, err := testCommand(ctx, workdir, plan.Framework)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	output := buf.String()

	if ctx.Err() != nil {
		return nil, controller.Transient(fmt.Errorf("test run interrupted: %w", ctx.Err()))
	}

	if runErr == nil {
		s.logger.Debug("test suite passed", zap.String("framework", plan.Framework))
		return &controller.TestResult{Passed: true, Output: output}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		// The harness itself could not run (binary missing, exec failure).
		return nil, controller.Transient(fmt.Errorf("test harness failed: %w", runErr))
	}

	failures := ParseFailures(plan.Framework, output)
	s.logger.Debug("test suite failed",
		zap.String("framework", plan.Framework),
		zap.Int("exit_code", exitErr.ExitCode()),
		zap.Int("failures", len(failures)),
	)
	return &controller.TestResult{Passed: false, Failures: failures, Output: output}, nil
}

func testCommand(ctx context.Context, workdir, framework string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	switch framework {
	case FrameworkGo:
		cmd = exec.CommandContext(ctx, "go", "test", "./...")
	case FrameworkPytest:
		cmd = exec.CommandContext(ctx, "python3", "-m", "pytest", "-x", "--tb=short", "-q")
	case FrameworkJest:
		cmd = exec.CommandContext(ctx, "npx", "--no-install", "jest", "--silent")
	case FrameworkVitest:
		cmd = exec.CommandContext(ctx, "npx", "--no-install", "vitest", "run")
	case FrameworkMocha:
		cmd = exec.CommandContext(ctx, "npx", "--no-install", "mocha")
	default:
		return nil, fmt.Errorf("unsupported test framework: %q", framework)
	}
	cmd.Dir = workdir
	return cmd, nil
}
