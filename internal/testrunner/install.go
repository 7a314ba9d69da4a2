package testrunner

import (
	"context"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
)

// ensureDeps installs the project's dependencies before the first test run of
// a working copy, so a fresh clone does not fail every suite on missing
// imports. It runs at most once per workdir and is best-effort: an install
// failure is logged and the test run proceeds, since the suite output
// diagnoses a missing dependency more precisely than an installer log.
func (s *Service) ensureDeps(ctx context.Context, workdir, framework string) {
	s.mu.Lock()
	done := s.installed[workdir]
	s.installed[workdir] = true
	s.mu.Unlock()
	if done {
		return
	}

	cmd, ok := installCommand(ctx, workdir, framework)
	if !ok {
		return
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		s.logger.Warn("dependency install failed",
			zap.String("framework", framework),
			zap.Error(err),
			zap.String("output", tail(string(out), 2000)),
		)
		return
	}
	s.logger.Debug("dependencies installed",
		zap.String("framework", framework),
		zap.Strings("command", cmd.Args),
	)
}

// installCommand builds the dependency installer for a framework, keyed on
// the manifest present in the working copy. ok is false when there is
// nothing to install from.
func installCommand(ctx context.Context, workdir, framework string) (cmd *exec.Cmd, ok bool) {
	switch framework {
	case FrameworkGo:
		if !fileExists(filepath.Join(workdir, "go.mod")) {
			return nil, false
		}
		cmd = exec.CommandContext(ctx, "go", "mod", "download")
	case FrameworkPytest:
		if !fileExists(filepath.Join(workdir, "requirements.txt")) {
			return nil, false
		}
		cmd = exec.CommandContext(ctx, "python3", "-m", "pip", "install", "-q", "-r", "requirements.txt")
	case FrameworkJest, FrameworkVitest, FrameworkMocha:
		if !fileExists(filepath.Join(workdir, "package.json")) {
			return nil, false
		}
		if fileExists(filepath.Join(workdir, "package-lock.json")) {
			cmd = exec.CommandContext(ctx, "npm", "ci", "--silent")
		} else {
			cmd = exec.CommandContext(ctx, "npm", "install", "--silent")
		}
	default:
		return nil, false
	}
	cmd.Dir = workdir
	return cmd, true
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
