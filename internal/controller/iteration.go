package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mendd/internal/run"
)

// iterate repeatedly attempts to turn a failing test run into a passing one,
// bounded by run.MaxIterations. Returns (true, nil) on a local pass and
// (false, nil) when the budget is exhausted. Cancellation surfaces as
// errCancellationRequested; unrecoverable adapter failures as a StageError.
func (c *Controller) iterate(ctx context.Context, id string, st *execState, plan *TestPlan) (bool, error) {
	for iter := 1; iter <= run.MaxIterations; iter++ {
		c.logger.Info("starting iteration",
			zap.String("run_id", id),
			zap.Int("iteration", iter),
			zap.Int("max_iterations", run.MaxIterations),
		)

		// Analyze
		if c.cancelRequested(id) {
			return false, errCancellationRequested
		}
		c.store.SetStep(id, run.StageAnalyze, fmt.Sprintf("Analyzing failures (iteration %d/%d)...", iter, run.MaxIterations))
		failures := st.last.Failures
		_ = c.store.Update(id, func(r *run.Run) error {
			r.TotalFailures = len(failures)
			return nil
		})
		c.store.Append(id, run.StageAnalyze, fmt.Sprintf("Iteration %d: %d failure(s) to address", iter, len(failures)))

		// Fix
		if c.cancelRequested(id) {
			return false, errCancellationRequested
		}
		c.store.SetStep(id, run.StageFix, fmt.Sprintf("Generating fixes (iteration %d/%d)...", iter, run.MaxIterations))
		applied, err := c.proposeFixes(ctx, id, st, failures)
		if err != nil {
			return false, err
		}

		// Commit
		if c.cancelRequested(id) {
			return false, errCancellationRequested
		}
		committed := false
		if applied > 0 {
			c.store.SetStep(id, run.StageCommit, "Committing fixes...")
			msg := fmt.Sprintf("mendd: apply %d fix(es), iteration %d", applied, iter)
			err = withRetry(ctx, c.config.Retry, c.config.StageTimeout, c.logger, "commit", func(ctx context.Context) error {
				var cerr error
				committed, cerr = c.repo.Commit(ctx, st.workdir, msg)
				return cerr
			})
			if err != nil {
				return false, err
			}
			if committed {
				_ = c.store.Update(id, func(r *run.Run) error {
					r.CommitCount++
					return nil
				})
				c.store.Append(id, run.StageCommit, fmt.Sprintf("Committed %d fix(es)", applied))
			} else {
				c.store.Append(id, run.StageCommit, "Nothing new to commit")
			}
		} else {
			// All candidate fixes failed; the iteration still counts and
			// the next attempt proceeds.
			c.store.Append(id, run.StageFix, "No fixes could be applied this iteration")
		}

		// Re-test
		if c.cancelRequested(id) {
			return false, errCancellationRequested
		}
		c.store.SetStep(id, run.StageTest, fmt.Sprintf("Re-running tests (iteration %d/%d)...", iter, run.MaxIterations))
		result, err := c.runTests(ctx, id, st, plan)
		if err != nil {
			return false, err
		}
		st.last = result

		if result.Passed {
			_ = c.store.Update(id, func(r *run.Run) error {
				r.IterationCount = iter
				return nil
			})
			return true, nil
		}

		// Still failing: push the intermediate state and poll remote CI,
		// recording exactly one timeline entry for this iteration.
		if c.cancelRequested(id) {
			return false, errCancellationRequested
		}
		entry := c.monitorCI(ctx, id, st, committed, iter)
		_ = c.store.Update(id, func(r *run.Run) error {
			r.IterationCount = iter
			r.CITimeline = append(r.CITimeline, entry)
			r.CIStatus = entry.Status
			return nil
		})
		c.store.Append(id, run.StageCIPoll, fmt.Sprintf("CI iteration %d: %s", iter, entry.Status))
	}

	return false, nil
}

// proposeFixes requests a candidate patch for every failure, recording one
// fix entry per attempt. A per-fix failure is absorbed and the remaining
// failures are still attempted; only ErrNoFurtherFixes aborts the run.
func (c *Controller) proposeFixes(ctx context.Context, id string, st *execState, failures []Failure) (applied int, err error) {
	for _, failure := range failures {
		var fix *Fix
		perr := withRetry(ctx, c.config.Retry, c.config.StageTimeout, c.logger, "fix", func(ctx context.Context) error {
			var ferr error
			fix, ferr = c.fixer.Propose(ctx, st.workdir, failure)
			return ferr
		})

		rec := run.FixRecord{
			File:       failure.File,
			BugType:    failure.BugType,
			LineNumber: failure.Line,
		}
		switch {
		case errors.Is(perr, ErrNoFurtherFixes):
			return applied, Unrecoverable("fix", perr)
		case perr != nil:
			rec.Status = run.FixFailed
			rec.Detail = truncate(perr.Error(), 200)
			c.logger.Warn("fix generation failed",
				zap.String("run_id", id),
				zap.String("file", failure.File),
				zap.Error(perr),
			)
		case fix.Created:
			rec.Status = run.FixGenerated
			rec.File = fix.File
			rec.Detail = fix.Detail
			applied++
		default:
			rec.Status = run.FixApplied
			rec.Detail = fix.Detail
			applied++
		}

		_ = c.store.Update(id, func(r *run.Run) error {
			r.Fixes = append(r.Fixes, rec)
			if rec.Status == run.FixApplied {
				r.TotalFixes++
			}
			return nil
		})
	}
	return applied, nil
}

// monitorCI pushes the intermediate branch and polls the remote pipeline to
// completion. Returns a SKIPPED entry when no CI adapter is configured or
// nothing was pushed; a push failure mid-loop is recorded, not fatal, since
// the fixes are still committed locally.
func (c *Controller) monitorCI(ctx context.Context, id string, st *execState, committed bool, iter int) run.CIEntry {
	now := time.Now().UTC()

	if c.ci == nil {
		return run.CIEntry{Iteration: iter, Status: run.CISkipped, Timestamp: now, Message: "no CI adapter configured"}
	}
	if !committed {
		return run.CIEntry{Iteration: iter, Status: run.CISkipped, Timestamp: now, Message: "nothing pushed, CI check skipped"}
	}

	c.store.SetStep(id, run.StagePush, "Pushing intermediate state...")
	if err := c.push(ctx, id, st.workdir, st.branch, st.token); err != nil {
		c.logger.Warn("intermediate push failed", zap.String("run_id", id), zap.Error(err))
		return run.CIEntry{Iteration: iter, Status: run.CISkipped, Timestamp: now, Message: "push failed: " + truncate(err.Error(), 150)}
	}

	c.store.SetStep(id, run.StageCIPoll, "Monitoring CI pipeline...")
	var res *CIResult
	err := withRetry(ctx, c.config.Retry, c.config.CIPollTimeout, c.logger, "ci-poll", func(ctx context.Context) error {
		var perr error
		res, perr = c.ci.Poll(ctx, c.repoURL(id), st.branch, st.token)
		return perr
	})
	if err != nil {
		return run.CIEntry{Iteration: iter, Status: run.CITimeout, Timestamp: time.Now().UTC(), Message: truncate(err.Error(), 150)}
	}
	return run.CIEntry{Iteration: iter, Status: res.Status, Timestamp: time.Now().UTC(), Message: res.Message}
}

func (c *Controller) repoURL(id string) string {
	r, err := c.store.Get(id)
	if err != nil {
		return ""
	}
	return r.RepoURL
}

// cancelRequested reads the cancellation flag without transitioning; the
// iterate loop surfaces errCancellationRequested and execute aborts.
func (c *Controller) cancelRequested(id string) bool {
	r, err := c.store.Get(id)
	if err != nil {
		return true
	}
	return r.Cancel
}
