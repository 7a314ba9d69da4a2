package controller

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mendd/internal/run"
	"github.com/fyrsmithlabs/mendd/internal/scoring"
)

const instrumentationName = "github.com/fyrsmithlabs/mendd/internal/controller"

// repoURLPattern accepts https GitHub repository references, with or without
// a trailing .git suffix.
var repoURLPattern = regexp.MustCompile(`^https://github\.com/[\w.\-]+/[\w.\-]+(\.git)?/?$`)

// errCancellationRequested is the normal, expected termination path to
// ABORTED. It is never surfaced to callers.
var errCancellationRequested = errors.New("cancellation requested")

// Config configures the controller.
type Config struct {
	// StageTimeout bounds every collaborator call except CI polling
	// (default: 2 minutes).
	StageTimeout time.Duration

	// CIPollTimeout bounds one CI poll-to-completion call (default: 5 minutes).
	CIPollTimeout time.Duration

	// Retry is the in-stage retry policy for transient failures.
	Retry *RetryConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StageTimeout:  2 * time.Minute,
		CIPollTimeout: 5 * time.Minute,
		Retry:         DefaultRetryConfig(),
	}
}

// StartRequest is a client submission for a new run.
type StartRequest struct {
	RepoURL    string
	Token      string
	AutoCommit bool
}

// pendingApproval holds the in-flight working copy of a run suspended at the
// approval gate. The run goroutine has exited; Resume picks this up.
type pendingApproval struct {
	workdir string
	branch  string
	token   string
}

// Controller sequences pipeline stages for every run and is the sole writer
// of run state.
type Controller struct {
	store  *run.Store
	repo   RepoAdapter
	tests  TestAdapter
	fixer  FixAdapter
	ci     CIAdapter
	config *Config
	logger *zap.Logger

	// Telemetry
	tracer       trace.Tracer
	meter        metric.Meter
	runsStarted  metric.Int64Counter
	runsFinished metric.Int64Counter
	iterations   metric.Int64Histogram

	mu      sync.Mutex
	pending map[string]*pendingApproval

	wg sync.WaitGroup
}

// New creates a controller. The ci adapter may be nil when no remote CI is
// configured; every other adapter is required.
func New(store *run.Store, repo RepoAdapter, tests TestAdapter, fixer FixAdapter, ci CIAdapter, cfg *Config, logger *zap.Logger) (*Controller, error) {
	if store == nil {
		return nil, errors.New("run store is required")
	}
	if repo == nil {
		return nil, errors.New("repository adapter is required")
	}
	if tests == nil {
		return nil, errors.New("test adapter is required")
	}
	if fixer == nil {
		return nil, errors.New("fix adapter is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		store:   store,
		repo:    repo,
		tests:   tests,
		fixer:   fixer,
		ci:      ci,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
		pending: make(map[string]*pendingApproval),
	}
	c.initMetrics()
	return c, nil
}

func (c *Controller) initMetrics() {
	var err error

	c.runsStarted, err = c.meter.Int64Counter(
		"mendd.runs_started_total",
		metric.WithDescription("Total number of healing runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		c.logger.Warn("failed to create runs started counter", zap.Error(err))
	}

	c.runsFinished, err = c.meter.Int64Counter(
		"mendd.runs_finished_total",
		metric.WithDescription("Total number of healing runs finished, labeled by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		c.logger.Warn("failed to create runs finished counter", zap.Error(err))
	}

	c.iterations, err = c.meter.Int64Histogram(
		"mendd.run_iterations",
		metric.WithDescription("Fix iterations consumed per finished run"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		c.logger.Warn("failed to create iterations histogram", zap.Error(err))
	}
}

// Start validates the request, creates the run record in PENDING, and begins
// asynchronous stage execution. Malformed input fails fast with a
// configuration error and no run is created.
func (c *Controller) Start(ctx context.Context, req StartRequest) (string, error) {
	_, span := c.tracer.Start(ctx, "controller.start")
	defer span.End()

	if !repoURLPattern.MatchString(req.RepoURL) {
		span.SetStatus(codes.Error, "invalid repo url")
		return "", fmt.Errorf("%w: %q", ErrInvalidRepoURL, req.RepoURL)
	}
	if req.Token == "" {
		span.SetStatus(codes.Error, "missing credential")
		return "", ErrMissingCredential
	}

	r := &run.Run{
		ID:          uuid.New().String(),
		RepoURL:     req.RepoURL,
		AutoCommit:  req.AutoCommit,
		Status:      run.StatusPending,
		Stage:       run.StageInit,
		CurrentStep: "Initializing...",
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.Create(r); err != nil {
		return "", err
	}

	if c.runsStarted != nil {
		c.runsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("auto_commit", req.AutoCommit),
		))
	}
	span.SetAttributes(attribute.String("run_id", r.ID))
	c.logger.Info("run started",
		zap.String("run_id", r.ID),
		zap.String("repo_url", req.RepoURL),
		zap.Bool("auto_commit", req.AutoCommit),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.execute(context.Background(), r.ID, req)
	}()

	return r.ID, nil
}

// Wait blocks until every active run goroutine has returned. Suspended runs
// do not hold goroutines and are not waited on.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// execute drives one run through the pipeline. It is the only goroutine that
// mutates this run while RUNNING.
func (c *Controller) execute(ctx context.Context, id string, req StartRequest) {
	ctx, span := c.tracer.Start(ctx, "controller.execute", trace.WithAttributes(
		attribute.String("run_id", id),
	))
	defer span.End()

	if err := c.store.Transition(id, run.StatusRunning, nil); err != nil {
		c.logger.Error("failed to start run", zap.String("run_id", id), zap.Error(err))
		return
	}

	st := &execState{token: req.Token}

	// Clone
	if c.checkCancel(id, st) {
		return
	}
	c.store.SetStep(id, run.StageClone, "Cloning repository...")
	err := withRetry(ctx, c.config.Retry, c.config.StageTimeout, c.logger, "clone", func(ctx context.Context) error {
		workdir, cloneErr := c.repo.Clone(ctx, req.RepoURL, req.Token)
		if cloneErr != nil {
			return cloneErr
		}
		st.workdir = workdir
		return nil
	})
	if err != nil {
		c.fail(id, st, err)
		return
	}
	c.store.Append(id, run.StageClone, "Repository cloned")

	branch, err := c.repo.CreateBranch(ctx, st.workdir)
	if err != nil {
		c.fail(id, st, Unrecoverable("branch", err))
		return
	}
	st.branch = branch
	_ = c.store.Update(id, func(r *run.Run) error {
		r.Branch = branch
		return nil
	})
	c.store.Append(id, run.StageClone, "Created working branch "+branch)

	// Discover
	if c.checkCancel(id, st) {
		return
	}
	c.store.SetStep(id, run.StageDiscover, "Discovering tests...")
	var plan *TestPlan
	err = withRetry(ctx, c.config.Retry, c.config.StageTimeout, c.logger, "discover", func(ctx context.Context) error {
		var derr error
		plan, derr = c.tests.Discover(ctx, st.workdir)
		return derr
	})
	if err != nil {
		c.fail(id, st, err)
		return
	}
	if plan.Empty() {
		// No test entry points: nothing to heal, treated as an immediate pass.
		c.store.Append(id, run.StageDiscover, "No test entry points found, treating as passing")
		_ = c.store.Update(id, func(r *run.Run) error {
			r.LocalPass = true
			return nil
		})
		c.finishLocalPass(ctx, id, st)
		return
	}
	c.store.Append(id, run.StageDiscover, fmt.Sprintf("Framework %s, %d test file(s) found", plan.Framework, len(plan.TestFiles)))

	// Initial test pass
	if c.checkCancel(id, st) {
		return
	}
	c.store.SetStep(id, run.StageTest, "Running tests...")
	result, err := c.runTests(ctx, id, st, plan)
	if err != nil {
		c.fail(id, st, err)
		return
	}
	st.last = result

	if !result.Passed {
		localPass, loopErr := c.iterate(ctx, id, st, plan)
		switch {
		case errors.Is(loopErr, errCancellationRequested):
			c.abort(id, st)
			return
		case loopErr != nil:
			c.fail(id, st, loopErr)
			return
		case !localPass:
			c.fail(id, st, fmt.Errorf("iteration budget exhausted after %d attempts", run.MaxIterations))
			return
		}
	} else {
		c.store.Append(id, run.StageTest, "All tests passed on the first attempt")
		_ = c.store.Update(id, func(r *run.Run) error {
			if r.IterationCount == 0 {
				r.IterationCount = 1
			}
			return nil
		})
	}

	_ = c.store.Update(id, func(r *run.Run) error {
		r.LocalPass = true
		return nil
	})
	c.finishLocalPass(ctx, id, st)
}

// execState is the per-run working state that never touches the record.
// Credentials live here so snapshots can never leak them.
type execState struct {
	workdir string
	branch  string
	token   string
	last    *TestResult
}

// runTests executes the suite with in-stage retry and updates failure totals.
func (c *Controller) runTests(ctx context.Context, id string, st *execState, plan *TestPlan) (*TestResult, error) {
	var result *TestResult
	err := withRetry(ctx, c.config.Retry, c.config.StageTimeout, c.logger, "test", func(ctx context.Context) error {
		var terr error
		result, terr = c.tests.Run(ctx, st.workdir, plan)
		return terr
	})
	if err != nil {
		return nil, err
	}

	_ = c.store.Update(id, func(r *run.Run) error {
		r.TotalFailures = len(result.Failures)
		return nil
	})
	if result.Passed {
		c.store.Append(id, run.StageTest, "Tests passed")
	} else {
		c.store.Append(id, run.StageTest, fmt.Sprintf("Tests failed with %d parsed failure(s)", len(result.Failures)))
	}
	return result, nil
}

// finishLocalPass handles a run whose local tests pass: auto-commit pushes
// and finalizes, otherwise the run suspends at the approval gate and this
// goroutine exits.
func (c *Controller) finishLocalPass(ctx context.Context, id string, st *execState) {
	if c.checkCancel(id, st) {
		return
	}

	r, err := c.store.Get(id)
	if err != nil {
		return
	}

	if !r.AutoCommit {
		c.suspendForApproval(id, st)
		return
	}

	c.store.SetStep(id, run.StagePush, "Pushing fixes...")
	if err := c.push(ctx, id, st.workdir, st.branch, st.token); err != nil {
		c.fail(id, st, err)
		return
	}
	c.pass(id, st)
}

// suspendForApproval parks the run at the approval gate: the working copy is
// handed to the pending map and this goroutine exits; Resume or Stop consumes
// the entry. A cancellation flag set after the last boundary check is caught
// inside the transition, which rolls back, so a stopped run never suspends.
func (c *Controller) suspendForApproval(id string, st *execState) {
	c.mu.Lock()
	c.pending[id] = &pendingApproval{workdir: st.workdir, branch: st.branch, token: st.token}
	c.mu.Unlock()

	terr := c.store.Transition(id, run.StatusAwaitingApproval, func(r *run.Run) error {
		if r.Cancel {
			return errCancellationRequested
		}
		r.Stage = run.StageApproval
		r.CurrentStep = "Awaiting approval before push..."
		r.Logs = append(r.Logs, run.LogEntry{Time: time.Now().UTC(), Stage: run.StageApproval, Message: "Paused: awaiting approval to push"})
		return nil
	})
	if terr != nil {
		// The run was stopped or finalized meanwhile; the pending entry must
		// not leak.
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()

		if errors.Is(terr, errCancellationRequested) {
			c.abort(id, st)
			return
		}
		c.cleanup(id, st.workdir)
		return
	}
	c.logger.Info("run suspended for approval", zap.String("run_id", id))
}

// push pushes the working branch, retrying transient failures. An auth
// rejection is never retried.
func (c *Controller) push(ctx context.Context, id, workdir, branch, token string) error {
	return withRetry(ctx, c.config.Retry, c.config.StageTimeout, c.logger, "push", func(ctx context.Context) error {
		return c.repo.Push(ctx, workdir, branch, token)
	})
}

// Resume delivers the approval decision for a suspended run. It is valid
// only in AWAITING_APPROVAL; any other state is rejected without mutation.
// Approval pushes the committed branch and finalizes PASSED; a push failure
// finalizes FAILED since a denied push cannot be retried with the same
// credentials. Rejection finalizes REJECTED and never pushes.
func (c *Controller) Resume(ctx context.Context, id string, approve bool) (*run.Run, error) {
	ctx, span := c.tracer.Start(ctx, "controller.resume", trace.WithAttributes(
		attribute.String("run_id", id),
		attribute.Bool("approve", approve),
	))
	defer span.End()

	// Status gates the operation: a pending entry exists briefly before the
	// suspension transition commits, and Resume must not act in that window.
	r, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusAwaitingApproval {
		return nil, fmt.Errorf("%w: run %s is not awaiting approval", ErrInvalidState, id)
	}

	c.mu.Lock()
	pa, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		// A concurrent Resume or Stop consumed the gate first.
		return nil, fmt.Errorf("%w: run %s is not awaiting approval", ErrInvalidState, id)
	}

	st := &execState{workdir: pa.workdir, branch: pa.branch, token: pa.token}

	if !approve {
		err := c.store.Transition(id, run.StatusRejected, func(r *run.Run) error {
			r.Stage = run.StageFinalize
			r.CurrentStep = "Rejected, no push attempted"
			r.Logs = append(r.Logs, run.LogEntry{Time: time.Now().UTC(), Stage: run.StageFinalize, Message: "Approval rejected"})
			return nil
		})
		if err != nil {
			return nil, err
		}
		c.finishMetrics(ctx, id)
		c.cleanup(id, st.workdir)
		c.logger.Info("run rejected", zap.String("run_id", id))
		return c.store.Get(id)
	}

	c.store.SetStep(id, run.StagePush, "Approved, pushing fixes...")
	if err := c.push(ctx, id, st.workdir, st.branch, st.token); err != nil {
		span.RecordError(err)
		c.fail(id, st, err)
		return c.store.Get(id)
	}
	c.pass(id, st)
	return c.store.Get(id)
}

// Stop requests cancellation. Runs suspended at the approval gate abort
// immediately; running runs observe the flag at the next stage boundary.
// Stopping a terminal run is a no-op.
func (c *Controller) Stop(ctx context.Context, id string) (*run.Run, error) {
	_, span := c.tracer.Start(ctx, "controller.stop", trace.WithAttributes(
		attribute.String("run_id", id),
	))
	defer span.End()

	r, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return r, nil
	}

	if r.Status == run.StatusAwaitingApproval {
		return c.abortSuspended(ctx, id)
	}

	_ = c.store.Update(id, func(r *run.Run) error {
		r.Cancel = true
		return nil
	})

	// The run may have suspended between the status read and the flag write.
	// A suspended run holds no goroutine left to observe the flag, so a
	// re-read takes the approval-gate abort path instead.
	r, err = c.store.Get(id)
	if err != nil {
		return nil, err
	}
	if r.Status == run.StatusAwaitingApproval {
		return c.abortSuspended(ctx, id)
	}

	c.logger.Info("cancellation requested", zap.String("run_id", id))
	return r, nil
}

// abortSuspended consumes the approval gate for a suspended run and finalizes
// it as ABORTED. When another caller consumed the gate first, the current
// snapshot is returned unchanged.
func (c *Controller) abortSuspended(ctx context.Context, id string) (*run.Run, error) {
	c.mu.Lock()
	pa, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return c.store.Get(id)
	}

	if err := c.store.Transition(id, run.StatusAborted, func(r *run.Run) error {
		r.Stage = run.StageFinalize
		r.CurrentStep = "Aborted while awaiting approval"
		r.Logs = append(r.Logs, run.LogEntry{Time: time.Now().UTC(), Stage: run.StageFinalize, Message: "Cancellation observed while suspended"})
		return nil
	}); err != nil {
		return nil, err
	}
	c.finishMetrics(ctx, id)
	c.cleanup(id, pa.workdir)
	c.logger.Info("run aborted at approval gate", zap.String("run_id", id))
	return c.store.Get(id)
}

// Status returns the lightweight polling projection.
func (c *Controller) Status(id string) (*run.Run, error) {
	return c.store.Get(id)
}

// checkCancel observes the cancellation flag at a stage boundary. When set,
// the run transitions to ABORTED and no further stage starts.
func (c *Controller) checkCancel(id string, st *execState) bool {
	r, err := c.store.Get(id)
	if err != nil {
		return true
	}
	if !r.Cancel {
		return false
	}
	c.abort(id, st)
	return true
}

// abort finalizes the run as ABORTED, preserving accumulated state. No score
// is computed for aborted runs.
func (c *Controller) abort(id string, st *execState) {
	err := c.store.Transition(id, run.StatusAborted, func(r *run.Run) error {
		r.Stage = run.StageFinalize
		r.CurrentStep = "Aborted"
		r.Logs = append(r.Logs, run.LogEntry{Time: time.Now().UTC(), Stage: run.StageFinalize, Message: "Cancellation observed at stage boundary"})
		return nil
	})
	if err != nil {
		return
	}
	c.finishMetrics(context.Background(), id)
	c.cleanup(id, st.workdir)
	c.logger.Info("run aborted", zap.String("run_id", id))
}

// fail finalizes the run as FAILED with the error detail preserved, and
// computes the score.
func (c *Controller) fail(id string, st *execState, cause error) {
	err := c.store.Transition(id, run.StatusFailed, func(r *run.Run) error {
		r.Stage = run.StageFinalize
		r.CurrentStep = "Failed: " + truncate(cause.Error(), 150)
		r.Error = cause.Error()
		r.Logs = append(r.Logs, run.LogEntry{Time: time.Now().UTC(), Stage: run.StageFinalize, Message: "Run failed: " + cause.Error()})
		sc := scoring.Compute(r.LocalPass, r.FinishedAt.Sub(r.CreatedAt), r.CommitCount)
		r.Score = &sc
		return nil
	})
	if err != nil {
		return
	}
	c.finishMetrics(context.Background(), id)
	c.cleanup(id, st.workdir)
	c.logger.Warn("run failed", zap.String("run_id", id), zap.Error(cause))
}

// pass finalizes the run as PASSED and computes the score.
func (c *Controller) pass(id string, st *execState) {
	err := c.store.Transition(id, run.StatusPassed, func(r *run.Run) error {
		r.Stage = run.StageFinalize
		r.CurrentStep = "Completed"
		if r.CIStatus == "" {
			r.CIStatus = run.CIPassed
		}
		r.Logs = append(r.Logs, run.LogEntry{Time: time.Now().UTC(), Stage: run.StageFinalize, Message: "Run passed"})
		sc := scoring.Compute(r.LocalPass, r.FinishedAt.Sub(r.CreatedAt), r.CommitCount)
		r.Score = &sc
		return nil
	})
	if err != nil {
		return
	}
	c.finishMetrics(context.Background(), id)
	c.cleanup(id, st.workdir)
	c.logger.Info("run passed", zap.String("run_id", id))
}

// finishMetrics records terminal counters for the run.
func (c *Controller) finishMetrics(ctx context.Context, id string) {
	r, err := c.store.Get(id)
	if err != nil {
		return
	}
	if c.runsFinished != nil {
		c.runsFinished.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(r.Status)),
		))
	}
	if c.iterations != nil {
		c.iterations.Record(ctx, int64(r.IterationCount), metric.WithAttributes(
			attribute.String("status", string(r.Status)),
		))
	}
}

// cleanup removes the working copy once the run no longer needs it.
func (c *Controller) cleanup(id, workdir string) {
	if workdir == "" {
		return
	}
	if err := c.repo.Cleanup(workdir); err != nil {
		c.logger.Warn("workdir cleanup failed", zap.String("run_id", id), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
