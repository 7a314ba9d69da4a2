package controller

import (
	"context"

	"github.com/fyrsmithlabs/mendd/internal/run"
)

// Failure is one structured test failure produced by the test adapter.
type Failure struct {
	File    string
	Line    int
	BugType run.BugType
	Message string
}

// TestPlan describes the discovered test surface of a working copy.
type TestPlan struct {
	Framework string
	TestFiles []string
}

// Empty reports whether discovery found no test entry points. An empty plan
// is treated as an immediate local pass.
func (p *TestPlan) Empty() bool {
	return p == nil || len(p.TestFiles) == 0
}

// TestResult is the outcome of one test execution.
type TestResult struct {
	Passed   bool
	Failures []Failure
	Output   string
}

// Fix is a candidate patch proposed for a single failure.
type Fix struct {
	File string
	// Created is true when the patch created a new file rather than
	// modifying an existing one.
	Created bool
	Detail  string
}

// RepoAdapter provides version-control plumbing for a run's working copy.
type RepoAdapter interface {
	// Clone obtains a working copy of the repository.
	Clone(ctx context.Context, repoURL, token string) (workdir string, err error)

	// CreateBranch creates and checks out an isolated branch, returning
	// its name.
	CreateBranch(ctx context.Context, workdir string) (branch string, err error)

	// Commit stages all changes and commits them. Returns false with a nil
	// error when the worktree is clean and there is nothing to commit.
	Commit(ctx context.Context, workdir, message string) (committed bool, err error)

	// Push pushes the branch to the remote. Returns ErrAuth when the
	// remote rejects the credentials.
	Push(ctx context.Context, workdir, branch, token string) error

	// Cleanup removes the working copy after the run finishes.
	Cleanup(workdir string) error
}

// TestAdapter discovers and executes the project's test suite.
type TestAdapter interface {
	Discover(ctx context.Context, workdir string) (*TestPlan, error)
	Run(ctx context.Context, workdir string, plan *TestPlan) (*TestResult, error)
}

// FixAdapter proposes a patch for a single failure and applies it to the
// working copy. A per-failure error is absorbed by the iteration loop and
// recorded as a Failed fix entry; ErrNoFurtherFixes aborts the run.
type FixAdapter interface {
	Propose(ctx context.Context, workdir string, failure Failure) (*Fix, error)
}

// CIResult is the outcome of polling the remote pipeline to completion.
type CIResult struct {
	Status  run.CIStatus
	Message string
}

// CIAdapter polls the remote continuous-integration pipeline for a branch.
// A nil CIAdapter on the controller means no remote CI is configured; the
// iteration loop records SKIPPED timeline entries instead of polling.
type CIAdapter interface {
	Poll(ctx context.Context, repoURL, branch, token string) (*CIResult, error)
}
