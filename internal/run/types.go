package run

import "time"

// MaxIterations bounds the fix-retry loop for every run.
const MaxIterations = 5

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusRunning          Status = "RUNNING"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusPassed           Status = "PASSED"
	StatusFailed           Status = "FAILED"
	StatusAborted          Status = "ABORTED"
	StatusRejected         Status = "REJECTED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusAborted, StatusRejected:
		return true
	}
	return false
}

// Stage tags the active pipeline stage. It accompanies the free-text
// CurrentStep so consumers never need to pattern-match display strings.
type Stage string

const (
	StageInit     Stage = "INIT"
	StageClone    Stage = "CLONE"
	StageDiscover Stage = "DISCOVER"
	StageTest     Stage = "TEST"
	StageAnalyze  Stage = "ANALYZE"
	StageFix      Stage = "FIX"
	StageCommit   Stage = "COMMIT"
	StagePush     Stage = "PUSH"
	StageCIPoll   Stage = "CI_POLL"
	StageApproval Stage = "APPROVAL"
	StageFinalize Stage = "FINALIZE"
)

// CIStatus is the outcome of one remote pipeline poll.
type CIStatus string

const (
	CIPassed  CIStatus = "PASSED"
	CIFailed  CIStatus = "FAILED"
	CISkipped CIStatus = "SKIPPED"
	CITimeout CIStatus = "TIMEOUT"
)

// FixStatus is the outcome of one proposed patch.
type FixStatus string

const (
	FixApplied   FixStatus = "Fixed"
	FixGenerated FixStatus = "Generated"
	FixFailed    FixStatus = "Failed"
)

// BugType categorizes a diagnosed failure.
type BugType string

const (
	BugSyntax      BugType = "SYNTAX"
	BugImport      BugType = "IMPORT"
	BugTypeError   BugType = "TYPE_ERROR"
	BugLinting     BugType = "LINTING"
	BugIndentation BugType = "INDENTATION"
	BugConfig      BugType = "CONFIG"
	BugLogic       BugType = "LOGIC"
)

// LogEntry is one append-only stage event.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
}

// CIEntry is one remote pipeline poll outcome within an iteration.
type CIEntry struct {
	Iteration int       `json:"iteration"`
	Status    CIStatus  `json:"ci_status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// FixRecord is one proposed patch and its outcome.
type FixRecord struct {
	File       string    `json:"file"`
	BugType    BugType   `json:"bug_type"`
	LineNumber int       `json:"line_number"`
	Status     FixStatus `json:"status"`
	Detail     string    `json:"detail,omitempty"`
}

// Score is the numeric summary of run quality. Populated exactly once, when
// the run reaches PASSED or FAILED; absent for ABORTED and REJECTED runs.
type Score struct {
	Base              int `json:"base"`
	SpeedBonus        int `json:"speed_bonus"`
	EfficiencyPenalty int `json:"efficiency_penalty"`
	Final             int `json:"final"`
}

// Run is the mutable record for one healing pipeline execution.
//
// The token used for clone/push is deliberately not stored on the record; it
// lives only in the controller's in-flight request so snapshots can never
// leak it.
type Run struct {
	ID          string `json:"run_id"`
	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch,omitempty"`
	AutoCommit  bool   `json:"auto_commit"`
	Status      Status `json:"status"`
	Stage       Stage  `json:"stage"`
	CurrentStep string `json:"current_step"`

	Logs       []LogEntry  `json:"logs"`
	Fixes      []FixRecord `json:"fixes"`
	CITimeline []CIEntry   `json:"ci_timeline"`

	IterationCount int      `json:"iterations_used"`
	CommitCount    int      `json:"commit_count"`
	TotalFailures  int      `json:"total_failures"`
	TotalFixes     int      `json:"total_fixes"`
	CIStatus       CIStatus `json:"ci_status,omitempty"`
	LocalPass      bool     `json:"local_pass"`

	Score *Score `json:"score,omitempty"`
	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Cancel is the cooperative cancellation flag set by Stop and observed
	// at stage boundaries. Never cleared once set.
	Cancel bool `json:"-"`
}

// Clone returns a deep copy of the run so readers never observe a
// partially-updated composite field.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Logs = append([]LogEntry(nil), r.Logs...)
	cp.Fixes = append([]FixRecord(nil), r.Fixes...)
	cp.CITimeline = append([]CIEntry(nil), r.CITimeline...)
	if r.Score != nil {
		sc := *r.Score
		cp.Score = &sc
	}
	if r.FinishedAt != nil {
		ts := *r.FinishedAt
		cp.FinishedAt = &ts
	}
	return &cp
}
