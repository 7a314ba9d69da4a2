package run

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors for store operations.
var (
	ErrNotFound   = errors.New("run not found")
	ErrDuplicate  = errors.New("run already exists")
	ErrRunFrozen  = errors.New("run is in a terminal state")
	ErrTransition = errors.New("invalid status transition")
)

// validTransitions is the state machine: a status maps to the set of
// statuses reachable from it. Terminal statuses have no entries.
var validTransitions = map[Status][]Status{
	StatusPending:          {StatusRunning},
	StatusRunning:          {StatusRunning, StatusAwaitingApproval, StatusPassed, StatusFailed, StatusAborted},
	StatusAwaitingApproval: {StatusPassed, StatusRejected, StatusAborted, StatusFailed},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Store is the keyed registry mapping run id → record. One controller
// goroutine writes each run; many pollers read snapshots concurrently.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{runs: make(map[string]*Run)}
}

// Create registers a new run in PENDING.
func (s *Store) Create(r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.ID)
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.runs[r.ID] = r
	return nil
}

// Get returns a consistent snapshot of the run.
func (s *Store) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// Update applies fn to the run under the store lock. fn may mutate any field
// except Status; use Transition for status changes. Terminal runs are frozen
// and reject updates. Returning an error from fn aborts the update.
func (s *Store) Update(id string, fn func(*Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunFrozen, id, r.Status)
	}
	return fn(r)
}

// Transition moves the run to a new status, enforcing the state machine and
// the terminal-freeze invariant, then applies fn (if non-nil) atomically with
// the status change. An error from fn rolls the status change back, so fn can
// veto the transition after inspecting the locked record. FinishedAt is set
// exactly once, on entering a terminal status.
func (s *Store) Transition(id string, to Status, fn func(*Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunFrozen, id, r.Status)
	}
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, r.Status, to)
	}

	prevStatus, prevFinished := r.Status, r.FinishedAt
	r.Status = to
	if to.Terminal() && r.FinishedAt == nil {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	if fn != nil {
		if err := fn(r); err != nil {
			r.Status = prevStatus
			r.FinishedAt = prevFinished
			return err
		}
	}
	return nil
}

// Append adds a log entry for the given stage. Logs are append-only; length
// is non-decreasing for the lifetime of the run.
func (s *Store) Append(id string, stage Stage, msg string) {
	_ = s.Update(id, func(r *Run) error {
		r.Logs = append(r.Logs, LogEntry{Time: time.Now().UTC(), Stage: stage, Message: msg})
		return nil
	})
}

// SetStep updates the stage tag and its human-readable description.
func (s *Store) SetStep(id string, stage Stage, step string) {
	_ = s.Update(id, func(r *Run) error {
		r.Stage = stage
		r.CurrentStep = step
		return nil
	})
}

// List returns snapshots of all runs, in no particular order.
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	return out
}

// Delete removes a run record. Intended for archival/retention policies
// driven from outside the core.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
}
