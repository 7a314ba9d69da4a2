package controller

import (
	"errors"
	"fmt"
)

// Errors surfaced by controller operations.
var (
	// ErrInvalidRepoURL rejects a malformed repository reference at Start.
	ErrInvalidRepoURL = errors.New("invalid repository URL")

	// ErrMissingCredential rejects a Start request without a credential token.
	ErrMissingCredential = errors.New("credential token is required")

	// ErrAuth is returned by repository adapters when the remote rejects
	// the credentials. Surfaced distinctly so callers can tell "needs
	// different credentials" from "patches did not fix the build".
	ErrAuth = errors.New("push rejected: insufficient credential scope")

	// ErrNoFurtherFixes signals that the fix adapter cannot make any more
	// attempts for this run. Treated as an unrecoverable stage failure.
	ErrNoFurtherFixes = errors.New("fix adapter signaled no further attempts")

	// ErrInvalidState rejects Resume calls outside AWAITING_APPROVAL.
	ErrInvalidState = errors.New("operation not valid in current run state")
)

// TransientError marks a flaky or timed-out adapter failure that may be
// retried a bounded number of times within the same stage.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable within its stage.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StageError is an unrecoverable failure of a pipeline stage. It terminates
// the run as FAILED, preserving all partial state collected so far.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Unrecoverable wraps err as a terminal failure of the named stage.
func Unrecoverable(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
