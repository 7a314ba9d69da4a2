// Package run defines the Run record, the unit of work for one build-healing
// pipeline execution, and the concurrency-safe store that tracks active runs.
//
// A Run is mutated only by the controller that owns it; every other actor
// (pollers, the approval caller, the cancellation caller) reads consistent
// snapshots or goes through the controller's operations. Terminal runs are
// frozen: once a run reaches PASSED, FAILED, ABORTED, or REJECTED, no further
// mutation is accepted.
package run
