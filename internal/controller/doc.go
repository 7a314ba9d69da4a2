// Package controller implements the run orchestration engine: the
// bounded-iteration state machine that sequences clone → discover → test →
// (analyze → fix → commit → monitor)* → approval → finalize.
//
// The controller is the sole writer of run state. It owns retry/backoff
// policy for collaborator calls, the suspension semantics of the approval
// gate, cooperative cancellation at stage boundaries, and the failure
// taxonomy that decides retry vs. abort vs. terminal failure.
package controller
