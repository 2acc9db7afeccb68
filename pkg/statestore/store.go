package statestore

import (
	"context"

	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// Store is the StateStore contract (§4.C). Implementations must be safe
// for concurrent use across all runs and workers of a single process.
type Store interface {
	// BeginRun creates a RunRecord with status RUNNING. runbookHash
	// identifies the runbook content that produced the plan being executed.
	BeginRun(ctx context.Context, runID, runbookHash string, artifactCount int) error

	// Mark transitions (runID, artifactID) to status, enforcing
	// monotonicity: PENDING -> RUNNING -> {SUCCEEDED, FAILED, CANCELLED},
	// with SKIPPED allowed to replace PENDING. A violating transition
	// returns a waivernerr.KindInternal error and leaves state unchanged.
	Mark(ctx context.Context, runID, artifactID string, status Status, details *MarkDetails) error

	// LoadRun returns the run's summary record and all recorded artifact
	// states, for resumption.
	LoadRun(ctx context.Context, runID string) (RunSnapshot, error)

	// ListRuns returns RunRecords matching filter, ordered by start time
	// descending.
	ListRuns(ctx context.Context, filter ListFilter) ([]RunRecord, error)

	// FinalizeRun sets finished_at and overall_status on the run.
	FinalizeRun(ctx context.Context, runID string, overall RunStatus) error
}

// allowedTransitions enumerates the monotonic status graph of §3's
// ArtifactState invariant. A transition not listed here is rejected.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusSkipped:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// checkTransition reports whether moving from `from` to `to` is legal.
// Re-marking the same terminal status is idempotent and always allowed
// (the supervisor may retry a mark after a transient StateStore error).
func checkTransition(from Status, to Status) error {
	if from == to {
		return nil
	}
	if next, ok := allowedTransitions[from]; ok && next[to] {
		return nil
	}
	return waivernerr.New(waivernerr.KindInternal, "illegal state transition "+string(from)+" -> "+string(to), nil).
		WithCode(waivernerr.CodeInternal)
}

func notFoundRun(runID string) error {
	return waivernerr.New(waivernerr.KindInternal, "run not found: "+runID, nil).
		WithCode(waivernerr.CodeInternal).
		WithDetail("run_id", runID)
}

// CheckTransition is the exported form of checkTransition, for backends
// implemented in their own package (e.g. sqlitestore) that enforce the
// same monotonicity rule against their own storage.
func CheckTransition(from, to Status) error { return checkTransition(from, to) }

// IsTerminal reports whether status is a terminal ArtifactState status.
func IsTerminal(status Status) bool { return status.terminal() }

// ErrRunNotFound is the exported form of notFoundRun.
func ErrRunNotFound(runID string) error { return notFoundRun(runID) }
