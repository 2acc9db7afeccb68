// Package executor drives an ExecutionPlan to completion with bounded
// parallelism, at most one execution per artifact per run attempt, and
// cooperative cancellation.
//
// Unlike a level-barrier scheduler that waits for a whole wave to finish
// before starting the next, the supervisor here keeps a live ready queue
// fed by per-artifact remaining_deps counters: an artifact starts the
// moment its last dependency completes, never waiting on siblings in its
// own wave that happen to run longer.
package executor

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/waivern-compliance/waivern/pkg/artifactstore"
	"github.com/waivern-compliance/waivern/pkg/planner"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/statestore"
	"github.com/waivern-compliance/waivern/pkg/telemetry"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// defaultMaxConcurrency is used when a plan does not set one.
const defaultMaxConcurrency = 10

// Executor runs ExecutionPlans against a Registry, an ArtifactStore and a
// StateStore. One Executor is shared across every run of a process.
type Executor struct {
	registry  *registry.Registry
	artifacts artifactstore.Store
	state     statestore.Store

	// Telemetry is optional; every call site nil-checks it, matching the
	// rest of the core (see pkg/telemetry doc comment on FromTelemetryContext).
	Telemetry *telemetry.Telemetry
}

// New creates an Executor. tel may be nil to run without instrumentation.
func New(reg *registry.Registry, artifacts artifactstore.Store, state statestore.Store, tel *telemetry.Telemetry) *Executor {
	return &Executor{
		registry:  reg,
		artifacts: artifacts,
		state:     state,
		Telemetry: tel,
	}
}

// Result summarizes a finished run for the caller (typically the CLI).
type Result struct {
	RunID          string
	OverallStatus  statestore.RunStatus
	SucceededCount int
	FailedCount    int
	SkippedCount   int
	CancelledCount int
}

// workerResult is what a per-artifact goroutine reports back to the
// supervisor over doneCh.
type workerResult struct {
	artifactID string
	status     statestore.Status
	err        error
}

// Run executes plan to completion. When resume is true, artifacts already
// recorded SUCCEEDED in a prior attempt under plan.RunID, with their
// message still present in the artifact store, are marked SKIPPED instead
// of re-executed.
func (e *Executor) Run(ctx context.Context, plan *planner.ExecutionPlan, resume bool) (*Result, error) {
	runCtx, cancel := e.runContext(ctx, plan)
	defer cancel()

	markCtx := context.Background()

	var prior statestore.RunSnapshot
	if resume {
		if snap, err := e.state.LoadRun(ctx, plan.RunID); err == nil {
			prior = snap
		}
	}

	if err := e.state.BeginRun(markCtx, plan.RunID, plan.RunbookHash, len(plan.Nodes)); err != nil {
		return nil, err
	}

	if e.Telemetry != nil {
		runCtx = telemetry.WithRunContext(runCtx, plan.RunID, "")
	}

	sup := newSupervisor(e, plan, runCtx, markCtx)
	sup.resolveResumed(prior)
	overall := sup.drive(cancel)

	var err error
	if ferr := e.state.FinalizeRun(markCtx, plan.RunID, overall); ferr != nil {
		err = ferr
	}

	result := sup.tally(plan, overall)

	if e.Telemetry != nil {
		telemetry.EndRunContext(runCtx, plan.RunID, string(overall), err)
	}

	return result, err
}

func (e *Executor) runContext(ctx context.Context, plan *planner.ExecutionPlan) (context.Context, context.CancelFunc) {
	if plan.TimeoutSeconds > 0 {
		return context.WithTimeout(ctx, time.Duration(plan.TimeoutSeconds)*time.Second)
	}
	return context.WithCancel(ctx)
}

// supervisor holds the single run's live scheduling state. It is owned by
// one goroutine (Run's caller) except for the worker goroutines it spawns,
// which communicate back only through doneCh.
type supervisor struct {
	exec *Executor
	plan *planner.ExecutionPlan

	runCtx  context.Context
	markCtx context.Context

	sem    chan struct{}
	doneCh chan workerResult

	// nodeStatus and remaining are owned exclusively by the goroutine
	// running drive/resolveResumed; worker goroutines only ever write to
	// doneCh, never touch these maps directly.
	nodeStatus map[string]statestore.Status
	remaining  map[string]int

	failureCancel bool
}

func newSupervisor(e *Executor, plan *planner.ExecutionPlan, runCtx, markCtx context.Context) *supervisor {
	maxConcurrency := plan.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	nodeStatus := make(map[string]statestore.Status, len(plan.Nodes))
	remaining := make(map[string]int, len(plan.Nodes))
	for id, node := range plan.Nodes {
		nodeStatus[id] = statestore.StatusPending
		remaining[id] = len(node.Inputs)
	}

	return &supervisor{
		exec:       e,
		plan:       plan,
		runCtx:     runCtx,
		markCtx:    markCtx,
		sem:        make(chan struct{}, maxConcurrency),
		doneCh:     make(chan workerResult, len(plan.Nodes)),
		nodeStatus: nodeStatus,
		remaining:  remaining,
	}
}

// resolveResumed marks every artifact already SUCCEEDED in a prior attempt,
// with its message still present in the artifact store, SKIPPED, and
// removes it from its dependents' remaining_deps count. This runs before
// any dispatch, so it needs no locking.
func (s *supervisor) resolveResumed(prior statestore.RunSnapshot) {
	if prior.Artifacts == nil {
		return
	}
	for id := range s.plan.Nodes {
		state, ok := prior.Artifacts[id]
		if !ok || state.Status != statestore.StatusSucceeded {
			continue
		}
		exists, err := s.exec.artifacts.Exists(s.runCtx, s.plan.RunID, id)
		if err != nil || !exists {
			continue
		}
		if err := s.exec.state.Mark(s.markCtx, s.plan.RunID, id, statestore.StatusSkipped, nil); err != nil {
			continue
		}
		s.nodeStatus[id] = statestore.StatusSkipped
		if s.exec.Telemetry != nil {
			_ = s.exec.Telemetry.Events.PublishArtifactSkipped(s.plan.RunID, id, "resumed from prior successful attempt")
		}
	}
	for id, node := range s.plan.Nodes {
		for _, input := range node.Inputs {
			if s.nodeStatus[input] == statestore.StatusSkipped {
				s.remaining[id]--
			}
		}
	}
}

// drive runs the supervisor loop until every artifact reaches a terminal
// status, returning the run's overall status. Per-artifact failures are
// not surfaced as a returned error here — they are recorded in the
// StateStore and reflected in OverallStatus/Result, which is the stable,
// scriptable outcome.
func (s *supervisor) drive(cancelRun context.CancelFunc) statestore.RunStatus {
	var ready []string
	for id, n := range s.remaining {
		if n == 0 && s.nodeStatus[id] == statestore.StatusPending {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	running := 0

	for {
		if s.failureCancel {
			for _, id := range ready {
				_ = s.exec.state.Mark(s.markCtx, s.plan.RunID, id, statestore.StatusCancelled, nil)
				s.nodeStatus[id] = statestore.StatusCancelled
			}
			ready = nil
		} else {
			for len(ready) > 0 {
				id := ready[0]
				ready = ready[1:]
				s.nodeStatus[id] = statestore.StatusRunning
				running++
				s.dispatch(id)
			}
		}

		if running == 0 && len(ready) == 0 {
			break
		}

		var res workerResult
		if s.failureCancel {
			res = <-s.doneCh
		} else {
			select {
			case <-s.runCtx.Done():
				s.failureCancel = true
				continue
			case res = <-s.doneCh:
			}
		}

		running--
		s.nodeStatus[res.artifactID] = res.status

		switch res.status {
		case statestore.StatusSucceeded, statestore.StatusSkipped:
			for _, dep := range s.plan.Dependents[res.artifactID] {
				s.remaining[dep]--
				if s.remaining[dep] == 0 && s.nodeStatus[dep] == statestore.StatusPending {
					ready = append(ready, dep)
				}
			}
			sort.Strings(ready)
		case statestore.StatusFailed:
			if s.plan.Nodes[res.artifactID].Optional {
				s.cascadeSkip(res.artifactID)
			} else {
				s.failureCancel = true
				cancelRun()
			}
		case statestore.StatusCancelled:
			// No propagation: the run is already ending.
		}
	}

	// Any artifact that never got a chance to run (unreachable only under
	// cancellation, since the planner already rejects cycles) is closed out.
	for id, status := range s.nodeStatus {
		if status == statestore.StatusPending {
			_ = s.exec.state.Mark(s.markCtx, s.plan.RunID, id, statestore.StatusCancelled, nil)
			s.nodeStatus[id] = statestore.StatusCancelled
		}
	}

	return s.overallStatus()
}

// cascadeSkip marks every transitive dependent of a failed optional
// artifact SKIPPED, recursively.
func (s *supervisor) cascadeSkip(artifactID string) {
	queue := append([]string(nil), s.plan.Dependents[artifactID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if s.nodeStatus[id] != statestore.StatusPending {
			continue
		}
		_ = s.exec.state.Mark(s.markCtx, s.plan.RunID, id, statestore.StatusSkipped, nil)
		s.nodeStatus[id] = statestore.StatusSkipped
		if s.exec.Telemetry != nil {
			_ = s.exec.Telemetry.Events.PublishArtifactSkipped(s.plan.RunID, id, "upstream optional dependency failed: "+artifactID)
		}
		queue = append(queue, s.plan.Dependents[id]...)
	}
}

// dispatch starts one artifact's worker goroutine, gated by the
// concurrency semaphore.
func (s *supervisor) dispatch(artifactID string) {
	s.sem <- struct{}{}
	go func() {
		defer func() { <-s.sem }()

		node := s.plan.Nodes[artifactID]
		if err := s.exec.state.Mark(s.markCtx, s.plan.RunID, artifactID, statestore.StatusRunning, nil); err != nil {
			s.doneCh <- workerResult{artifactID: artifactID, status: statestore.StatusFailed, err: err}
			return
		}

		status, err := s.exec.runArtifact(s.runCtx, s.plan, node)

		if markErr := s.exec.state.Mark(s.markCtx, s.plan.RunID, artifactID, status, markDetailsFor(err)); markErr != nil && err == nil {
			err = markErr
		}

		s.doneCh <- workerResult{artifactID: artifactID, status: status, err: err}
	}()
}

// overallStatus computes the run's overall status: SUCCEEDED iff every
// non-optional artifact is SUCCEEDED or SKIPPED; a timeout always yields
// CANCELLED; a non-optional failure yields FAILED.
func (s *supervisor) overallStatus() statestore.RunStatus {
	if errors.Is(s.runCtx.Err(), context.DeadlineExceeded) {
		return statestore.RunStatusCancelled
	}
	if s.failureCancel {
		return statestore.RunStatusFailed
	}
	for id, node := range s.plan.Nodes {
		if node.Optional {
			continue
		}
		switch s.nodeStatus[id] {
		case statestore.StatusSucceeded, statestore.StatusSkipped:
		default:
			return statestore.RunStatusFailed
		}
	}
	return statestore.RunStatusSucceeded
}

func (s *supervisor) tally(plan *planner.ExecutionPlan, overall statestore.RunStatus) *Result {
	result := &Result{RunID: plan.RunID, OverallStatus: overall}
	for _, status := range s.nodeStatus {
		switch status {
		case statestore.StatusSucceeded:
			result.SucceededCount++
		case statestore.StatusFailed:
			result.FailedCount++
		case statestore.StatusSkipped:
			result.SkippedCount++
		case statestore.StatusCancelled:
			result.CancelledCount++
		}
	}
	return result
}

func markDetailsFor(err error) *statestore.MarkDetails {
	if err == nil {
		return nil
	}
	return &statestore.MarkDetails{
		ErrorKind:    string(waivernerr.KindOf(err)),
		ErrorMessage: err.Error(),
	}
}
