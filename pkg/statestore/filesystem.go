package statestore

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// eventKind tags one line of the append-only log.
type eventKind string

const (
	eventBeginRun eventKind = "begin_run"
	eventMark     eventKind = "mark"
	eventFinalize eventKind = "finalize_run"
)

// logEvent is one append-only log line. Only the fields relevant to its
// Kind are populated.
type logEvent struct {
	Kind       eventKind    `json:"kind"`
	RunID      string       `json:"run_id"`
	Run        *RunRecord   `json:"run,omitempty"`
	ArtifactID string       `json:"artifact_id,omitempty"`
	Status     Status       `json:"status,omitempty"`
	Details    *MarkDetails `json:"details,omitempty"`
	Overall    RunStatus    `json:"overall,omitempty"`
}

// FilesystemStore persists run and artifact state under <base>/runs/<run_id>/_state/.
// Each change is appended to log.jsonl and then folded into an atomically
// rewritten snapshot.json. A run whose snapshot is missing or unreadable is
// crash-recovered by replaying log.jsonl from the start.
type FilesystemStore struct {
	base string
	mu   sync.Mutex
}

// NewFilesystemStore creates a filesystem-backed state store rooted at base.
func NewFilesystemStore(base string) *FilesystemStore {
	return &FilesystemStore{base: base}
}

func (s *FilesystemStore) stateDir(runID string) string {
	return filepath.Join(s.base, "runs", runID, "_state")
}

func (s *FilesystemStore) logPath(runID string) string {
	return filepath.Join(s.stateDir(runID), "log.jsonl")
}

func (s *FilesystemStore) snapshotPath(runID string) string {
	return filepath.Join(s.stateDir(runID), "snapshot.json")
}

type snapshot struct {
	Run       RunRecord                `json:"run"`
	Artifacts map[string]ArtifactState `json:"artifacts"`
}

func (s *FilesystemStore) appendEvent(runID string, ev logEvent) error {
	dir := s.stateDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return internalErr("failed to create state directory", err)
	}
	f, err := os.OpenFile(s.logPath(runID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return internalErr("failed to open state log", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return internalErr("failed to encode state event", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return internalErr("failed to append state event", err)
	}
	return f.Sync()
}

func (s *FilesystemStore) writeSnapshot(runID string, snap snapshot) error {
	dir := s.stateDir(runID)
	data, err := json.Marshal(snap)
	if err != nil {
		return internalErr("failed to encode state snapshot", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return internalErr("failed to create temp snapshot file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return internalErr("failed to write temp snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return internalErr("failed to close temp snapshot file", err)
	}
	if err := os.Rename(tmpName, s.snapshotPath(runID)); err != nil {
		os.Remove(tmpName)
		return internalErr("failed to rename temp snapshot file", err)
	}
	return nil
}

// readSnapshot loads snapshot.json, or rebuilds it from log.jsonl if the
// snapshot is missing or unreadable (crash recovery).
func (s *FilesystemStore) readSnapshot(runID string) (snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(runID))
	if err == nil {
		var snap snapshot
		if decErr := json.Unmarshal(data, &snap); decErr == nil {
			if snap.Artifacts == nil {
				snap.Artifacts = make(map[string]ArtifactState)
			}
			return snap, nil
		}
	}
	return s.replayLog(runID)
}

func (s *FilesystemStore) replayLog(runID string) (snapshot, error) {
	f, err := os.Open(s.logPath(runID))
	if err != nil {
		return snapshot{}, notFoundRun(runID)
	}
	defer f.Close()

	snap := snapshot{Artifacts: make(map[string]ArtifactState)}
	found := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev logEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // skip a torn trailing line from a crash mid-append
		}
		switch ev.Kind {
		case eventBeginRun:
			if ev.Run != nil {
				snap.Run = *ev.Run
				found = true
			}
		case eventMark:
			ts := now()
			state := snap.Artifacts[ev.ArtifactID]
			state.RunID = runID
			state.ArtifactID = ev.ArtifactID
			if state.Status == "" && ev.Status == StatusRunning {
				state.StartedAt = &ts
			}
			state.Status = ev.Status
			if ev.Status.terminal() {
				state.FinishedAt = &ts
			}
			if ev.Details != nil {
				state.ErrorKind = ev.Details.ErrorKind
				state.ErrorMessage = ev.Details.ErrorMessage
			}
			if ev.Status == StatusSucceeded {
				snap.Run.SucceededCount++
			}
			if ev.Status == StatusFailed {
				snap.Run.FailedCount++
			}
			snap.Artifacts[ev.ArtifactID] = state
		case eventFinalize:
			ts := now()
			snap.Run.FinishedAt = &ts
			snap.Run.OverallStatus = ev.Overall
		}
	}
	if !found {
		return snapshot{}, notFoundRun(runID)
	}
	return snap, nil
}

// BeginRun implements Store.
func (s *FilesystemStore) BeginRun(_ context.Context, runID, runbookHash string, artifactCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := RunRecord{
		RunID:         runID,
		RunbookHash:   runbookHash,
		StartedAt:     now(),
		OverallStatus: RunStatusRunning,
		ArtifactCount: artifactCount,
	}
	if err := s.appendEvent(runID, logEvent{Kind: eventBeginRun, RunID: runID, Run: &run}); err != nil {
		return err
	}
	return s.writeSnapshot(runID, snapshot{Run: run, Artifacts: make(map[string]ArtifactState)})
}

// Mark implements Store.
func (s *FilesystemStore) Mark(_ context.Context, runID, artifactID string, status Status, details *MarkDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.readSnapshot(runID)
	if err != nil {
		return err
	}
	prev, existed := snap.Artifacts[artifactID]
	from := StatusPending
	if existed {
		from = prev.Status
	}
	if err := checkTransition(from, status); err != nil {
		return err
	}

	if err := s.appendEvent(runID, logEvent{
		Kind: eventMark, RunID: runID, ArtifactID: artifactID, Status: status, Details: details,
	}); err != nil {
		return err
	}

	ts := now()
	next := ArtifactState{RunID: runID, ArtifactID: artifactID, Status: status, StartedAt: prev.StartedAt}
	if status == StatusRunning && next.StartedAt == nil {
		next.StartedAt = &ts
	}
	if status.terminal() {
		next.FinishedAt = &ts
	}
	if details != nil {
		next.ErrorKind = details.ErrorKind
		next.ErrorMessage = details.ErrorMessage
	}
	snap.Artifacts[artifactID] = next
	if status == StatusSucceeded {
		snap.Run.SucceededCount++
	}
	if status == StatusFailed {
		snap.Run.FailedCount++
	}
	return s.writeSnapshot(runID, snap)
}

// LoadRun implements Store.
func (s *FilesystemStore) LoadRun(_ context.Context, runID string) (RunSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.readSnapshot(runID)
	if err != nil {
		return RunSnapshot{}, err
	}
	return RunSnapshot{Run: snap.Run, Artifacts: snap.Artifacts}, nil
}

// ListRuns implements Store.
func (s *FilesystemStore) ListRuns(_ context.Context, filter ListFilter) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := filepath.Join(s.base, "runs")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunRecord{}, nil
		}
		return nil, internalErr("failed to list runs directory", err)
	}

	out := make([]RunRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := s.readSnapshot(entry.Name())
		if err != nil {
			continue
		}
		if filter.Status != "" && snap.Run.OverallStatus != filter.Status {
			continue
		}
		out = append(out, snap.Run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FinalizeRun implements Store.
func (s *FilesystemStore) FinalizeRun(_ context.Context, runID string, overall RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.readSnapshot(runID)
	if err != nil {
		return err
	}
	if err := s.appendEvent(runID, logEvent{Kind: eventFinalize, RunID: runID, Overall: overall}); err != nil {
		return err
	}
	ts := now()
	snap.Run.FinishedAt = &ts
	snap.Run.OverallStatus = overall
	return s.writeSnapshot(runID, snap)
}

func internalErr(message string, cause error) error {
	return waivernerr.New(waivernerr.KindInternal, message, cause).WithCode(waivernerr.CodeInternal)
}
