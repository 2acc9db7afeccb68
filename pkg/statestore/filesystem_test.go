package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStoreBeginMarkFinalize(t *testing.T) {
	ctx := context.Background()
	s := NewFilesystemStore(t.TempDir())

	require.NoError(t, s.BeginRun(ctx, "run1", "hash1", 1))
	require.NoError(t, s.Mark(ctx, "run1", "a", StatusRunning, nil))
	require.NoError(t, s.Mark(ctx, "run1", "a", StatusSucceeded, nil))
	require.NoError(t, s.FinalizeRun(ctx, "run1", RunStatusSucceeded))

	snap, err := s.LoadRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, snap.Artifacts["a"].Status)
	assert.Equal(t, RunStatusSucceeded, snap.Run.OverallStatus)
	assert.NotNil(t, snap.Run.FinishedAt)
}

func TestFilesystemStoreRejectsNonMonotonicTransition(t *testing.T) {
	ctx := context.Background()
	s := NewFilesystemStore(t.TempDir())
	require.NoError(t, s.BeginRun(ctx, "run1", "hash1", 1))
	require.NoError(t, s.Mark(ctx, "run1", "a", StatusRunning, nil))
	require.NoError(t, s.Mark(ctx, "run1", "a", StatusSucceeded, nil))

	err := s.Mark(ctx, "run1", "a", StatusRunning, nil)
	require.Error(t, err)
}

func TestFilesystemStoreCrashRecoveryReplaysLog(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s := NewFilesystemStore(base)

	require.NoError(t, s.BeginRun(ctx, "run1", "hash1", 1))
	require.NoError(t, s.Mark(ctx, "run1", "a", StatusRunning, nil))
	require.NoError(t, s.Mark(ctx, "run1", "a", StatusSucceeded, nil))

	// Simulate a crash that destroyed the snapshot but left the log intact.
	require.NoError(t, os.Remove(s.snapshotPath("run1")))

	snap, err := s.LoadRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, snap.Artifacts["a"].Status)
	assert.Nil(t, snap.Run.FinishedAt, "a crashed run has no finished_at until finalize_run runs")
}

func TestFilesystemStoreListRunsFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewFilesystemStore(t.TempDir())

	require.NoError(t, s.BeginRun(ctx, "r1", "h", 0))
	require.NoError(t, s.FinalizeRun(ctx, "r1", RunStatusSucceeded))
	require.NoError(t, s.BeginRun(ctx, "r2", "h", 0))
	require.NoError(t, s.FinalizeRun(ctx, "r2", RunStatusFailed))

	failedOnly, err := s.ListRuns(ctx, ListFilter{Status: RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, "r2", failedOnly[0].RunID)
}

func TestFilesystemStoreLogIsAppendOnlyAndSnapshotAtomic(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s := NewFilesystemStore(base)

	require.NoError(t, s.BeginRun(ctx, "run1", "h", 1))
	require.NoError(t, s.Mark(ctx, "run1", "a", StatusRunning, nil))

	dir := filepath.Join(base, "runs", "run1", "_state")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["log.jsonl"])
	assert.True(t, names["snapshot.json"])
	assert.Len(t, entries, 2, "no stray temp files should remain after atomic rename")
}
