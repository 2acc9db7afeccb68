package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waivern-compliance/waivern/pkg/statestore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreBeginMarkFinalize(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.BeginRun(ctx, "run1", "hash1", 2))
	require.NoError(t, s.Mark(ctx, "run1", "a", statestore.StatusRunning, nil))
	require.NoError(t, s.Mark(ctx, "run1", "a", statestore.StatusSucceeded, nil))
	require.NoError(t, s.Mark(ctx, "run1", "b", statestore.StatusRunning, nil))
	require.NoError(t, s.Mark(ctx, "run1", "b", statestore.StatusFailed, &statestore.MarkDetails{ErrorKind: "processor", ErrorMessage: "boom"}))
	require.NoError(t, s.FinalizeRun(ctx, "run1", statestore.RunStatusFailed))

	snap, err := s.LoadRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, statestore.StatusSucceeded, snap.Artifacts["a"].Status)
	assert.Equal(t, statestore.StatusFailed, snap.Artifacts["b"].Status)
	assert.Equal(t, "boom", snap.Artifacts["b"].ErrorMessage)
	assert.Equal(t, 1, snap.Run.SucceededCount)
	assert.Equal(t, 1, snap.Run.FailedCount)
	assert.Equal(t, statestore.RunStatusFailed, snap.Run.OverallStatus)
	assert.NotNil(t, snap.Run.FinishedAt)
}

func TestSQLiteStoreRejectsNonMonotonicTransition(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.BeginRun(ctx, "run1", "hash1", 1))
	require.NoError(t, s.Mark(ctx, "run1", "a", statestore.StatusRunning, nil))
	require.NoError(t, s.Mark(ctx, "run1", "a", statestore.StatusSucceeded, nil))

	err := s.Mark(ctx, "run1", "a", statestore.StatusRunning, nil)
	require.Error(t, err)
}

func TestSQLiteStoreListRunsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.BeginRun(ctx, "r1", "h", 0))
	require.NoError(t, s.FinalizeRun(ctx, "r1", statestore.RunStatusSucceeded))
	require.NoError(t, s.BeginRun(ctx, "r2", "h", 0))
	require.NoError(t, s.FinalizeRun(ctx, "r2", statestore.RunStatusFailed))

	failedOnly, err := s.ListRuns(ctx, statestore.ListFilter{Status: statestore.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, "r2", failedOnly[0].RunID)
}

func TestSQLiteStoreFinalizeMissingRun(t *testing.T) {
	err := openTestStore(t).FinalizeRun(context.Background(), "nope", statestore.RunStatusSucceeded)
	require.Error(t, err)
}
