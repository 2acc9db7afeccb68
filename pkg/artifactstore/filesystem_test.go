package artifactstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

func newTestMessage(t *testing.T) schema.Message {
	t.Helper()
	sch, err := schema.New("indicator", "1.0.0")
	require.NoError(t, err)
	return schema.Message{
		ID:      "m1",
		Schema:  sch,
		Content: schema.Scalar("hello"),
	}
}

func TestFilesystemStoreSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFilesystemStore(t.TempDir())
	msg := newTestMessage(t)

	require.NoError(t, store.Save(ctx, "run1", "greeting/a", msg))

	got, err := store.Get(ctx, "run1", "greeting/a")
	require.NoError(t, err)
	assert.True(t, got.Content.Equal(msg.Content))
	assert.Equal(t, msg.Schema, got.Schema)
}

func TestFilesystemStoreGetMissingIsArtifactNotFound(t *testing.T) {
	store := NewFilesystemStore(t.TempDir())
	_, err := store.Get(context.Background(), "run1", "missing")
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindArtifactNotFound))
}

func TestFilesystemStoreCorruptFileIsCorruptArtifact(t *testing.T) {
	base := t.TempDir()
	store := NewFilesystemStore(base)

	dir := filepath.Join(base, "runs", "run1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	_, err := store.Get(context.Background(), "run1", "bad")
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindCorruptArtifact))
}

func TestFilesystemStoreWriteIsAtomicNoPartialFileVisible(t *testing.T) {
	base := t.TempDir()
	store := NewFilesystemStore(base)
	msg := newTestMessage(t)

	require.NoError(t, store.Save(context.Background(), "run1", "k", msg))

	dir := filepath.Join(base, "runs", "run1")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.json", entries[0].Name())
}

func TestFilesystemStoreExists(t *testing.T) {
	ctx := context.Background()
	store := NewFilesystemStore(t.TempDir())
	msg := newTestMessage(t)

	ok, err := store.Exists(ctx, "run1", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "run1", "k", msg))

	ok, err = store.Exists(ctx, "run1", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilesystemStoreListKeysExcludesSystemAndFiltersPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewFilesystemStore(t.TempDir())
	msg := newTestMessage(t)

	require.NoError(t, store.Save(ctx, "run1", "a/one", msg))
	require.NoError(t, store.Save(ctx, "run1", "a/two", msg))
	require.NoError(t, store.Save(ctx, "run1", "b/three", msg))
	require.NoError(t, store.Save(ctx, "run1", "_system/state", msg))

	keys, err := store.ListKeys(ctx, "run1", "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "a/two"}, keys)

	all, err := store.ListKeys(ctx, "run1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "a/two", "b/three"}, all)
}

func TestFilesystemStoreClearPreservesSystemKeys(t *testing.T) {
	ctx := context.Background()
	store := NewFilesystemStore(t.TempDir())
	msg := newTestMessage(t)

	require.NoError(t, store.Save(ctx, "run1", "a", msg))
	require.NoError(t, store.Save(ctx, "run1", "_system/state", msg))

	require.NoError(t, store.Clear(ctx, "run1"))

	_, err := store.Get(ctx, "run1", "a")
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindArtifactNotFound))

	_, err = store.Get(ctx, "run1", "_system/state")
	require.NoError(t, err)
}

func TestFilesystemStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewFilesystemStore(t.TempDir())
	require.NoError(t, store.Delete(ctx, "run1", "missing"))
}
