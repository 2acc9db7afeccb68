package artifactstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// FilesystemStore persists each message as one JSON file at
// <base>/runs/<run_id>/<key>.json. Directory segments of the key become
// subdirectories. Writes are atomic: write to a temporary sibling, then
// rename.
type FilesystemStore struct {
	base string

	// mu guards per-run directory creation; actual file writes are atomic
	// via rename and need no further locking across workers (the executor
	// guarantees at-most-one worker per artifact key).
	mu sync.Mutex
}

// NewFilesystemStore creates a filesystem-backed artifact store rooted at base.
func NewFilesystemStore(base string) *FilesystemStore {
	return &FilesystemStore{base: base}
}

func (s *FilesystemStore) runDir(runID string) string {
	return filepath.Join(s.base, "runs", runID)
}

func (s *FilesystemStore) path(runID, key string) string {
	return filepath.Join(s.runDir(runID), filepath.FromSlash(key)+".json")
}

// Save implements Store.
func (s *FilesystemStore) Save(_ context.Context, runID, key string, message schema.Message) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	path := s.path(runID, key)
	dir := filepath.Dir(path)

	s.mu.Lock()
	mkErr := os.MkdirAll(dir, 0o755)
	s.mu.Unlock()
	if mkErr != nil {
		return waivernerr.New(waivernerr.KindInternal, "failed to create artifact directory", mkErr).
			WithCode(waivernerr.CodeInternal)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return waivernerr.New(waivernerr.KindInternal, "failed to encode message", err).
			WithCode(waivernerr.CodeInternal)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return waivernerr.New(waivernerr.KindInternal, "failed to create temp file", err).
			WithCode(waivernerr.CodeInternal)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return waivernerr.New(waivernerr.KindInternal, "failed to write temp file", err).
			WithCode(waivernerr.CodeInternal)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return waivernerr.New(waivernerr.KindInternal, "failed to close temp file", err).
			WithCode(waivernerr.CodeInternal)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return waivernerr.New(waivernerr.KindInternal, "failed to rename temp file into place", err).
			WithCode(waivernerr.CodeInternal)
	}
	return nil
}

// Get implements Store.
func (s *FilesystemStore) Get(_ context.Context, runID, key string) (schema.Message, error) {
	path := s.path(runID, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return schema.Message{}, notFound(runID, key)
		}
		return schema.Message{}, waivernerr.New(waivernerr.KindInternal, "failed to read artifact file", err).
			WithCode(waivernerr.CodeInternal)
	}
	var msg schema.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindCorruptArtifact, "artifact file is not valid JSON: "+key, err).
			WithArtifact(key).WithCode(waivernerr.CodeCorruptArtifact)
	}
	return msg, nil
}

// Exists implements Store.
func (s *FilesystemStore) Exists(_ context.Context, runID, key string) (bool, error) {
	_, err := os.Stat(s.path(runID, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, waivernerr.New(waivernerr.KindInternal, "failed to stat artifact file", err).
		WithCode(waivernerr.CodeInternal)
}

func (s *FilesystemStore) Delete(_ context.Context, runID, key string) error {
	path := s.path(runID, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return waivernerr.New(waivernerr.KindInternal, "failed to delete artifact file", err).
			WithCode(waivernerr.CodeInternal)
	}
	return nil
}

// ListKeys implements Store.
func (s *FilesystemStore) ListKeys(_ context.Context, runID, prefix string) ([]string, error) {
	root := s.runDir(runID)
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if !strings.HasSuffix(rel, ".json") {
			return nil
		}
		key := filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
		if IsSystemKey(key) {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		out = append(out, key)
		return nil
	})
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindInternal, "failed to list artifact keys", err).
			WithCode(waivernerr.CodeInternal)
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Clear implements Store. System-reserved keys (first path segment
// starting with "_", e.g. "_system/state.json") are preserved.
func (s *FilesystemStore) Clear(_ context.Context, runID string) error {
	root := s.runDir(runID)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return waivernerr.New(waivernerr.KindInternal, "failed to read run directory", err).
			WithCode(waivernerr.CodeInternal)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return waivernerr.New(waivernerr.KindInternal, "failed to clear artifact", err).
				WithCode(waivernerr.CodeInternal)
		}
	}
	return nil
}
