package artifactstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/waivern-compliance/waivern/pkg/schema"
)

// MemoryStore is a two-level run_id -> key -> Message map. Lost on process
// exit. All operations complete without suspension beyond acquiring the
// store's single lock.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]map[string]schema.Message
}

// NewMemoryStore creates an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]map[string]schema.Message)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, runID, key string, message schema.Message) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = make(map[string]schema.Message)
		s.runs[runID] = run
	}
	run[key] = message
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, runID, key string) (schema.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return schema.Message{}, notFound(runID, key)
	}
	msg, ok := run[key]
	if !ok {
		return schema.Message{}, notFound(runID, key)
	}
	return msg, nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(_ context.Context, runID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return false, nil
	}
	_, ok = run[key]
	return ok, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, runID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		delete(run, key)
	}
	return nil
}

// ListKeys implements Store.
func (s *MemoryStore) ListKeys(_ context.Context, runID, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, len(run))
	for key := range run {
		if IsSystemKey(key) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// Clear implements Store. System-reserved keys are preserved, per §4.B and
// §9 open question 3.
func (s *MemoryStore) Clear(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	kept := make(map[string]schema.Message)
	for key, msg := range run {
		if IsSystemKey(key) {
			kept[key] = msg
		}
	}
	s.runs[runID] = kept
	return nil
}
