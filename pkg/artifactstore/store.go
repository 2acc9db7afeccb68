// Package artifactstore implements the run-scoped, keyed, typed message
// store (§4.B): an in-memory backend and a filesystem backend behind one
// interface, both safe for concurrent use across all runs and workers.
package artifactstore

import (
	"context"
	"regexp"
	"strings"

	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// Store is the ArtifactStore contract. run_id is an argument on every call
// so a single shared instance serves every run.
type Store interface {
	// Save upserts message under (runID, key). Returns once the message is
	// durably visible to a subsequent Get from any concurrent caller.
	Save(ctx context.Context, runID, key string, message schema.Message) error

	// Get returns the message at (runID, key), or ArtifactNotFound.
	Get(ctx context.Context, runID, key string) (schema.Message, error)

	// Exists reports whether (runID, key) has a saved message.
	Exists(ctx context.Context, runID, key string) (bool, error)

	// Delete removes (runID, key). Idempotent; absence is not an error.
	Delete(ctx context.Context, runID, key string) error

	// ListKeys returns user keys under runID with the given prefix,
	// excluding system-reserved keys (first path segment starting with _).
	ListKeys(ctx context.Context, runID, prefix string) ([]string, error)

	// Clear removes all user keys for runID; system keys are preserved.
	Clear(ctx context.Context, runID string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_./-]*$`)

// ValidateKey enforces artifact key syntax: non-empty, matching the
// allowed character set, and free of path traversal.
func ValidateKey(key string) error {
	if key == "" {
		return waivernerr.New(waivernerr.KindConfig, "artifact key must not be empty", nil).
			WithCode(waivernerr.CodeConfig)
	}
	if !keyPattern.MatchString(key) {
		return waivernerr.New(waivernerr.KindConfig, "artifact key has invalid characters: "+key, nil).
			WithCode(waivernerr.CodeConfig)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == "." {
			return waivernerr.New(waivernerr.KindConfig, "artifact key contains path traversal: "+key, nil).
				WithCode(waivernerr.CodeConfig)
		}
	}
	if strings.HasPrefix(key, "/") {
		return waivernerr.New(waivernerr.KindConfig, "artifact key must not be absolute: "+key, nil).
			WithCode(waivernerr.CodeConfig)
	}
	return nil
}

// IsSystemKey reports whether key's first path segment begins with "_",
// marking it system-reserved and excluded from ListKeys/Clear.
func IsSystemKey(key string) bool {
	first := key
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		first = key[:idx]
	}
	return strings.HasPrefix(first, "_")
}

func notFound(runID, key string) error {
	return waivernerr.New(waivernerr.KindArtifactNotFound, "artifact not found: "+key, nil).
		WithArtifact(key).
		WithCode(waivernerr.CodeArtifactNotFound).
		WithDetail("run_id", runID)
}
