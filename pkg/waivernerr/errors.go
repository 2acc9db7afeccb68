// Package waivernerr defines the classified error taxonomy shared by every
// core component: the planner, the executor, and the artifact/state stores.
package waivernerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and scripting purposes.
type Kind string

const (
	// KindConfig covers malformed runbooks, invalid properties, unresolved
	// env vars, and invalid artifact store keys. Always plan-time fatal.
	KindConfig Kind = "config_error"

	// KindUnknownComponent means a source_type/process_type is not in the registry.
	KindUnknownComponent Kind = "unknown_component"

	// KindCycle means the dependency graph (or include graph) has a cycle.
	KindCycle Kind = "cycle_error"

	// KindSchemaIncompatibility means no compatible schema exists between a
	// producer and a consumer.
	KindSchemaIncompatibility Kind = "schema_incompatibility"

	// KindMissingReusedArtifact means a reuse directive's target does not exist.
	KindMissingReusedArtifact Kind = "missing_reused_artifact"

	// KindArtifactNotFound means a store lookup missed.
	KindArtifactNotFound Kind = "artifact_not_found"

	// KindSource wraps a Source.extract failure.
	KindSource Kind = "source_error"

	// KindProcessor wraps a Processor.process failure.
	KindProcessor Kind = "processor_error"

	// KindCorruptArtifact means a stored message failed to decode.
	KindCorruptArtifact Kind = "corrupt_artifact"

	// KindCancelled means the artifact or run was cooperatively cancelled.
	KindCancelled Kind = "cancelled"

	// KindInternal means an invariant was violated.
	KindInternal Kind = "internal_error"
)

// Error is the single classified error type surfaced by the core. It is
// never used to represent a stack trace on the stable, user-visible
// surface — Details and Err carry diagnostic context for logs only.
type Error struct {
	Kind       Kind
	Message    string
	ArtifactID string
	Code       string
	Err        error
	Details    map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ArtifactID != "" {
		return fmt.Sprintf("[%s] %s (artifact=%s)%s", e.Kind, e.Message, e.ArtifactID, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, e.unwrapSuffix())
}

func (e *Error) unwrapSuffix() string {
	if e.Err == nil {
		return ""
	}
	return ": " + e.Err.Error()
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is compares by Kind and Code so sentinel-style matching works via errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return true
}

// New creates a classified error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithArtifact attaches the offending artifact ID.
func (e *Error) WithArtifact(artifactID string) *Error {
	e.ArtifactID = artifactID
	return e
}

// WithCode attaches a stable, scriptable error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail attaches a diagnostic detail (log-only, never on the stable surface).
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PlanTimeFatal reports whether kind always aborts planning before any
// worker runs.
func PlanTimeFatal(kind Kind) bool {
	switch kind {
	case KindConfig, KindUnknownComponent, KindCycle, KindSchemaIncompatibility, KindMissingReusedArtifact:
		return true
	default:
		return false
	}
}

// Stable error codes usable for scripting.
const (
	CodeConfig                = "CONFIG_ERROR"
	CodeUnknownComponent      = "UNKNOWN_COMPONENT"
	CodeCycle                 = "CYCLE_ERROR"
	CodeSchemaIncompatibility = "SCHEMA_INCOMPATIBILITY"
	CodeMissingReusedArtifact = "MISSING_REUSED_ARTIFACT"
	CodeArtifactNotFound      = "ARTIFACT_NOT_FOUND"
	CodeSource                = "SOURCE_ERROR"
	CodeProcessor             = "PROCESSOR_ERROR"
	CodeCorruptArtifact       = "CORRUPT_ARTIFACT"
	CodeCancelled             = "CANCELLED"
	CodeInternal              = "INTERNAL_ERROR"
)

// ExitCode maps a classified error to a stable CLI exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfig, KindUnknownComponent, KindCycle, KindSchemaIncompatibility, KindMissingReusedArtifact:
		return 1
	case KindCancelled:
		return 3
	case KindInternal:
		return 4
	case KindSource, KindProcessor, KindArtifactNotFound, KindCorruptArtifact:
		return 2
	default:
		return 4
	}
}
