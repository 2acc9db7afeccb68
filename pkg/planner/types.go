// Package planner turns a Runbook plus a Registry into an immutable
// ExecutionPlan (§4.E). Planning performs no I/O against sources or
// processors — only Registry lookups, config validation, graph
// construction, and schema resolution.
package planner

import (
	"github.com/google/uuid"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/schema"
)

// ReuseDirective mirrors runbook.ReuseDirective, copied into the plan so
// the executor never needs to look back at the parsed Runbook.
type ReuseDirective struct {
	FromRun  string
	Artifact string
}

// PlanNode is one artifact's fully-resolved position in the plan: its
// component type, validated properties, input list, merge policy, and
// reuse directive (if any).
type PlanNode struct {
	ArtifactID string

	// Exactly one of SourceType or ProcessType is set.
	SourceType  string
	ProcessType string

	Properties component.Properties
	Inputs     []string
	Merge      string
	Output     bool
	Optional   bool

	// ResolvedSchema is the schema chosen for this node's output when it
	// produces exactly one (sources always do; processors choose one of
	// their declared OutputSchemas). Fan-in input compatibility is
	// resolved separately, per edge, during planning.
	ResolvedSchema schema.Schema

	Reuse *ReuseDirective
}

// IsSource reports whether node is the Source variant.
func (n *PlanNode) IsSource() bool { return n.SourceType != "" }

// ExecutionPlan is the planner's immutable output.
type ExecutionPlan struct {
	RunID          string
	RunbookHash    string
	MaxConcurrency int
	TimeoutSeconds int
	Nodes          map[string]*PlanNode
	// Topology is a layered topological order: every artifact in wave i
	// depends only on artifacts in waves < i. Used for observability and
	// deterministic test ordering; the executor dispatches off dependency
	// edges directly, not off this slice.
	Topology [][]string
	// Dependents is the reverse adjacency: Dependents[u] lists artifacts
	// that consume u's output.
	Dependents map[string][]string
}

// NewRunID generates a fresh plan/run identifier.
func NewRunID() string { return uuid.NewString() }
