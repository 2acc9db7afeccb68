// Package component defines the only interfaces the core execution engine
// consumes: Source, Processor, and the Factory that builds them. Everything
// on the other side of these contracts (a specific filesystem walker, a
// pattern-match ruleset, an LLM validator) is a plugin, not core.
package component

import (
	"context"

	"github.com/waivern-compliance/waivern/pkg/schema"
)

// Source produces a Message from outside the system.
type Source interface {
	// Extract produces the artifact's Message. ctx carries the run's
	// cancellation token; implementations should observe it at I/O
	// boundaries.
	Extract(ctx context.Context) (schema.Message, error)

	// OutputSchemas declares the schemas this source may produce.
	OutputSchemas() []schema.Schema

	// Close releases any resources the source acquired (connections,
	// file handles). Called exactly once, even on failure.
	Close(ctx context.Context) error
}

// InputRequirement names one schema a processor accepts at a given input
// position. Processor.InputRequirements returns alternatives (outer slice)
// of conjunctions (inner slice) — e.g. a processor that accepts either a
// single standard_input message or a pair of (standard_input, context)
// messages.
type InputRequirement struct {
	Schema   schema.Schema
	Optional bool
}

// Processor transforms one or more input Messages into an output Message.
type Processor interface {
	// Process runs the transform. inputs is either a single Message or,
	// when the artifact declared merge: concatenate, the merged Message.
	// outputSchema is the schema the executor has already resolved via
	// schema.PickDeterministic / schema.SmallestNameHighestVersion.
	Process(ctx context.Context, inputs []schema.Message, outputSchema schema.Schema) (schema.Message, error)

	// InputRequirements declares accepted input shapes: outer slice is
	// alternatives, inner slice is a conjunction.
	InputRequirements() [][]InputRequirement

	// OutputSchemas declares the schemas this processor may produce.
	OutputSchemas() []schema.Schema

	// Close releases any resources the processor acquired. Called exactly
	// once, even on failure.
	Close(ctx context.Context) error
}

// Properties is the untyped mapping parsed from a runbook artifact's
// `source.properties` or `process.properties` field. Component factories
// are the only place this "any" map is consumed — past the factory
// boundary everything is a typed configuration record.
type Properties map[string]any

// SourceFactory builds a configured Source from properties, validating
// them once at plan time.
type SourceFactory interface {
	// Create validates properties and returns a ready-to-use Source.
	Create(properties Properties) (Source, error)

	// OutputSchemas declares the schemas this factory's sources may produce,
	// independent of any particular instance — used by the planner for
	// schema-compatibility checks before a Source is instantiated.
	OutputSchemas() []schema.Schema

	// ConfigSchema returns a CUE constraint expression describing the
	// accepted shape of properties, used by the registry to validate
	// before Create is called.
	ConfigSchema() string
}

// ProcessorFactory builds a configured Processor from properties.
type ProcessorFactory interface {
	// Create validates properties and returns a ready-to-use Processor.
	Create(properties Properties) (Processor, error)

	// InputRequirements mirrors Processor.InputRequirements for plan-time
	// schema compatibility checks, before any Processor is instantiated.
	InputRequirements() [][]InputRequirement

	// OutputSchemas mirrors Processor.OutputSchemas for plan-time checks.
	OutputSchemas() []schema.Schema

	// ConfigSchema returns a CUE constraint expression describing the
	// accepted shape of properties.
	ConfigSchema() string
}
