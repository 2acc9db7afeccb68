// Package runbook reads a YAML runbook file into a validated Runbook
// record (§4.D): environment substitution, structural validation, and
// include-cycle detection. Resolving includes against the Registry is the
// Planner's job, not the parser's.
package runbook

// ArtifactDefinition is one of two variants: Source (produces a Message
// from outside) or Derived (transforms inputs). Exactly one of
// SourceType or ProcessType is set after validation.
type ArtifactDefinition struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	// Source variant.
	SourceType string         `yaml:"source_type,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`

	// Derived variant.
	Inputs      []string `yaml:"inputs,omitempty"`
	ProcessType string   `yaml:"process_type,omitempty"`
	Merge       string   `yaml:"merge,omitempty"`
	Output      bool     `yaml:"output,omitempty"`
	Optional    bool     `yaml:"optional,omitempty"`

	// Reuse short-circuits execution by copying a prior run's artifact.
	Reuse *ReuseDirective `yaml:"reuse,omitempty"`

	// Include inlines another runbook file at this artifact's position.
	// Resolved by the Planner; the parser only detects cycles.
	Include *IncludeDirective `yaml:"include,omitempty"`
}

// ReuseDirective names a previous run's artifact to copy verbatim.
type ReuseDirective struct {
	FromRun  string `yaml:"from_run" validate:"required"`
	Artifact string `yaml:"artifact" validate:"required"`
}

// IncludeDirective names another runbook file to inline.
type IncludeDirective struct {
	Path string `yaml:"path" validate:"required"`
}

// RunConfig holds runbook-wide execution parameters.
type RunConfig struct {
	TimeoutSeconds int `yaml:"timeout,omitempty"`
	MaxConcurrency int `yaml:"max_concurrency,omitempty"`
}

// Runbook is the parsed, validated contents of a runbook YAML file.
type Runbook struct {
	Name        string                         `yaml:"name" validate:"required"`
	Description string                         `yaml:"description,omitempty"`
	Contact     string                         `yaml:"contact,omitempty"`
	Config      RunConfig                      `yaml:"config,omitempty"`
	Artifacts   map[string]*ArtifactDefinition `yaml:"artifacts" validate:"required"`
}

// defaultMaxConcurrency is applied when config.max_concurrency is unset.
const defaultMaxConcurrency = 10

// IsSource reports whether def is the Source variant.
func (def *ArtifactDefinition) IsSource() bool {
	return def.SourceType != ""
}

// IsDerived reports whether def is the Derived variant.
func (def *ArtifactDefinition) IsDerived() bool {
	return def.ProcessType != ""
}
