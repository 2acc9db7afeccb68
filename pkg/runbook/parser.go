package runbook

import (
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

var artifactIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var structValidator = validator.New()

// Parser reads runbook YAML files from disk.
type Parser struct{}

// NewParser creates a RunbookParser.
func NewParser() *Parser { return &Parser{} }

// ParseFile reads and validates the runbook at path.
func (p *Parser) ParseFile(path string) (*Runbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "failed to read runbook file: "+path, err).
			WithCode(waivernerr.CodeConfig)
	}
	return p.Parse(data)
}

// Parse validates and decodes raw runbook YAML.
func (p *Parser) Parse(data []byte) (*Runbook, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "invalid YAML", err).
			WithCode(waivernerr.CodeConfig)
	}

	substituted, err := substituteEnvDeep(raw)
	if err != nil {
		return nil, err
	}

	reencoded, err := yaml.Marshal(substituted)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindInternal, "failed to re-encode substituted runbook", err).
			WithCode(waivernerr.CodeInternal)
	}

	var rb Runbook
	if err := yaml.Unmarshal(reencoded, &rb); err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "runbook does not match expected structure", err).
			WithCode(waivernerr.CodeConfig)
	}
	if rb.Config.MaxConcurrency == 0 {
		rb.Config.MaxConcurrency = defaultMaxConcurrency
	}

	if err := validateRunbook(&rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

func validateRunbook(rb *Runbook) error {
	if err := structValidator.Struct(rb); err != nil {
		return waivernerr.New(waivernerr.KindConfig, "runbook failed schema validation", err).
			WithCode(waivernerr.CodeConfig)
	}
	if len(rb.Artifacts) == 0 {
		return configErr("runbook must define at least one artifact")
	}

	for id, def := range rb.Artifacts {
		if !artifactIDPattern.MatchString(id) {
			return configErr("invalid artifact id (must match [a-z][a-z0-9_]*): " + id)
		}
		if def.Include != nil {
			continue // includes are resolved and fully validated by the Planner
		}
		if err := validateArtifactVariant(id, def); err != nil {
			return err
		}
		if err := validateMerge(id, def); err != nil {
			return err
		}
	}

	if err := detectIncludeCycles(rb.Artifacts); err != nil {
		return err
	}
	return nil
}

func validateArtifactVariant(id string, def *ArtifactDefinition) error {
	hasSource := def.SourceType != ""
	hasInputs := len(def.Inputs) > 0 || def.ProcessType != ""
	switch {
	case hasSource && hasInputs:
		return configErr("artifact " + id + " must specify exactly one of source_type or inputs/process_type, not both")
	case !hasSource && !hasInputs:
		return configErr("artifact " + id + " must specify either source_type or inputs/process_type")
	case hasInputs && def.ProcessType == "":
		return configErr("artifact " + id + " has inputs but no process_type")
	case hasInputs && len(def.Inputs) == 0:
		return configErr("artifact " + id + " has process_type but no inputs")
	}
	return nil
}

func validateMerge(id string, def *ArtifactDefinition) error {
	if def.Merge == "" {
		return nil
	}
	if def.Merge != "concatenate" {
		return configErr("artifact " + id + " has invalid merge value: " + def.Merge)
	}
	if len(def.Inputs) <= 1 {
		return configErr("artifact " + id + " specifies merge but has fewer than two inputs")
	}
	return nil
}

// includeEdges reads path as raw YAML (skipping substitution and full
// validation, which its own top-level parse will apply in turn) and
// returns the include paths referenced by its artifacts. Used only for
// cycle detection, never to produce a usable Runbook.
func includeEdges(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rb Runbook
	if err := yaml.Unmarshal(data, &rb); err != nil {
		return nil
	}
	edges := make([]string, 0, len(rb.Artifacts))
	for _, def := range rb.Artifacts {
		if def.Include != nil {
			edges = append(edges, def.Include.Path)
		}
	}
	return edges
}

// detectIncludeCycles walks include: { path } edges treating each distinct
// path as a graph node, reporting a ConfigError if the include graph
// contains a cycle. Resolution of the included content is the Planner's
// job; this only guards against a recursive include graph. A single
// visiting/visited pair is shared across the whole DFS so re-entering an
// already-cleared path is recognized as "done", not re-walked.
func detectIncludeCycles(artifacts map[string]*ArtifactDefinition) error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(path string) error
	visit = func(path string) error {
		if visiting[path] {
			return configErr("include cycle detected at: " + path)
		}
		if visited[path] {
			return nil
		}
		visiting[path] = true
		for _, child := range includeEdges(path) {
			if err := visit(child); err != nil {
				return err
			}
		}
		visiting[path] = false
		visited[path] = true
		return nil
	}

	seen := make(map[string]bool)
	for _, def := range artifacts {
		if def.Include == nil || seen[def.Include.Path] {
			continue
		}
		seen[def.Include.Path] = true
		if err := visit(def.Include.Path); err != nil {
			return err
		}
	}
	return nil
}

func configErr(message string) error {
	return waivernerr.New(waivernerr.KindConfig, message, nil).WithCode(waivernerr.CodeConfig)
}
