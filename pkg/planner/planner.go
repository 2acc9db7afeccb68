package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/waivern-compliance/waivern/pkg/artifactstore"
	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/registry/cueschema"
	"github.com/waivern-compliance/waivern/pkg/runbook"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// Planner turns a Runbook plus a Registry into an ExecutionPlan.
type Planner struct {
	registry *registry.Registry
	store    artifactstore.Store
	parser   *runbook.Parser
}

// New creates a Planner. store is consulted only to verify reuse
// directives (§4.E step 6); it performs no other I/O during planning.
func New(reg *registry.Registry, store artifactstore.Store) *Planner {
	return &Planner{registry: reg, store: store, parser: runbook.NewParser()}
}

// Plan builds an ExecutionPlan from rb. Failures are fatal: planning
// never returns a partial plan.
func (p *Planner) Plan(ctx context.Context, rb *runbook.Runbook) (*ExecutionPlan, error) {
	artifacts, err := inlineIncludes(rb.Artifacts, p.parser)
	if err != nil {
		return nil, err
	}

	nodes, err := p.resolveComponents(artifacts)
	if err != nil {
		return nil, err
	}

	dependents, remainingDeps, err := buildDependencyGraph(nodes)
	if err != nil {
		return nil, err
	}

	topology, err := layeredTopology(nodes, dependents, remainingDeps)
	if err != nil {
		return nil, err
	}

	if err := p.resolveSchemas(nodes, topology); err != nil {
		return nil, err
	}

	if err := p.resolveReuse(ctx, nodes); err != nil {
		return nil, err
	}

	return &ExecutionPlan{
		RunID:          NewRunID(),
		RunbookHash:    hashRunbook(rb),
		MaxConcurrency: rb.Config.MaxConcurrency,
		TimeoutSeconds: rb.Config.TimeoutSeconds,
		Nodes:          nodes,
		Topology:       topology,
		Dependents:     dependents,
	}, nil
}

// resolveComponents looks up each artifact's source_type/process_type in
// the Registry and validates its properties, without instantiating a
// running Source or Processor — only configuration-time validation runs
// here (§4.E step 2).
func (p *Planner) resolveComponents(artifacts map[string]*runbook.ArtifactDefinition) (map[string]*PlanNode, error) {
	nodes := make(map[string]*PlanNode, len(artifacts))
	for id, def := range artifacts {
		node := &PlanNode{
			ArtifactID:  id,
			SourceType:  def.SourceType,
			ProcessType: def.ProcessType,
			Properties:  component.Properties(def.Properties),
			Inputs:      def.Inputs,
			Merge:       def.Merge,
			Output:      def.Output,
			Optional:    def.Optional,
		}
		if def.Reuse != nil {
			node.Reuse = &ReuseDirective{FromRun: def.Reuse.FromRun, Artifact: def.Reuse.Artifact}
		}

		if def.IsSource() {
			factory, ok := p.registry.SourceFactory(def.SourceType)
			if !ok {
				return nil, unknownComponent(id, "source_type", def.SourceType)
			}
			if err := cueschema.Validate(factory.ConfigSchema(), def.Properties); err != nil {
				return nil, invalidConfig(id, err)
			}
			if resolved, ok := schema.SmallestNameHighestVersion(factory.OutputSchemas()); ok {
				node.ResolvedSchema = resolved
			}
		} else {
			factory, ok := p.registry.ProcessorFactory(def.ProcessType)
			if !ok {
				return nil, unknownComponent(id, "process_type", def.ProcessType)
			}
			if err := cueschema.Validate(factory.ConfigSchema(), def.Properties); err != nil {
				return nil, invalidConfig(id, err)
			}
			if resolved, ok := schema.SmallestNameHighestVersion(factory.OutputSchemas()); ok {
				node.ResolvedSchema = resolved
			}
		}
		nodes[id] = node
	}
	return nodes, nil
}

// buildDependencyGraph builds the reverse adjacency (dependents) and
// initial remaining-dependency counters, rejecting references to
// undefined artifact IDs.
func buildDependencyGraph(nodes map[string]*PlanNode) (map[string][]string, map[string]int, error) {
	dependents := make(map[string][]string, len(nodes))
	remaining := make(map[string]int, len(nodes))
	for id := range nodes {
		dependents[id] = nil
		remaining[id] = 0
	}
	for id, node := range nodes {
		for _, input := range node.Inputs {
			if _, ok := nodes[input]; !ok {
				return nil, nil, waivernerr.New(waivernerr.KindConfig, "artifact "+id+" depends on undefined artifact: "+input, nil).
					WithArtifact(id).WithCode(waivernerr.CodeConfig)
			}
			dependents[input] = append(dependents[input], id)
			remaining[id]++
		}
	}
	for id := range dependents {
		sort.Strings(dependents[id])
	}
	return dependents, remaining, nil
}

// layeredTopology performs Kahn's algorithm, grouping each wave of
// simultaneously-ready artifacts (lexicographically ordered, for
// deterministic test output) and failing with KindCycle naming every
// artifact left un-ordered when the queue empties early.
func layeredTopology(nodes map[string]*PlanNode, dependents map[string][]string, remaining map[string]int) ([][]string, error) {
	degree := make(map[string]int, len(remaining))
	for id, n := range remaining {
		degree[id] = n
	}

	var topology [][]string
	processed := 0
	var ready []string
	for id, n := range degree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		wave := append([]string(nil), ready...)
		topology = append(topology, wave)
		processed += len(wave)

		var next []string
		for _, id := range wave {
			for _, dependent := range dependents[id] {
				degree[dependent]--
				if degree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		ready = next
	}

	if processed != len(nodes) {
		var cycle []string
		for id, n := range degree {
			if n > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, waivernerr.New(waivernerr.KindCycle, "cycle detected among artifacts: "+joinComma(cycle), nil).
			WithCode(waivernerr.CodeCycle).WithDetail("members", cycle)
	}
	return topology, nil
}

// resolveSchemas checks, for every derived artifact's input, that some
// upstream-produced schema is compatible with the processor's declared
// input requirements, picking deterministically among multiple
// candidates (§4.E step 5). For fan-in with merge: concatenate, every
// upstream output must share one compatible schema.
func (p *Planner) resolveSchemas(nodes map[string]*PlanNode, topology [][]string) error {
	for _, wave := range topology {
		for _, id := range wave {
			node := nodes[id]
			if node.IsSource() || len(node.Inputs) == 0 {
				continue
			}
			factory, _ := p.registry.ProcessorFactory(node.ProcessType)
			requirementSets := factory.InputRequirements()

			if node.Merge == "concatenate" {
				if err := resolveConcatenateSchema(node, nodes, requirementSets); err != nil {
					return err
				}
				continue
			}
			if err := resolvePositionalSchemas(node, nodes, requirementSets); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolvePositionalSchemas checks each input against the processor's
// declared requirement at the same position. It never touches node's own
// ResolvedSchema, which already holds the processor's declared output.
func resolvePositionalSchemas(node *PlanNode, nodes map[string]*PlanNode, requirementSets [][]component.InputRequirement) error {
	for i, input := range node.Inputs {
		upstream := nodes[input]
		var requirements []component.InputRequirement
		if i < len(requirementSets) {
			requirements = requirementSets[i]
		}
		candidates := candidateSchemas(upstream)
		if _, ok := pickCompatible(candidates, requirements); !ok {
			if allOptional(requirements) {
				continue
			}
			return schemaIncompatible(node.ArtifactID, input)
		}
	}
	return nil
}

// resolveConcatenateSchema requires every upstream output, merged by
// concatenation into the processor's single input, to share one
// compatible schema (§4.E step 5's fan-in rule).
func resolveConcatenateSchema(node *PlanNode, nodes map[string]*PlanNode, requirementSets [][]component.InputRequirement) error {
	var requirements []component.InputRequirement
	if len(requirementSets) > 0 {
		requirements = requirementSets[0]
	}

	var common schema.Schema
	first := true
	for _, input := range node.Inputs {
		upstream := nodes[input]
		candidates := candidateSchemas(upstream)
		chosen, ok := pickCompatible(candidates, requirements)
		if !ok {
			return schemaIncompatible(node.ArtifactID, input)
		}
		if first {
			common = chosen
			first = false
			continue
		}
		if !chosen.Compatible(common) {
			return schemaIncompatible(node.ArtifactID, input)
		}
	}
	return nil
}

func candidateSchemas(upstream *PlanNode) []schema.Schema {
	if upstream.ResolvedSchema.Name != "" {
		return []schema.Schema{upstream.ResolvedSchema}
	}
	return nil
}

func pickCompatible(candidates []schema.Schema, requirements []component.InputRequirement) (schema.Schema, bool) {
	if len(requirements) == 0 {
		if len(candidates) == 0 {
			return schema.Schema{}, false
		}
		return candidates[0], true
	}
	var wanted []schema.Schema
	for _, req := range requirements {
		wanted = append(wanted, req.Schema)
	}
	for _, want := range wanted {
		if chosen, ok := schema.PickDeterministic(candidates, want); ok {
			return chosen, true
		}
	}
	return schema.Schema{}, false
}

// allOptional reports whether every requirement in the set is optional,
// meaning a failed schema match at that position does not fail planning.
func allOptional(requirements []component.InputRequirement) bool {
	for _, req := range requirements {
		if !req.Optional {
			return false
		}
	}
	return len(requirements) > 0
}

// resolveReuse verifies each reuse directive's target exists in the
// artifact store (§4.E step 6). Nodes without a Reuse directive are
// untouched.
func (p *Planner) resolveReuse(ctx context.Context, nodes map[string]*PlanNode) error {
	for id, node := range nodes {
		if node.Reuse == nil {
			continue
		}
		exists, err := p.store.Exists(ctx, node.Reuse.FromRun, node.Reuse.Artifact)
		if err != nil {
			return err
		}
		if !exists {
			return waivernerr.New(waivernerr.KindMissingReusedArtifact,
				"reuse target not found: "+node.Reuse.FromRun+"/"+node.Reuse.Artifact, nil).
				WithArtifact(id).WithCode(waivernerr.CodeMissingReusedArtifact)
		}
	}
	return nil
}

func unknownComponent(artifactID, field, value string) error {
	return waivernerr.New(waivernerr.KindUnknownComponent, "unknown "+field+": "+value, nil).
		WithArtifact(artifactID).WithCode(waivernerr.CodeUnknownComponent)
}

func invalidConfig(artifactID string, cause error) error {
	return waivernerr.New(waivernerr.KindConfig, "invalid properties for artifact: "+artifactID, cause).
		WithArtifact(artifactID).WithCode(waivernerr.CodeConfig)
}

func schemaIncompatible(artifactID, input string) error {
	return waivernerr.New(waivernerr.KindSchemaIncompatibility,
		"no compatible schema between "+input+" and "+artifactID, nil).
		WithArtifact(artifactID).WithCode(waivernerr.CodeSchemaIncompatibility)
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}

func hashRunbook(rb *runbook.Runbook) string {
	h := sha256.New()
	h.Write([]byte(rb.Name))
	ids := make([]string, 0, len(rb.Artifacts))
	for id := range rb.Artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}
