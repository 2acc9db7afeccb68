package planner

import (
	"github.com/waivern-compliance/waivern/pkg/runbook"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// inlineIncludes depth-first expands every include: { path } artifact into
// the parent's artifact map, renaming the child's artifact IDs by
// prefixing them with the include site's ID to prevent collisions.
//
// A child runbook must mark exactly one artifact output: true; references
// to the include site from the parent are rewritten to that artifact's
// prefixed ID, since the include site itself never becomes a plan node.
func inlineIncludes(artifacts map[string]*runbook.ArtifactDefinition, parser *runbook.Parser) (map[string]*runbook.ArtifactDefinition, error) {
	out := make(map[string]*runbook.ArtifactDefinition, len(artifacts))
	rewrite := make(map[string]string) // include-site ID -> substitute artifact ID

	for id, def := range artifacts {
		if def.Include == nil {
			out[id] = def
			continue
		}
		substitute, err := expandInclude(id, def, parser, out, map[string]bool{})
		if err != nil {
			return nil, err
		}
		rewrite[id] = substitute
	}

	for _, def := range out {
		if def.Include != nil {
			continue
		}
		for i, input := range def.Inputs {
			if substitute, ok := rewrite[input]; ok {
				def.Inputs[i] = substitute
			}
		}
	}
	return out, nil
}

// expandInclude inlines one include site's child runbook into dst
// (prefixed by site ID), recursing into further nested includes.
// visiting guards against an include cycle that slipped past the parser's
// own (best-effort) cycle check.
func expandInclude(siteID string, def *runbook.ArtifactDefinition, parser *runbook.Parser, dst map[string]*runbook.ArtifactDefinition, visiting map[string]bool) (string, error) {
	path := def.Include.Path
	if visiting[path] {
		return "", waivernerr.New(waivernerr.KindCycle, "include cycle detected at: "+path, nil).
			WithCode(waivernerr.CodeCycle)
	}
	visiting[path] = true

	child, err := parser.ParseFile(path)
	if err != nil {
		return "", err
	}

	prefixed := make(map[string]string, len(child.Artifacts))
	for childID := range child.Artifacts {
		prefixed[childID] = siteID + "__" + childID
	}

	// Pass 1: resolve every nested include site first, so prefixed[id]
	// holds each include site's substitute (not its provisional prefix)
	// before any sibling's Inputs are rewritten in pass 2.
	for childID, childDef := range child.Artifacts {
		if childDef.Include == nil {
			continue
		}
		substitute, err := expandInclude(prefixed[childID], childDef, parser, dst, visiting)
		if err != nil {
			return "", err
		}
		prefixed[childID] = substitute
	}

	var outputID string
	outputCount := 0
	for childID, childDef := range child.Artifacts {
		if childDef.Include != nil {
			continue
		}
		newID := prefixed[childID]
		rewritten := *childDef
		rewritten.Inputs = make([]string, len(childDef.Inputs))
		for i, in := range childDef.Inputs {
			if mapped, ok := prefixed[in]; ok {
				rewritten.Inputs[i] = mapped
			} else {
				rewritten.Inputs[i] = in
			}
		}
		dst[newID] = &rewritten
		if childDef.Output {
			outputID = newID
			outputCount++
		}
	}

	visiting[path] = false

	if outputCount != 1 {
		return "", waivernerr.New(waivernerr.KindConfig, "included runbook must mark exactly one artifact output: true: "+path, nil).
			WithCode(waivernerr.CodeConfig)
	}
	return outputID, nil
}
