package planner

import (
	"fmt"
	"strings"
)

// ToDOT renders the plan's dependency graph in Graphviz DOT format,
// grouped by topology wave, so a plan can be inspected or diffed visually
// before anything runs.
func (p *ExecutionPlan) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range p.Topology {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_wave_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Wave %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			node := p.Nodes[id]
			label := nodeLabel(node)
			color := nodeColor(node)
			sb.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n", id, label, color))
		}
		sb.WriteString("  }\n\n")
	}

	for id, node := range p.Nodes {
		for _, input := range node.Inputs {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", input, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func nodeLabel(node *PlanNode) string {
	if node.IsSource() {
		return fmt.Sprintf("%s\\n%s", node.ArtifactID, node.SourceType)
	}
	return fmt.Sprintf("%s\\n%s", node.ArtifactID, node.ProcessType)
}

func nodeColor(node *PlanNode) string {
	switch {
	case node.Reuse != nil:
		return "lightgray"
	case node.IsSource():
		return "lightgreen"
	default:
		return "lightblue"
	}
}
