package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/waivern-compliance/waivern/pkg/artifactstore"
	"github.com/waivern-compliance/waivern/pkg/planner"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/runbook"
)

func newPlanCommand() *cobra.Command {
	var (
		outPath string
		dotPath string
	)

	cmd := &cobra.Command{
		Use:   "plan <runbook.yaml>",
		Short: "Resolve a runbook into an execution plan without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := buildPlan(cmd, args[0], "")
			if err != nil {
				return err
			}
			plan := built.Plan

			if dotPath != "" {
				if err := os.WriteFile(dotPath, []byte(plan.ToDOT()), 0o644); err != nil {
					return fmt.Errorf("writing dot graph: %w", err)
				}
				log.Info().Str("path", dotPath).Msg("wrote plan graph")
			}

			out, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding plan: %w", err)
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, out, 0o644); err != nil {
					return fmt.Errorf("writing plan: %w", err)
				}
				log.Info().Str("path", outPath).Str("run_id", plan.RunID).Msg("wrote execution plan")
				return nil
			}

			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the plan as JSON to this path instead of stdout")
	cmd.Flags().StringVar(&dotPath, "dot", "", "also write a Graphviz DOT rendering of the plan to this path")

	return cmd
}

// builtPlan bundles an ExecutionPlan with the wiring used to build it, so
// callers that go on to execute the plan (run, resume) don't reconstruct
// a second Registry/ArtifactStore pointed at the same backend.
type builtPlan struct {
	Plan      *planner.ExecutionPlan
	Runbook   *runbook.Runbook
	Registry  *registry.Registry
	Artifacts artifactstore.Store
}

// buildPlan parses the runbook at path, wires a Registry and ArtifactStore,
// and resolves an ExecutionPlan. Shared by plan, run, resume, and validate.
//
// runID, when non-empty, overrides the freshly generated plan.RunID with a
// prior run's ID instead — this is how resume re-plans a runbook from
// scratch but still lines up with the run state the executor needs to find
// to skip already-succeeded artifacts.
func buildPlan(cmd *cobra.Command, path, runID string) (*builtPlan, error) {
	rb, err := runbook.NewParser().ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing runbook: %w", err)
	}

	artifacts, err := newArtifactStore(storeBackend, dataDir)
	if err != nil {
		return nil, err
	}
	reg := newRegistry()

	p := planner.New(reg, artifacts)
	plan, err := p.Plan(cmd.Context(), rb)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	if runID != "" {
		plan.RunID = runID
	}

	return &builtPlan{Plan: plan, Runbook: rb, Registry: reg, Artifacts: artifacts}, nil
}
