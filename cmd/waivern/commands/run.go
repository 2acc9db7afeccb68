package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/waivern-compliance/waivern/pkg/executor"
	"github.com/waivern-compliance/waivern/pkg/planner"
	"github.com/waivern-compliance/waivern/pkg/statestore"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <runbook.yaml>",
		Short: "Plan and execute a runbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return planAndExecute(cmd, args[0], false, "")
		},
	}
	return cmd
}

func newResumeCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "resume <runbook.yaml>",
		Short: "Re-plan a runbook and resume a prior run, skipping already-succeeded artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("resume requires --run-id (see `waivern list-runs` for prior run IDs)")
			}
			return planAndExecute(cmd, args[0], true, runID)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "prior run ID to resume, as printed by list-runs")
	return cmd
}

// planAndExecute re-plans path and runs it. When resume is true, runID
// identifies the prior run whose state the executor should pick up from —
// re-planning always produces a fresh plan, so the caller-supplied runID is
// stitched into that plan instead of the one planner.Plan generates, letting
// the executor's run-state lookup find the artifacts already recorded.
func planAndExecute(cmd *cobra.Command, path string, resume bool, runID string) error {
	built, err := buildPlan(cmd, path, runID)
	if err != nil {
		return err
	}

	if policyEnabled {
		if err := evaluateGuardrails(cmd, built.Plan); err != nil {
			return err
		}
	}

	state, err := newStateStore(cmd.Context(), storeBackend, dataDir)
	if err != nil {
		return err
	}

	tel, err := newTelemetry(cmd.Root().Version)
	if err != nil {
		return err
	}
	defer tel.Shutdown(cmd.Context())

	exec := executor.New(built.Registry, built.Artifacts, state, tel)

	result, err := exec.Run(cmd.Context(), built.Plan, resume)
	if err != nil {
		return fmt.Errorf("run %s: %w", built.Plan.RunID, err)
	}

	logRunResult(result.RunID, result.SucceededCount, result.FailedCount, result.SkippedCount, result.CancelledCount)

	if result.OverallStatus != statestore.RunStatusSucceeded {
		return fmt.Errorf("run %s finished with status %s", result.RunID, result.OverallStatus)
	}
	return nil
}

// evaluateGuardrails runs the built-in OPA policies over the plan and
// rejects it when any violation has error or critical severity, unless
// --policy=false was passed.
func evaluateGuardrails(cmd *cobra.Command, plan *planner.ExecutionPlan) error {
	engine, err := newPolicyEngine()
	if err != nil {
		return err
	}

	result, err := engine.Evaluate(cmd.Context(), plan)
	if err != nil {
		return fmt.Errorf("policy evaluation: %w", err)
	}
	for _, w := range result.Warnings {
		log.Warn().Str("run_id", plan.RunID).Msg(w)
	}
	if !result.Allowed {
		for _, v := range result.Violations {
			log.Error().Str("policy", v.Policy).Str("artifact", v.ArtifactID).Str("severity", string(v.Severity)).Msg(v.Message)
		}
		return fmt.Errorf("plan %s rejected by policy: %d violation(s)", plan.RunID, len(result.Violations))
	}
	return nil
}
