package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <runbook.yaml>",
		Short: "Parse and plan a runbook, checking structure, schemas and policy without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := buildPlan(cmd, args[0], "")
			if err != nil {
				return err
			}
			log.Info().
				Str("runbook", built.Runbook.Name).
				Int("artifacts", len(built.Plan.Nodes)).
				Int("waves", len(built.Plan.Topology)).
				Msg("runbook is structurally valid")

			if !policyEnabled {
				return nil
			}

			engine, err := newPolicyEngine()
			if err != nil {
				return err
			}
			result, err := engine.Evaluate(cmd.Context(), built.Plan)
			if err != nil {
				return fmt.Errorf("policy evaluation: %w", err)
			}
			for _, v := range result.Violations {
				log.Warn().Str("policy", v.Policy).Str("artifact", v.ArtifactID).Msg(v.Message)
			}
			if !result.Allowed {
				return fmt.Errorf("%d policy violation(s) found", len(result.Violations))
			}
			log.Info().Msg("policy evaluation passed")
			return nil
		},
	}
	return cmd
}
