package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waivern-compliance/waivern/pkg/statestore"
)

func newListRunsCommand() *cobra.Command {
	var (
		statusFilter string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "list-runs",
		Short: "List recorded run attempts, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := newStateStore(cmd.Context(), storeBackend, dataDir)
			if err != nil {
				return err
			}

			filter := statestore.ListFilter{
				Status: statestore.RunStatus(statusFilter),
				Limit:  limit,
			}
			runs, err := state.ListRuns(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			if jsonOutput {
				out, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding runs: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			for _, r := range runs {
				fmt.Printf("%s\t%s\t%s\tsucceeded=%d failed=%d/%d\n",
					r.RunID, r.OverallStatus, r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
					r.SucceededCount, r.FailedCount, r.ArtifactCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by overall status: RUNNING, SUCCEEDED, FAILED, CANCELLED")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs to list (0 = unlimited)")

	return cmd
}
