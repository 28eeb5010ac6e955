package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"caravan/internal/config"
	"caravan/internal/jobstore"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show instance configuration and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}

				if jsonFlag || !isatty.IsTerminal(os.Stdout.Fd()) {
					return writeJSON(cmd, map[string]any{
						"phase":        cfg.Pipeline.Phase,
						"databasePath": store.Path(),
						"jobs": map[string]int{
							"total":      health.Total,
							"pending":    health.Pending,
							"processing": health.Processing,
							"completed":  health.Completed,
							"failed":     health.Failed,
						},
					})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Phase     %s\n", cfg.Pipeline.Phase)
				fmt.Fprintf(out, "Database  %s\n", store.Path())
				rows := [][]string{
					{"total", fmt.Sprintf("%d", health.Total)},
					{"pending", fmt.Sprintf("%d", health.Pending)},
					{"processing", fmt.Sprintf("%d", health.Processing)},
					{"completed", fmt.Sprintf("%d", health.Completed)},
					{"failed", fmt.Sprintf("%d", health.Failed)},
				}
				fmt.Fprintln(out, renderTable([]string{"Jobs", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	return cmd
}
