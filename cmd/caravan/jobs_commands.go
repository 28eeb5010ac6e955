package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"caravan/internal/api"
	"caravan/internal/config"
	"caravan/internal/jobctl"
	"caravan/internal/jobstore"
	"caravan/internal/pipeline"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control ingestion jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsActionCommand(ctx, "cancel", "Cancel an active job",
		func(ctl *jobctl.Controller, cmd *cobra.Command, jobID string) (*jobstore.Job, error) {
			return ctl.Cancel(cmd.Context(), jobID)
		}))
	jobsCmd.AddCommand(newJobsActionCommand(ctx, "retry", "Re-run a settled job from scratch",
		func(ctl *jobctl.Controller, cmd *cobra.Command, jobID string) (*jobstore.Job, error) {
			return ctl.Retry(cmd.Context(), jobID)
		}))
	jobsCmd.AddCommand(newJobsActionCommand(ctx, "retry-failed", "Re-run only the failed items of a settled job",
		func(ctl *jobctl.Controller, cmd *cobra.Command, jobID string) (*jobstore.Job, error) {
			return ctl.RetryFailed(cmd.Context(), jobID)
		}))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingestion jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				var statuses []jobstore.JobStatus
				for _, value := range statusFlags {
					status, ok := jobstore.ParseJobStatus(value)
					if !ok {
						return fmt.Errorf("unknown status %q", value)
					}
					statuses = append(statuses, status)
				}

				jobs, err := store.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}

				if jsonFlag || !isatty.IsTerminal(os.Stdout.Fd()) {
					payload := api.JobListResponse{}
					for _, job := range jobs {
						payload.Jobs = append(payload.Jobs, api.FromJob(job))
					}
					return writeJSON(cmd, payload)
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						shortID(job.ID),
						job.SubjectID,
						string(job.Status),
						pipeline.Label(job.CurrentPhase),
						fmt.Sprintf("v%d", job.Version),
						fmt.Sprintf("%d/%d", job.Processed+job.Skipped, job.TotalItems),
						fmt.Sprintf("%d", job.Failed),
					})
				}
				headers := []string{"ID", "Subject", "Status", "Phase", "Version", "Progress", "Failed"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statusFlags, "status", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its work items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				job, err := store.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				items, err := store.ListItems(cmd.Context(), job.ID)
				if err != nil {
					return err
				}

				payload := api.JobDetailResponse{Job: api.FromJob(job)}
				for _, item := range items {
					payload.Items = append(payload.Items, api.FromWorkItem(item))
				}
				if jsonFlag || !isatty.IsTerminal(os.Stdout.Fd()) {
					return writeJSON(cmd, payload)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job      %s\n", job.ID)
				fmt.Fprintf(out, "Subject  %s\n", job.SubjectID)
				fmt.Fprintf(out, "Status   %s (version %d)\n", job.Status, job.Version)
				fmt.Fprintf(out, "Phase    %s\n", pipeline.Label(job.CurrentPhase))
				fmt.Fprintf(out, "Progress %d processed, %d skipped, %d failed of %d\n",
					job.Processed, job.Skipped, job.Failed, job.TotalItems)
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error    %s (phase %s)\n", job.ErrorMessage, job.ErrorPhase)
				}

				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						item.SourceKey,
						item.MediaKind,
						string(item.Status),
						shortID(item.ArtifactID),
						item.Error,
					})
				}
				headers := []string{"Source Key", "Kind", "Status", "Artifact", "Error"}
				fmt.Fprintln(out, renderTable(headers, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newJobsActionCommand(ctx *commandContext, action, short string, run func(*jobctl.Controller, *cobra.Command, string) (*jobstore.Job, error)) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withController(func(cfg *config.Config, store *jobstore.Store, ctl *jobctl.Controller) error {
				job, err := run(ctl, cmd, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: job %s is now %s (version %d)\n",
					action, shortID(job.ID), job.Status, job.Version)
				return nil
			})
		},
	}
}

func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
