package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/internal/store"
)

const stampLayout = "2006-01-02 15:04:05"

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect blend jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsStatusCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		offset int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.database(cmd)
			if err != nil {
				return err
			}
			jobs, total, err := store.NewJobRepository(db).List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, map[string]any{"jobs": jobs, "total": total})
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			fmt.Fprintln(out, renderJobTable(jobs))
			fmt.Fprintf(out, "Showing %d of %d\n", len(jobs), total)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum jobs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Jobs to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newJobsStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show one job as stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.database(cmd)
			if err != nil {
				return err
			}
			job, err := store.NewJobRepository(db).Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, model.NewJobStatusResponse(job))
			}
			fmt.Fprint(cmd.OutOrStdout(), formatJob(job))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderJobTable(jobs []model.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			string(j.Status),
			fmt.Sprintf("%d%%", j.Progress),
			strings.Join(j.Songs, " / "),
			j.CreatedAt.Local().Format(stampLayout),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Progress", "Songs", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func formatJob(j *model.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:       %s\n", j.ID)
	fmt.Fprintf(&b, "Status:    %s\n", j.Status)
	fmt.Fprintf(&b, "Progress:  %d%%\n", j.Progress)
	fmt.Fprintf(&b, "Songs:     %s\n", strings.Join(j.Songs, " / "))
	fmt.Fprintf(&b, "Created:   %s\n", formatStamp(j.CreatedAt))
	fmt.Fprintf(&b, "Updated:   %s\n", formatStamp(j.UpdatedAt))
	if j.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", formatStamp(*j.CompletedAt))
	}
	if j.OutputFileID != nil {
		fmt.Fprintf(&b, "Output:    %s\n", *j.OutputFileID)
	}
	if j.Error != nil {
		fmt.Fprintf(&b, "Error:     %s\n", *j.Error)
	}
	return b.String()
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format(stampLayout)
}
