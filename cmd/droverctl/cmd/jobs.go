package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/ternarybob/drover/internal/models"
)

func newJobsCommand(opts *options) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Create, inspect and manage jobs",
	}
	jobs.AddCommand(
		newJobsCreateCommand(opts),
		newJobsListCommand(opts),
		newJobsGetCommand(opts),
		newJobsCancelCommand(opts),
		newJobsRetryCommand(opts),
	)
	return jobs
}

func newJobsCreateCommand(opts *options) *cobra.Command {
	var (
		spec models.JobSpec
		ai   bool
	)

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a single job",
		Long: `Create a single job.

Example:
  droverctl jobs create --url https://example.com --name home --priority 8 --tags nightly,smoke`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Config.Automation.UseAIScenario = ai
			spec.CreatedBy = "droverctl"
			job, err := opts.client().CreateJob(cmd.Context(), spec)
			if err != nil {
				return err
			}
			cmd.Printf("✓ Job created\nJob ID: %s\nStatus: %s\n", job.ID, job.Status)
			return nil
		},
	}

	flags := create.Flags()
	flags.StringVar(&spec.URL, "url", "", "Target URL (required)")
	flags.StringVarP(&spec.Name, "name", "n", "", "Job name")
	flags.IntVar(&spec.Priority, "priority", models.DefaultPriority, "Priority 1..10")
	flags.StringSliceVar(&spec.Tags, "tags", nil, "Comma separated tags")
	flags.StringVar(&spec.Config.Automation.Intent, "intent", "", "Scenario intent")
	flags.StringVar(&spec.Config.Automation.Region, "region", "", "Fingerprint region")
	flags.BoolVar(&ai, "ai", false, "Generate the scenario with the LLM")
	_ = create.MarkFlagRequired("url")
	return create
}

func newJobsListCommand(opts *options) *cobra.Command {
	var (
		status string
		tags   []string
		worker string
		page   int
		limit  int
	)

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			if len(tags) > 0 {
				query.Set("tags", strings.Join(tags, ","))
			}
			if worker != "" {
				query.Set("assignedWorker", worker)
			}
			if page > 0 {
				query.Set("page", strconv.Itoa(page))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}

			list, pagination, err := opts.client().ListJobs(cmd.Context(), query)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tWORKER\tURL")
			for _, job := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", job.ID, job.Status, job.Priority, job.AssignedWorker, job.URL)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			cmd.Printf("page %d of %d (%d jobs)\n", pagination.Page, pagination.TotalPages, pagination.TotalItems)
			return nil
		},
	}

	flags := list.Flags()
	flags.StringVarP(&status, "status", "s", "", "Filter by status")
	flags.StringSliceVar(&tags, "tags", nil, "Filter by tags (all must match)")
	flags.StringVar(&worker, "worker", "", "Filter by assigned worker")
	flags.IntVar(&page, "page", 0, "Page number")
	flags.IntVar(&limit, "limit", 0, "Page size (max 100)")
	return list
}

func newJobsGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job and its execution log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := opts.client().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cmd.Printf("Job:      %s (%s)\n", job.ID, job.Name)
			cmd.Printf("URL:      %s\n", job.URL)
			cmd.Printf("Status:   %s\n", job.Status)
			cmd.Printf("Priority: %d\n", job.Priority)
			cmd.Printf("Attempts: %d\n", job.Execution.Attempts)
			if job.AssignedWorker != "" {
				cmd.Printf("Worker:   %s\n", job.AssignedWorker)
			}
			if job.CancelReason != "" {
				cmd.Printf("Reason:   %s\n", job.CancelReason)
			}
			for _, entry := range job.Execution.Logs {
				cmd.Printf("  %s [%s] %s\n", entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Level, entry.Message)
			}
			return nil
		},
	}
}

func newJobsCancelCommand(opts *options) *cobra.Command {
	var reason string

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending, queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := opts.client().CancelJob(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			cmd.Printf("✓ Job %s %s\n", job.ID, job.Status)
			return nil
		},
	}
	cancel.Flags().StringVar(&reason, "reason", "", "Cancellation reason")
	return cancel
}

func newJobsRetryCommand(opts *options) *cobra.Command {
	var force bool

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-queue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := opts.client().RetryJob(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			cmd.Printf("✓ Job %s %s (attempt %d)\n", job.ID, job.Status, job.Execution.Attempts+1)
			return nil
		},
	}
	retry.Flags().BoolVar(&force, "force", false, "Retry even when retries are exhausted")
	return retry
}
