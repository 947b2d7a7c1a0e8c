package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealer-sync/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect upload job history",
	Long:  "Commands for listing and viewing upload jobs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.JobFilter{Status: model.JobStatus(status), Limit: limit}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of an upload job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		format, _ := cmd.Flags().GetString("format")
		return writeStructured(os.Stdout, format, job)
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by job status (processing, done, error)")
	jobsListCmd.Flags().Duration("since", 0, "only jobs created within this window (e.g. 24h)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsShowCmd.Flags().String("format", "json", "output format: json or yaml")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}
