package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminabi/lumina/queue"
)

// JobsCmd inspects and manages the job queue.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage the job queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		store := queue.NewStore(database)
		jobs, err := store.ListRecent(queue.JobState(state), limit)
		if err != nil {
			return err
		}

		counts, err := store.CountByState()
		if err != nil {
			return err
		}
		fmt.Printf("scheduled=%d running=%d completed=%d error=%d\n\n",
			counts[queue.StateScheduled], counts[queue.StateRunning],
			counts[queue.StateCompleted], counts[queue.StateError])

		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTASK\tSTATE\tATTEMPTS\tDUE\tSCHEDULE")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				j.ID, j.TaskType, j.State, j.Attempts, j.MaxAttempts,
				j.DueAt.Format(time.RFC3339), j.ScheduleID)
		}
		return w.Flush()
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a job",
	Long: `Request cancellation of a job.

A scheduled job finishes at its next claim without running; a running job
stops at its next heartbeat. Completed and errored jobs are unaffected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := queue.NewStore(database).RequestCancel(args[0]); err != nil {
			return err
		}
		fmt.Printf("Cancellation requested for %s\n", args[0])
		return nil
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal jobs and their delivery results",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		days, _ := cmd.Flags().GetInt("older-than-days")
		removed, err := queue.NewStore(database).CleanupOldJobs(time.Duration(days) * 24 * time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d jobs older than %d days\n", removed, days)
		return nil
	},
}

func init() {
	jobsLsCmd.Flags().String("state", "", "Filter by state (scheduled, running, completed, error)")
	jobsLsCmd.Flags().Int("limit", 50, "Maximum number of jobs to list")
	jobsCleanupCmd.Flags().Int("older-than-days", 30, "Delete terminal jobs finished more than this many days ago")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}
