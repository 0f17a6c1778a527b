package commands

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/queue"
)

// StatusCmd reports the state of a single job.
var StatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's state and delivery outcomes",
	Args:  cobra.ExactArgs(1),
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

		store := queue.NewStore(database)
		jobID := args[0]

		wait, _ := cmd.Flags().GetBool("wait")
		if wait {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if err := waitForJob(store, jobID, timeout); err != nil {
				// Show what we have even when the wait gave up.
				if printErr := printJob(store, database, jobID); printErr != nil {
					return printErr
				}
				return err
			}
		}
		return printJob(store, database, jobID)
	},
}

func init() {
	StatusCmd.Flags().Bool("wait", false, "Wait for the job to reach a terminal state")
	StatusCmd.Flags().Duration("timeout", 5*time.Minute, "How long --wait polls before giving up")
}

// maybeWait honors a command's --wait flag after enqueueing, then prints
// the job the same way status does.
func maybeWait(cmd *cobra.Command, store *queue.Store, database *sql.DB, jobID string) error {
	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		return nil
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if err := waitForJob(store, jobID, timeout); err != nil {
		return err
	}
	return printJob(store, database, jobID)
}

// waitForJob polls until the job reaches a terminal state or the deadline
// elapses. A plain loop with a deadline keeps the wait bounded no matter
// how long the job runs.
func waitForJob(store *queue.Store, jobID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 2 * time.Second
	for {
		job, err := store.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.IsTerminal() {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(errors.ErrPollTimeout, "job %s still %s after %s", jobID, job.State, timeout)
		}
		// Jitter keeps many watchers from polling in lockstep.
		time.Sleep(interval + time.Duration(rand.Int63n(int64(interval/2))))
	}
}

func printJob(store *queue.Store, database *sql.DB, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", job.ID)
	fmt.Fprintf(w, "Task:\t%s\n", job.TaskType)
	fmt.Fprintf(w, "State:\t%s\n", job.State)
	fmt.Fprintf(w, "Attempts:\t%d/%d\n", job.Attempts, job.MaxAttempts)
	if job.ScheduleID != "" {
		fmt.Fprintf(w, "Schedule:\t%s\n", job.ScheduleID)
	}
	fmt.Fprintf(w, "Due:\t%s\n", job.DueAt.Format(time.RFC3339))
	if !job.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started:\t%s\n", job.StartedAt.Format(time.RFC3339))
	}
	if !job.CompletedAt.IsZero() {
		fmt.Fprintf(w, "Finished:\t%s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if job.CancelRequested {
		fmt.Fprintf(w, "Cancel requested:\tyes\n")
	}
	if job.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", job.LastError)
	}
	if len(job.Result) > 0 {
		fmt.Fprintf(w, "Result:\t%s\n", string(job.Result))
	}
	w.Flush()

	results, err := delivery.NewStore(database).ListByJob(jobID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	fmt.Println("\nDeliveries:")
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tKIND\tOUTCOME\tSENT")
	for _, r := range results {
		outcome := "ok"
		if !r.Success {
			outcome = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.TargetID, r.TargetKind, outcome, r.SentAt.Format(time.RFC3339))
	}
	w.Flush()
	return nil
}
