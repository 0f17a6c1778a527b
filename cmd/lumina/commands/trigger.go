package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminabi/lumina/queue"
	"github.com/luminabi/lumina/schedule"
	"github.com/luminabi/lumina/tasks"
)

// TriggerCmd queues ad-hoc jobs outside any schedule.
var TriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Queue ad-hoc jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var triggerValidateCmd = &cobra.Command{
	Use:   "validate <project-id>",
	Short: "Queue a project validation job",
	Long: `Queue a project validation job.

Validation checks every chart and dashboard in the project against the
current warehouse schema and stores the issues found as the job result.
Combine with --wait to block until the report is ready.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := json.Marshal(tasks.ValidatePayload{ProjectID: args[0]})
		if err != nil {
			return err
		}
		return enqueueAdHoc(cmd, queue.TaskValidateProject, payload)
	},
}

var triggerUploadCmd = &cobra.Command{
	Use:   "upload <resource-kind> <resource-id>",
	Short: "Queue a one-off spreadsheet upload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sheetID, _ := cmd.Flags().GetString("sheet")
		tabName, _ := cmd.Flags().GetString("tab")
		if sheetID == "" {
			return fmt.Errorf("--sheet is required")
		}
		payload, err := json.Marshal(tasks.UploadPayload{
			ResourceKind: args[0],
			ResourceID:   args[1],
			SheetID:      sheetID,
			TabName:      tabName,
		})
		if err != nil {
			return err
		}
		return enqueueAdHoc(cmd, queue.TaskUploadToSpreadsheet, payload)
	},
}

var triggerScheduleCmd = &cobra.Command{
	Use:   "schedule <schedule-id>",
	Short: "Run a schedule's delivery now",
	Long: `Run a schedule's delivery now, outside its cron cadence.

The job carries the schedule's current definition; the schedule's own
recurring fires are unaffected.`,
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

		sched, err := schedule.NewStore(database).Get(args[0])
		if err != nil {
			return err
		}

		taskType, payload, err := tasks.BuildPayload(sched, time.Now())
		if err != nil {
			return err
		}

		// Ad-hoc runs deliberately omit the schedule ID so they never
		// collide with the dispatcher's dedup identity.
		job := &queue.Job{
			DueAt:    time.Now(),
			TaskType: taskType,
			Payload:  payload,
		}
		store := queue.NewStore(database)
		if err := store.Enqueue(job); err != nil {
			return err
		}
		fmt.Printf("Queued job %s (%s)\n", job.ID, taskType)
		return maybeWait(cmd, store, database, job.ID)
	},
}

func enqueueAdHoc(cmd *cobra.Command, taskType queue.TaskType, payload []byte) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	job := &queue.Job{
		DueAt:    time.Now(),
		TaskType: taskType,
		Payload:  payload,
	}
	store := queue.NewStore(database)
	if err := store.Enqueue(job); err != nil {
		return err
	}
	fmt.Printf("Queued job %s (%s)\n", job.ID, taskType)
	return maybeWait(cmd, store, database, job.ID)
}

func init() {
	triggerUploadCmd.Flags().String("sheet", "", "Destination sheet ID (required)")
	triggerUploadCmd.Flags().String("tab", "", "Destination tab name")

	for _, c := range []*cobra.Command{triggerValidateCmd, triggerUploadCmd, triggerScheduleCmd} {
		c.Flags().Bool("wait", false, "Wait for the job to reach a terminal state")
		c.Flags().Duration("timeout", 5*time.Minute, "How long --wait polls before giving up")
	}

	TriggerCmd.AddCommand(triggerValidateCmd)
	TriggerCmd.AddCommand(triggerUploadCmd)
	TriggerCmd.AddCommand(triggerScheduleCmd)
}
