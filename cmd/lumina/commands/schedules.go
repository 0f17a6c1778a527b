package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/luminabi/lumina/schedule"
)

// SchedulesCmd manages delivery schedules.
var SchedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage delivery schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var schedulesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List delivery schedules",
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

		schedules, err := schedule.NewStore(database).List()
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCRON\tTZ\tENABLED\tFORMAT\tTARGETS")
		for _, s := range schedules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%d\n",
				s.ID, s.Name, s.CronExpr, s.Timezone, s.Enabled, s.Format, len(s.Targets))
		}
		return w.Flush()
	},
}

var schedulesCreateCmd = &cobra.Command{
	Use:   "create <file.json>",
	Short: "Create a schedule from a JSON definition",
	Long: `Create a schedule from a JSON definition.

The file holds one schedule object:

  {
    "id": "weekly-revenue",
    "name": "Weekly revenue",
    "resource_kind": "dashboard",
    "resource_id": "dash-42",
    "cron_expr": "0 9 * * 1",
    "timezone": "Europe/Madrid",
    "enabled": true,
    "format": "image",
    "success_policy": "all",
    "targets": [
      {"id": "t1", "kind": "email", "email": {"recipients": ["team@example.com"]}}
    ]
  }`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read schedule file: %w", err)
		}
		var def scheduleDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return fmt.Errorf("failed to parse schedule file: %w", err)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		sched := def.toSchedule()
		if err := schedule.NewStore(database).Create(sched); err != nil {
			return err
		}
		fmt.Printf("Created schedule %s\n", sched.ID)
		return nil
	},
}

var schedulesEnableCmd = &cobra.Command{
	Use:   "enable <schedule-id>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], true)
	},
}

var schedulesDisableCmd = &cobra.Command{
	Use:   "disable <schedule-id>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], false)
	},
}

var schedulesRmCmd = &cobra.Command{
	Use:   "rm <schedule-id>",
	Short: "Delete a schedule",
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

		if err := schedule.NewStore(database).Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted schedule %s\n", args[0])
		return nil
	},
}

func setEnabled(cmd *cobra.Command, id string, enabled bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	sched, err := store.Get(id)
	if err != nil {
		return err
	}
	sched.Enabled = enabled
	if err := store.Update(sched); err != nil {
		return err
	}
	if enabled {
		fmt.Printf("Enabled schedule %s\n", id)
	} else {
		fmt.Printf("Disabled schedule %s\n", id)
	}
	return nil
}

// scheduleDefinition is the JSON shape accepted by `schedules create`.
type scheduleDefinition struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	ResourceKind  string            `json:"resource_kind"`
	ResourceID    string            `json:"resource_id"`
	CronExpr      string            `json:"cron_expr"`
	Timezone      string            `json:"timezone"`
	Enabled       bool              `json:"enabled"`
	Format        string            `json:"format"`
	SuccessPolicy string            `json:"success_policy"`
	Targets       []schedule.Target `json:"targets"`
	CreatedBy     string            `json:"created_by"`
}

func (d *scheduleDefinition) toSchedule() *schedule.Schedule {
	policy := schedule.SuccessPolicy(d.SuccessPolicy)
	if d.SuccessPolicy == "" {
		policy = schedule.PolicyAll
	}
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &schedule.Schedule{
		ID:            id,
		Name:          d.Name,
		ResourceKind:  d.ResourceKind,
		ResourceID:    d.ResourceID,
		CronExpr:      d.CronExpr,
		Timezone:      d.Timezone,
		Enabled:       d.Enabled,
		Format:        schedule.Format(d.Format),
		SuccessPolicy: policy,
		Targets:       d.Targets,
		CreatedBy:     d.CreatedBy,
	}
}

func init() {
	SchedulesCmd.AddCommand(schedulesLsCmd)
	SchedulesCmd.AddCommand(schedulesCreateCmd)
	SchedulesCmd.AddCommand(schedulesEnableCmd)
	SchedulesCmd.AddCommand(schedulesDisableCmd)
	SchedulesCmd.AddCommand(schedulesRmCmd)
}
