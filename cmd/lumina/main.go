package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luminabi/lumina/cmd/lumina/commands"
	"github.com/luminabi/lumina/logger"
)

var rootCmd = &cobra.Command{
	Use:   "lumina-scheduler",
	Short: "Lumina scheduler - recurring chart and dashboard deliveries",
	Long: `Lumina scheduler - recurring chart and dashboard deliveries.

The scheduler evaluates cron-based delivery schedules, queues jobs
durably in SQLite, and runs them through a worker pool that renders
charts and dashboards and delivers them to email, chat, and
spreadsheet targets.

Examples:
  lumina-scheduler serve                     # Run dispatcher and workers in foreground
  lumina-scheduler schedules ls              # List delivery schedules
  lumina-scheduler trigger validate proj-1   # Queue an ad-hoc project validation
  lumina-scheduler status <job-id> --wait    # Watch a job until it finishes
  lumina-scheduler jobs ls --state error     # List failed jobs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ./lumina.toml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SchedulesCmd)
	rootCmd.AddCommand(commands.TriggerCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.JobsCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
