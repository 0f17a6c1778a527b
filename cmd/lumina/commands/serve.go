package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminabi/lumina/clients"
	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/dispatch"
	"github.com/luminabi/lumina/logger"
	"github.com/luminabi/lumina/queue"
	"github.com/luminabi/lumina/schedule"
	"github.com/luminabi/lumina/tasks"
	"github.com/luminabi/lumina/worker"
)

// ServeCmd runs the scheduler daemon: dispatcher plus worker pool.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon",
	Long: `Run the scheduler daemon in foreground mode.

The daemon will:
- Evaluate enabled schedules and queue jobs for due fire times
- Run a worker pool executing render, export, upload, and validation jobs
- Deliver artifacts to email, chat, and spreadsheet targets
- Clean up terminal jobs past the retention window
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			cfg.Scheduler.Workers = workers
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		scheduleStore := schedule.NewStore(database)
		jobStore := queue.NewStore(database)
		jobStore.SetBackoff(
			time.Duration(cfg.Scheduler.RetryBackoffBaseSeconds)*time.Second,
			time.Duration(cfg.Scheduler.RetryBackoffCapSeconds)*time.Second,
		)
		jobStore.SetMaxAttempts(cfg.Scheduler.MaxAttempts)
		resultStore := delivery.NewStore(database)

		emailClient := clients.NewEmailClient(clients.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			SiteURL:  cfg.Email.SiteURL,
		}, logger.Logger)
		chatClient := clients.NewChatClient(clients.ChatConfig{
			RequestTimeout:    time.Duration(cfg.Chat.RequestTimeoutSeconds) * time.Second,
			MessagesPerMinute: cfg.Chat.MessagesPerMinute,
		}, logger.Logger)
		sheetsClient := clients.NewSheetsClient(clients.SheetsConfig{
			BaseURL:        cfg.Sheets.BaseURL,
			APIToken:       cfg.Sheets.APIToken,
			RequestTimeout: time.Duration(cfg.Sheets.RequestTimeoutSeconds) * time.Second,
		}, logger.Logger)
		renderService := clients.NewRenderService(clients.RenderConfig{
			BaseURL:        cfg.Render.BaseURL,
			APIToken:       cfg.Render.APIToken,
			SiteURL:        cfg.Email.SiteURL,
			RequestTimeout: time.Duration(cfg.Render.RequestTimeoutSeconds) * time.Second,
		}, logger.Logger)

		orchestrator := delivery.NewOrchestrator(resultStore, logger.Logger,
			emailClient, chatClient, sheetsClient)

		registry := worker.NewHandlerRegistry()
		tasks.RegisterAll(registry, renderService, renderService, renderService,
			orchestrator, sheetsClient, logger.Logger)

		pool := worker.NewPool(ctx, jobStore, registry, worker.PoolConfig{
			Workers:           cfg.Scheduler.Workers,
			PollInterval:      time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second,
			LeaseDuration:     time.Duration(cfg.Scheduler.LeaseDurationSeconds) * time.Second,
			HeartbeatInterval: time.Duration(cfg.Scheduler.HeartbeatIntervalSeconds) * time.Second,
			TaskTimeout:       time.Duration(cfg.Scheduler.TaskTimeoutSeconds) * time.Second,
		}, logger.Logger)
		pool.Start()

		dispatcher := dispatch.NewDispatcher(ctx, scheduleStore, jobStore, tasks.BuildPayload,
			dispatch.Config{
				Interval: time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second,
			}, logger.Logger)
		dispatcher.Start()

		stopCleanup := startCleanupLoop(ctx, jobStore, cfg.Scheduler.RetentionDays)

		fmt.Println("Lumina scheduler started")
		fmt.Printf("  Database: %s\n", cfg.Database.Path)
		fmt.Printf("  Workers: %d\n", cfg.Scheduler.Workers)
		fmt.Printf("  Tick interval: %ds\n", cfg.Scheduler.TickIntervalSeconds)
		fmt.Printf("  Lease duration: %ds\n", cfg.Scheduler.LeaseDurationSeconds)
		fmt.Println("\nPress Ctrl+C for graceful shutdown")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")

		// Stop producing before stopping consumers.
		dispatcher.Stop()
		pool.Stop()
		cancel()
		stopCleanup()

		fmt.Println("Lumina scheduler stopped")
		return nil
	},
}

// startCleanupLoop deletes terminal jobs past the retention window once an
// hour. Returns a stop function.
func startCleanupLoop(ctx context.Context, jobStore *queue.Store, retentionDays int) func() {
	if retentionDays <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := jobStore.CleanupOldJobs(time.Duration(retentionDays) * 24 * time.Hour)
				if err != nil {
					logger.Warnw("Job cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					logger.Infow("Cleaned up old jobs", "deleted", deleted, "retention_days", retentionDays)
				}
			}
		}
	}()
	return func() { <-done }
}

func init() {
	ServeCmd.Flags().Int("workers", 0, "Override the configured worker count")
}
