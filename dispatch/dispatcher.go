// Package dispatch turns enabled schedules into queued jobs. A ticker
// evaluates every schedule's cron expression against the clock and
// enqueues a job for each fire time that has come due.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/queue"
	"github.com/luminabi/lumina/schedule"
)

// ScheduleLister is the slice of the schedule store the dispatcher reads.
type ScheduleLister interface {
	ListEnabled() ([]*schedule.Schedule, error)
}

// JobQueue is the slice of the job store the dispatcher writes.
type JobQueue interface {
	Enqueue(job *queue.Job) error
	MostRecentDueAt(scheduleID string) (time.Time, error)
	CountByState() (map[queue.JobState]int, error)
}

// PayloadBuilder snapshots a schedule into a job payload. Jobs carry the
// snapshot so they survive edits or deletion of their schedule.
type PayloadBuilder func(s *schedule.Schedule, dueAt time.Time) (queue.TaskType, []byte, error)

// Config contains configuration for the dispatcher
type Config struct {
	Interval time.Duration // How often to evaluate schedules (default: 10 seconds)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
	}
}

// Dispatcher periodically evaluates schedules and enqueues due jobs.
// Multiple dispatchers against the same database are safe: the queue's
// unique (schedule, fire time) constraint makes duplicate enqueues no-ops.
type Dispatcher struct {
	schedules ScheduleLister
	jobs      JobQueue
	payload   PayloadBuilder
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	lastQueued    int
	ticksSinceUp  int64
}

// NewDispatcher creates a dispatcher with a parent context.
func NewDispatcher(ctx context.Context, schedules ScheduleLister, jobs JobQueue, payload PayloadBuilder, cfg Config, log *zap.SugaredLogger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	dctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		schedules: schedules,
		jobs:      jobs,
		payload:   payload,
		interval:  cfg.Interval,
		ctx:       dctx,
		cancel:    cancel,
		logger:    log,
	}
}

// Start begins the dispatch loop
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	d.logger.Infow("Dispatcher started", "interval", d.interval)
}

// Stop gracefully stops the dispatch loop
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Infow("Dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	// Evaluate immediately on startup so catch-up does not wait a full
	// interval after a restart.
	if err := d.Tick(time.Now()); err != nil {
		d.logger.Warnw("Dispatch tick error", "error", err)
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case tickTime := <-ticker.C:
			d.mu.Lock()
			d.ticksSinceUp++
			tick := d.ticksSinceUp
			d.mu.Unlock()

			if err := d.Tick(tickTime); err != nil {
				d.logger.Warnw("Dispatch tick error", "error", err, "tick", tick)
			}

			d.logQueueDepth()
		}
	}
}

// Tick evaluates every enabled schedule against now and enqueues jobs for
// fire times that have come due. A schedule that missed several fires
// while the process was down gets exactly one catch-up job, for the most
// recent missed fire; older misses are skipped.
//
// A failure on one schedule never blocks the others.
func (d *Dispatcher) Tick(now time.Time) error {
	scheds, err := d.schedules.ListEnabled()
	if err != nil {
		return errors.Wrap(err, "failed to list enabled schedules")
	}

	for _, s := range scheds {
		select {
		case <-d.ctx.Done():
			return d.ctx.Err()
		default:
		}

		if err := d.dispatchSchedule(s, now); err != nil {
			d.logger.Warnw("Failed to dispatch schedule",
				"schedule_id", s.ID,
				"error", err,
			)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchSchedule(s *schedule.Schedule, now time.Time) error {
	// The catch-up horizon is the newest job already enqueued for this
	// schedule. A schedule that has never fired starts from its last
	// update, so re-enabling does not backfill the disabled period.
	horizon, err := d.jobs.MostRecentDueAt(s.ID)
	if err != nil {
		return err
	}
	if horizon.IsZero() {
		horizon = s.UpdatedAt
	}

	dueAt, err := schedule.MostRecentFireTime(s.CronExpr, s.Timezone, horizon, now)
	if err != nil {
		return err
	}
	if dueAt.IsZero() {
		return nil
	}

	taskType, payload, err := d.payload(s, dueAt)
	if err != nil {
		return err
	}

	job := &queue.Job{
		ScheduleID: s.ID,
		DueAt:      dueAt,
		TaskType:   taskType,
		Payload:    payload,
	}
	err = d.jobs.Enqueue(job)
	if errors.Is(err, errors.ErrDuplicateJob) {
		// Another dispatcher got there first.
		return nil
	}
	if err != nil {
		return err
	}

	d.logger.Infow("Enqueued scheduled job",
		"job_id", job.ID,
		"schedule_id", s.ID,
		"due_at", dueAt,
		"task_type", taskType,
	)
	return nil
}

func (d *Dispatcher) logQueueDepth() {
	counts, err := d.jobs.CountByState()
	if err != nil {
		d.logger.Warnw("Failed to count queued jobs", "error", err)
		return
	}

	active := counts[queue.StateScheduled] + counts[queue.StateRunning]
	d.mu.Lock()
	changed := active != d.lastQueued
	d.lastQueued = active
	d.mu.Unlock()
	if !changed {
		return
	}

	d.logger.Debugw("Queue depth",
		"scheduled", counts[queue.StateScheduled],
		"running", counts[queue.StateRunning],
	)
}
