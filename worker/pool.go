package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/logger"
	"github.com/luminabi/lumina/queue"
)

// PoolConfig contains configuration for the worker pool
type PoolConfig struct {
	Workers           int           `json:"workers"`            // Number of concurrent workers
	PollInterval      time.Duration `json:"poll_interval"`      // Longest idle sleep between claim attempts
	LeaseDuration     time.Duration `json:"lease_duration"`     // How long a claim stays valid without a heartbeat
	HeartbeatInterval time.Duration `json:"heartbeat_interval"` // How often running jobs renew their lease
	TaskTimeout       time.Duration `json:"task_timeout"`       // Soft per-job execution deadline (0 disables)
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:           4,
		PollInterval:      time.Second,
		LeaseDuration:     5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		TaskTimeout:       4 * time.Minute,
	}
}

// idleBackoffs spaces out claim attempts while the queue is empty. Each
// consecutive empty claim moves one step further; any claimed job resets
// to the front.
var idleBackoffs = []time.Duration{
	0,
	10 * time.Millisecond,
	100 * time.Millisecond,
	time.Second,
	5 * time.Second,
}

// Pool manages a set of workers that claim and execute queued jobs.
// Several pools may run against the same database; the queue's atomic
// claim keeps them from stepping on each other.
type Pool struct {
	store    *queue.Store
	registry *HandlerRegistry
	config   PoolConfig
	name     string

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	activeWorkers int
	jobsProcessed int
}

// NewPool creates a worker pool. Callers must register handlers on the
// registry before calling Start().
func NewPool(ctx context.Context, store *queue.Store, registry *HandlerRegistry, cfg PoolConfig, log *zap.SugaredLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPoolConfig().PollInterval
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultPoolConfig().LeaseDuration
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultPoolConfig().HeartbeatInterval
	}
	poolCtx, cancel := context.WithCancel(ctx)

	hostname, _ := os.Hostname()
	return &Pool{
		store:     store,
		registry:  registry,
		config:    cfg,
		name:      fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		parentCtx: ctx,
		ctx:       poolCtx,
		cancel:    cancel,
		logger:    log,
	}
}

// Start spawns the workers. Jobs orphaned by a previous crash need no
// recovery pass here: their leases expire and ClaimNext picks them up.
//
// Goroutines spawned here capture the context under the mutex; workers
// from a timed-out Stop never see a later generation's context.
func (p *Pool) Start() {
	p.mu.Lock()
	select {
	case <-p.ctx.Done():
		// Restart after Stop(): recreate the worker context.
		p.ctx, p.cancel = context.WithCancel(p.parentCtx)
	default:
	}
	ctx := p.ctx
	p.mu.Unlock()

	if warning := p.checkMemoryPressure(); warning != "" {
		p.logger.Warnw("Memory pressure warning", "warning", warning, "workers", p.config.Workers)
	}

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Add(1)
	go p.reportMetrics(ctx)

	p.logger.Infow("Worker pool started",
		"pool", p.name,
		"workers", p.config.Workers,
		"handlers", p.registry.Types(),
	)
}

// Stop cancels all workers and waits for in-flight jobs to finish their
// current heartbeat cycle and fail over cleanly. Uses a timeout so a
// stuck handler cannot block shutdown; its lease will expire and another
// worker will reclaim the job.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infow("Worker pool stopped", "pool", p.name)
	case <-time.After(30 * time.Second):
		p.logger.Warnw("Worker pool stop timed out, jobs will be reclaimed by lease expiry", "pool", p.name)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	workerID := fmt.Sprintf("%s-%d", p.name, id)
	idle := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.ClaimNext(workerID, p.config.LeaseDuration)
		if err != nil {
			select {
			case <-ctx.Done():
				// Shutdown races often surface as database errors.
				return
			default:
			}
			p.logger.Errorw("Worker failed to claim job", "worker_id", workerID, "error", err)
			p.sleep(ctx, p.config.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.idleBackoff(idle))
			if idle < len(idleBackoffs)-1 {
				idle++
			}
			continue
		}
		idle = 0

		p.mu.Lock()
		p.activeWorkers++
		p.jobsProcessed++
		p.mu.Unlock()

		p.runJob(ctx, workerID, job)

		p.mu.Lock()
		p.activeWorkers--
		p.mu.Unlock()
	}
}

// idleBackoff returns the next idle sleep with jitter, capped at the
// configured poll interval.
func (p *Pool) idleBackoff(idle int) time.Duration {
	d := idleBackoffs[idle]
	if d > p.config.PollInterval {
		d = p.config.PollInterval
	}
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// sleep waits for d or until the pool shuts down.
func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// metricsInterval paces the periodic pool status report.
const metricsInterval = time.Minute

// reportMetrics logs pool and system resource usage until the pool shuts
// down.
func (p *Pool) reportMetrics(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := p.GetSystemMetrics()
			p.logger.Infow("Worker pool status",
				"pool", p.name,
				"workers_active", m.WorkersActive,
				"workers_total", m.WorkersTotal,
				"jobs_processed", m.JobsProcessed,
				"memory_used_gb", m.MemoryUsedGB,
				"memory_percent", m.MemoryPercent,
			)
		}
	}
}

// runJob executes one claimed job end to end: heartbeats, handler
// dispatch, panic isolation, and the terminal state transition.
func (p *Pool) runJob(ctx context.Context, workerID string, job *queue.Job) {
	log := p.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldWorkerID, workerID,
		logger.FieldTaskType, job.TaskType,
		logger.FieldAttempt, job.Attempts,
	)

	// Cancellation requested while the job sat in the queue: finish it
	// without running the handler.
	if job.CancelRequested {
		if err := p.store.Fail(job.ID, workerID, errors.Wrap(errors.ErrCancelled, "cancelled before execution")); err != nil {
			log.Warnw("Failed to finish cancelled job", "error", err)
		}
		log.Infow("Job cancelled before execution")
		return
	}

	handler := p.registry.Get(job.TaskType)
	if handler == nil {
		err := errors.NewConfiguration("no handler registered for task type %q", job.TaskType)
		if failErr := p.store.Fail(job.ID, workerID, err); failErr != nil {
			log.Warnw("Failed to record missing-handler error", "error", failErr)
		}
		log.Errorw("No handler for job", "error", err)
		return
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if p.config.TaskTimeout > 0 {
		var cancelTimeout context.CancelFunc
		jobCtx, cancelTimeout = context.WithTimeoutCause(jobCtx, p.config.TaskTimeout,
			errors.Newf("task exceeded %s timeout", p.config.TaskTimeout))
		defer cancelTimeout()
	}

	hbDone := make(chan struct{})
	go p.heartbeat(jobCtx, cancel, workerID, job.ID, hbDone)

	start := time.Now()
	log.Infow("Job started")

	result, execErr := p.execute(jobCtx, handler, job)
	cancel(nil)
	<-hbDone

	duration := time.Since(start).Milliseconds()

	// The lease was lost mid-flight: another worker owns the job now, so
	// any state transition from here would clobber theirs.
	if cause := context.Cause(jobCtx); errors.IsLeaseLost(cause) {
		log.Warnw("Abandoning job, lease lost", "duration_ms", duration)
		return
	}

	if execErr == nil {
		if err := p.store.Complete(job.ID, workerID, result); err != nil {
			log.Warnw("Failed to complete job", "error", err, "duration_ms", duration)
			return
		}
		log.Infow("Job completed", "duration_ms", duration)
		return
	}

	// Prefer the cancellation cause over the handler's wrapped ctx error
	// so cancellations and timeouts are classified correctly.
	if cause := context.Cause(jobCtx); cause != nil && errors.Is(execErr, context.Canceled) {
		execErr = cause
	} else if errors.Is(execErr, context.DeadlineExceeded) {
		execErr = errors.Transient(execErr, "task timed out")
	}

	if err := p.store.Fail(job.ID, workerID, execErr); err != nil {
		log.Warnw("Failed to record job failure", "error", err, "duration_ms", duration)
		return
	}
	log.Warnw("Job failed",
		"error", execErr,
		"retryable", errors.IsRetryable(execErr),
		"duration_ms", duration,
	)
}

// execute runs the handler with panic isolation. A panicking handler
// fails its job like any other error instead of taking the worker down.
func (p *Pool) execute(ctx context.Context, handler JobHandler, job *queue.Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panicked: %v", r)
		}
	}()
	return handler.Execute(ctx, job)
}

// heartbeat renews the job's lease until ctx is cancelled. It cancels the
// job context with a typed cause when the lease is lost or cancellation
// is requested, which is what handlers observe through ctx.Done().
func (p *Pool) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, workerID, jobID string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelRequested, err := p.store.Heartbeat(jobID, workerID, p.config.LeaseDuration)
			if errors.IsLeaseLost(err) {
				cancel(err)
				return
			}
			if err != nil {
				p.logger.Warnw("Heartbeat failed", "job_id", jobID, "worker_id", workerID, "error", err)
				continue
			}
			if cancelRequested {
				cancel(errors.Wrap(errors.ErrCancelled, "cancellation requested"))
				return
			}
		}
	}
}
