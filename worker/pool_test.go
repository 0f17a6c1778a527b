package worker_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminabi/lumina/errors"
	luminatesting "github.com/luminabi/lumina/internal/testing"
	"github.com/luminabi/lumina/queue"
	"github.com/luminabi/lumina/worker"
)

type fakeHandler struct {
	taskType queue.TaskType
	execute  func(ctx context.Context, job *queue.Job) (json.RawMessage, error)
	calls    atomic.Int32
}

func (h *fakeHandler) Type() queue.TaskType { return h.taskType }

func (h *fakeHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	h.calls.Add(1)
	return h.execute(ctx, job)
}

func testPoolConfig() worker.PoolConfig {
	return worker.PoolConfig{
		Workers:           2,
		PollInterval:      10 * time.Millisecond,
		LeaseDuration:     5 * time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
		TaskTimeout:       5 * time.Second,
	}
}

func startPool(t *testing.T, store *queue.Store, handlers ...worker.JobHandler) *worker.Pool {
	t.Helper()
	registry := worker.NewHandlerRegistry()
	for _, h := range handlers {
		registry.Register(h)
	}
	pool := worker.NewPool(context.Background(), store, registry, testPoolConfig(), zap.NewNop().Sugar())
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool
}

func waitForState(t *testing.T, store *queue.Store, jobID string, state queue.JobState) *queue.Job {
	t.Helper()
	var job *queue.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = store.GetJob(jobID)
		return err == nil && job.State == state
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, state)
	return job
}

func TestPoolCompletesJob(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskValidateProject}
	require.NoError(t, store.Enqueue(job))

	handler := &fakeHandler{
		taskType: queue.TaskValidateProject,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return json.RawMessage(`{"errors":0}`), nil
		},
	}
	startPool(t, store, handler)

	got := waitForState(t, store, job.ID, queue.StateCompleted)
	assert.JSONEq(t, `{"errors":0}`, string(got.Result))
	assert.Equal(t, int32(1), handler.calls.Load())
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	store.SetBackoff(time.Millisecond, time.Millisecond)
	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskRenderAndDeliver}
	require.NoError(t, store.Enqueue(job))

	handler := &fakeHandler{taskType: queue.TaskRenderAndDeliver}
	handler.execute = func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		if handler.calls.Load() < 3 {
			return nil, errors.Transient(errors.New("smtp timeout"), "delivering")
		}
		return nil, nil
	}
	startPool(t, store, handler)

	got := waitForState(t, store, job.ID, queue.StateCompleted)
	assert.Equal(t, 3, got.Attempts)
}

func TestPoolPermanentFailureIsTerminal(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskRenderAndDeliver}
	require.NoError(t, store.Enqueue(job))

	handler := &fakeHandler{
		taskType: queue.TaskRenderAndDeliver,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return nil, errors.Permanent(errors.New("chart was deleted"), "rendering")
		},
	}
	startPool(t, store, handler)

	got := waitForState(t, store, job.ID, queue.StateError)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "chart was deleted")
}

func TestPoolSurvivesPanickingHandler(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	store.SetBackoff(time.Millisecond, time.Millisecond)

	bad := &queue.Job{DueAt: time.Now().Add(-time.Minute), TaskType: queue.TaskRenderAndDeliver, MaxAttempts: 1}
	good := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskValidateProject}
	require.NoError(t, store.Enqueue(bad))
	require.NoError(t, store.Enqueue(good))

	panicker := &fakeHandler{
		taskType: queue.TaskRenderAndDeliver,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			panic("nil dereference in renderer")
		},
	}
	ok := &fakeHandler{
		taskType: queue.TaskValidateProject,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return nil, nil
		},
	}
	startPool(t, store, panicker, ok)

	failed := waitForState(t, store, bad.ID, queue.StateError)
	assert.Contains(t, failed.LastError, "handler panicked")

	// The pool keeps working after the panic.
	waitForState(t, store, good.ID, queue.StateCompleted)
}

func TestPoolMissingHandler(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskUploadToSpreadsheet}
	require.NoError(t, store.Enqueue(job))

	other := &fakeHandler{
		taskType: queue.TaskValidateProject,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return nil, nil
		},
	}
	startPool(t, store, other)

	got := waitForState(t, store, job.ID, queue.StateError)
	assert.Contains(t, got.LastError, "no handler registered")
	assert.Equal(t, 1, got.Attempts, "configuration errors must not retry")
}

func TestPoolCooperativeCancellation(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskRenderAndDeliver}
	require.NoError(t, store.Enqueue(job))

	started := make(chan struct{})
	handler := &fakeHandler{
		taskType: queue.TaskRenderAndDeliver,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	startPool(t, store, handler)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	require.NoError(t, store.RequestCancel(job.ID))

	got := waitForState(t, store, job.ID, queue.StateError)
	assert.Contains(t, got.LastError, "cancel")
	assert.Equal(t, 1, got.Attempts, "cancellation must not retry")
}

func TestPoolCancelledBeforeExecution(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskRenderAndDeliver}
	require.NoError(t, store.Enqueue(job))
	require.NoError(t, store.RequestCancel(job.ID))

	handler := &fakeHandler{
		taskType: queue.TaskRenderAndDeliver,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return nil, nil
		},
	}
	startPool(t, store, handler)

	waitForState(t, store, job.ID, queue.StateError)
	assert.Equal(t, int32(0), handler.calls.Load(), "handler must not run for a pre-cancelled job")
}

func TestPoolStopIsGraceful(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	registry := worker.NewHandlerRegistry()
	pool := worker.NewPool(context.Background(), store, registry, testPoolConfig(), zap.NewNop().Sugar())
	pool.Start()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPoolRestartAfterStop(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	handler := &fakeHandler{
		taskType: queue.TaskValidateProject,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return nil, nil
		},
	}
	registry := worker.NewHandlerRegistry()
	registry.Register(handler)
	pool := worker.NewPool(context.Background(), store, registry, testPoolConfig(), zap.NewNop().Sugar())

	pool.Start()
	pool.Stop()

	// The second generation gets a fresh context and keeps claiming.
	pool.Start()
	defer pool.Stop()

	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskValidateProject}
	require.NoError(t, store.Enqueue(job))

	done := waitForState(t, store, job.ID, queue.StateCompleted)
	assert.Equal(t, 1, done.Attempts)
}

func TestPoolSystemMetrics(t *testing.T) {
	store := queue.NewStore(luminatesting.CreateTestDB(t))
	handler := &fakeHandler{
		taskType: queue.TaskValidateProject,
		execute: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return nil, nil
		},
	}
	pool := startPool(t, store, handler)

	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskValidateProject}
	require.NoError(t, store.Enqueue(job))
	waitForState(t, store, job.ID, queue.StateCompleted)

	m := pool.GetSystemMetrics()
	assert.Equal(t, 2, m.WorkersTotal)
	assert.GreaterOrEqual(t, m.JobsProcessed, 1)
	assert.GreaterOrEqual(t, m.WorkersActive, 0)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := worker.NewHandlerRegistry()
	h := &fakeHandler{taskType: queue.TaskValidateProject}
	registry.Register(h)
	assert.True(t, registry.Has(queue.TaskValidateProject))
	assert.Panics(t, func() { registry.Register(h) })
}
