package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/dispatch"
	"github.com/luminabi/lumina/errors"
	luminatesting "github.com/luminabi/lumina/internal/testing"
	"github.com/luminabi/lumina/queue"
	"github.com/luminabi/lumina/schedule"
	"github.com/luminabi/lumina/tasks"
	"github.com/luminabi/lumina/worker"
)

type recordingSender struct {
	kind schedule.TargetKind
	sent []string
	fail error
}

func (s *recordingSender) Kind() schedule.TargetKind { return s.kind }

func (s *recordingSender) Send(ctx context.Context, target schedule.Target, artifact *delivery.Artifact) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, target.ID)
	return nil
}

// The full pipeline: a Monday 09:00 schedule fires, the dispatcher queues
// exactly one job, a worker renders it and fans it out, every target gets
// exactly one delivery, and the job lands in the completed state with a
// result attached.
func TestScheduledDeliveryEndToEnd(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	log := zap.NewNop().Sugar()

	schedules := schedule.NewStore(db)
	jobs := queue.NewStore(db)
	results := delivery.NewStore(db)

	emailSender := &recordingSender{kind: schedule.TargetEmail}
	chatSender := &recordingSender{kind: schedule.TargetChat}
	orchestrator := delivery.NewOrchestrator(results, log, emailSender, chatSender)

	renderer := &fakeRenderer{artifact: &delivery.Artifact{
		ContentType: "image/png",
		Data:        []byte("png-bytes"),
		Filename:    "weekly-revenue.png",
	}}

	registry := worker.NewHandlerRegistry()
	tasks.RegisterAll(registry, renderer, &fakeExporter{}, &fakeValidator{}, orchestrator, &fakeUploader{}, log)

	sched := &schedule.Schedule{
		ID:            uuid.New().String(),
		Name:          "weekly revenue",
		ResourceKind:  "dashboard",
		ResourceID:    "dash-42",
		CronExpr:      "0 9 * * 1",
		Timezone:      "UTC",
		Enabled:       true,
		Format:        schedule.FormatImage,
		SuccessPolicy: schedule.PolicyAll,
		Targets: []schedule.Target{
			{ID: "t-email", Kind: schedule.TargetEmail, Email: &schedule.EmailOptions{Recipients: []string{"a@b.c"}}},
			{ID: "t-chat", Kind: schedule.TargetChat, Chat: &schedule.ChatOptions{WebhookURL: "https://hook"}},
		},
		CreatedBy: "user-1",
	}
	require.NoError(t, schedules.Create(sched))
	_, err := db.Exec(`UPDATE schedules SET updated_at = ? WHERE id = ?`,
		time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC).Format(time.RFC3339), sched.ID)
	require.NoError(t, err)

	dispatcher := dispatch.NewDispatcher(context.Background(), schedules, jobs, tasks.BuildPayload,
		dispatch.DefaultConfig(), log)

	// Monday 09:00 has passed; two ticks must still produce one job.
	now := time.Date(2026, 8, 24, 9, 0, 30, 0, time.UTC)
	require.NoError(t, dispatcher.Tick(now))
	require.NoError(t, dispatcher.Tick(now.Add(10*time.Second)))

	queued, err := jobs.ListRecent("", 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	job := queued[0]
	assert.Equal(t, queue.TaskRenderAndDeliver, job.TaskType)

	pool := worker.NewPool(context.Background(), jobs, registry, worker.PoolConfig{
		Workers:           1,
		PollInterval:      10 * time.Millisecond,
		LeaseDuration:     5 * time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
	}, log)
	pool.Start()
	defer pool.Stop()

	var done *queue.Job
	require.Eventually(t, func() bool {
		done, err = jobs.GetJob(job.ID)
		return err == nil && done.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, queue.StateCompleted, done.State)
	assert.JSONEq(t, `{"delivered":2,"failed":0}`, string(done.Result))

	assert.Equal(t, []string{"t-email"}, emailSender.sent)
	assert.Equal(t, []string{"t-chat"}, chatSender.sent)

	persisted, err := results.ListByJob(job.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

// A failing target under the "all" policy retries the whole job, and the
// successful target is re-delivered on the next attempt.
func TestScheduledDeliveryRetriesUnderAllPolicy(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	log := zap.NewNop().Sugar()

	jobs := queue.NewStore(db)
	jobs.SetBackoff(time.Millisecond, time.Millisecond)
	results := delivery.NewStore(db)

	emailSender := &recordingSender{kind: schedule.TargetEmail}
	chatSender := &recordingSender{kind: schedule.TargetChat, fail: errors.New("webhook returned 502")}
	orchestrator := delivery.NewOrchestrator(results, log, emailSender, chatSender)

	renderer := &fakeRenderer{artifact: &delivery.Artifact{ContentType: "image/png", Data: []byte("png")}}
	registry := worker.NewHandlerRegistry()
	registry.Register(tasks.NewRenderAndDeliverHandler(renderer, orchestrator, log))

	sched := &schedule.Schedule{
		ID: uuid.New().String(), Name: "weekly revenue",
		ResourceKind: "dashboard", ResourceID: "dash-42",
		CronExpr: "0 9 * * 1", Timezone: "UTC", Enabled: true,
		Format: schedule.FormatImage, SuccessPolicy: schedule.PolicyAll,
		Targets: []schedule.Target{
			{ID: "t-email", Kind: schedule.TargetEmail, Email: &schedule.EmailOptions{Recipients: []string{"a@b.c"}}},
			{ID: "t-chat", Kind: schedule.TargetChat, Chat: &schedule.ChatOptions{WebhookURL: "https://hook"}},
		},
	}
	taskType, raw, err := tasks.BuildPayload(sched, time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	job := &queue.Job{ScheduleID: sched.ID, DueAt: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), TaskType: taskType, Payload: raw, MaxAttempts: 2}
	require.NoError(t, jobs.Enqueue(job))

	pool := worker.NewPool(context.Background(), jobs, registry, worker.PoolConfig{
		Workers:           1,
		PollInterval:      10 * time.Millisecond,
		LeaseDuration:     5 * time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
	}, log)
	pool.Start()
	defer pool.Stop()

	var done *queue.Job
	require.Eventually(t, func() bool {
		var err error
		done, err = jobs.GetJob(job.ID)
		return err == nil && done.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, queue.StateError, done.State)
	assert.Equal(t, 2, done.Attempts)
	assert.Contains(t, done.LastError, "delivery failed")

	// The healthy target was attempted on both tries.
	assert.Equal(t, []string{"t-email", "t-email"}, emailSender.sent)

	persisted, err := results.ListByJob(job.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 2, "latest attempt keeps one outcome per target")
}
