package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/errors"
	luminatesting "github.com/luminabi/lumina/internal/testing"
	"github.com/luminabi/lumina/queue"
	"github.com/luminabi/lumina/schedule"
)

type fakeSender struct {
	kind schedule.TargetKind
	fail map[string]error // target ID -> error to return
}

func (s *fakeSender) Kind() schedule.TargetKind { return s.kind }

func (s *fakeSender) Send(ctx context.Context, target schedule.Target, artifact *delivery.Artifact) error {
	if err, ok := s.fail[target.ID]; ok {
		return err
	}
	return nil
}

var testArtifact = &delivery.Artifact{
	Title:       "Weekly revenue",
	Filename:    "weekly-revenue.png",
	ContentType: "image/png",
	Data:        []byte("png-bytes"),
	URL:         "https://lumina.example.com/dashboards/42",
}

func threeTargets() []schedule.Target {
	return []schedule.Target{
		{ID: "t1", Kind: schedule.TargetEmail, Email: &schedule.EmailOptions{Recipients: []string{"a@b.c"}}},
		{ID: "t2", Kind: schedule.TargetChat, Chat: &schedule.ChatOptions{WebhookURL: "https://hook"}},
		{ID: "t3", Kind: schedule.TargetEmail, Email: &schedule.EmailOptions{Recipients: []string{"d@e.f"}}},
	}
}

// enqueueTestJob creates a job row so delivery results have a parent.
func enqueueTestJob(t *testing.T, store *queue.Store) *queue.Job {
	t.Helper()
	job := &queue.Job{DueAt: time.Now(), TaskType: queue.TaskRenderAndDeliver}
	require.NoError(t, store.Enqueue(job))
	return job
}

func TestDeliverAllTargetsSucceed(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	store := delivery.NewStore(db)
	job := enqueueTestJob(t, queue.NewStore(db))

	o := delivery.NewOrchestrator(store, zap.NewNop().Sugar(),
		&fakeSender{kind: schedule.TargetEmail},
		&fakeSender{kind: schedule.TargetChat},
	)

	results, err := o.Deliver(context.Background(), job.ID, schedule.PolicyAll, threeTargets(), testArtifact)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Empty(t, r.Error)
	}

	persisted, err := store.ListByJob(job.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestDeliverPolicyAllFailsOnOneTarget(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	store := delivery.NewStore(db)
	job := enqueueTestJob(t, queue.NewStore(db))

	o := delivery.NewOrchestrator(store, zap.NewNop().Sugar(),
		&fakeSender{kind: schedule.TargetEmail},
		&fakeSender{kind: schedule.TargetChat, fail: map[string]error{"t2": errors.New("webhook returned 500")}},
	)

	results, err := o.Deliver(context.Background(), job.ID, schedule.PolicyAll, threeTargets(), testArtifact)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.True(t, errors.IsRetryable(err))

	// Every target was still attempted and recorded.
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "webhook returned 500")
	assert.True(t, results[2].Success)

	persisted, err := store.ListByJob(job.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestDeliverPolicyAnyToleratesFailures(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	store := delivery.NewStore(db)
	job := enqueueTestJob(t, queue.NewStore(db))

	failing := &fakeSender{kind: schedule.TargetChat, fail: map[string]error{"t2": errors.New("webhook returned 500")}}
	o := delivery.NewOrchestrator(store, zap.NewNop().Sugar(),
		&fakeSender{kind: schedule.TargetEmail}, failing)

	_, err := o.Deliver(context.Background(), job.ID, schedule.PolicyAny, threeTargets(), testArtifact)
	assert.NoError(t, err, "one success satisfies the any policy")

	// All targets failing still fails the job under any.
	allFailing := delivery.NewOrchestrator(store, zap.NewNop().Sugar(),
		&fakeSender{kind: schedule.TargetEmail, fail: map[string]error{"t1": errors.New("x"), "t3": errors.New("x")}},
		failing,
	)
	_, err = allFailing.Deliver(context.Background(), job.ID, schedule.PolicyAny, threeTargets(), testArtifact)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
}

func TestDeliverMissingSender(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	store := delivery.NewStore(db)
	job := enqueueTestJob(t, queue.NewStore(db))

	o := delivery.NewOrchestrator(store, zap.NewNop().Sugar(),
		&fakeSender{kind: schedule.TargetEmail})

	results, err := o.Deliver(context.Background(), job.ID, schedule.PolicyAll, threeTargets(), testArtifact)
	require.Error(t, err)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "no sender configured")
}

type panickingSender struct{}

func (panickingSender) Kind() schedule.TargetKind { return schedule.TargetChat }
func (panickingSender) Send(context.Context, schedule.Target, *delivery.Artifact) error {
	panic("nil webhook client")
}

func TestDeliverContainsSenderPanic(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	store := delivery.NewStore(db)
	job := enqueueTestJob(t, queue.NewStore(db))

	o := delivery.NewOrchestrator(store, zap.NewNop().Sugar(),
		&fakeSender{kind: schedule.TargetEmail}, panickingSender{})

	results, err := o.Deliver(context.Background(), job.ID, schedule.PolicyAll, threeTargets(), testArtifact)
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success, "other targets unaffected by the panic")
	assert.Contains(t, results[1].Error, "sender panicked")
	assert.True(t, results[2].Success)
}

func TestDeliverNoTargets(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	store := delivery.NewStore(db)

	o := delivery.NewOrchestrator(store, zap.NewNop().Sugar())
	results, err := o.Deliver(context.Background(), "job-1", schedule.PolicyAll, nil, testArtifact)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestStoreReplaceOnRetry(t *testing.T) {
	db := luminatesting.CreateTestDB(t)
	store := delivery.NewStore(db)

	first := &delivery.Result{JobID: "job-1", TargetID: "t1", TargetKind: schedule.TargetEmail, Success: false, Error: "smtp timeout"}
	require.NoError(t, store.Record(first))

	// A retry writes a fresh row ID; the (job, target) uniqueness makes
	// it replace the earlier outcome.
	second := &delivery.Result{JobID: "job-1", TargetID: "t1", TargetKind: schedule.TargetEmail, Success: true}
	require.NoError(t, store.Record(second))

	results, err := store.ListByJob("job-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Empty(t, results[0].Error)
}
