package queue_test

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/queue"
)

// Error paths the real SQLite driver won't produce on demand.

func TestEnqueueDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(errors.New("disk I/O error"))

	store := queue.NewStore(db)
	err = store.Enqueue(&queue.Job{
		ScheduleID: "sched-1",
		DueAt:      time.Now(),
		TaskType:   queue.TaskRenderAndDeliver,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enqueue job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE jobs").WillReturnError(errors.New("database is locked"))

	store := queue.NewStore(db)
	_, err = store.ClaimNext("w1", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to claim job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStateDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT state, COUNT").WillReturnError(errors.New("database is locked"))

	store := queue.NewStore(db)
	_, err = store.CountByState()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to count jobs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
