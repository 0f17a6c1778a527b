// Package queue is the durable job queue backing the scheduler. Jobs are
// rows in SQLite; workers claim them with time-bounded leases so a crashed
// worker's job becomes claimable again once its lease expires.
package queue

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a job.
type JobState string

const (
	// StateScheduled means the job is waiting to be claimed.
	StateScheduled JobState = "scheduled"
	// StateRunning means a worker holds an active lease on the job.
	StateRunning JobState = "running"
	// StateCompleted is terminal success.
	StateCompleted JobState = "completed"
	// StateError is terminal failure: attempts exhausted, a permanent
	// error, or cancellation.
	StateError JobState = "error"
)

// TaskType names the work a job carries. Handlers register under these.
type TaskType string

const (
	TaskRenderAndDeliver    TaskType = "render-and-deliver"
	TaskExportCSVAndDeliver TaskType = "export-csv-and-deliver"
	TaskUploadToSpreadsheet TaskType = "upload-to-spreadsheet"
	TaskValidateProject     TaskType = "validate-project"
)

// Job is one unit of queued work.
//
// DueAt is the fire time the job was enqueued for and never changes; it is
// the dedup identity together with ScheduleID. NotBefore carries retry
// backoff and moves forward on each requeue. ScheduleID is empty for
// ad-hoc jobs.
type Job struct {
	ID         string
	ScheduleID string
	DueAt      time.Time
	NotBefore  time.Time
	TaskType   TaskType
	Payload    json.RawMessage

	State       JobState
	Attempts    int
	MaxAttempts int

	WorkerID        string
	LeaseExpiresAt  time.Time
	CancelRequested bool

	Result    json.RawMessage
	LastError string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	UpdatedAt   time.Time
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.State == StateCompleted || j.State == StateError
}
