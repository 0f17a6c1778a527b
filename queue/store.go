package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/luminabi/lumina/errors"
)

// Default retry backoff: base * 2^(attempt-1), capped.
const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffCap  = 30 * time.Minute
)

// DefaultMaxAttempts is applied to enqueued jobs that do not set their own
// attempt limit.
const DefaultMaxAttempts = 3

// Store handles persistence of queued jobs
type Store struct {
	db          *sql.DB
	backoffBase time.Duration
	backoffCap  time.Duration
	maxAttempts int
}

// NewStore creates a new job store with default retry policy.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		backoffBase: DefaultBackoffBase,
		backoffCap:  DefaultBackoffCap,
		maxAttempts: DefaultMaxAttempts,
	}
}

// SetBackoff overrides the retry backoff parameters.
func (s *Store) SetBackoff(base, cap time.Duration) {
	s.backoffBase = base
	s.backoffCap = cap
}

// SetMaxAttempts overrides the attempt limit applied to new jobs.
func (s *Store) SetMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// Enqueue inserts a new scheduled job. Enqueueing a second job for the
// same (schedule, fire time) returns ErrDuplicateJob; ad-hoc jobs without
// a schedule are never deduplicated.
func (s *Store) Enqueue(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.NotBefore.IsZero() {
		job.NotBefore = job.DueAt
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.maxAttempts
	}
	job.State = StateScheduled

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	scheduleID := sql.NullString{String: job.ScheduleID, Valid: job.ScheduleID != ""}
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	query := `
		INSERT INTO jobs (
			id, schedule_id, due_at, not_before,
			task_type, payload, state,
			attempts, max_attempts,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		job.ID,
		scheduleID,
		formatTime(job.DueAt),
		formatTime(job.NotBefore),
		string(job.TaskType),
		payload,
		string(StateScheduled),
		job.MaxAttempts,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return errors.Wrapf(errors.ErrDuplicateJob,
				"schedule %s already has a job for %s", job.ScheduleID, formatTime(job.DueAt))
		}
		return errors.Wrap(err, "failed to enqueue job")
	}
	return nil
}

// ClaimNext atomically claims the oldest eligible job for workerID and
// returns it, or nil when nothing is due. Eligible means scheduled with
// not_before in the past, or running with an expired lease (the worker
// that held it is presumed dead). The single UPDATE makes concurrent
// claimers safe: two workers can never claim the same job.
//
// The attempt counter increments on every claim, including reclaims of
// expired leases.
func (s *Store) ClaimNext(workerID string, lease time.Duration) (*Job, error) {
	now := time.Now()
	nowStr := formatTime(now)
	query := `
		UPDATE jobs
		SET state = ?,
		    worker_id = ?,
		    lease_expires_at = ?,
		    attempts = attempts + 1,
		    started_at = COALESCE(started_at, ?),
		    updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE (state = ? AND not_before <= ?)
			   OR (state = ? AND lease_expires_at <= ?)
			ORDER BY due_at ASC
			LIMIT 1
		)
		RETURNING ` + jobColumns
	row := s.db.QueryRow(query,
		string(StateRunning),
		workerID,
		formatTime(now.Add(lease)),
		nowStr,
		nowStr,
		string(StateScheduled), nowStr,
		string(StateRunning), nowStr,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim job")
	}
	return job, nil
}

// Heartbeat extends the worker's lease and reports whether cancellation
// has been requested. Returns ErrLeaseLost when the job is no longer
// running under workerID, which means another worker reclaimed it after
// the lease expired; the caller must abandon the job immediately.
func (s *Store) Heartbeat(jobID, workerID string, lease time.Duration) (bool, error) {
	now := time.Now()
	query := `
		UPDATE jobs
		SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND worker_id = ? AND state = ?
		RETURNING cancel_requested
	`
	var cancelRequested bool
	err := s.db.QueryRow(query,
		formatTime(now.Add(lease)),
		formatTime(now),
		jobID,
		workerID,
		string(StateRunning),
	).Scan(&cancelRequested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrapf(errors.ErrLeaseLost, "job %s is not running under worker %s", jobID, workerID)
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to heartbeat job")
	}
	return cancelRequested, nil
}

// Complete transitions a running job to completed and records its result.
// Returns ErrLeaseLost if workerID no longer owns the job.
func (s *Store) Complete(jobID, workerID string, result json.RawMessage) error {
	now := time.Now()
	resultCol := sql.NullString{String: string(result), Valid: len(result) > 0}
	query := `
		UPDATE jobs
		SET state = ?, result = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND worker_id = ? AND state = ?
	`
	res, err := s.db.Exec(query,
		string(StateCompleted),
		resultCol,
		formatTime(now),
		formatTime(now),
		jobID,
		workerID,
		string(StateRunning),
	)
	if err != nil {
		return errors.Wrap(err, "failed to complete job")
	}
	return s.checkOwnership(res, jobID, workerID)
}

// Fail records a failure on a running job. Retryable errors requeue the
// job with exponential backoff until attempts are exhausted; permanent,
// configuration, and cancellation errors finish it immediately. Returns
// ErrLeaseLost if workerID no longer owns the job.
func (s *Store) Fail(jobID, workerID string, jobErr error) error {
	job, err := s.getOwned(jobID, workerID)
	if err != nil {
		return err
	}

	now := time.Now()
	msg := "unknown error"
	if jobErr != nil {
		msg = jobErr.Error()
	}

	if errors.IsRetryable(jobErr) && job.Attempts < job.MaxAttempts {
		query := `
			UPDATE jobs
			SET state = ?, not_before = ?, last_error = ?,
			    worker_id = NULL, lease_expires_at = NULL,
			    updated_at = ?
			WHERE id = ? AND worker_id = ? AND state = ?
		`
		res, err := s.db.Exec(query,
			string(StateScheduled),
			formatTime(now.Add(s.retryDelay(job.Attempts))),
			msg,
			formatTime(now),
			jobID, workerID, string(StateRunning),
		)
		if err != nil {
			return errors.Wrap(err, "failed to requeue job")
		}
		return s.checkOwnership(res, jobID, workerID)
	}

	query := `
		UPDATE jobs
		SET state = ?, last_error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND worker_id = ? AND state = ?
	`
	res, err := s.db.Exec(query,
		string(StateError),
		msg,
		formatTime(now),
		formatTime(now),
		jobID, workerID, string(StateRunning),
	)
	if err != nil {
		return errors.Wrap(err, "failed to fail job")
	}
	return s.checkOwnership(res, jobID, workerID)
}

// retryDelay doubles per completed attempt, capped.
func (s *Store) retryDelay(attempts int) time.Duration {
	delay := s.backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.backoffCap {
			return s.backoffCap
		}
	}
	if delay > s.backoffCap {
		return s.backoffCap
	}
	return delay
}

// RequestCancel sets the cooperative cancellation flag. A running worker
// observes it on its next heartbeat; a scheduled job is finished at claim
// time without running its handler. Terminal jobs are left untouched.
func (s *Store) RequestCancel(jobID string) error {
	res, err := s.db.Exec(
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), jobID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to request cancellation")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrJobNotFound, "job %s", jobID)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// MostRecentDueAt returns the due time of the schedule's newest job, used
// by the dispatcher as the catch-up horizon. Returns a zero time when the
// schedule has never fired.
func (s *Store) MostRecentDueAt(scheduleID string) (time.Time, error) {
	var dueAt string
	err := s.db.QueryRow(
		`SELECT due_at FROM jobs WHERE schedule_id = ? ORDER BY due_at DESC LIMIT 1`,
		scheduleID,
	).Scan(&dueAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to query most recent due time")
	}
	t, err := time.Parse(timeFormat, dueAt)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to parse due_at")
	}
	return t, nil
}

// ListRecent returns the newest jobs first, optionally filtered by state.
func (s *Store) ListRecent(state JobState, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if state == "" {
		rows, err = s.db.Query(
			`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at DESC, id LIMIT ?`,
			string(state), limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

// CountByState returns job counts per state for queue depth logging.
func (s *Store) CountByState() (map[JobState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[JobState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

// CleanupOldJobs deletes terminal jobs that completed before the cutoff,
// along with their delivery results. Returns the number of jobs removed.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	_, err := s.db.Exec(`
		DELETE FROM delivery_results WHERE job_id IN (
			SELECT id FROM jobs
			WHERE state IN (?, ?) AND completed_at < ?
		)`,
		string(StateCompleted), string(StateError), cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up delivery results")
	}

	res, err := s.db.Exec(
		`DELETE FROM jobs WHERE state IN (?, ?) AND completed_at < ?`,
		string(StateCompleted), string(StateError), cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up jobs")
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return deleted, nil
}

func (s *Store) getOwned(jobID, workerID string) (*Job, error) {
	job, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.State != StateRunning || job.WorkerID != workerID {
		return nil, errors.Wrapf(errors.ErrLeaseLost, "job %s is not running under worker %s", jobID, workerID)
	}
	return job, nil
}

func (s *Store) checkOwnership(res sql.Result, jobID, workerID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrLeaseLost, "job %s is not running under worker %s", jobID, workerID)
	}
	return nil
}

const jobColumns = `id, schedule_id, due_at, not_before, task_type, payload,
	state, attempts, max_attempts,
	worker_id, lease_expires_at, cancel_requested,
	result, last_error,
	created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scheduleID, payload, workerID, leaseExpiresAt sql.NullString
	var result, lastError, startedAt, completedAt sql.NullString
	var taskType, state, dueAt, notBefore, createdAt, updatedAt string

	err := row.Scan(
		&job.ID,
		&scheduleID,
		&dueAt,
		&notBefore,
		&taskType,
		&payload,
		&state,
		&job.Attempts,
		&job.MaxAttempts,
		&workerID,
		&leaseExpiresAt,
		&job.CancelRequested,
		&result,
		&lastError,
		&createdAt,
		&startedAt,
		&completedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ScheduleID = scheduleID.String
	job.TaskType = TaskType(taskType)
	job.State = JobState(state)
	job.WorkerID = workerID.String
	job.LastError = lastError.String
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}

	for _, col := range []struct {
		raw  string
		dest *time.Time
	}{
		{dueAt, &job.DueAt},
		{notBefore, &job.NotBefore},
		{leaseExpiresAt.String, &job.LeaseExpiresAt},
		{createdAt, &job.CreatedAt},
		{startedAt.String, &job.StartedAt},
		{completedAt.String, &job.CompletedAt},
		{updatedAt, &job.UpdatedAt},
	} {
		if col.raw == "" {
			continue
		}
		t, err := time.Parse(timeFormat, col.raw)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse timestamp for job %s", job.ID)
		}
		*col.dest = t
	}
	return &job, nil
}
