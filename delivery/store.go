package delivery

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/schedule"
)

// Store handles persistence of delivery results
type Store struct {
	db *sql.DB
}

// NewStore creates a new delivery result store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const timeFormat = time.RFC3339

// Record writes one delivery outcome. A retried job re-delivers to its
// targets, so the latest attempt's outcome replaces the previous one for
// the same (job, target) pair.
func (s *Store) Record(r *Result) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.SentAt.IsZero() {
		r.SentAt = time.Now()
	}

	errCol := sql.NullString{String: r.Error, Valid: r.Error != ""}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO delivery_results (
			id, job_id, target_id, target_kind, success, error, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.JobID,
		r.TargetID,
		string(r.TargetKind),
		r.Success,
		errCol,
		r.SentAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record delivery result for target %s", r.TargetID)
	}
	return nil
}

// ListByJob returns all delivery results for a job, in target order.
func (s *Store) ListByJob(jobID string) ([]*Result, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, target_id, target_kind, success, error, sent_at
		FROM delivery_results WHERE job_id = ? ORDER BY target_id`,
		jobID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list delivery results for job %s", jobID)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var r Result
		var kind, sentAt string
		var errCol sql.NullString
		if err := rows.Scan(&r.ID, &r.JobID, &r.TargetID, &kind, &r.Success, &errCol, &sentAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan delivery result")
		}
		r.TargetKind = schedule.TargetKind(kind)
		r.Error = errCol.String
		if r.SentAt, err = time.Parse(timeFormat, sentAt); err != nil {
			return nil, errors.Wrap(err, "failed to parse sent_at")
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating delivery results")
	}
	return results, nil
}
