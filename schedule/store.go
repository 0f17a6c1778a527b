package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/luminabi/lumina/errors"
)

// Store handles persistence of schedules
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// timeFormat is how all scheduler timestamps are stored: RFC3339 in UTC.
// Fixed-width and zone-free, so SQL string comparison orders correctly.
const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// Create validates and persists a new schedule. Invalid cron expressions,
// timezones, and malformed targets are rejected here, never at tick time.
func (s *Store) Create(sched *Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	targetsJSON, err := json.Marshal(sched.Targets)
	if err != nil {
		return errors.Wrap(err, "failed to marshal targets")
	}

	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	query := `
		INSERT INTO schedules (
			id, name, resource_kind, resource_id,
			cron_expr, timezone, enabled,
			format, success_policy, targets, created_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		sched.ID,
		sched.Name,
		sched.ResourceKind,
		sched.ResourceID,
		sched.CronExpr,
		sched.Timezone,
		sched.Enabled,
		string(sched.Format),
		string(sched.SuccessPolicy),
		string(targetsJSON),
		sched.CreatedBy,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule %s", sched.ID)
	}
	return nil
}

// Update validates and persists changes to an existing schedule. Edits
// take effect on the dispatcher's next tick.
func (s *Store) Update(sched *Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	targetsJSON, err := json.Marshal(sched.Targets)
	if err != nil {
		return errors.Wrap(err, "failed to marshal targets")
	}

	now := time.Now()
	query := `
		UPDATE schedules
		SET name = ?, resource_kind = ?, resource_id = ?,
		    cron_expr = ?, timezone = ?, enabled = ?,
		    format = ?, success_policy = ?, targets = ?,
		    updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query,
		sched.Name,
		sched.ResourceKind,
		sched.ResourceID,
		sched.CronExpr,
		sched.Timezone,
		sched.Enabled,
		string(sched.Format),
		string(sched.SuccessPolicy),
		string(targetsJSON),
		formatTime(now),
		sched.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule %s", sched.ID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrScheduleNotFound, "schedule %s", sched.ID)
	}
	sched.UpdatedAt = now
	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(id string) (*Schedule, error) {
	row := s.db.QueryRow(selectColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrScheduleNotFound, "schedule %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}
	return sched, nil
}

// Delete removes a schedule. Jobs already enqueued for it are untouched;
// they carry their own payload snapshot.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrScheduleNotFound, "schedule %s", id)
	}
	return nil
}

// ListEnabled returns all enabled schedules, the dispatcher's read set.
// Disabled schedules never produce jobs.
func (s *Store) ListEnabled() ([]*Schedule, error) {
	rows, err := s.db.Query(selectColumns + ` FROM schedules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enabled schedules")
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// List returns all schedules regardless of enabled state.
func (s *Store) List() ([]*Schedule, error) {
	rows, err := s.db.Query(selectColumns + ` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()

	return scanSchedules(rows)
}

const selectColumns = `SELECT id, name, resource_kind, resource_id,
	cron_expr, timezone, enabled,
	format, success_policy, targets, created_by,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var format, policy, targetsJSON string
	var createdAt, updatedAt string

	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&sched.ResourceKind,
		&sched.ResourceID,
		&sched.CronExpr,
		&sched.Timezone,
		&sched.Enabled,
		&format,
		&policy,
		&targetsJSON,
		&sched.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sched.Format = Format(format)
	sched.SuccessPolicy = SuccessPolicy(policy)

	if err := json.Unmarshal([]byte(targetsJSON), &sched.Targets); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal targets for schedule %s", sched.ID)
	}
	if sched.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for schedule %s", sched.ID)
	}
	if sched.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for schedule %s", sched.ID)
	}
	return &sched, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating schedules")
	}
	return schedules, nil
}
