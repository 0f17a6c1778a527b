package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Pooled connections to :memory: each see their own empty database.
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateCreatesSchema(t *testing.T) {
	conn := openMemoryDB(t)

	err := Migrate(conn, nil)
	require.NoError(t, err)

	for _, table := range []string{"schema_migrations", "schedules", "jobs", "delivery_results"} {
		var name string
		err := conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openMemoryDB(t)

	require.NoError(t, Migrate(conn, nil))
	require.NoError(t, Migrate(conn, nil))

	var count int
	err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestJobsUniqueScheduleDueConstraint(t *testing.T) {
	conn := openMemoryDB(t)
	require.NoError(t, Migrate(conn, nil))

	insert := `INSERT INTO jobs (id, schedule_id, due_at, not_before, task_type, created_at, updated_at)
		VALUES (?, ?, '2026-01-05 09:00:00', '2026-01-05 09:00:00', 'render-and-deliver', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	_, err := conn.Exec(insert, "job-1", "sched-1")
	require.NoError(t, err)

	_, err = conn.Exec(insert, "job-2", "sched-1")
	assert.Error(t, err, "same (schedule_id, due_at) must be rejected")

	// Ad-hoc jobs (NULL schedule_id) are exempt from the constraint.
	adhoc := `INSERT INTO jobs (id, schedule_id, due_at, not_before, task_type, created_at, updated_at)
		VALUES (?, NULL, '2026-01-05 09:00:00', '2026-01-05 09:00:00', 'validate-project', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	_, err = conn.Exec(adhoc, "adhoc-1")
	require.NoError(t, err)
	_, err = conn.Exec(adhoc, "adhoc-2")
	require.NoError(t, err)
}
