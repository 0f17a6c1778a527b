package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminabi/lumina/errors"
)

func TestNextFireTimeMondayNineUTC(t *testing.T) {
	// 2026-01-04 is a Sunday.
	after := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)

	next, err := NextFireTime("0 9 * * 1", "UTC", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextFireTimeStrictlyAfter(t *testing.T) {
	// A fire time exactly at `after` must not be returned again.
	fire := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	next, err := NextFireTime("0 9 * * 1", "UTC", fire)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextFireTimeMonotonic(t *testing.T) {
	// Walking `after` forward must never move the fire time backward and
	// must always return a time strictly after `after`.
	var prev time.Time
	after := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 72; i++ {
		next, err := NextFireTime("15 */2 * * *", "America/New_York", after)
		require.NoError(t, err)
		assert.True(t, next.After(after), "fire %v must be after %v", next, after)
		if !prev.IsZero() {
			assert.False(t, next.Before(prev), "fire times must be non-decreasing")
		}
		prev = next
		after = after.Add(37 * time.Minute)
	}
}

func TestNextFireTimeSkippedHourRollsForward(t *testing.T) {
	// America/New_York springs forward 2026-03-08: 02:00 EST -> 03:00 EDT,
	// so 02:30 does not exist that day. The schedule's next valid instant
	// is 02:30 the following day.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	after := time.Date(2026, 3, 8, 0, 0, 0, 0, ny)

	next, err := NextFireTime("30 2 * * *", "America/New_York", after)
	require.NoError(t, err)
	want := time.Date(2026, 3, 9, 2, 30, 0, 0, ny)
	assert.True(t, next.Equal(want), "want %v, got %v", want, next)
}

func TestNextFireTimeRepeatedHourFiresOnce(t *testing.T) {
	// America/New_York falls back 2026-11-01: 02:00 EDT -> 01:00 EST, so
	// the 01:30 wall clock occurs twice. The schedule fires at the first
	// occurrence only.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	after := time.Date(2026, 11, 1, 0, 0, 0, 0, ny)
	first, err := NextFireTime("30 1 * * *", "America/New_York", after)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Hour())
	assert.Equal(t, 30, first.Minute())
	assert.Equal(t, 1, first.Day())

	// Chaining from the first occurrence must skip the repeated 01:30 and
	// land on the next day.
	second, err := NextFireTime("30 1 * * *", "America/New_York", first)
	require.NoError(t, err)
	want := time.Date(2026, 11, 2, 1, 30, 0, 0, ny)
	assert.True(t, second.Equal(want), "want %v, got %v", want, second)
}

func TestNextFireTimeRejectsBadExpression(t *testing.T) {
	_, err := NextFireTime("not a cron", "UTC", time.Now())
	assert.True(t, errors.IsConfiguration(err))

	_, err = NextFireTime("", "UTC", time.Now())
	assert.True(t, errors.IsConfiguration(err))
}

func TestNextFireTimeRejectsBadTimezone(t *testing.T) {
	_, err := NextFireTime("0 9 * * 1", "Mars/Olympus_Mons", time.Now())
	assert.True(t, errors.IsConfiguration(err))
}

func TestNextFireTimeDescriptor(t *testing.T) {
	after := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	next, err := NextFireTime("@hourly", "UTC", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), next.UTC())
}

func TestMostRecentFireTimeSingleMiss(t *testing.T) {
	// Last fire enqueued Monday 2026-08-17; now is Wednesday 2026-08-26.
	// The Monday 2026-08-24 fire was missed and is the one due.
	after := time.Date(2026, 8, 17, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	due, err := MostRecentFireTime("0 9 * * 1", "UTC", after, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), due.UTC())
}

func TestMostRecentFireTimeCollapsesBacklog(t *testing.T) {
	// Downtime spanning two Monday fires: only the most recent is due.
	after := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	due, err := MostRecentFireTime("0 9 * * 1", "UTC", after, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), due.UTC())
}

func TestMostRecentFireTimeNoneDue(t *testing.T) {
	after := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	due, err := MostRecentFireTime("0 9 * * 1", "UTC", after, now)
	require.NoError(t, err)
	assert.True(t, due.IsZero())
}
