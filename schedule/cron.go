package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/luminabi/lumina/errors"
)

// Standard 5-field cron syntax plus @hourly/@daily/... descriptors.
// Seconds are deliberately not enabled: the dispatcher tick bounds
// precision anyway.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses expr in the given IANA timezone. It is the single
// validation point for cron expressions: schedules that pass here never
// fail at evaluation time.
func ParseCron(expr, timezone string) (cron.Schedule, error) {
	if expr == "" {
		return nil, errors.NewConfiguration("cron expression is empty")
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}
	spec, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.NewConfiguration("invalid cron expression %q: %v", expr, err)
	}
	// The parser only honors locations for TZ-prefixed specs; pin the
	// schedule's location explicitly.
	if ss, ok := spec.(*cron.SpecSchedule); ok {
		ss.Location = loc
	}
	return spec, nil
}

// NextFireTime returns the first fire time of (expr, timezone) strictly
// after the given instant. Pure and deterministic: same inputs, same
// output, no I/O.
//
// DST: a fire time inside a skipped hour rolls forward to the schedule's
// next valid instant. A wall-clock time repeated by a fall-back
// transition fires once. cron/v3 would match both occurrences, so the
// second is skipped here.
//
// The zero time is returned (with no error) when the expression has no
// future activation.
func NextFireTime(expr, timezone string, after time.Time) (time.Time, error) {
	spec, err := ParseCron(expr, timezone)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return nextAfter(spec, after.In(loc)), nil
}

// MostRecentFireTime returns the latest fire time in (after, now], or the
// zero time if none. This is the dispatcher's catch-up primitive: after
// downtime spanning N missed fires, only the most recent one is due;
// enqueueing the whole backlog would deliver N copies of the same report.
func MostRecentFireTime(expr, timezone string, after, now time.Time) (time.Time, error) {
	spec, err := ParseCron(expr, timezone)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}

	var due time.Time
	t := after.In(loc)
	for {
		next := nextAfter(spec, t)
		if next.IsZero() || next.After(now) {
			return due, nil
		}
		due = next
		t = next
	}
}

// nextAfter wraps spec.Next with the repeated-hour guard. When the clock
// falls back, the instant one hour after a fire shows the same wall time;
// cron/v3 matches it again. Chained evaluation always passes the previous
// fire as `after`, so an identical wall clock on the successor means it is
// the repeated occurrence.
func nextAfter(spec cron.Schedule, after time.Time) time.Time {
	next := spec.Next(after)
	if next.IsZero() {
		return next
	}
	if sameWallClock(after, next) {
		next = spec.Next(next)
	}
	return next
}

func sameWallClock(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day() &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.NewConfiguration("unknown timezone %q", timezone)
	}
	return loc, nil
}
