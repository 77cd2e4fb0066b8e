// Package schedule implements timezone-correct calendar arithmetic for
// recurrence date-keys. A date-key is a YYYY-MM-DD string naming a calendar
// day in a specific timezone; it is the join key between a series and the
// single instance that may exist for that day.
package schedule

import (
	"fmt"
	"time"

	"cadence/internal/task"
)

// KeyLayout is the date-key wire format.
const KeyLayout = "2006-01-02"

// DayKey renders the calendar date that at falls on when viewed in loc.
func DayKey(at time.Time, loc *time.Location) string {
	return at.In(loc).Format(KeyLayout)
}

// ParseKey returns local midnight of the given date-key in loc.
func ParseKey(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(KeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date-key %q: %w", key, err)
	}
	return t, nil
}

// NextKey computes the date-key interval periods of pattern after base,
// evaluated in loc.
//
// The base day is re-anchored at local noon before stepping: adding a day at
// midnight can land on a nonexistent or repeated local time around a DST
// shift, while noon exists on every day. An interval below 1 is clamped to 1;
// an unknown pattern steps daily.
func NextKey(pattern task.Pattern, interval int, base time.Time, loc *time.Location) string {
	if interval < 1 {
		interval = 1
	}
	local := base.In(loc)
	noon := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, loc)

	var next time.Time
	switch pattern {
	case task.Weekly:
		next = noon.AddDate(0, 0, 7*interval)
	case task.Monthly:
		next = noon.AddDate(0, interval, 0)
	case task.Yearly:
		next = noon.AddDate(interval, 0, 0)
	default:
		next = noon.AddDate(0, 0, interval)
	}
	return DayKey(next, loc)
}

// NextKeyFrom advances a date-key by one step of the pattern/interval.
func NextKeyFrom(pattern task.Pattern, interval int, key string, loc *time.Location) (string, error) {
	base, err := ParseKey(key, loc)
	if err != nil {
		return "", err
	}
	return NextKey(pattern, interval, base, loc), nil
}

// EndOfDay returns the instant of 23:59:59.999 local time on key in loc.
// This is the canonical due date stamped onto generated instances.
func EndOfDay(key string, loc *time.Location) (time.Time, error) {
	day, err := ParseKey(key, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, int(999*time.Millisecond), loc), nil
}
