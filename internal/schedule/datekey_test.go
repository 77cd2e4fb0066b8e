package schedule

import (
	"testing"
	"time"

	"cadence/internal/task"
)

func nyc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestDayKeyUsesReferenceTimezone(t *testing.T) {
	loc := nyc(t)
	// 02:30 UTC is still the previous evening in New York.
	at := time.Date(2026, 1, 6, 2, 30, 0, 0, time.UTC)
	if got := DayKey(at, loc); got != "2026-01-05" {
		t.Fatalf("DayKey = %q, want 2026-01-05", got)
	}
	if got := DayKey(at, time.UTC); got != "2026-01-06" {
		t.Fatalf("DayKey(UTC) = %q, want 2026-01-06", got)
	}
}

func TestNextKeyPatterns(t *testing.T) {
	loc := nyc(t)
	base := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC) // 10:00 EST, 2026-01-05

	tests := []struct {
		name     string
		pattern  task.Pattern
		interval int
		want     string
	}{
		{"daily", task.Daily, 1, "2026-01-06"},
		{"daily x3", task.Daily, 3, "2026-01-08"},
		{"weekly", task.Weekly, 1, "2026-01-12"},
		{"weekly x2", task.Weekly, 2, "2026-01-19"},
		{"monthly", task.Monthly, 1, "2026-02-05"},
		{"yearly", task.Yearly, 1, "2027-01-05"},
		{"interval clamped", task.Daily, 0, "2026-01-06"},
		{"unknown pattern steps daily", task.Pattern("hourly"), 1, "2026-01-06"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextKey(tc.pattern, tc.interval, base, loc); got != tc.want {
				t.Fatalf("NextKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNextKeyAcrossSpringForward(t *testing.T) {
	loc := nyc(t)
	// 2026-03-08 02:00 EST does not exist; the noon anchor must still land
	// the daily step on the 8th, not skip or repeat a day.
	base := time.Date(2026, 3, 7, 23, 0, 0, 0, loc)
	if got := NextKey(task.Daily, 1, base, loc); got != "2026-03-08" {
		t.Fatalf("step into DST day = %q, want 2026-03-08", got)
	}
	base = time.Date(2026, 3, 8, 1, 30, 0, 0, loc)
	if got := NextKey(task.Daily, 1, base, loc); got != "2026-03-09" {
		t.Fatalf("step out of DST day = %q, want 2026-03-09", got)
	}
	// Weekly step spanning the transition stays exactly seven calendar days.
	base = time.Date(2026, 3, 4, 9, 0, 0, 0, loc)
	if got := NextKey(task.Weekly, 1, base, loc); got != "2026-03-11" {
		t.Fatalf("weekly across DST = %q, want 2026-03-11", got)
	}
}

func TestNextKeyFallBack(t *testing.T) {
	loc := nyc(t)
	// 2026-11-01 01:30 occurs twice; stepping through it must advance one day.
	base := time.Date(2026, 10, 31, 22, 0, 0, 0, loc)
	if got := NextKey(task.Daily, 1, base, loc); got != "2026-11-01" {
		t.Fatalf("step into fall-back day = %q, want 2026-11-01", got)
	}
}

func TestNextKeyFrom(t *testing.T) {
	loc := nyc(t)
	got, err := NextKeyFrom(task.Weekly, 2, "2026-01-05", loc)
	if err != nil {
		t.Fatalf("NextKeyFrom: %v", err)
	}
	if got != "2026-01-19" {
		t.Fatalf("NextKeyFrom = %q, want 2026-01-19", got)
	}
	if _, err := NextKeyFrom(task.Daily, 1, "not-a-date", loc); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestNextKeyDailyAdditive(t *testing.T) {
	loc := nyc(t)
	// k single steps equal one k-sized step, across the whole DST year.
	key := "2026-01-05"
	for i := 0; i < 30; i++ {
		next, err := NextKeyFrom(task.Daily, 1, key, loc)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		key = next
	}
	base := time.Date(2026, 1, 5, 12, 0, 0, 0, loc)
	if want := NextKey(task.Daily, 30, base, loc); key != want {
		t.Fatalf("30 single steps = %q, one 30-step = %q", key, want)
	}
}

func TestEndOfDay(t *testing.T) {
	loc := nyc(t)
	at, err := EndOfDay("2026-01-05", loc)
	if err != nil {
		t.Fatalf("EndOfDay: %v", err)
	}
	if DayKey(at, loc) != "2026-01-05" {
		t.Fatalf("end of day drifted to %q", DayKey(at, loc))
	}
	if at.Hour() != 23 || at.Minute() != 59 || at.Second() != 59 {
		t.Fatalf("unexpected wall time: %v", at)
	}
	if _, err := EndOfDay("2026-13-40", loc); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestParseKeyMidnight(t *testing.T) {
	loc := nyc(t)
	at, err := ParseKey("2026-07-04", loc)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if at.Hour() != 0 || at.Location() != loc {
		t.Fatalf("ParseKey = %v, want local midnight", at)
	}
}
