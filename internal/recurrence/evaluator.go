// Package recurrence contains the pure schedule evaluation logic: whether a
// payment is due at a given instant, and when it fires next. Both functions
// are free of clocks and I/O; callers supply "now" (the scanner passes one
// trusted-clock snapshot per tick so the whole batch shares a single due-ness
// boundary).
//
// All instants are normalized to UTC before comparison; naive timestamps are
// assumed UTC.
package recurrence

import (
	"time"

	"paysched/internal/types"
)

// maxWeeklyScanDays bounds the forward day-by-day search for the next weekly
// occurrence. Two full weeks always contain every weekday at least once, so a
// miss within this horizon means the window has closed.
const maxWeeklyScanDays = 14

// maxMonthlySearchMonths bounds the next-occurrence search for monthly
// schedules: the current month plus the following two. Months lacking the
// configured day-of-month (e.g. the 31st in April) are skipped without
// rolling into a neighboring day.
const maxMonthlySearchMonths = 3

// IsDue reports whether a schedule must fire at instant now, given the last
// successful execution (nil if never executed).
//
// Recurring kinds fire at most once per calendar day: a lastExecutionAt on
// now's calendar date suppresses the schedule until the next eligible day.
func IsDue(s types.Schedule, lastExecutionAt *time.Time, now time.Time) bool {
	now = now.UTC()

	switch s.Kind {
	case types.ScheduleOnce:
		return lastExecutionAt == nil && !s.ExecutionDate.UTC().After(now)

	case types.ScheduleWeekly:
		if !withinWindow(now, s.StartDate, s.EndDate) {
			return false
		}
		if executedOn(lastExecutionAt, now) {
			return false
		}
		return weekdayMatches(s.DaysOfWeek, now.Weekday())

	case types.ScheduleMonthly:
		if !withinWindow(now, s.StartDate, s.EndDate) {
			return false
		}
		if executedOn(lastExecutionAt, now) {
			return false
		}
		return now.Day() == s.DayOfMonth

	default:
		return false
	}
}

// NextOccurrence computes the next firing instant at or after now, or ok=false
// when none exists within the search horizon.
//
// Note the deliberate asymmetry for Once schedules: IsDue uses
// executionDate <= now while NextOccurrence uses executionDate >= now. An
// unexecuted one-off payment whose date has passed is therefore reported as
// due by the scanner but has no next occurrence in preview queries.
func NextOccurrence(s types.Schedule, lastExecutionAt *time.Time, now time.Time) (time.Time, bool) {
	now = now.UTC()

	switch s.Kind {
	case types.ScheduleOnce:
		exec := s.ExecutionDate.UTC()
		if lastExecutionAt == nil && !exec.Before(now) {
			return exec, true
		}
		return time.Time{}, false

	case types.ScheduleWeekly:
		return nextWeekly(s, lastExecutionAt, now)

	case types.ScheduleMonthly:
		return nextMonthly(s, lastExecutionAt, now)

	default:
		return time.Time{}, false
	}
}

// nextWeekly scans forward day by day from max(now, startDate) for up to
// maxWeeklyScanDays, returning the first day that matches the weekday set,
// lies within the window, and differs in calendar date from the last
// execution.
func nextWeekly(s types.Schedule, lastExecutionAt *time.Time, now time.Time) (time.Time, bool) {
	base := now
	if start := s.StartDate.UTC(); start.After(base) {
		base = start
	}

	for i := 0; i < maxWeeklyScanDays; i++ {
		candidate := base.AddDate(0, 0, i)
		if candidate.After(s.EndDate.UTC()) {
			break
		}
		if !weekdayMatches(s.DaysOfWeek, candidate.Weekday()) {
			continue
		}
		if !withinWindow(candidate, s.StartDate, s.EndDate) {
			continue
		}
		if candidate.Before(now) {
			continue
		}
		if executedOn(lastExecutionAt, candidate) {
			continue
		}
		return candidate, true
	}
	return time.Time{}, false
}

// nextMonthly searches the current month and the following two for a valid
// calendar date on DayOfMonth. The candidate keeps now's time of day; months
// where the day does not exist are skipped entirely.
func nextMonthly(s types.Schedule, lastExecutionAt *time.Time, now time.Time) (time.Time, bool) {
	year, month, _ := now.Date()
	hh, mm, ss := now.Clock()

	for i := 0; i < maxMonthlySearchMonths; i++ {
		candidate := time.Date(year, month+time.Month(i), s.DayOfMonth, hh, mm, ss, now.Nanosecond(), time.UTC)
		// time.Date normalizes out-of-range days into the next month; such a
		// candidate means this month lacks the requested day.
		if candidate.Day() != s.DayOfMonth {
			continue
		}
		if candidate.Before(now) {
			continue
		}
		if !withinWindow(candidate, s.StartDate, s.EndDate) {
			continue
		}
		if executedOn(lastExecutionAt, candidate) {
			continue
		}
		return candidate, true
	}
	return time.Time{}, false
}

// withinWindow reports whether t lies in [start, end], inclusive on both ends.
func withinWindow(t, start, end time.Time) bool {
	return !t.Before(start.UTC()) && !t.After(end.UTC())
}

// executedOn reports whether last falls on the same UTC calendar date as t.
func executedOn(last *time.Time, t time.Time) bool {
	if last == nil {
		return false
	}
	y1, m1, d1 := last.UTC().Date()
	y2, m2, d2 := t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// weekdayMatches reports whether day is present in the schedule's weekday set.
func weekdayMatches(names []string, day time.Weekday) bool {
	for _, name := range names {
		if d, ok := types.ParseWeekday(name); ok && d == day {
			return true
		}
	}
	return false
}
