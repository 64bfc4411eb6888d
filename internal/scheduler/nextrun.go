package scheduler

import (
	"time"

	"github.com/davexpro/recoverd/internal/model"
)

// onceSentinelYears pushes one-shot schedules far enough out that they
// never refire without clearing the enabled flag.
const onceSentinelYears = 10

// NextRun computes the next firing of a schedule after now. For the
// recurring frequencies the result is strictly greater than now.
func NextRun(now time.Time, s model.Schedule) time.Time {
	switch s.Frequency {
	case model.FrequencyWeekly:
		return nextWeekly(now, s)
	case model.FrequencyMonthly:
		return nextMonthly(now, s)
	case model.FrequencyOnce:
		return now.AddDate(onceSentinelYears, 0, 0)
	default: // daily
		return pinTime(now.AddDate(0, 0, 1), s.Time)
	}
}

// nextWeekly advances to the next occurrence of the configured weekday.
// A zero delta means a full week ahead, never the same day again.
func nextWeekly(now time.Time, s model.Schedule) time.Time {
	delta := (s.DayOfWeek - int(now.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return pinTime(now.AddDate(0, 0, delta), s.Time)
}

// nextMonthly advances one calendar month, clamping the configured
// day-of-month to the last valid day of the target month.
func nextMonthly(now time.Time, s model.Schedule) time.Time {
	year, month, _ := now.Date()
	first := time.Date(year, month+1, 1, now.Hour(), now.Minute(), 0, 0, now.Location())

	day := s.DayOfMonth
	if day <= 0 {
		day = now.Day()
	}
	if last := daysIn(first.Year(), first.Month(), now.Location()); day > last {
		day = last
	}

	t := time.Date(first.Year(), first.Month(), day, now.Hour(), now.Minute(), 0, 0, now.Location())
	return pinTime(t, s.Time)
}

// daysIn returns the number of days in a month.
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// pinTime replaces the hour and minute of t with an HH:MM value, when given.
func pinTime(t time.Time, hhmm string) time.Time {
	if hhmm == "" {
		return t
	}
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), parsed.Hour(), parsed.Minute(), 0, 0, t.Location())
}
