package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davexpro/recoverd/internal/model"
)

func TestNextRun_DailyPinsTimeOfDay(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	next := NextRun(now, model.Schedule{Frequency: model.FrequencyDaily, Time: "02:00"})

	assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC), next)
}

func TestNextRun_DailyWithoutTime(t *testing.T) {
	now := time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)
	next := NextRun(now, model.Schedule{Frequency: model.FrequencyDaily})

	assert.Equal(t, time.Date(2024, 3, 16, 23, 30, 0, 0, time.UTC), next)
}

func TestNextRun_WeeklyAdvancesToTargetWeekday(t *testing.T) {
	// 2024-01-01 is a Monday.
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	next := NextRun(now, model.Schedule{Frequency: model.FrequencyWeekly, DayOfWeek: 5, Time: "04:30"})

	assert.Equal(t, time.Date(2024, 1, 5, 4, 30, 0, 0, time.UTC), next)
	assert.Equal(t, time.Friday, next.Weekday())
}

func TestNextRun_WeeklySameDayMeansFullWeek(t *testing.T) {
	// Never the same calendar day again: a zero delta advances a week.
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) // Monday
	next := NextRun(now, model.Schedule{Frequency: model.FrequencyWeekly, DayOfWeek: int(time.Monday)})

	assert.Equal(t, time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC), next)
}

func TestNextRun_MonthlyClampsThirtyDayMonth(t *testing.T) {
	// Day 31 against April (30 days) clamps to the 30th.
	now := time.Date(2024, 3, 31, 1, 0, 0, 0, time.UTC)
	next := NextRun(now, model.Schedule{Frequency: model.FrequencyMonthly, DayOfMonth: 31, Time: "01:00"})

	assert.Equal(t, time.Date(2024, 4, 30, 1, 0, 0, 0, time.UTC), next)
}

func TestNextRun_MonthlyClampsFebruaryNonLeap(t *testing.T) {
	now := time.Date(2023, 1, 15, 8, 0, 0, 0, time.UTC)
	next := NextRun(now, model.Schedule{Frequency: model.FrequencyMonthly, DayOfMonth: 31, Time: "08:00"})

	assert.Equal(t, time.Date(2023, 2, 28, 8, 0, 0, 0, time.UTC), next)
}

func TestNextRun_MonthlyLeapFebruary(t *testing.T) {
	now := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	next := NextRun(now, model.Schedule{Frequency: model.FrequencyMonthly, DayOfMonth: 31})

	assert.Equal(t, 29, next.Day())
	assert.Equal(t, time.February, next.Month())
}

func TestNextRun_OnceSentinelFarFuture(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := NextRun(now, model.Schedule{Frequency: model.FrequencyOnce})

	require.True(t, next.After(now.AddDate(5, 0, 0)), "once sentinel must be more than 5 years out")
}

func TestNextRun_AlwaysStrictlyAfterNow(t *testing.T) {
	schedules := []model.Schedule{
		{Frequency: model.FrequencyDaily},
		{Frequency: model.FrequencyDaily, Time: "00:00"},
		{Frequency: model.FrequencyWeekly, DayOfWeek: 0},
		{Frequency: model.FrequencyWeekly, DayOfWeek: 6, Time: "23:59"},
		{Frequency: model.FrequencyMonthly, DayOfMonth: 1},
		{Frequency: model.FrequencyMonthly, DayOfMonth: 31, Time: "00:00"},
	}
	starts := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 30, 6, 45, 0, 0, time.UTC),
	}

	for _, s := range schedules {
		for _, now := range starts {
			next := NextRun(now, s)
			assert.True(t, next.After(now), "frequency %s from %s produced %s", s.Frequency, now, next)
		}
	}
}
