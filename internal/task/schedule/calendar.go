package schedule

import (
	"time"
)

// monthlySchedule fires once per month at day/hour/minute in loc.
//
// When the month is shorter than the configured day (e.g. day 31 in
// February), the day clamps to the last day of that month, so the job
// still runs every month instead of silently skipping short ones.
type monthlySchedule struct {
	day    int
	hour   int
	minute int
	loc    *time.Location
}

// Next implements cron.Schedule.
func (m monthlySchedule) Next(t time.Time) time.Time {
	t = t.In(m.loc)
	year, month, _ := t.Date()
	first := time.Date(year, month, 1, 0, 0, 0, 0, m.loc)

	// The candidate in t's month either lies ahead of t or we roll over.
	// Two iterations always suffice; the bound is just belt and braces.
	for i := 0; i < 3; i++ {
		y, mo, _ := first.Date()
		day := clampDayOfMonth(y, mo, m.day)
		cand := time.Date(y, mo, day, m.hour, m.minute, 0, 0, m.loc)
		if cand.After(t) {
			return cand
		}
		first = first.AddDate(0, 1, 0)
	}
	return time.Time{}
}

// clampDayOfMonth limits day to the valid range for the given month.
func clampDayOfMonth(year int, month time.Month, day int) int {
	if day < 1 {
		return 1
	}
	last := daysInMonth(year, month)
	if day > last {
		return last
	}
	return day
}

// daysInMonth returns the number of days in the given month.
// Day 0 of the next month normalizes to the last day of this one.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
