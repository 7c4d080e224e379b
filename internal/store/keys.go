package store

import (
	"fmt"
	"time"
)

// DayKey returns the daily quota bucket key for t in t's location,
// e.g. "2025-04-12".
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// WeekKey returns the ISO-8601 week bucket key for t in t's location,
// e.g. "2025-W15". The ISO year can differ from the calendar year around
// January 1st.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
