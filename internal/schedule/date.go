package schedule

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// ParseDate parses a calendar date into midnight of that day in the
// clinic's location. Appointments carry no time-of-day beyond the slot
// label, so midnight is the canonical representation.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseMonth parses a YYYY-MM label into the first day of that month.
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(MonthLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return t, nil
}

// FormatDate renders a date the way it travels over the wire and is keyed
// in the availability cache.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DayOf truncates t to midnight in loc.
func DayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
