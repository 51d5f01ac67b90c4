package entity

import (
	"fmt"
	"time"
)

// DateLayout is the wire and config format of a calendar date.
const DateLayout = "2006-01-02"

// DateOf drops the time-of-day part of t, keeping its calendar date in t's location,
// and returns that date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// DateRange is a window of calendar dates, inclusive on both ends.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a range from two dates, dropping any time-of-day part.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: DateOf(start), End: DateOf(end)}
}

// Empty reports whether the range contains no day.
func (r DateRange) Empty() bool {
	return r.Start.After(r.End)
}

// Contains reports whether the calendar date of t lies inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}
