// Package clock provides the time source and calendar-date arithmetic used by
// billing and rank progression. Dates are represented as time.Time values at
// midnight UTC so they compare and serialise consistently with DATE columns.
package clock

import (
	"errors"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned by ParseDate for malformed input.
var ErrInvalidDate = errors.New("clock: date must be YYYY-MM-DD")

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// System is the wall clock, reporting dates in Location.
type System struct {
	Location *time.Location
}

// Now returns the current time in the configured location.
func (s System) Now() time.Time {
	if s.Location == nil {
		return time.Now()
	}
	return time.Now().In(s.Location)
}

// Fixed always returns the same instant. Used in tests to pin "today".
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f) }

// Date builds a calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// ParseOptionalDate parses s, returning nil for "".
func ParseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Today returns the current calendar date according to c.
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDate builds a date, clamping day to the last day of the month.
func ClampedDate(year int, month time.Month, day int) time.Time {
	// normalise month overflow first (month 13 -> January next year)
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return Date(first.Year(), first.Month(), day)
}

// AddMonths adds n calendar months to d. When the resulting month is shorter
// than d's day, the result is the last day of that month (Jan 31 + 1 = Feb 28/29).
func AddMonths(d time.Time, n int) time.Time {
	return ClampedDate(d.Year(), d.Month()+time.Month(n), d.Day())
}

// MonthIndex returns year*12+month, for comparing (year, month) pairs.
func MonthIndex(d time.Time) int {
	return d.Year()*12 + int(d.Month()) - 1
}

// Delta is a calendar difference between two dates.
type Delta struct {
	Years  int
	Months int
	Days   int
}

// Between returns the calendar delta from "from" to "to": the largest number
// of whole months m with AddMonths(from, m) not past "to", plus remaining days.
// For to < from all components are negative or zero.
func Between(from, to time.Time) Delta {
	from, to = DateOf(from), DateOf(to)
	months := MonthIndex(to) - MonthIndex(from)
	step := -1
	past := func(m time.Time) bool { return m.After(to) }
	if to.Before(from) {
		step = 1
		past = func(m time.Time) bool { return m.Before(to) }
	}
	anchor := AddMonths(from, months)
	for past(anchor) {
		months += step
		anchor = AddMonths(from, months)
	}
	days := int(to.Sub(anchor).Hours() / 24)
	return Delta{Years: months / 12, Months: months % 12, Days: days}
}
