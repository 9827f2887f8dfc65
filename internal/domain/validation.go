package domain

import (
	"fmt"
	"time"
)

// Factor and close percentage bounds, inclusive.
const (
	MinFactor = 0
	MaxFactor = 100000

	MinClosePercentage = 50.0
	MaxClosePercentage = 100.0
)

// AssertPositive fails when n is negative. Zero is accepted.
func AssertPositive(field string, n int64) error {
	if n < 0 {
		return NewDomainError(ErrNotPositive, fmt.Sprintf("got %d", n), field)
	}
	return nil
}

// AssertFactorInRange fails when f is outside [MinFactor, MaxFactor].
func AssertFactorInRange(f int) error {
	if f < MinFactor || f > MaxFactor {
		return NewDomainError(ErrInvalidFactor, fmt.Sprintf("got %d", f), "factor")
	}
	return nil
}

// AssertPercentageInRange fails when p is outside [MinClosePercentage, MaxClosePercentage].
func AssertPercentageInRange(p float64) error {
	if p < MinClosePercentage || p > MaxClosePercentage {
		return NewDomainError(ErrInvalidPercentage, fmt.Sprintf("got %.2f", p), "min_close_percentage")
	}
	return nil
}

// AssertEndAfterStart fails unless end falls on a later calendar day than start.
func AssertEndAfterStart(start, end time.Time) error {
	if !DateOf(end).After(DateOf(start)) {
		return NewDomainError(
			ErrInvalidDateRange,
			fmt.Sprintf("start %s, end %s", start.Format(DateLayout), end.Format(DateLayout)),
			"end_date",
		)
	}
	return nil
}

// AssertTargetFunds fails when the funding target is zero or negative.
func AssertTargetFunds(t int64) error {
	if t <= 0 {
		return NewDomainError(ErrInvalidTargetFunds, fmt.Sprintf("got %d", t), "target_funds")
	}
	return nil
}

// DateLayout is the calendar date format used for project dates.
const DateLayout = "2006-01-02"

// DateOf truncates t to midnight UTC of its calendar day.
// Project dates and donation dates are compared as whole days.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a calendar date in UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// MonthBefore returns the calendar date one month before t. The day is clamped
// to the length of the previous month, so Mar 31 gives Feb 28 (Feb 29 in a
// leap year).
func MonthBefore(t time.Time) time.Time {
	y, m, d := DateOf(t).Date()
	m--
	if m < time.January {
		m = time.December
		y--
	}
	if last := daysIn(y, m); d > last {
		d = last
	}
	return Date(y, m, d)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
