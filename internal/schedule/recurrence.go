// Package schedule implements the chamber recurrence rule: a chamber is
// active on the Nth weekday of every month, where N is derived from plain
// day-of-month buckets (1-7 first, 8-14 second, 15-21 third, 22-28 fourth,
// 29+ last) rather than ISO calendar weeks. The bucketing is deliberate:
// "last" means days 29-31, so it matches nothing at all in a 28-day
// February and is not the same thing as "the month's final such weekday".
//
// Everything in this package is pure. Callers pass the clock in.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

var ErrRecurrenceUnsatisfiable = errors.New("recurrence rule has no upcoming occurrence")

// searchHorizonWeeks bounds NextOccurrence. A valid weekday rule resolves
// within a few months; the cap only exists to turn a broken rule into an
// error instead of a spin.
const searchHorizonWeeks = 52

type WeekOfMonth string

const (
	WeekFirst  WeekOfMonth = "first"
	WeekSecond WeekOfMonth = "second"
	WeekThird  WeekOfMonth = "third"
	WeekFourth WeekOfMonth = "fourth"
	WeekLast   WeekOfMonth = "last"
)

func (w WeekOfMonth) Valid() bool {
	switch w {
	case WeekFirst, WeekSecond, WeekThird, WeekFourth, WeekLast:
		return true
	}
	return false
}

// Rule is one chamber's recurrence: a week-of-month bucket plus a weekday.
type Rule struct {
	Week    WeekOfMonth
	Weekday time.Weekday
}

func (r Rule) Validate() error {
	if !r.Week.Valid() {
		return fmt.Errorf("invalid week of month %q", r.Week)
	}
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("invalid weekday %d", r.Weekday)
	}
	return nil
}

// WeekOfMonthOf buckets a date by day-of-month: 7-day buckets for days 1-28,
// everything past 28 collapses to last regardless of month length.
func WeekOfMonthOf(t time.Time) WeekOfMonth {
	day := t.Day()
	switch {
	case day <= 7:
		return WeekFirst
	case day <= 14:
		return WeekSecond
	case day <= 21:
		return WeekThird
	case day <= 28:
		return WeekFourth
	default:
		return WeekLast
	}
}

// Matches reports whether date falls on the rule's weekday in the rule's
// week-of-month bucket.
func Matches(date time.Time, r Rule) bool {
	return date.Weekday() == r.Weekday && WeekOfMonthOf(date) == r.Week
}

// NextOccurrence returns the earliest date at or after now satisfying the
// rule. If today satisfies it but the chamber's start clock has already
// elapsed, today is skipped and the search resumes one weekly cycle later.
// The returned time is midnight in now's location.
func NextOccurrence(r Rule, now time.Time, start ClockTime) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}

	today := StartOfDay(now)

	cand := today
	for cand.Weekday() != r.Weekday {
		cand = cand.AddDate(0, 0, 1)
	}

	if cand.Equal(today) && MinuteOfDay(now) >= int(start) {
		cand = cand.AddDate(0, 0, 7)
	}

	for i := 0; i < searchHorizonWeeks; i++ {
		if WeekOfMonthOf(cand) == r.Week {
			return cand, nil
		}
		cand = cand.AddDate(0, 0, 7)
	}

	return time.Time{}, ErrRecurrenceUnsatisfiable
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// MinuteOfDay returns t's clock position as minutes since midnight.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
