// Package calendar answers "is this instant within business hours" and
// "when is the next business-hours start" for the company schedule.
//
// The configured location is the single source of truth for weekday and
// time-of-day arithmetic; inputs in other offsets are converted first.
// Holidays deliberately do not affect the business-time predicate: they only
// suppress the proactive daily jobs, never the reactive escalation checks.
package calendar

import (
	"fmt"
	"time"
)

// MonthDay keys the holiday table by calendar date, year-independent.
type MonthDay struct {
	Month time.Month
	Day   int
}

// Calendar holds a fixed weekly working window and a holiday table.
type Calendar struct {
	loc       *time.Location
	startHour int
	startMin  int
	endHour   int
	endMin    int
	holidays  map[MonthDay]string
}

// New builds a Calendar. start and end are "HH:MM" local wall-clock strings,
// end exclusive.
func New(loc *time.Location, start, end string, holidays map[MonthDay]string) (*Calendar, error) {
	sh, sm, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("invalid work start %q: %w", start, err)
	}
	eh, em, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("invalid work end %q: %w", end, err)
	}
	if sh*60+sm >= eh*60+em {
		return nil, fmt.Errorf("work window %s-%s is empty", start, end)
	}
	if holidays == nil {
		holidays = map[MonthDay]string{}
	}
	return &Calendar{
		loc:       loc,
		startHour: sh,
		startMin:  sm,
		endHour:   eh,
		endMin:    em,
		holidays:  holidays,
	}, nil
}

func parseClock(s string) (hour, min int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// Location returns the calendar's configured timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsBusinessTime reports whether t falls on a working weekday inside the
// [start, end) window. Holidays are not consulted here.
func (c *Calendar) IsBusinessTime(t time.Time) bool {
	local := t.In(c.loc)
	if isRestDay(local.Weekday()) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= c.startHour*60+c.startMin && minute < c.endHour*60+c.endMin
}

// NextBusinessStart returns the nearest business-day start at or after t.
// If t is a working weekday before the start of work, that same day's start
// is returned; otherwise the scan advances one day at a time until a working
// weekday is found. Worst case is three iterations with two rest days.
func (c *Calendar) NextBusinessStart(t time.Time) time.Time {
	local := t.In(c.loc)

	if !isRestDay(local.Weekday()) {
		minute := local.Hour()*60 + local.Minute()
		if minute < c.startHour*60+c.startMin {
			return c.startOfWork(local)
		}
	}

	for {
		local = local.AddDate(0, 0, 1)
		if !isRestDay(local.Weekday()) {
			return c.startOfWork(local)
		}
	}
}

func (c *Calendar) startOfWork(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(),
		c.startHour, c.startMin, 0, 0, c.loc)
}

// IsHoliday reports whether t's local date appears in the holiday table.
// Used by the daily batch jobs only.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.HolidayName(t)
	return ok
}

// HolidayName returns the holiday name for t's local date, if any.
func (c *Calendar) HolidayName(t time.Time) (string, bool) {
	local := t.In(c.loc)
	name, ok := c.holidays[MonthDay{local.Month(), local.Day()}]
	return name, ok
}

func isRestDay(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}
