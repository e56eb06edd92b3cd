// Package schedule evaluates five-field cron-style firing specs.
//
// Each field is either the wildcard "*" or a single fixed integer — no
// ranges, lists, or step values. Field order is minute, hour, day of
// month, month, weekday (Monday = 0).
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field indices, matching the canonical "minute hour day month weekday" order.
const (
	fieldMinute = iota
	fieldHour
	fieldDay
	fieldMonth
	fieldWeekday
	fieldCount
)

const wildcard = -1

// Far is the sentinel far-future instant returned for routines that only
// ever run manually.
var Far = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.Local)

// Schedule is an immutable five-field cron spec.
type Schedule struct {
	minute, hour, day, month, weekday int // wildcard sentinel if unset
}

// BadSpecError reports a malformed cron string.
type BadSpecError struct {
	Spec   string
	Reason string
}

func (e *BadSpecError) Error() string {
	return fmt.Sprintf("bad cron spec %q: %s", e.Spec, e.Reason)
}

// domains, indexed by field position, for validation.
var domains = [fieldCount][2]int{
	fieldMinute:  {0, 59},
	fieldHour:    {0, 23},
	fieldDay:     {1, 31},
	fieldMonth:   {1, 12},
	fieldWeekday: {0, 6},
}

// Parse builds a Schedule from a five-field string such as "0 */5 * * *" —
// except steps aren't supported; only "*" or a bare integer per field.
func Parse(spec string) (Schedule, error) {
	fields := strings.Fields(spec)
	if len(fields) != fieldCount {
		return Schedule{}, &BadSpecError{Spec: spec, Reason: fmt.Sprintf("expected 5 fields, got %d", len(fields))}
	}

	values := make([]int, fieldCount)
	for i, f := range fields {
		if f == "*" {
			values[i] = wildcard
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return Schedule{}, &BadSpecError{Spec: spec, Reason: fmt.Sprintf("field %d: not an integer or wildcard", i)}
		}
		lo, hi := domains[i][0], domains[i][1]
		if n < lo || n > hi {
			return Schedule{}, &BadSpecError{Spec: spec, Reason: fmt.Sprintf("field %d: %d outside [%d,%d]", i, n, lo, hi)}
		}
		values[i] = n
	}

	return Schedule{
		minute:  values[fieldMinute],
		hour:    values[fieldHour],
		day:     values[fieldDay],
		month:   values[fieldMonth],
		weekday: values[fieldWeekday],
	}, nil
}

// MustParse is Parse but panics on error; useful for constant schedules.
func MustParse(spec string) Schedule {
	s, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// weekdayOf returns Monday=0..Sunday=6 for t, matching the spec's domain
// (time.Weekday is Sunday=0, so this remaps it).
func weekdayOf(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Next returns the next moment >= reference (or > reference if !inclusive)
// that matches every non-wildcard field.
func (s Schedule) Next(reference time.Time, inclusive bool) time.Time {
	next := reference.Truncate(time.Minute)
	if !inclusive {
		next = next.Add(time.Minute)
	}

	// Bound the search to a little over a year so a genuinely impossible
	// spec (e.g. day=31 in a schedule pinned to month=2) terminates.
	deadline := next.AddDate(1, 1, 0)
	for next.Before(deadline) {
		if s.month != wildcard && int(next.Month()) != s.month {
			year, month := next.Year(), next.Month()
			if month == time.December {
				year++
				month = time.January
			} else {
				month++
			}
			next = time.Date(year, month, 1, 0, 0, 0, 0, next.Location())
			continue
		}
		if s.day != wildcard && next.Day() != s.day {
			next = time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, next.Location()).AddDate(0, 0, 1)
			continue
		}
		if s.weekday != wildcard && weekdayOf(next) != s.weekday {
			next = time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, next.Location()).AddDate(0, 0, 1)
			continue
		}
		if s.hour != wildcard && next.Hour() != s.hour {
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour(), 0, 0, 0, next.Location()).Add(time.Hour)
			continue
		}
		if s.minute != wildcard && next.Minute() != s.minute {
			next = next.Add(time.Minute)
			continue
		}
		return next
	}
	return Far
}

// Previous returns the previous moment <= reference (or < reference if
// !inclusive) that matches every non-wildcard field.
func (s Schedule) Previous(reference time.Time, inclusive bool) time.Time {
	prev := reference.Truncate(time.Minute)
	if !inclusive {
		prev = prev.Add(-time.Minute)
	}

	deadline := prev.AddDate(-1, -1, 0)
	for prev.After(deadline) {
		if s.month != wildcard && int(prev.Month()) != s.month {
			prev = time.Date(prev.Year(), prev.Month(), 1, 23, 59, 0, 0, prev.Location()).AddDate(0, 0, -1)
			continue
		}
		if s.day != wildcard && prev.Day() != s.day {
			prev = time.Date(prev.Year(), prev.Month(), prev.Day(), 23, 59, 0, 0, prev.Location()).AddDate(0, 0, -1)
			continue
		}
		if s.weekday != wildcard && weekdayOf(prev) != s.weekday {
			prev = time.Date(prev.Year(), prev.Month(), prev.Day(), 23, 59, 0, 0, prev.Location()).AddDate(0, 0, -1)
			continue
		}
		if s.hour != wildcard && prev.Hour() != s.hour {
			prev = time.Date(prev.Year(), prev.Month(), prev.Day(), prev.Hour(), 59, 0, 0, prev.Location()).Add(-time.Hour)
			continue
		}
		if s.minute != wildcard && prev.Minute() != s.minute {
			prev = prev.Add(-time.Minute)
			continue
		}
		return prev
	}
	return time.Time{}
}

// String renders the schedule back to its canonical five-field form.
func (s Schedule) String() string {
	render := func(v int) string {
		if v == wildcard {
			return "*"
		}
		return strconv.Itoa(v)
	}
	return strings.Join([]string{
		render(s.minute), render(s.hour), render(s.day), render(s.month), render(s.weekday),
	}, " ")
}
