package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule computes the next fire time after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

// Interval is a fixed-period Schedule.
type Interval time.Duration

// Next returns from plus the interval.
func (i Interval) Next(from time.Time) time.Time {
	return from.Add(time.Duration(i))
}

// field is one of a cron expression's five fields: a wildcard, a fixed
// value, or a step (*/N).
type field struct {
	wildcard bool
	value    int
	step     int // 0 if not a step field
}

func parseField(s string, min, max int) (field, error) {
	if s == "*" {
		return field{wildcard: true}, nil
	}
	if strings.HasPrefix(s, "*/") {
		n, err := strconv.Atoi(strings.TrimPrefix(s, "*/"))
		if err != nil || n <= 0 {
			return field{}, fmt.Errorf("invalid step field %q", s)
		}
		return field{wildcard: true, step: n}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return field{}, fmt.Errorf("invalid field %q (want %d-%d)", s, min, max)
	}
	return field{value: n}, nil
}

func (f field) matches(v int) bool {
	if f.wildcard {
		if f.step == 0 {
			return true
		}
		return v%f.step == 0
	}
	return f.value == v
}

// Cron is a minimal 5-field (minute hour day-of-month month day-of-week)
// cron schedule. No third-party cron library is part of this codebase's
// dependency set, so this hand-rolled parser covers the common cases
// (wildcards, fixed values, and step wildcards); it does not support lists
// or ranges.
type Cron struct {
	minute, hour, dom, month, dow field
}

// ParseCron parses a standard 5-field cron expression.
func ParseCron(expr string) (Cron, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Cron{}, fmt.Errorf("cron expression %q must have 5 fields", expr)
	}

	minute, err := parseField(parts[0], 0, 59)
	if err != nil {
		return Cron{}, err
	}
	hour, err := parseField(parts[1], 0, 23)
	if err != nil {
		return Cron{}, err
	}
	dom, err := parseField(parts[2], 1, 31)
	if err != nil {
		return Cron{}, err
	}
	month, err := parseField(parts[3], 1, 12)
	if err != nil {
		return Cron{}, err
	}
	dow, err := parseField(parts[4], 0, 6)
	if err != nil {
		return Cron{}, err
	}
	return Cron{minute: minute, hour: hour, dom: dom, month: month, dow: dow}, nil
}

// Next scans forward minute-by-minute from from (exclusive) for the next
// time every field matches. Bounded to two years out to guarantee
// termination on an expression that can never match (e.g. dom=31, month=2).
func (c Cron) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(2, 0, 0)
	for t.Before(limit) {
		if c.month.matches(int(t.Month())) && c.dom.matches(t.Day()) &&
			c.dow.matches(int(t.Weekday())) && c.hour.matches(t.Hour()) &&
			c.minute.matches(t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return limit
}
