// Package recurrence evaluates the repeat rules a reminder may carry.
//
// Supported expressions:
//
//	daily | weekly | monthly | yearly   calendar steps in the reminder timezone
//	every 90m | @every 2h              fixed intervals, at least one minute
//	0 9 * * 1-5 | @weekly              standard cron expressions and descriptors
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest fixed interval a rule may use.
const MinInterval = time.Minute

// maxSteps bounds fast-forwarding over a long-missed calendar schedule.
const maxSteps = 100000

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Rule computes the occurrence that follows prev and lies strictly after after.
type Rule interface {
	Next(prev, after time.Time) time.Time
	String() string
}

type options struct {
	anchorDay int
}

type Option func(*options)

// WithAnchorDay pins monthly and yearly rules to a day of month. Months
// shorter than day use their last day. Zero keeps the day of the previous
// occurrence.
func WithAnchorDay(day int) Option {
	return func(o *options) { o.anchorDay = day }
}

// Parse reads expr, evaluating calendar and cron rules in loc.
func Parse(expr string, loc *time.Location, opts ...Option) (Rule, error) {
	if loc == nil {
		loc = time.UTC
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	raw := strings.TrimSpace(expr)
	norm := strings.ToLower(raw)
	if norm == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidRule)
	}

	switch norm {
	case "daily":
		return calendarRule{name: norm, days: 1, loc: loc}, nil
	case "weekly":
		return calendarRule{name: norm, days: 7, loc: loc}, nil
	case "monthly":
		return calendarRule{name: norm, months: 1, anchorDay: o.anchorDay, loc: loc}, nil
	case "yearly", "annually":
		return calendarRule{name: norm, years: 1, anchorDay: o.anchorDay, loc: loc}, nil
	}

	if rest, ok := cutAnyPrefix(norm, "@every ", "every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		if d < MinInterval {
			return nil, fmt.Errorf("%w: interval %s below %s", ErrInvalidRule, d, MinInterval)
		}
		return intervalRule{every: d}, nil
	}

	sched, err := cron.ParseStandard(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return cronRule{expr: raw, sched: sched, loc: loc}, nil
}

// Valid reports whether expr parses.
func Valid(expr string) bool {
	_, err := Parse(expr, time.UTC)
	return err == nil
}

func cutAnyPrefix(s string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(s, p); ok {
			return rest, true
		}
	}
	return "", false
}

type calendarRule struct {
	name                string
	years, months, days int
	anchorDay           int
	loc                 *time.Location
}

func (r calendarRule) Next(prev, after time.Time) time.Time {
	start := prev.In(r.loc)
	var t time.Time
	for k := 1; k <= maxSteps; k++ {
		t = r.step(start, k)
		if t.After(after) {
			break
		}
	}
	return t.UTC()
}

// step returns the k-th occurrence after start. Month-based steps are taken
// from start in one move and clamped to the month's last day, so they never
// overflow into the following month.
func (r calendarRule) step(start time.Time, k int) time.Time {
	if r.days != 0 {
		return start.AddDate(0, 0, k*r.days)
	}
	day := r.anchorDay
	if day <= 0 {
		day = start.Day()
	}
	first := time.Date(start.Year()+k*r.years, start.Month()+time.Month(k*r.months), 1, 0, 0, 0, 0, r.loc)
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(day, last),
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), r.loc)
}

func (r calendarRule) String() string { return r.name }

type intervalRule struct {
	every time.Duration
}

func (r intervalRule) Next(prev, after time.Time) time.Time {
	if !after.Before(prev) {
		steps := after.Sub(prev)/r.every + 1
		return prev.Add(steps * r.every).UTC()
	}
	return prev.Add(r.every).UTC()
}

func (r intervalRule) String() string { return "every " + r.every.String() }

type cronRule struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

func (r cronRule) Next(prev, after time.Time) time.Time {
	from := after
	if prev.After(from) {
		from = prev
	}
	return r.sched.Next(from.In(r.loc)).UTC()
}

func (r cronRule) String() string { return r.expr }
