package schedule

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// BusinessRule is one member of the closed set of interval-level checks.
// Check returns nil when the interval passes.
type BusinessRule interface {
	Kind() string
	Check(now, start, end time.Time) *Conflict
}

// RuleSet evaluates every rule against an interval.
type RuleSet []BusinessRule

func (rs RuleSet) Evaluate(now, start, end time.Time) []Conflict {
	var out []Conflict
	for _, r := range rs {
		if c := r.Check(now, start, end); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// AdvanceNoticeRule rejects intervals starting too close to now.
type AdvanceNoticeRule struct {
	MinNotice time.Duration
}

func (r AdvanceNoticeRule) Kind() string { return "advance_notice" }

func (r AdvanceNoticeRule) Check(now, start, end time.Time) *Conflict {
	if start.Sub(now) >= r.MinNotice {
		return nil
	}
	return &Conflict{
		Kind:     ConflictBusinessRule,
		Severity: SeverityHigh,
		Summary:  fmt.Sprintf("starts less than %s from now", r.MinNotice),
		Details: ConflictDetails{
			Rule:     r.Kind(),
			Interval: &Interval{Start: start, End: end},
		},
	}
}

// MaxAdvanceRule warns about intervals booked too far ahead.
type MaxAdvanceRule struct {
	MaxAhead time.Duration
}

func (r MaxAdvanceRule) Kind() string { return "max_advance" }

func (r MaxAdvanceRule) Check(now, start, end time.Time) *Conflict {
	if start.Sub(now) <= r.MaxAhead {
		return nil
	}
	return &Conflict{
		Kind:     ConflictBusinessRule,
		Severity: SeverityMedium,
		Summary:  fmt.Sprintf("starts more than %s ahead", r.MaxAhead),
		Details: ConflictDetails{
			Rule:     r.Kind(),
			Interval: &Interval{Start: start, End: end},
		},
	}
}

// BusinessHoursRule warns when an interval falls outside the configured
// daily window, evaluated in the given location.
type BusinessHoursRule struct {
	DayStart TimeOfDay
	DayEnd   TimeOfDay
	Location *time.Location
}

func (r BusinessHoursRule) Kind() string { return "business_hours" }

func (r BusinessHoursRule) Check(now, start, end time.Time) *Conflict {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	if r.inWindow(start.In(loc)) && r.inWindow(end.In(loc)) {
		return nil
	}
	return &Conflict{
		Kind:     ConflictBusinessRule,
		Severity: SeverityLow,
		Summary:  fmt.Sprintf("outside business hours %s-%s", r.DayStart, r.DayEnd),
		Details: ConflictDetails{
			Rule:     r.Kind(),
			Interval: &Interval{Start: start, End: end},
		},
	}
}

func (r BusinessHoursRule) inWindow(t time.Time) bool {
	mins := TimeOfDay(t.Hour()*60 + t.Minute())
	return mins >= r.DayStart && mins <= r.DayEnd
}

// MaxDurationRule errors when a single interval exceeds the cap.
type MaxDurationRule struct {
	Max time.Duration
}

func (r MaxDurationRule) Kind() string { return "max_duration" }

func (r MaxDurationRule) Check(now, start, end time.Time) *Conflict {
	if end.Sub(start) <= r.Max {
		return nil
	}
	return &Conflict{
		Kind:     ConflictBusinessRule,
		Severity: SeverityCritical,
		Summary:  fmt.Sprintf("duration exceeds %s cap", r.Max),
		Details: ConflictDetails{
			Rule:     r.Kind(),
			Interval: &Interval{Start: start, End: end},
		},
	}
}

// PredicateRule wraps an arbitrary caller check.
type PredicateRule struct {
	Name     string
	Severity Severity
	Passes   func(now, start, end time.Time) bool
}

func (r PredicateRule) Kind() string { return "custom:" + r.Name }

func (r PredicateRule) Check(now, start, end time.Time) *Conflict {
	if r.Passes == nil || r.Passes(now, start, end) {
		return nil
	}
	return &Conflict{
		Kind:     ConflictBusinessRule,
		Severity: r.Severity,
		Summary:  fmt.Sprintf("failed %s check", r.Name),
		Details: ConflictDetails{
			Rule:     r.Kind(),
			Interval: &Interval{Start: start, End: end},
		},
	}
}
