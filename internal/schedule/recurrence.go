package schedule

import (
	"iter"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// Expander turns one availability rule plus a bounded date window into a
// lazy sequence of candidate slots. The pattern dates (at most one per
// calendar day, or per month day for monthly rules) are computed via rrule;
// the per-day slot walk is generated lazily on iteration, so filtering can
// stop early without materializing the whole result.
type Expander struct {
	maxWindow time.Duration
}

func NewExpander(maxWindowDays int) *Expander {
	if maxWindowDays <= 0 {
		maxWindowDays = 90
	}
	return &Expander{maxWindow: time.Duration(maxWindowDays) * 24 * time.Hour}
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Expand validates the rule and window up front and returns a restartable
// sequence of candidates in chronological order. Iterating the sequence again
// replays it from the start.
func (e *Expander) Expand(rule AvailabilityRule, windowStart, windowEnd time.Time) (iter.Seq[CandidateSlot], error) {
	if !windowStart.Before(windowEnd) {
		return nil, configErrorf("expansion window start %s is not before end %s", windowStart, windowEnd)
	}
	if windowEnd.Sub(windowStart) > e.maxWindow {
		return nil, configErrorf("expansion window exceeds %s maximum", e.maxWindow)
	}
	if rule.Start >= rule.End {
		return nil, configErrorf("rule start %s is not before end %s", rule.Start, rule.End)
	}
	if rule.SlotDuration <= 0 {
		return nil, configErrorf("rule slot duration must be positive, got %s", rule.SlotDuration)
	}
	if rule.Buffer < 0 {
		return nil, configErrorf("rule buffer must not be negative, got %s", rule.Buffer)
	}
	if rule.Recurrence == RecurrenceCustom && rule.Custom == nil {
		return nil, configErrorf("custom recurrence requires a date predicate")
	}
	// Without this, rrule falls back to the Dtstart weekday.
	if rule.Recurrence == RecurrenceWeekly && len(rule.Weekdays) == 0 {
		return nil, configErrorf("weekly recurrence requires at least one weekday")
	}

	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return nil, configErrorf("unknown timezone %q", rule.Timezone)
	}

	dates, err := e.patternDates(rule, loc, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	return func(yield func(CandidateSlot) bool) {
		for _, date := range dates {
			for cand := range daySlots(rule, loc, date) {
				// The first and last pattern days can straddle the window
				// edges when the window instants fall mid-day local time.
				if cand.StartTime.Before(windowStart) {
					continue
				}
				if !cand.StartTime.Before(windowEnd) {
					return
				}
				if !yield(cand) {
					return
				}
			}
		}
	}, nil
}

// patternDates resolves the recurrence pattern plus include/exclude overrides
// into the sorted set of local-midnight dates inside the window, clamped to
// the rule's validity range. Include wins over exclude.
func (e *Expander) patternDates(rule AvailabilityRule, loc *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	effStart := windowStart
	validFrom := midnightOf(rule.ValidFrom, loc)
	if effStart.Before(validFrom) {
		effStart = validFrom
	}
	effEnd := windowEnd
	if rule.ValidUntil != nil {
		validEnd := midnightOf(*rule.ValidUntil, loc).AddDate(0, 0, 1)
		if validEnd.Before(effEnd) {
			effEnd = validEnd
		}
	}
	if !effStart.Before(effEnd) {
		return nil, nil
	}

	included := make(map[time.Time]bool)

	switch rule.Recurrence {
	case RecurrenceNone:
		if inRange(validFrom, effStart, effEnd) {
			included[validFrom] = true
		}

	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		opt := rrule.ROption{
			Dtstart: validFrom,
		}
		switch rule.Recurrence {
		case RecurrenceDaily:
			opt.Freq = rrule.DAILY
		case RecurrenceWeekly:
			opt.Freq = rrule.WEEKLY
			for _, wd := range rule.Weekdays {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
			}
		case RecurrenceMonthly:
			opt.Freq = rrule.MONTHLY
		}
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, configErrorf("build recurrence pattern: %v", err)
		}
		for _, occ := range r.Between(midnightOf(effStart, loc), effEnd, true) {
			date := midnightOf(occ, loc)
			if inRange(date, effStart, effEnd) {
				included[date] = true
			}
		}

	case RecurrenceCustom:
		for date := midnightOf(effStart, loc); date.Before(effEnd); date = date.AddDate(0, 0, 1) {
			if rule.Custom(date) {
				included[date] = true
			}
		}

	default:
		return nil, configErrorf("unknown recurrence kind %q", rule.Recurrence)
	}

	for _, ex := range rule.ExcludeDates {
		delete(included, midnightOf(ex, loc))
	}
	for _, in := range rule.IncludeDates {
		date := midnightOf(in, loc)
		if inRange(date, effStart, effEnd) {
			included[date] = true
		}
	}

	dates := make([]time.Time, 0, len(included))
	for date := range included {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// daySlots walks one date's time-of-day window in steps of duration+buffer.
// A trailing step that would cross the end of the window is discarded; a day
// with no valid step simply yields nothing.
func daySlots(rule AvailabilityRule, loc *time.Location, date time.Time) iter.Seq[CandidateSlot] {
	return func(yield func(CandidateSlot) bool) {
		zone := loc
		if rule.DSTPolicy == PreserveInstant {
			zone = anchorZone(rule, loc)
		}

		durMins := int(rule.SlotDuration / time.Minute)
		stepMins := int((rule.SlotDuration + rule.Buffer) / time.Minute)

		year, month, day := date.Date()
		for m := int(rule.Start); m+durMins <= int(rule.End); m += stepMins {
			start := time.Date(year, month, day, m/60, m%60, 0, 0, zone)
			end := time.Date(year, month, day, (m+durMins)/60, (m+durMins)%60, 0, 0, zone)

			cand := CandidateSlot{
				ProfessionalID: rule.ProfessionalID,
				RuleID:         rule.ID,
				StartTime:      start.UTC(),
				EndTime:        end.UTC(),
				LocalStart:     start.In(loc).Format("2006-01-02 15:04"),
				LocalEnd:       end.In(loc).Format("2006-01-02 15:04"),
				Timezone:       rule.Timezone,
			}
			if !yield(cand) {
				return
			}
		}
	}
}

// anchorZone freezes the UTC offset the rule had on its validity start date,
// implementing the preserve-instant DST policy.
func anchorZone(rule AvailabilityRule, loc *time.Location) *time.Location {
	anchor := time.Date(rule.ValidFrom.Year(), rule.ValidFrom.Month(), rule.ValidFrom.Day(),
		rule.Start.Hour(), rule.Start.Minute(), 0, 0, loc)
	name, offset := anchor.Zone()
	return time.FixedZone(name, offset)
}

func midnightOf(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	year, month, day := lt.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func inRange(date, start, end time.Time) bool {
	return !date.Before(midnightOf(start, date.Location())) && date.Before(end)
}
