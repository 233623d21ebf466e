package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

const (
	// MaxOccurrences bounds how many dates a pattern may expand to.
	MaxOccurrences = 52
	// maxDaySteps bounds the calendar walk regardless of the end condition.
	maxDaySteps = 365
	// monthlyStepDays is the literal date-arithmetic step for monthly patterns.
	monthlyStepDays = 30
)

// RecurrencePattern describes how one template appointment expands into many.
// The end condition is either EndDate or Count; when both are nil the pattern
// expands to nothing.
type RecurrencePattern struct {
	Frequency Frequency
	Weekdays  []time.Weekday
	Interval  int
	StartDate time.Time
	EndDate   *time.Time
	Count     *int
}

// GenerateOccurrences expands a pattern into an ordered, duplicate-free
// sequence of dates (midnight UTC), strictly ascending. Invalid or
// under-specified patterns yield an empty sequence, never an error.
func GenerateOccurrences(p RecurrencePattern) []time.Time {
	start := DateOnly(p.StartDate)
	if start.IsZero() {
		return nil
	}

	limit := MaxOccurrences
	if p.Count != nil {
		if *p.Count <= 0 {
			return nil
		}
		if *p.Count < limit {
			limit = *p.Count
		}
	}

	var end time.Time
	if p.EndDate != nil {
		end = DateOnly(*p.EndDate)
		if end.IsZero() || end.Before(start) {
			return nil
		}
	}
	if p.Count == nil && end.IsZero() {
		return nil
	}

	switch p.Frequency {
	case FrequencyWeekly, FrequencyBiweekly:
		return generateWeekly(p, start, end, limit)
	case FrequencyMonthly:
		return generateMonthly(p, start, end, limit)
	}
	return nil
}

func generateWeekly(p RecurrencePattern, start, end time.Time, limit int) []time.Time {
	weekdays := weekdaySet(p.Weekdays)
	if len(weekdays) == 0 {
		return nil
	}

	interval := p.Interval
	if p.Frequency == FrequencyBiweekly {
		interval = 2
	}
	if interval < 1 {
		interval = 1
	}

	// Walk whole week cycles. Within an active week every selected weekday is
	// emitted in calendar order, then the cursor jumps interval weeks ahead.
	// For a single selected weekday this produces the same set as a literal
	// day-by-day scan with an interval*7-1 skip after each match.
	weekStart := start.AddDate(0, 0, -int(start.Weekday()))
	ceiling := start.AddDate(0, 0, maxDaySteps)

	out := make([]time.Time, 0, limit)
	for cycle := 0; ; cycle++ {
		ws := weekStart.AddDate(0, 0, cycle*interval*7)
		if ws.After(ceiling) {
			return out
		}
		if !end.IsZero() && ws.After(end.AddDate(0, 0, 7)) {
			return out
		}
		for d := 0; d < 7; d++ {
			day := ws.AddDate(0, 0, d)
			if day.Before(start) || !weekdays[day.Weekday()] {
				continue
			}
			if !end.IsZero() && day.After(end) {
				return out
			}
			out = append(out, day)
			if len(out) == limit {
				return out
			}
		}
	}
}

func generateMonthly(p RecurrencePattern, start, end time.Time, limit int) []time.Time {
	weekdays := weekdaySet(p.Weekdays)
	if len(weekdays) == 0 {
		weekdays = map[time.Weekday]bool{start.Weekday(): true}
	}

	out := make([]time.Time, 0, limit)
	day := start
	steps := 0
	for steps < maxDaySteps {
		if !end.IsZero() && day.After(end.AddDate(0, 0, 7)) {
			return out
		}
		if weekdays[day.Weekday()] && (end.IsZero() || !day.After(end)) {
			out = append(out, day)
			if len(out) == limit {
				return out
			}
			// Literal ~30-day stepping: the scan resumes a month's worth of
			// days later and picks up the next matching weekday from there.
			day = day.AddDate(0, 0, monthlyStepDays)
			steps += monthlyStepDays
			continue
		}
		day = day.AddDate(0, 0, 1)
		steps++
	}
	return out
}

func weekdaySet(weekdays []time.Weekday) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(weekdays))
	for _, wd := range weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			continue
		}
		set[wd] = true
	}
	return set
}

// NormalizeWeekdays deduplicates and sorts a weekday selection.
func NormalizeWeekdays(weekdays []time.Weekday) []time.Weekday {
	set := weekdaySet(weekdays)
	out := make([]time.Weekday, 0, len(set))
	for wd := range set {
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PatternSummary renders a human-readable description of a pattern, carried as
// metadata on batched recurring create commands.
func PatternSummary(p RecurrencePattern) string {
	var b strings.Builder

	switch p.Frequency {
	case FrequencyBiweekly:
		b.WriteString("every 2 weeks")
	case FrequencyMonthly:
		b.WriteString("monthly")
	default:
		if p.Interval > 1 {
			fmt.Fprintf(&b, "every %d weeks", p.Interval)
		} else {
			b.WriteString("weekly")
		}
	}

	if names := weekdayNames(p.Weekdays); names != "" {
		b.WriteString(" on ")
		b.WriteString(names)
	}

	switch {
	case p.Count != nil:
		fmt.Fprintf(&b, ", %d occurrences", *p.Count)
	case p.EndDate != nil:
		fmt.Fprintf(&b, ", until %s", FormatDate(*p.EndDate))
	}

	return b.String()
}

func weekdayNames(weekdays []time.Weekday) string {
	normalized := NormalizeWeekdays(weekdays)
	if len(normalized) == 0 {
		return ""
	}
	names := make([]string, 0, len(normalized))
	for _, wd := range normalized {
		names = append(names, wd.String())
	}
	return strings.Join(names, ", ")
}
