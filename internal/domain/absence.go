package domain

import (
	"sort"
	"time"
)

// AbsenceAdvisory is a non-blocking warning that a provider is absent on a
// date. Advisories inform the user; they never gate submission.
type AbsenceAdvisory struct {
	Date        time.Time
	AbsenceType string
	Reason      string
}

// AbsenceRange is a run of consecutive absent dates collapsed into one span.
type AbsenceRange struct {
	Start       time.Time
	End         time.Time
	AbsenceType string
	Reason      string
}

// Days returns the number of calendar days the range covers.
func (r AbsenceRange) Days() int {
	return int(r.End.Sub(r.Start)/(24*time.Hour)) + 1
}

// MergeAbsenceRanges folds per-day advisories into date ranges so that a
// week-long absence surfaces as one warning instead of seven. Consecutive days
// merge only when absence type matches; the first day's reason is kept.
func MergeAbsenceRanges(advisories []AbsenceAdvisory) []AbsenceRange {
	if len(advisories) == 0 {
		return nil
	}

	sorted := make([]AbsenceAdvisory, len(advisories))
	copy(sorted, advisories)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := make([]AbsenceRange, 0, len(sorted))
	current := AbsenceRange{
		Start:       DateOnly(sorted[0].Date),
		End:         DateOnly(sorted[0].Date),
		AbsenceType: sorted[0].AbsenceType,
		Reason:      sorted[0].Reason,
	}

	for _, a := range sorted[1:] {
		day := DateOnly(a.Date)
		if day.Equal(current.End) {
			continue
		}
		if day.Equal(current.End.AddDate(0, 0, 1)) && a.AbsenceType == current.AbsenceType {
			current.End = day
			continue
		}
		out = append(out, current)
		current = AbsenceRange{Start: day, End: day, AbsenceType: a.AbsenceType, Reason: a.Reason}
	}

	return append(out, current)
}
