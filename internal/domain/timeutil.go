package domain

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// DefaultDurationMinutes is assumed when a candidate carries no end time.
const DefaultDurationMinutes = 30

// ParseClock parses an "HH:MM" wall-clock string into minutes since midnight.
// The format is strict: exactly five characters, all four positions digits.
func ParseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	minutes %= minutesPerDay
	if minutes < 0 {
		minutes += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// CalculateEndTime adds a duration to an "HH:MM" start time, wrapping past
// midnight. A non-positive duration falls back to DefaultDurationMinutes.
// Returns "" when the start time is unparseable.
func CalculateEndTime(start string, durationMinutes int) string {
	if durationMinutes <= 0 {
		durationMinutes = DefaultDurationMinutes
	}
	m, ok := ParseClock(start)
	if !ok {
		return ""
	}
	return FormatClock(m + durationMinutes)
}

// MinutesBetween returns the minutes from start to end on the same day.
// ok is false when either time is unparseable; a non-positive span is
// returned as-is for the caller to validate.
func MinutesBetween(start, end string) (int, bool) {
	s, ok := ParseClock(start)
	if !ok {
		return 0, false
	}
	e, ok := ParseClock(end)
	if !ok {
		return 0, false
	}
	return e - s, true
}

// CalculateDuration renders the span between two "HH:MM" times as a short
// human string ("30min", "1h", "1h 30min"). Invalid or non-positive spans
// yield "".
func CalculateDuration(start, end string) string {
	minutes, ok := MinutesBetween(start, end)
	if !ok || minutes <= 0 {
		return ""
	}
	h := minutes / 60
	m := minutes % 60
	switch {
	case h == 0:
		return fmt.Sprintf("%dmin", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh %dmin", h, m)
	}
}

// IsPastDate reports whether date falls on a calendar day before now's.
// Time of day is ignored on both sides.
func IsPastDate(date, now time.Time) bool {
	dy, dm, dd := date.Date()
	ny, nm, nd := now.Date()
	if dy != ny {
		return dy < ny
	}
	if dm != nm {
		return dm < nm
	}
	return dd < nd
}

// DateOnly truncates a time to its calendar day at midnight UTC.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDate parses a "YYYY-MM-DD" date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOnly(t), nil
}
