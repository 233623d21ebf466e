package domain

import "time"

type ConflictType string

const (
	ConflictTypeProvider ConflictType = "provider"
	ConflictTypePatient  ConflictType = "patient"
	ConflictTypeRoom     ConflictType = "room"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// BookingSnapshot captures the clashing booking a conflict was raised against.
type BookingSnapshot struct {
	StartTime string
	EndTime   string
	With      string
	Service   string
}

// Conflict is one clash between a candidate and an existing booking. Date is
// the originating candidate date; for recurring submissions it tags which
// occurrence raised the conflict.
type Conflict struct {
	Type        ConflictType
	Severity    Severity
	Message     string
	Date        time.Time
	Existing    *BookingSnapshot
	Suggestions []string
}

// ConflictReport is the normalized result of checking one candidate date.
type ConflictReport struct {
	HasConflicts bool
	Conflicts    []Conflict
}

// NormalizeConflictType maps loose collaborator values onto the known set.
// Unknown values default to provider, the most restrictive interpretation.
func NormalizeConflictType(s string) ConflictType {
	switch ConflictType(s) {
	case ConflictTypePatient:
		return ConflictTypePatient
	case ConflictTypeRoom:
		return ConflictTypeRoom
	default:
		return ConflictTypeProvider
	}
}

// NormalizeSeverity maps loose collaborator values onto the known set.
// Unknown values default to medium.
func NormalizeSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
