package domain

import (
	"time"

	"github.com/google/uuid"
)

// MinDurationMinutes is the shortest bookable span.
const MinDurationMinutes = 15

// Candidate is the unit submitted for conflict checking and creation. An
// empty PatientID marks blocked provider time rather than a patient visit.
type Candidate struct {
	ProviderID  string
	PatientID   string
	Date        time.Time
	StartTime   string
	EndTime     string
	ServiceID   string
	Description string
}

// IsBlockedTime reports whether the candidate reserves provider time without
// a patient visit.
func (c Candidate) IsBlockedTime() bool {
	return c.PatientID == ""
}

// Decision is the terminal outcome of a conflict resolution session.
type Decision string

const (
	DecisionCancel  Decision = "cancel"
	DecisionModify  Decision = "modify"
	DecisionProceed Decision = "proceed"
)

// Appointment is a persisted booking as reported back by the schedule store.
type Appointment struct {
	ID          uuid.UUID
	ScheduleID  uuid.UUID
	ProviderID  string
	PatientID   string
	Date        time.Time
	StartTime   string
	EndTime     string
	ServiceID   string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
