package schedstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"carebridge/backend/internal/domain"
)

// ConflictQuery describes one candidate slot to check against existing
// bookings. Exclude IDs let a reschedule skip the booking being moved.
type ConflictQuery struct {
	ProviderID        string
	PatientID         string
	Date              time.Time
	StartTime         string
	EndTime           string
	ExcludeScheduleID uuid.UUID
	ExcludeTimeslotID uuid.UUID
}

// ConflictChecker asks the schedule store whether a candidate slot clashes
// with existing bookings. Implementations report, they do not block.
type ConflictChecker interface {
	CheckConflicts(ctx context.Context, q ConflictQuery) (domain.ConflictReport, error)
}

// AbsenceChecker looks up provider absences for a set of dates. The result is
// keyed by "YYYY-MM-DD"; dates with no absence are simply missing.
type AbsenceChecker interface {
	CheckAbsences(ctx context.Context, providerID string, dates []time.Time) (map[string]domain.AbsenceAdvisory, error)
}

// DeleteStrategy selects how much of a recurring series a delete removes.
type DeleteStrategy string

const (
	// DeleteSmart removes the occurrence and garbage-collects the series
	// when it was the last one.
	DeleteSmart DeleteStrategy = "smart"
	// DeleteAggressive removes the whole series and every occurrence.
	DeleteAggressive DeleteStrategy = "aggressive"
	// DeleteConservative removes only the occurrence, always keeping the
	// series record.
	DeleteConservative DeleteStrategy = "conservative"
)

// RecurringSettings carries the expanded pattern alongside a batched create so
// the store can record series membership.
type RecurringSettings struct {
	Pattern       domain.RecurrencePattern
	ExpandedDates []time.Time
	TotalCount    int
}

type CreateInput struct {
	Candidate domain.Candidate
	Force     bool
}

type CreateRecurringInput struct {
	Candidate      domain.Candidate
	Recurring      RecurringSettings
	PatternSummary string
	Force          bool
}

type MoveInput struct {
	Date      time.Time
	StartTime string
	EndTime   string
}

// AppointmentStore persists bookings. A store may raise *ConflictError from
// the create calls when it detects a clash the pre-check missed.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, in CreateInput) (domain.Appointment, error)
	CreateRecurring(ctx context.Context, in CreateRecurringInput) ([]domain.Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, in MoveInput) (domain.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID, strategy DeleteStrategy) error
}

// ParseDeleteStrategy validates a strategy string, defaulting empty to smart.
func ParseDeleteStrategy(s string) (DeleteStrategy, bool) {
	switch DeleteStrategy(s) {
	case DeleteSmart, DeleteAggressive, DeleteConservative:
		return DeleteStrategy(s), true
	case "":
		return DeleteSmart, true
	}
	return "", false
}
