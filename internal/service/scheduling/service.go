package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carebridge/backend/internal/domain"
	"carebridge/backend/internal/resolution"
	"carebridge/backend/internal/schedstore"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// ErrPastDateNotConfirmed is returned when a submission targets a past
// calendar day and the caller has not acknowledged that explicitly.
var ErrPastDateNotConfirmed = errors.New("past date requires confirmation")

// Service orchestrates booking flows: validate, expand recurrence, run the
// conflict resolution session, persist.
type Service struct {
	store    schedstore.AppointmentStore
	absences schedstore.AbsenceChecker
	coord    *resolution.Coordinator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(
	store schedstore.AppointmentStore,
	checker schedstore.ConflictChecker,
	absences schedstore.AbsenceChecker,
	log *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		absences: absences,
		coord:    resolution.NewCoordinator(checker, log),
		log:      log.With(slog.String("component", "scheduling")),
		now:      time.Now,
	}
}

type ScheduleInput struct {
	Candidate domain.Candidate
	// PastConfirmed acknowledges booking on a calendar day in the past.
	PastConfirmed bool
}

// ScheduleResult reports how a submission ended. Appointments is populated
// only when the session persisted the booking.
type ScheduleResult struct {
	Appointments []domain.Appointment
	Outcome      resolution.Outcome
	// Dates and PatternSummary are set for recurring submissions.
	Dates          []time.Time
	PatternSummary string
}

// ScheduleSingle books one appointment. Conflicts found along the way are
// routed through decider; a cancel or modify decision ends the flow with no
// write and no error.
func (s *Service) ScheduleSingle(ctx context.Context, in ScheduleInput, decider resolution.Decider) (ScheduleResult, error) {
	cand, err := s.normalizeCandidate(in.Candidate)
	if err != nil {
		return ScheduleResult{}, err
	}
	if cand.Date.IsZero() {
		return ScheduleResult{}, validationError("date is required")
	}
	if domain.IsPastDate(cand.Date, s.now()) && !in.PastConfirmed {
		return ScheduleResult{}, ErrPastDateNotConfirmed
	}

	var created []domain.Appointment
	outcome, err := s.coord.Run(ctx, conflictQuery(cand), []time.Time{cand.Date}, decider,
		func(ctx context.Context, force bool) error {
			appt, err := s.store.CreateAppointment(ctx, schedstore.CreateInput{Candidate: cand, Force: force})
			if err != nil {
				return err
			}
			created = []domain.Appointment{appt}
			return nil
		})
	if err != nil {
		return ScheduleResult{}, err
	}

	s.log.Info("single booking settled",
		slog.String("provider_id", cand.ProviderID),
		slog.String("date", domain.FormatDate(cand.Date)),
		slog.Bool("persisted", outcome.ShouldPersist()))
	return ScheduleResult{Appointments: created, Outcome: outcome}, nil
}

type ScheduleRecurringInput struct {
	Candidate     domain.Candidate
	Pattern       domain.RecurrencePattern
	PastConfirmed bool
}

// ScheduleRecurring expands a recurrence pattern, checks every occurrence
// date, and persists the whole series as one batched create.
func (s *Service) ScheduleRecurring(ctx context.Context, in ScheduleRecurringInput, decider resolution.Decider) (ScheduleResult, error) {
	cand, err := s.normalizeCandidate(in.Candidate)
	if err != nil {
		return ScheduleResult{}, err
	}
	if err := validatePattern(in.Pattern); err != nil {
		return ScheduleResult{}, err
	}

	dates := domain.GenerateOccurrences(in.Pattern)
	if len(dates) == 0 {
		return ScheduleResult{}, validationError("recurrence pattern produces no occurrences")
	}
	if domain.IsPastDate(dates[0], s.now()) && !in.PastConfirmed {
		return ScheduleResult{}, ErrPastDateNotConfirmed
	}

	cand.Date = dates[0]
	summary := domain.PatternSummary(in.Pattern)

	var created []domain.Appointment
	outcome, err := s.coord.Run(ctx, conflictQuery(cand), dates, decider,
		func(ctx context.Context, force bool) error {
			appts, err := s.store.CreateRecurring(ctx, schedstore.CreateRecurringInput{
				Candidate: cand,
				Recurring: schedstore.RecurringSettings{
					Pattern:       in.Pattern,
					ExpandedDates: dates,
					TotalCount:    len(dates),
				},
				PatternSummary: summary,
				Force:          force,
			})
			if err != nil {
				return err
			}
			created = appts
			return nil
		})
	if err != nil {
		return ScheduleResult{}, err
	}

	s.log.Info("recurring booking settled",
		slog.String("provider_id", cand.ProviderID),
		slog.Int("occurrences", len(dates)),
		slog.String("pattern", summary),
		slog.Bool("persisted", outcome.ShouldPersist()))
	return ScheduleResult{
		Appointments:   created,
		Outcome:        outcome,
		Dates:          dates,
		PatternSummary: summary,
	}, nil
}

type MoveInput struct {
	Date      time.Time
	StartTime string
	// DurationMinutes preserves the booking's length across the move. A
	// non-positive value falls back to the default slot length.
	DurationMinutes int
}

// Move reschedules an existing booking to a new day and start time. Moves are
// deliberate user actions on a visible calendar, so no conflict check runs;
// the store still enforces its own consistency.
func (s *Service) Move(ctx context.Context, id uuid.UUID, in MoveInput) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment id is required")
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, validationError("date is required")
	}
	end := domain.CalculateEndTime(in.StartTime, in.DurationMinutes)
	if end == "" {
		return domain.Appointment{}, validationError("start_time %q is not a valid HH:MM time", in.StartTime)
	}

	appt, err := s.store.MoveAppointment(ctx, id, schedstore.MoveInput{
		Date:      domain.DateOnly(in.Date),
		StartTime: in.StartTime,
		EndTime:   end,
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.log.Info("booking moved",
		slog.String("appointment_id", id.String()),
		slog.String("date", domain.FormatDate(appt.Date)),
		slog.String("start_time", appt.StartTime))
	return appt, nil
}

// Delete removes a booking using the given strategy; empty means smart.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, strategy string) error {
	if id == uuid.Nil {
		return validationError("appointment id is required")
	}
	st, ok := schedstore.ParseDeleteStrategy(strategy)
	if !ok {
		return validationError("unknown delete strategy %q", strategy)
	}
	return s.store.DeleteAppointment(ctx, id, st)
}

// normalizeCandidate validates the fields shared by single and recurring
// submissions and fills a missing end time from the default slot length.
func (s *Service) normalizeCandidate(c domain.Candidate) (domain.Candidate, error) {
	if c.ProviderID == "" {
		return domain.Candidate{}, validationError("provider_id is required")
	}
	if _, ok := domain.ParseClock(c.StartTime); !ok {
		return domain.Candidate{}, validationError("start_time %q is not a valid HH:MM time", c.StartTime)
	}
	if c.EndTime == "" {
		c.EndTime = domain.CalculateEndTime(c.StartTime, 0)
	}
	minutes, ok := domain.MinutesBetween(c.StartTime, c.EndTime)
	if !ok {
		return domain.Candidate{}, validationError("end_time %q is not a valid HH:MM time", c.EndTime)
	}
	if minutes <= 0 {
		return domain.Candidate{}, validationError("end_time must be after start_time")
	}
	if minutes < domain.MinDurationMinutes {
		return domain.Candidate{}, validationError("booking must be at least %d minutes", domain.MinDurationMinutes)
	}
	c.Date = domain.DateOnly(c.Date)
	return c, nil
}

func validatePattern(p domain.RecurrencePattern) error {
	switch p.Frequency {
	case domain.FrequencyWeekly, domain.FrequencyBiweekly:
		if len(p.Weekdays) == 0 {
			return validationError("%s recurrence requires at least one weekday", p.Frequency)
		}
	case domain.FrequencyMonthly:
	default:
		return validationError("unknown recurrence frequency %q", p.Frequency)
	}
	if p.Interval < 0 {
		return validationError("recurrence interval must be positive")
	}
	if p.StartDate.IsZero() {
		return validationError("recurrence start date is required")
	}
	if p.Count == nil && p.EndDate == nil {
		return validationError("recurrence requires an end date or occurrence count")
	}
	if p.Count != nil {
		if *p.Count <= 0 {
			return validationError("occurrence count must be positive")
		}
		if *p.Count > domain.MaxOccurrences {
			return validationError("occurrence count exceeds the maximum of %d", domain.MaxOccurrences)
		}
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return validationError("recurrence end date precedes its start date")
	}
	return nil
}

func conflictQuery(c domain.Candidate) schedstore.ConflictQuery {
	return schedstore.ConflictQuery{
		ProviderID: c.ProviderID,
		PatientID:  c.PatientID,
		Date:       c.Date,
		StartTime:  c.StartTime,
		EndTime:    c.EndTime,
	}
}
