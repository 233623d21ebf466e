// Package postgres implements the schedstore contracts in-process against a
// bookings schema, for deployments that do not front a remote schedule store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"carebridge/backend/internal/domain"
	"carebridge/backend/internal/schedstore"
)

type Store struct {
	db  *bun.DB
	log *slog.Logger
}

func NewStore(db *bun.DB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(slog.String("component", "schedstore.postgres")),
	}
}

var (
	_ schedstore.ConflictChecker  = (*Store)(nil)
	_ schedstore.AbsenceChecker   = (*Store)(nil)
	_ schedstore.AppointmentStore = (*Store)(nil)
)

func (s *Store) CheckConflicts(ctx context.Context, q schedstore.ConflictQuery) (domain.ConflictReport, error) {
	conflicts, err := scanConflicts(ctx, s.db, q)
	if err != nil {
		return domain.ConflictReport{}, err
	}
	return domain.ConflictReport{HasConflicts: len(conflicts) > 0, Conflicts: conflicts}, nil
}

// scanConflicts runs the overlap scan for one candidate slot against provider
// and patient bookings. The predicate is start < existing.end AND
// end > existing.start on "HH:MM" strings.
func scanConflicts(ctx context.Context, db bun.IDB, q schedstore.ConflictQuery) ([]domain.Conflict, error) {
	var conflicts []domain.Conflict
	seen := make(map[uuid.UUID]bool)

	providerRows, err := overlapScan(ctx, db, q, "provider_id", q.ProviderID)
	if err != nil {
		return nil, err
	}
	for _, b := range providerRows {
		seen[b.ID] = true
		conflicts = append(conflicts, conflictFromBooking(domain.ConflictTypeProvider, q, b))
	}

	if q.PatientID != "" {
		patientRows, err := overlapScan(ctx, db, q, "patient_id", q.PatientID)
		if err != nil {
			return nil, err
		}
		for _, b := range patientRows {
			// A booking matching on both axes is the same clash; the
			// provider report covers it.
			if seen[b.ID] {
				continue
			}
			conflicts = append(conflicts, conflictFromBooking(domain.ConflictTypePatient, q, b))
		}
	}

	return conflicts, nil
}

func overlapScan(ctx context.Context, db bun.IDB, q schedstore.ConflictQuery, column, value string) ([]Booking, error) {
	var rows []Booking
	query := db.NewSelect().
		Model(&rows).
		Where(column+" = ?", value).
		Where("date = ?", domain.DateOnly(q.Date)).
		Where("start_time < ?", q.EndTime).
		Where("end_time > ?", q.StartTime).
		OrderExpr("start_time ASC")
	if q.ExcludeTimeslotID != uuid.Nil {
		query = query.Where("id != ?", q.ExcludeTimeslotID)
	}
	if q.ExcludeScheduleID != uuid.Nil {
		query = query.Where("schedule_id IS DISTINCT FROM ?", q.ExcludeScheduleID)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func conflictFromBooking(ct domain.ConflictType, q schedstore.ConflictQuery, b Booking) domain.Conflict {
	who := b.PatientID
	severity := domain.SeverityHigh
	if ct == domain.ConflictTypePatient {
		who = b.ProviderID
		severity = domain.SeverityMedium
	}
	if who == "" {
		who = "blocked time"
	}

	return domain.Conflict{
		Type:     ct,
		Severity: severity,
		Message:  fmt.Sprintf("%s already booked %s-%s", ct, b.StartTime, b.EndTime),
		Date:     domain.DateOnly(q.Date),
		Existing: &domain.BookingSnapshot{
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			With:      who,
			Service:   b.ServiceID,
		},
		Suggestions: []string{fmt.Sprintf("next free slot starts at %s", b.EndTime)},
	}
}

func (s *Store) CheckAbsences(ctx context.Context, providerID string, dates []time.Time) (map[string]domain.AbsenceAdvisory, error) {
	if len(dates) == 0 {
		return nil, nil
	}

	days := make([]time.Time, len(dates))
	for i, d := range dates {
		days[i] = domain.DateOnly(d)
	}

	var rows []ProviderAbsence
	err := s.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("date IN (?)", bun.In(days)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.AbsenceAdvisory, len(rows))
	for _, r := range rows {
		day := domain.DateOnly(r.Date)
		out[domain.FormatDate(day)] = domain.AbsenceAdvisory{
			Date:        day,
			AbsenceType: r.AbsenceType,
			Reason:      r.Reason,
		}
	}
	return out, nil
}

func (s *Store) CreateAppointment(ctx context.Context, in schedstore.CreateInput) (domain.Appointment, error) {
	var out domain.Appointment
	err := s.inProviderTransaction(ctx, in.Candidate.ProviderID, func(ctx context.Context, tx bun.Tx) error {
		if !in.Force {
			// Re-check inside the lock: a concurrent writer may have landed a
			// clashing booking after the advisory pre-check.
			conflicts, err := scanConflicts(ctx, tx, queryFromCandidate(in.Candidate))
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return &schedstore.ConflictError{Conflicts: conflicts}
			}
		}

		m := bookingFromCandidate(in.Candidate, uuid.Nil)
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return err
		}
		out = appointmentFromBooking(m)
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (s *Store) CreateRecurring(ctx context.Context, in schedstore.CreateRecurringInput) ([]domain.Appointment, error) {
	var out []domain.Appointment
	err := s.inProviderTransaction(ctx, in.Candidate.ProviderID, func(ctx context.Context, tx bun.Tx) error {
		if !in.Force {
			var all []domain.Conflict
			for _, d := range in.Recurring.ExpandedDates {
				q := queryFromCandidate(in.Candidate)
				q.Date = d
				conflicts, err := scanConflicts(ctx, tx, q)
				if err != nil {
					return err
				}
				all = append(all, conflicts...)
			}
			if len(all) > 0 {
				return &schedstore.ConflictError{Conflicts: all}
			}
		}

		series := ScheduleSeries{
			ProviderID: in.Candidate.ProviderID,
			Frequency:  string(in.Recurring.Pattern.Frequency),
			Interval:   in.Recurring.Pattern.Interval,
			StartDate:  domain.DateOnly(in.Recurring.Pattern.StartDate),
			Count:      in.Recurring.Pattern.Count,
			Summary:    in.PatternSummary,
			TotalCount: in.Recurring.TotalCount,
		}
		for _, wd := range in.Recurring.Pattern.Weekdays {
			series.Weekdays = append(series.Weekdays, int(wd))
		}
		if in.Recurring.Pattern.EndDate != nil {
			end := domain.DateOnly(*in.Recurring.Pattern.EndDate)
			series.EndDate = &end
		}
		if _, err := tx.NewInsert().Model(&series).Exec(ctx); err != nil {
			return err
		}

		out = make([]domain.Appointment, 0, len(in.Recurring.ExpandedDates))
		for _, d := range in.Recurring.ExpandedDates {
			cand := in.Candidate
			cand.Date = d
			m := bookingFromCandidate(cand, series.ID)
			if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
				return err
			}
			out = append(out, appointmentFromBooking(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MoveAppointment(ctx context.Context, id uuid.UUID, in schedstore.MoveInput) (domain.Appointment, error) {
	booking, err := s.fetchBooking(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err = s.inProviderTransaction(ctx, booking.ProviderID, func(ctx context.Context, tx bun.Tx) error {
		m, err := fetchBookingTx(ctx, tx, id)
		if err != nil {
			return err
		}
		m.Date = domain.DateOnly(in.Date)
		m.StartTime = in.StartTime
		m.EndTime = in.EndTime

		res, err := tx.NewUpdate().
			Model(&m).
			Column("date", "start_time", "end_time", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return schedstore.ErrNotFound
		}
		out = appointmentFromBooking(m)
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id uuid.UUID, strategy schedstore.DeleteStrategy) error {
	booking, err := s.fetchBooking(ctx, id)
	if err != nil {
		return err
	}

	return s.inProviderTransaction(ctx, booking.ProviderID, func(ctx context.Context, tx bun.Tx) error {
		m, err := fetchBookingTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if strategy == schedstore.DeleteAggressive && m.ScheduleID != uuid.Nil {
			if _, err := tx.NewDelete().
				Model((*Booking)(nil)).
				Where("schedule_id = ?", m.ScheduleID).
				Exec(ctx); err != nil {
				return err
			}
			_, err := tx.NewDelete().
				Model((*ScheduleSeries)(nil)).
				Where("id = ?", m.ScheduleID).
				Exec(ctx)
			return err
		}

		res, err := tx.NewDelete().
			Model((*Booking)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return schedstore.ErrNotFound
		}

		if strategy == schedstore.DeleteSmart && m.ScheduleID != uuid.Nil {
			remaining, err := tx.NewSelect().
				Model((*Booking)(nil)).
				Where("schedule_id = ?", m.ScheduleID).
				Count(ctx)
			if err != nil {
				return err
			}
			if remaining == 0 {
				if _, err := tx.NewDelete().
					Model((*ScheduleSeries)(nil)).
					Where("id = ?", m.ScheduleID).
					Exec(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) fetchBooking(ctx context.Context, id uuid.UUID) (Booking, error) {
	return fetchBookingTx(ctx, s.db, id)
}

func fetchBookingTx(ctx context.Context, db bun.IDB, id uuid.UUID) (Booking, error) {
	var m Booking
	err := db.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Booking{}, schedstore.ErrNotFound
		}
		return Booking{}, err
	}
	return m, nil
}

// inProviderTransaction serializes writers per provider with an advisory
// transaction lock, so the conflict re-check and the insert are atomic.
func (s *Store) inProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", providerID).Exec(ctx); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func queryFromCandidate(c domain.Candidate) schedstore.ConflictQuery {
	return schedstore.ConflictQuery{
		ProviderID: c.ProviderID,
		PatientID:  c.PatientID,
		Date:       c.Date,
		StartTime:  c.StartTime,
		EndTime:    c.EndTime,
	}
}

func bookingFromCandidate(c domain.Candidate, scheduleID uuid.UUID) Booking {
	return Booking{
		ScheduleID:  scheduleID,
		ProviderID:  c.ProviderID,
		PatientID:   c.PatientID,
		Date:        domain.DateOnly(c.Date),
		StartTime:   c.StartTime,
		EndTime:     c.EndTime,
		ServiceID:   c.ServiceID,
		Description: c.Description,
	}
}

func appointmentFromBooking(b Booking) domain.Appointment {
	return domain.Appointment{
		ID:          b.ID,
		ScheduleID:  b.ScheduleID,
		ProviderID:  b.ProviderID,
		PatientID:   b.PatientID,
		Date:        b.Date,
		StartTime:   b.StartTime,
		EndTime:     b.EndTime,
		ServiceID:   b.ServiceID,
		Description: b.Description,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}
