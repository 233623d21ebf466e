package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"carebridge/backend/internal/domain"
	"carebridge/backend/internal/resolution"
	"carebridge/backend/internal/schedstore"
)

type fakeStore struct {
	createAppointment func(ctx context.Context, in schedstore.CreateInput) (domain.Appointment, error)
	createRecurring   func(ctx context.Context, in schedstore.CreateRecurringInput) ([]domain.Appointment, error)
	moveAppointment   func(ctx context.Context, id uuid.UUID, in schedstore.MoveInput) (domain.Appointment, error)
	deleteAppointment func(ctx context.Context, id uuid.UUID, strategy schedstore.DeleteStrategy) error
}

func (f *fakeStore) CreateAppointment(ctx context.Context, in schedstore.CreateInput) (domain.Appointment, error) {
	if f.createAppointment == nil {
		panic("createAppointment not configured")
	}
	return f.createAppointment(ctx, in)
}

func (f *fakeStore) CreateRecurring(ctx context.Context, in schedstore.CreateRecurringInput) ([]domain.Appointment, error) {
	if f.createRecurring == nil {
		panic("createRecurring not configured")
	}
	return f.createRecurring(ctx, in)
}

func (f *fakeStore) MoveAppointment(ctx context.Context, id uuid.UUID, in schedstore.MoveInput) (domain.Appointment, error) {
	if f.moveAppointment == nil {
		panic("moveAppointment not configured")
	}
	return f.moveAppointment(ctx, id, in)
}

func (f *fakeStore) DeleteAppointment(ctx context.Context, id uuid.UUID, strategy schedstore.DeleteStrategy) error {
	if f.deleteAppointment == nil {
		panic("deleteAppointment not configured")
	}
	return f.deleteAppointment(ctx, id, strategy)
}

type fakeChecker struct {
	checkConflicts func(ctx context.Context, q schedstore.ConflictQuery) (domain.ConflictReport, error)
}

func (f *fakeChecker) CheckConflicts(ctx context.Context, q schedstore.ConflictQuery) (domain.ConflictReport, error) {
	if f.checkConflicts == nil {
		panic("checkConflicts not configured")
	}
	return f.checkConflicts(ctx, q)
}

type fakeAbsences struct {
	checkAbsences func(ctx context.Context, providerID string, dates []time.Time) (map[string]domain.AbsenceAdvisory, error)
}

func (f *fakeAbsences) CheckAbsences(ctx context.Context, providerID string, dates []time.Time) (map[string]domain.AbsenceAdvisory, error) {
	if f.checkAbsences == nil {
		panic("checkAbsences not configured")
	}
	return f.checkAbsences(ctx, providerID, dates)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }

func newTestService(store *fakeStore, checker *fakeChecker, absences *fakeAbsences) *Service {
	svc := NewService(store, checker, absences, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return date(2025, 1, 1) }
	return svc
}

func clearChecker() *fakeChecker {
	return &fakeChecker{
		checkConflicts: func(ctx context.Context, q schedstore.ConflictQuery) (domain.ConflictReport, error) {
			return domain.ConflictReport{}, nil
		},
	}
}

func cancelDecider() resolution.Decider {
	return resolution.DeciderFunc(func(ctx context.Context, conflicts []domain.Conflict) (domain.Decision, error) {
		return domain.DecisionCancel, nil
	})
}

func noDecider(t *testing.T) resolution.Decider {
	return resolution.DeciderFunc(func(ctx context.Context, conflicts []domain.Conflict) (domain.Decision, error) {
		t.Fatal("decider must not be consulted")
		return "", nil
	})
}

func TestScheduleSingle_DefaultsEndTimeAndPersists(t *testing.T) {
	var got schedstore.CreateInput
	store := &fakeStore{
		createAppointment: func(ctx context.Context, in schedstore.CreateInput) (domain.Appointment, error) {
			got = in
			return domain.Appointment{
				ID:        uuid.New(),
				Date:      in.Candidate.Date,
				StartTime: in.Candidate.StartTime,
				EndTime:   in.Candidate.EndTime,
			}, nil
		},
	}
	svc := newTestService(store, clearChecker(), &fakeAbsences{})

	res, err := svc.ScheduleSingle(context.Background(), ScheduleInput{
		Candidate: domain.Candidate{
			ProviderID: "prov-1",
			PatientID:  "pat-1",
			Date:       date(2025, 2, 3),
			StartTime:  "09:00",
		},
	}, noDecider(t))
	if err != nil {
		t.Fatalf("ScheduleSingle: %v", err)
	}
	if !res.Outcome.Cleared {
		t.Fatalf("outcome = %+v, want cleared", res.Outcome)
	}
	if len(res.Appointments) != 1 {
		t.Fatalf("appointments = %d, want 1", len(res.Appointments))
	}
	if got.Candidate.EndTime != "09:30" {
		t.Fatalf("end time = %q, want default 09:30", got.Candidate.EndTime)
	}
	if got.Force {
		t.Fatal("clear submission persisted with force")
	}
}

func TestScheduleSingle_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		in   ScheduleInput
	}{
		{
			name: "missing provider",
			in: ScheduleInput{Candidate: domain.Candidate{
				Date: date(2025, 2, 3), StartTime: "09:00",
			}},
		},
		{
			name: "missing date",
			in: ScheduleInput{Candidate: domain.Candidate{
				ProviderID: "prov-1", StartTime: "09:00",
			}},
		},
		{
			name: "bad start time",
			in: ScheduleInput{Candidate: domain.Candidate{
				ProviderID: "prov-1", Date: date(2025, 2, 3), StartTime: "9 am",
			}},
		},
		{
			name: "end before start",
			in: ScheduleInput{Candidate: domain.Candidate{
				ProviderID: "prov-1", Date: date(2025, 2, 3), StartTime: "10:00", EndTime: "09:00",
			}},
		},
		{
			name: "below minimum duration",
			in: ScheduleInput{Candidate: domain.Candidate{
				ProviderID: "prov-1", Date: date(2025, 2, 3), StartTime: "09:00", EndTime: "09:10",
			}},
		},
	}

	svc := newTestService(&fakeStore{}, &fakeChecker{}, &fakeAbsences{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ScheduleSingle(context.Background(), tt.in, noDecider(t))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
		})
	}
}

func TestScheduleSingle_PastDateNeedsConfirmation(t *testing.T) {
	store := &fakeStore{
		createAppointment: func(ctx context.Context, in schedstore.CreateInput) (domain.Appointment, error) {
			return domain.Appointment{ID: uuid.New()}, nil
		},
	}
	svc := newTestService(store, clearChecker(), &fakeAbsences{})

	in := ScheduleInput{Candidate: domain.Candidate{
		ProviderID: "prov-1",
		PatientID:  "pat-1",
		Date:       date(2024, 12, 15), // before the fixed now of 2025-01-01
		StartTime:  "09:00",
	}}

	if _, err := svc.ScheduleSingle(context.Background(), in, noDecider(t)); !errors.Is(err, ErrPastDateNotConfirmed) {
		t.Fatalf("err = %v, want ErrPastDateNotConfirmed", err)
	}

	in.PastConfirmed = true
	if _, err := svc.ScheduleSingle(context.Background(), in, noDecider(t)); err != nil {
		t.Fatalf("confirmed past booking: %v", err)
	}
}

func TestScheduleSingle_ProceedForcesCreate(t *testing.T) {
	checker := &fakeChecker{
		checkConflicts: func(ctx context.Context, q schedstore.ConflictQuery) (domain.ConflictReport, error) {
			return domain.ConflictReport{
				HasConflicts: true,
				Conflicts:    []domain.Conflict{{Type: domain.ConflictTypeProvider, Message: "busy"}},
			}, nil
		},
	}
	var forced bool
	store := &fakeStore{
		createAppointment: func(ctx context.Context, in schedstore.CreateInput) (domain.Appointment, error) {
			forced = in.Force
			return domain.Appointment{ID: uuid.New()}, nil
		},
	}
	svc := newTestService(store, checker, &fakeAbsences{})

	res, err := svc.ScheduleSingle(context.Background(), ScheduleInput{
		Candidate: domain.Candidate{
			ProviderID: "prov-1", PatientID: "pat-1",
			Date: date(2025, 2, 3), StartTime: "09:00",
		},
	}, resolution.DeciderFunc(func(ctx context.Context, conflicts []domain.Conflict) (domain.Decision, error) {
		return domain.DecisionProceed, nil
	}))
	if err != nil {
		t.Fatalf("ScheduleSingle: %v", err)
	}
	if !forced {
		t.Fatal("proceed decision did not force the create")
	}
	if res.Outcome.Decision != domain.DecisionProceed {
		t.Fatalf("decision = %q, want proceed", res.Outcome.Decision)
	}
}

func TestScheduleSingle_CancelSkipsPersist(t *testing.T) {
	checker := &fakeChecker{
		checkConflicts: func(ctx context.Context, q schedstore.ConflictQuery) (domain.ConflictReport, error) {
			return domain.ConflictReport{
				HasConflicts: true,
				Conflicts:    []domain.Conflict{{Message: "busy"}},
			}, nil
		},
	}
	svc := newTestService(&fakeStore{}, checker, &fakeAbsences{})

	res, err := svc.ScheduleSingle(context.Background(), ScheduleInput{
		Candidate: domain.Candidate{
			ProviderID: "prov-1", PatientID: "pat-1",
			Date: date(2025, 2, 3), StartTime: "09:00",
		},
	}, cancelDecider())
	if err != nil {
		t.Fatalf("ScheduleSingle: %v", err)
	}
	if res.Outcome.ShouldPersist() || len(res.Appointments) != 0 {
		t.Fatalf("result = %+v, want nothing persisted", res)
	}
}

func TestScheduleRecurring_ExpandsAndBatches(t *testing.T) {
	var got schedstore.CreateRecurringInput
	store := &fakeStore{
		createRecurring: func(ctx context.Context, in schedstore.CreateRecurringInput) ([]domain.Appointment, error) {
			got = in
			out := make([]domain.Appointment, len(in.Recurring.ExpandedDates))
			for i, d := range in.Recurring.ExpandedDates {
				out[i] = domain.Appointment{ID: uuid.New(), Date: d}
			}
			return out, nil
		},
	}

	var checkedDates []time.Time
	checker := &fakeChecker{
		checkConflicts: func(ctx context.Context, q schedstore.ConflictQuery) (domain.ConflictReport, error) {
			checkedDates = append(checkedDates, q.Date)
			return domain.ConflictReport{}, nil
		},
	}
	svc := newTestService(store, checker, &fakeAbsences{})

	res, err := svc.ScheduleRecurring(context.Background(), ScheduleRecurringInput{
		Candidate: domain.Candidate{
			ProviderID: "prov-1", PatientID: "pat-1", StartTime: "09:00",
		},
		Pattern: domain.RecurrencePattern{
			Frequency: domain.FrequencyWeekly,
			Weekdays:  []time.Weekday{time.Monday},
			Interval:  1,
			StartDate: date(2025, 1, 6),
			Count:     intPtr(4),
		},
	}, noDecider(t))
	if err != nil {
		t.Fatalf("ScheduleRecurring: %v", err)
	}

	wantDates := []time.Time{date(2025, 1, 6), date(2025, 1, 13), date(2025, 1, 20), date(2025, 1, 27)}
	if len(checkedDates) != len(wantDates) {
		t.Fatalf("checked %d dates, want %d", len(checkedDates), len(wantDates))
	}
	for i, d := range wantDates {
		if !checkedDates[i].Equal(d) {
			t.Fatalf("checked[%d] = %v, want %v", i, checkedDates[i], d)
		}
	}
	if got.Recurring.TotalCount != 4 || len(got.Recurring.ExpandedDates) != 4 {
		t.Fatalf("recurring settings = %+v, want 4 dates", got.Recurring)
	}
	if got.PatternSummary != "weekly on Monday, 4 occurrences" {
		t.Fatalf("summary = %q", got.PatternSummary)
	}
	if len(res.Appointments) != 4 {
		t.Fatalf("appointments = %d, want 4", len(res.Appointments))
	}
}

func TestScheduleRecurring_InvalidPatternFailsBeforeAnyCheck(t *testing.T) {
	// Unconfigured fakes panic on use, so reaching the store or checker
	// fails the test.
	svc := newTestService(&fakeStore{}, &fakeChecker{}, &fakeAbsences{})

	cand := domain.Candidate{ProviderID: "prov-1", PatientID: "pat-1", StartTime: "09:00"}
	tests := []struct {
		name    string
		pattern domain.RecurrencePattern
	}{
		{
			name: "weekly without weekdays",
			pattern: domain.RecurrencePattern{
				Frequency: domain.FrequencyWeekly,
				StartDate: date(2025, 1, 6),
				Count:     intPtr(4),
			},
		},
		{
			name: "unknown frequency",
			pattern: domain.RecurrencePattern{
				Frequency: "hourly",
				StartDate: date(2025, 1, 6),
				Count:     intPtr(4),
			},
		},
		{
			name: "no end condition",
			pattern: domain.RecurrencePattern{
				Frequency: domain.FrequencyWeekly,
				Weekdays:  []time.Weekday{time.Monday},
				StartDate: date(2025, 1, 6),
			},
		},
		{
			name: "count above ceiling",
			pattern: domain.RecurrencePattern{
				Frequency: domain.FrequencyWeekly,
				Weekdays:  []time.Weekday{time.Monday},
				StartDate: date(2025, 1, 6),
				Count:     intPtr(53),
			},
		},
		{
			name: "end date before start",
			pattern: domain.RecurrencePattern{
				Frequency: domain.FrequencyWeekly,
				Weekdays:  []time.Weekday{time.Monday},
				StartDate: date(2025, 1, 6),
				EndDate:   func() *time.Time { d := date(2024, 12, 1); return &d }(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ScheduleRecurring(context.Background(), ScheduleRecurringInput{
				Candidate: cand,
				Pattern:   tt.pattern,
			}, noDecider(t))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
		})
	}
}

func TestMove_NoConflictCheck(t *testing.T) {
	id := uuid.New()
	var got schedstore.MoveInput
	store := &fakeStore{
		moveAppointment: func(ctx context.Context, gotID uuid.UUID, in schedstore.MoveInput) (domain.Appointment, error) {
			if gotID != id {
				t.Fatalf("id = %v, want %v", gotID, id)
			}
			got = in
			return domain.Appointment{ID: id, Date: in.Date, StartTime: in.StartTime, EndTime: in.EndTime}, nil
		},
	}
	// The checker is unconfigured: any conflict check would panic.
	svc := newTestService(store, &fakeChecker{}, &fakeAbsences{})

	appt, err := svc.Move(context.Background(), id, MoveInput{
		Date:            date(2025, 3, 10),
		StartTime:       "14:00",
		DurationMinutes: 45,
	})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got.EndTime != "14:45" {
		t.Fatalf("end time = %q, want 14:45", got.EndTime)
	}
	if !appt.Date.Equal(date(2025, 3, 10)) {
		t.Fatalf("date = %v", appt.Date)
	}
}

func TestMove_KeepsDefaultDurationWhenUnknown(t *testing.T) {
	store := &fakeStore{
		moveAppointment: func(ctx context.Context, id uuid.UUID, in schedstore.MoveInput) (domain.Appointment, error) {
			return domain.Appointment{ID: id, StartTime: in.StartTime, EndTime: in.EndTime}, nil
		},
	}
	svc := newTestService(store, &fakeChecker{}, &fakeAbsences{})

	appt, err := svc.Move(context.Background(), uuid.New(), MoveInput{
		Date:      date(2025, 3, 10),
		StartTime: "23:45",
	})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if appt.EndTime != "00:15" {
		t.Fatalf("end time = %q, want midnight wrap to 00:15", appt.EndTime)
	}
}

func TestDelete_StrategyValidation(t *testing.T) {
	var got schedstore.DeleteStrategy
	store := &fakeStore{
		deleteAppointment: func(ctx context.Context, id uuid.UUID, strategy schedstore.DeleteStrategy) error {
			got = strategy
			return nil
		},
	}
	svc := newTestService(store, &fakeChecker{}, &fakeAbsences{})

	if err := svc.Delete(context.Background(), uuid.New(), ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got != schedstore.DeleteSmart {
		t.Fatalf("strategy = %q, want smart default", got)
	}

	if err := svc.Delete(context.Background(), uuid.New(), "aggressive"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got != schedstore.DeleteAggressive {
		t.Fatalf("strategy = %q, want aggressive", got)
	}

	err := svc.Delete(context.Background(), uuid.New(), "everything")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}
