package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Booking is one occurrence on a provider's day. Times are "HH:MM" strings;
// the format sorts lexicographically, so overlap checks compare them directly.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	ScheduleID  uuid.UUID `bun:"schedule_id,type:uuid,nullzero"`
	ProviderID  string    `bun:"provider_id,notnull"`
	PatientID   string    `bun:"patient_id"`
	Date        time.Time `bun:"date,notnull"`
	StartTime   string    `bun:"start_time,notnull"`
	EndTime     string    `bun:"end_time,notnull"`
	ServiceID   string    `bun:"service_id"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// ScheduleSeries groups the occurrences of one recurring submission.
type ScheduleSeries struct {
	bun.BaseModel `bun:"table:schedule_series"`

	ID         uuid.UUID  `bun:"id,pk,type:uuid"`
	ProviderID string     `bun:"provider_id,notnull"`
	Frequency  string     `bun:"frequency,notnull"`
	Weekdays   []int      `bun:"weekdays,array"`
	Interval   int        `bun:"interval"`
	StartDate  time.Time  `bun:"start_date,notnull"`
	EndDate    *time.Time `bun:"end_date,nullzero"`
	Count      *int       `bun:"count,nullzero"`
	Summary    string     `bun:"summary"`
	TotalCount int        `bun:"total_count,notnull"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull"`
}

func (s *ScheduleSeries) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

// ProviderAbsence is one day a provider is away.
type ProviderAbsence struct {
	bun.BaseModel `bun:"table:provider_absences"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID  string    `bun:"provider_id,notnull"`
	Date        time.Time `bun:"date,notnull"`
	AbsenceType string    `bun:"absence_type,notnull"`
	Reason      string    `bun:"reason"`
}
