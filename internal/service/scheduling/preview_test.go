package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carebridge/backend/internal/domain"
)

func weeklyMondays(count int) domain.RecurrencePattern {
	return domain.RecurrencePattern{
		Frequency: domain.FrequencyWeekly,
		Weekdays:  []time.Weekday{time.Monday},
		Interval:  1,
		StartDate: date(2025, 7, 7),
		Count:     intPtr(count),
	}
}

func TestPreviewOccurrences_MergesAbsences(t *testing.T) {
	absences := &fakeAbsences{
		checkAbsences: func(ctx context.Context, providerID string, dates []time.Time) (map[string]domain.AbsenceAdvisory, error) {
			if providerID != "prov-1" {
				t.Fatalf("providerID = %q", providerID)
			}
			return map[string]domain.AbsenceAdvisory{
				"2025-07-07": {AbsenceType: "vacation", Reason: "leave"},
				"2025-07-14": {AbsenceType: "vacation", Reason: "leave"},
			}, nil
		},
	}
	svc := newTestService(&fakeStore{}, &fakeChecker{}, absences)

	preview, err := svc.PreviewOccurrences(context.Background(), "prov-1", weeklyMondays(4))
	if err != nil {
		t.Fatalf("PreviewOccurrences: %v", err)
	}
	if len(preview.Dates) != 4 {
		t.Fatalf("dates = %d, want 4", len(preview.Dates))
	}
	if preview.Summary != "weekly on Monday, 4 occurrences" {
		t.Fatalf("summary = %q", preview.Summary)
	}
	// The two absent Mondays are a week apart, so they stay separate ranges.
	if len(preview.Absences) != 2 {
		t.Fatalf("absences = %+v, want 2 single-day ranges", preview.Absences)
	}
	for _, r := range preview.Absences {
		if r.Days() != 1 || r.AbsenceType != "vacation" {
			t.Fatalf("range = %+v", r)
		}
	}
}

func TestPreviewOccurrences_AbsenceLookupFailureDegrades(t *testing.T) {
	absences := &fakeAbsences{
		checkAbsences: func(ctx context.Context, providerID string, dates []time.Time) (map[string]domain.AbsenceAdvisory, error) {
			return nil, errors.New("collaborator down")
		},
	}
	svc := newTestService(&fakeStore{}, &fakeChecker{}, absences)

	preview, err := svc.PreviewOccurrences(context.Background(), "prov-1", weeklyMondays(4))
	if err != nil {
		t.Fatalf("PreviewOccurrences: %v", err)
	}
	if len(preview.Dates) != 4 || len(preview.Absences) != 0 {
		t.Fatalf("preview = %+v, want dates and no warnings", preview)
	}
}

func TestPreviewOccurrences_InvalidPatternIsEmpty(t *testing.T) {
	// The absence checker is unconfigured: an empty expansion must not reach it.
	svc := newTestService(&fakeStore{}, &fakeChecker{}, &fakeAbsences{})

	preview, err := svc.PreviewOccurrences(context.Background(), "prov-1", domain.RecurrencePattern{
		Frequency: domain.FrequencyWeekly,
		StartDate: date(2025, 7, 7),
		Count:     intPtr(4),
	})
	if err != nil {
		t.Fatalf("PreviewOccurrences: %v", err)
	}
	if len(preview.Dates) != 0 {
		t.Fatalf("preview = %+v, want empty", preview)
	}
}

func TestPreviewer_OnlyLatestRequestComputes(t *testing.T) {
	absences := &fakeAbsences{
		checkAbsences: func(ctx context.Context, providerID string, dates []time.Time) (map[string]domain.AbsenceAdvisory, error) {
			return nil, nil
		},
	}
	svc := newTestService(&fakeStore{}, &fakeChecker{}, absences)
	p := NewPreviewer(svc, 20*time.Millisecond)
	defer p.Close()

	var mu sync.Mutex
	var delivered []int
	var wg sync.WaitGroup

	for _, count := range []int{2, 3, 4} {
		wg.Add(1)
		go func(count int) {
			defer wg.Done()
			pr, ok, err := p.Latest(context.Background(), "prov-1", weeklyMondays(count))
			if err != nil {
				t.Errorf("Latest(count=%d): %v", count, err)
				return
			}
			if ok {
				mu.Lock()
				delivered = append(delivered, len(pr.Dates))
				mu.Unlock()
			}
		}(count)
		time.Sleep(5 * time.Millisecond) // well inside the quiet period
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != 4 {
		t.Fatalf("delivered = %v, want only the last request's 4 dates", delivered)
	}
}

func TestPreviewer_CloseDiscardsPending(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeChecker{}, &fakeAbsences{})
	p := NewPreviewer(svc, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok, err := p.Latest(context.Background(), "prov-1", weeklyMondays(4)); ok || err != nil {
			t.Errorf("Latest after Close = (ok=%v, err=%v), want discarded", ok, err)
		}
	}()
	time.Sleep(2 * time.Millisecond)
	p.Close()
	<-done

	if _, ok, _ := p.Latest(context.Background(), "prov-1", weeklyMondays(4)); ok {
		t.Fatal("Latest on a closed previewer returned a result")
	}
}

func TestPreviewer_CancelledContextStopsWaiting(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeChecker{}, &fakeAbsences{})
	p := NewPreviewer(svc, time.Hour)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok, err := p.Latest(ctx, "prov-1", weeklyMondays(4)); ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("Latest = (ok=%v, err=%v), want context.Canceled", ok, err)
	}
}
