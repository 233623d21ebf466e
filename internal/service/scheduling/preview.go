package scheduling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"carebridge/backend/internal/domain"
)

// Preview is what a recurrence pattern would book, before anything is
// submitted. Absences are advisory warnings, never blockers.
type Preview struct {
	Dates    []time.Time
	Summary  string
	Absences []domain.AbsenceRange
}

// PreviewOccurrences expands a pattern and annotates the dates with provider
// absences. Invalid or incomplete patterns preview as empty rather than
// erroring, since the caller is typically mid-edit. An absence lookup failure
// degrades to a preview without warnings.
func (s *Service) PreviewOccurrences(ctx context.Context, providerID string, p domain.RecurrencePattern) (Preview, error) {
	dates := domain.GenerateOccurrences(p)
	if len(dates) == 0 {
		return Preview{}, nil
	}

	preview := Preview{Dates: dates, Summary: domain.PatternSummary(p)}
	if providerID == "" {
		return preview, nil
	}

	byDate, err := s.absences.CheckAbsences(ctx, providerID, dates)
	if err != nil {
		if ctx.Err() != nil {
			return Preview{}, ctx.Err()
		}
		s.log.Warn("absence lookup failed, previewing without warnings",
			slog.String("provider_id", providerID),
			slog.Any("error", err))
		return preview, nil
	}

	advisories := make([]domain.AbsenceAdvisory, 0, len(byDate))
	for _, d := range dates {
		if a, ok := byDate[domain.FormatDate(d)]; ok {
			a.Date = d
			advisories = append(advisories, a)
		}
	}
	preview.Absences = domain.MergeAbsenceRanges(advisories)
	return preview, nil
}

// AbsenceRanges looks up a provider's absences on the given dates and folds
// them into ranges. Unlike the preview path this surfaces lookup failures,
// since the caller asked for the absences themselves.
func (s *Service) AbsenceRanges(ctx context.Context, providerID string, dates []time.Time) ([]domain.AbsenceRange, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	if len(dates) == 0 {
		return nil, nil
	}

	byDate, err := s.absences.CheckAbsences(ctx, providerID, dates)
	if err != nil {
		return nil, err
	}

	advisories := make([]domain.AbsenceAdvisory, 0, len(byDate))
	for _, d := range dates {
		if a, ok := byDate[domain.FormatDate(d)]; ok {
			a.Date = d
			advisories = append(advisories, a)
		}
	}
	return domain.MergeAbsenceRanges(advisories), nil
}

// Previewer debounces live preview requests while the user edits a pattern.
// Only the latest request is computed, after a quiet period; superseded
// requests are discarded without a result.
type Previewer struct {
	svc   *Service
	delay time.Duration

	mu     sync.Mutex
	gen    uint64
	closed bool
}

func NewPreviewer(svc *Service, delay time.Duration) *Previewer {
	return &Previewer{svc: svc, delay: delay}
}

// Latest waits out the quiet period and computes the preview, unless a newer
// call or Close supersedes this one first. ok is false for a superseded or
// closed request; its result must be discarded by the caller.
func (p *Previewer) Latest(ctx context.Context, providerID string, pattern domain.RecurrencePattern) (preview Preview, ok bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Preview{}, false, nil
	}
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Preview{}, false, ctx.Err()
	case <-t.C:
	}
	if p.stale(gen) {
		return Preview{}, false, nil
	}

	preview, err = p.svc.PreviewOccurrences(ctx, providerID, pattern)
	if err != nil {
		return Preview{}, false, err
	}

	// The pattern may have changed while we were computing.
	if p.stale(gen) {
		return Preview{}, false, nil
	}
	return preview, true, nil
}

func (p *Previewer) stale(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || gen != p.gen
}

// Close stops the previewer; pending requests are discarded.
func (p *Previewer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
