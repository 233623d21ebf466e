package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"carebridge/backend/internal/domain"
	"carebridge/backend/internal/schedstore"
)

// State tracks where a resolution session currently is. Exposed for
// observability; transitions are driven entirely by Run.
type State string

const (
	StateIdle             State = "idle"
	StateChecking         State = "checking"
	StateAwaitingDecision State = "awaiting_decision"
	StateForcing          State = "forcing"
)

// ErrBusy is returned when Run is called while another session is active.
// Sessions never queue; the caller retries once the active one settles.
var ErrBusy = errors.New("resolution session already in progress")

// Decider is asked what to do when a submission raises conflicts. It sees the
// full aggregated conflict list and answers with cancel, modify or proceed.
type Decider interface {
	Decide(ctx context.Context, conflicts []domain.Conflict) (domain.Decision, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, conflicts []domain.Conflict) (domain.Decision, error)

func (f DeciderFunc) Decide(ctx context.Context, conflicts []domain.Conflict) (domain.Decision, error) {
	return f(ctx, conflicts)
}

// Outcome is the terminal result of a resolution session.
type Outcome struct {
	// Cleared is true when no conflicts were found and the submission went
	// through without a decision.
	Cleared   bool
	Decision  domain.Decision
	Conflicts []domain.Conflict
}

// ShouldPersist reports whether the session ended with the booking written.
func (o Outcome) ShouldPersist() bool {
	return o.Cleared || o.Decision == domain.DecisionProceed
}

// Coordinator runs conflict resolution sessions: check every candidate date,
// aggregate what clashes, and if anything did, ask the decider before forcing
// or abandoning the write. Sessions are keyed by provider: one active session
// per provider, while unrelated providers resolve independently.
type Coordinator struct {
	checker schedstore.ConflictChecker
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]State
}

func NewCoordinator(checker schedstore.ConflictChecker, log *slog.Logger) *Coordinator {
	return &Coordinator{
		checker:  checker,
		log:      log.With(slog.String("component", "resolution")),
		sessions: make(map[string]State),
	}
}

// CurrentState returns the provider's session state at this instant. Providers
// with no active session are Idle.
func (c *Coordinator) CurrentState(providerID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[providerID]; ok {
		return s
	}
	return StateIdle
}

func (c *Coordinator) begin(providerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, active := c.sessions[providerID]; active {
		return ErrBusy
	}
	c.sessions[providerID] = StateChecking
	return nil
}

func (c *Coordinator) transition(providerID string, s State) {
	c.mu.Lock()
	c.sessions[providerID] = s
	c.mu.Unlock()
}

func (c *Coordinator) end(providerID string) {
	c.mu.Lock()
	delete(c.sessions, providerID)
	c.mu.Unlock()
}

// Run executes one session, scoped to base.ProviderID: a second Run for the
// same provider while one is active returns ErrBusy. base carries the
// provider/patient/time fields shared by every date; dates are checked
// sequentially in order. persist is
// invoked at most once with force=false on a clear run, or force=true after a
// proceed decision. A persist rejection carrying conflict detail is routed
// back into the decision step rather than surfaced as an error.
func (c *Coordinator) Run(
	ctx context.Context,
	base schedstore.ConflictQuery,
	dates []time.Time,
	decider Decider,
	persist func(ctx context.Context, force bool) error,
) (Outcome, error) {
	if err := c.begin(base.ProviderID); err != nil {
		return Outcome{}, err
	}
	defer c.end(base.ProviderID)

	conflicts, err := c.checkDates(ctx, base, dates)
	if err != nil {
		return Outcome{}, err
	}

	if len(conflicts) == 0 {
		err := persist(ctx, false)
		if err == nil {
			return Outcome{Cleared: true}, nil
		}
		ce, ok := schedstore.AsConflictError(err)
		if !ok {
			return Outcome{}, err
		}
		// The store saw a clash the pre-check missed. Same session, the
		// conflicts just arrived late.
		c.log.Info("store rejected clear submission with conflicts",
			slog.Int("conflicts", len(ce.Conflicts)))
		conflicts = ce.Conflicts
	}

	c.transition(base.ProviderID, StateAwaitingDecision)
	decision, err := decider.Decide(ctx, conflicts)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Decision: decision, Conflicts: conflicts}
	switch decision {
	case domain.DecisionProceed:
		c.transition(base.ProviderID, StateForcing)
		if err := persist(ctx, true); err != nil {
			return Outcome{}, err
		}
		return out, nil
	case domain.DecisionCancel, domain.DecisionModify:
		return out, nil
	}
	return Outcome{}, fmt.Errorf("unknown decision %q", decision)
}

// checkDates runs the per-date conflict checks in order and aggregates every
// clash. A checker failure on one date is logged and skipped: conflict
// detection is advisory and must not block booking.
func (c *Coordinator) checkDates(ctx context.Context, base schedstore.ConflictQuery, dates []time.Time) ([]domain.Conflict, error) {
	var all []domain.Conflict
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q := base
		q.Date = d
		report, err := c.checker.CheckConflicts(ctx, q)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.log.Warn("conflict check failed, proceeding without it",
				slog.String("date", domain.FormatDate(d)),
				slog.Any("error", err))
			continue
		}
		for _, cf := range report.Conflicts {
			if cf.Date.IsZero() {
				cf.Date = d
			}
			all = append(all, cf)
		}
	}
	return all, nil
}
