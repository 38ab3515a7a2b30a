package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/celf-labs/celfd/internal/accrual"
	"github.com/celf-labs/celfd/internal/clock"
	"github.com/celf-labs/celfd/internal/idgen"
	"github.com/celf-labs/celfd/internal/syncutil"
	"github.com/celf-labs/celfd/internal/token"
	"github.com/celf-labs/celfd/internal/traces"
)

// Applier receives finalized accrual records. Implemented by the wallet
// ledger; application must be idempotent by session ID so a retried
// finalize can never double-credit.
type Applier interface {
	ApplyAccrual(ctx context.Context, rec *accrual.Record) error
}

// Notifier receives engine state-change events for the UI layer's
// subscriptions. Implementations must not block.
type Notifier interface {
	Emit(event string, accountID string, data map[string]interface{})
}

// processEpoch marks sessions whose monotonic baseline belongs to this
// process's clock. An open session loaded under a different epoch was
// persisted by a process that no longer exists, so its monotonic fields
// are meaningless here and must be rebased before use.
var processEpoch = idgen.WithPrefix("proc_")

// Controller is the mining state machine. All mutations for one account
// are serialized through a sharded per-account mutex; accounts are
// independent of each other.
type Controller struct {
	store    Store
	applier  Applier
	calc     accrual.Calculator
	guard    accrual.Guard
	clock    clock.Clock
	locks    syncutil.ShardedMutex
	notifier Notifier
	logger   *slog.Logger
}

// Option configures the controller.
type Option func(*Controller)

// WithNotifier sets the state-change event sink.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// NewController creates a session controller.
func NewController(store Store, applier Applier, guard accrual.Guard, clk clock.Clock, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		applier: applier,
		guard:   guard,
		clock:   clk,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens a new Active session for the account with the given rate
// snapshot. Returns ErrSessionAlreadyActive if the account already has an
// open session.
func (c *Controller) Start(ctx context.Context, accountID string, rc accrual.RateConfig) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "session.Start", traces.AccountID(accountID))
	defer span.End()

	rc, err := rc.Normalize()
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(accountID)
	defer unlock()

	open, err := c.store.GetOpen(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("session: check open session: %w", err)
	}
	if open != nil {
		return nil, ErrSessionAlreadyActive
	}

	now := c.clock.Now()
	mono := c.clock.Monotonic()
	s := &Session{
		ID:               idgen.WithPrefix("ses_"),
		AccountID:        accountID,
		State:            StateActive,
		RateConfig:       rc,
		StartedAt:        now,
		MonotonicStart:   mono,
		Epoch:            processEpoch,
		SegmentStart:     mono,
		WallSegmentStart: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	sessionsStartedTotal.Inc()
	openSessions.Inc()
	c.emit("session_started", accountID, map[string]interface{}{
		"sessionId": s.ID,
		"accountId": accountID,
	})
	c.logger.Info("mining session started", "session_id", s.ID, "account_id", accountID)

	return s, nil
}

// Pause suspends accrual. Valid only from Active.
func (c *Controller) Pause(ctx context.Context, sessionID string) (*Session, error) {
	return c.transition(ctx, sessionID, "session_paused", func(s *Session, now time.Time, mono time.Duration) error {
		if s.State != StateActive {
			return ErrInvalidTransition
		}
		s.ActiveElapsed += mono - s.SegmentStart
		s.WallElapsed += now.Sub(s.WallSegmentStart)
		s.State = StatePaused
		s.PausedAt = &now
		return nil
	})
}

// Resume restarts accrual after a pause. Valid only from Paused. The
// monotonic baseline moves forward so the paused span earns nothing.
func (c *Controller) Resume(ctx context.Context, sessionID string) (*Session, error) {
	return c.transition(ctx, sessionID, "session_resumed", func(s *Session, now time.Time, mono time.Duration) error {
		if s.State != StatePaused {
			return ErrInvalidTransition
		}
		s.State = StateActive
		s.ResumedAt = &now
		s.SegmentStart = mono
		s.WallSegmentStart = now
		return nil
	})
}

// Stop finalizes the session: validates the elapsed claim, computes the
// accrual, closes the session, and hands the record to the ledger.
// Valid from Active or Paused. Zero active duration yields a 0-amount
// record (graceful cancel), never an error.
//
// A session stuck in Finalizing (apply failed mid-finalize) may be
// stopped again; ledger idempotency makes the retry safe.
func (c *Controller) Stop(ctx context.Context, sessionID string) (*accrual.Record, error) {
	ctx, span := traces.StartSpan(ctx, "session.Stop", traces.SessionID(sessionID))
	defer span.End()

	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(s.AccountID)
	defer unlock()

	// Re-read under the lock: a concurrent Stop may have won the race.
	s, err = c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := c.rebase(ctx, s); err != nil {
		return nil, err
	}

	switch s.State {
	case StateActive, StatePaused, StateFinalizing:
	default:
		return nil, ErrInvalidTransition
	}

	now := c.clock.Now()
	mono := c.clock.Monotonic()

	if s.State == StateActive {
		s.ActiveElapsed += mono - s.SegmentStart
		s.WallElapsed += now.Sub(s.WallSegmentStart)
	}
	if s.State != StateFinalizing {
		s.State = StateFinalizing
		s.StoppedAt = &now
		s.UpdatedAt = now
		if err := c.store.Update(ctx, s); err != nil {
			return nil, fmt.Errorf("session: persist finalizing: %w", err)
		}
	}

	verdict := c.guard.Validate(s.WallElapsed, s.ActiveElapsed)
	amount, err := c.calc.Compute(verdict.AdjustedElapsed, s.RateConfig)
	if err != nil {
		return nil, fmt.Errorf("session: compute accrual: %w", err)
	}

	rec := &accrual.Record{
		SessionID:  s.ID,
		AccountID:  s.AccountID,
		Amount:     token.Format(amount),
		Elapsed:    int64(verdict.AdjustedElapsed / time.Second),
		Flagged:    verdict.Flagged,
		ComputedAt: now,
	}

	// Apply before marking closed so a crash between the two leaves the
	// session retryable, not the accrual lost.
	if err := c.applier.ApplyAccrual(ctx, rec); err != nil {
		return nil, fmt.Errorf("session: apply accrual: %w", err)
	}

	s.State = StateClosed
	s.UpdatedAt = now
	if err := c.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("session: persist closed: %w", err)
	}

	sessionsClosedTotal.Inc()
	openSessions.Dec()
	if verdict.Flagged {
		sessionsFlaggedTotal.Inc()
	}
	c.emit("session_closed", s.AccountID, map[string]interface{}{
		"sessionId": s.ID,
		"accountId": s.AccountID,
		"amount":    rec.Amount,
		"flagged":   rec.Flagged,
	})
	c.logger.Info("mining session closed",
		"session_id", s.ID,
		"account_id", s.AccountID,
		"amount", rec.Amount,
		"elapsed_s", rec.Elapsed,
		"flagged", rec.Flagged,
	)

	return rec, nil
}

// rebase repairs a session whose monotonic baseline was persisted by a
// dead process. The span the lost baseline covered is folded in from the
// wall anchors (the only surviving record of it), both tallies alike, and
// the baseline restarts on this process's clock. The recovered span is
// wall-derived, so the guard's plausibility cap still bounds it at
// finalize; at worst a restart costs the session its clock-tamper
// evidence for that one span, never the accrual itself.
//
// Caller must hold the account lock.
func (c *Controller) rebase(ctx context.Context, s *Session) error {
	if s.Epoch == processEpoch {
		return nil
	}

	now := c.clock.Now()
	mono := c.clock.Monotonic()

	if s.State == StateActive {
		span := now.Sub(s.WallSegmentStart)
		if span < 0 {
			span = 0
		}
		s.ActiveElapsed += span
		s.WallElapsed += span
		s.SegmentStart = mono
		s.WallSegmentStart = now
	}
	s.MonotonicStart = mono
	s.Epoch = processEpoch
	s.UpdatedAt = now

	if err := c.store.Update(ctx, s); err != nil {
		return fmt.Errorf("session: rebase baseline: %w", err)
	}
	c.logger.Info("rebased session baseline after restart",
		"session_id", s.ID, "account_id", s.AccountID, "state", string(s.State))
	return nil
}

// Snapshot returns the account's open session view with a live
// display-only accrual estimate, or nil if no session is open.
func (c *Controller) Snapshot(ctx context.Context, accountID string) (*Snapshot, error) {
	s, err := c.store.GetOpen(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	elapsed := s.ActiveElapsed
	if s.State == StateActive {
		if s.Epoch == processEpoch {
			elapsed += c.clock.Monotonic() - s.SegmentStart
		} else if span := c.clock.Now().Sub(s.WallSegmentStart); span > 0 {
			// Baseline from a dead process; the wall anchor is the only
			// usable measure until a mutation rebases the session.
			elapsed += span
		}
	}

	estimate, err := c.calc.Compute(elapsed, s.RateConfig)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		SessionID:        s.ID,
		AccountID:        s.AccountID,
		State:            s.State,
		StartedAt:        s.StartedAt,
		ElapsedSeconds:   int64(elapsed / time.Second),
		EstimatedAccrual: token.Format(estimate),
		RateConfig:       s.RateConfig,
	}, nil
}

// History returns recent closed sessions for an account, newest first.
func (c *Controller) History(ctx context.Context, accountID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	return c.store.History(ctx, accountID, limit)
}

// transition runs a pause/resume style mutation under the account lock.
func (c *Controller) transition(ctx context.Context, sessionID, event string, mutate func(*Session, time.Time, time.Duration) error) (*Session, error) {
	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(s.AccountID)
	defer unlock()

	s, err = c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := c.rebase(ctx, s); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	if err := mutate(s, now, c.clock.Monotonic()); err != nil {
		return nil, err
	}
	s.UpdatedAt = now

	if err := c.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("session: update: %w", err)
	}

	c.emit(event, s.AccountID, map[string]interface{}{
		"sessionId": s.ID,
		"accountId": s.AccountID,
		"state":     string(s.State),
	})
	return s, nil
}

func (c *Controller) emit(event, accountID string, data map[string]interface{}) {
	if c.notifier != nil {
		c.notifier.Emit(event, accountID, data)
	}
}
