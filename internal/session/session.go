// Package session owns the mining-session state machine.
//
// Flow:
//  1. UI intent starts a session (rate config snapshots immediately)
//  2. Pause/resume toggle accrual; paused spans never earn
//  3. Stop finalizes: validate elapsed, compute accrual, close session
//  4. The finalized record is handed to the wallet ledger exactly once
//
// Exactly one session per account may be open (Active or Paused) at any
// time. Closed sessions are immutable history.
package session

import (
	"errors"
	"time"

	"github.com/celf-labs/celfd/internal/accrual"
)

var (
	ErrSessionAlreadyActive = errors.New("session: account already has an open session")
	ErrInvalidTransition    = errors.New("session: invalid state transition")
	ErrSessionNotFound      = errors.New("session: not found")
)

// State is a mining session's lifecycle state.
type State string

const (
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateFinalizing State = "finalizing"
	StateClosed     State = "closed"
)

// Open reports whether the state still accepts lifecycle intents.
func (s State) Open() bool { return s == StateActive || s == StatePaused }

// Session is one bounded mining interval for an account.
//
// Two elapsed tallies are kept for every active span: one derived from
// monotonic ticks (trusted) and one from wall-clock timestamps (the
// "claim"). The guard compares them at finalize time; a device clock
// wound forward inflates only the claim, never the monotonic tally.
type Session struct {
	ID         string             `json:"id"`
	AccountID  string             `json:"accountId"`
	State      State              `json:"state"`
	RateConfig accrual.RateConfig `json:"rateConfig"`

	// Wall-clock audit trail.
	StartedAt time.Time  `json:"startedAt"`
	PausedAt  *time.Time `json:"pausedAt,omitempty"`
	ResumedAt *time.Time `json:"resumedAt,omitempty"`
	StoppedAt *time.Time `json:"stoppedAt,omitempty"`

	// MonotonicStart is the monotonic tick reference taken at start.
	MonotonicStart time.Duration `json:"-"`

	// Epoch identifies the process whose clock produced the persisted
	// monotonic readings. Monotonic ticks are process-relative, so a
	// session loaded under a different epoch must rebase its baseline
	// before any elapsed math.
	Epoch string `json:"-"`

	// ActiveElapsed accumulates completed active spans from monotonic
	// deltas. SegmentStart is the monotonic tick when the current active
	// span began (meaningful only while State == Active).
	ActiveElapsed time.Duration `json:"-"`
	SegmentStart  time.Duration `json:"-"`

	// WallElapsed accumulates the same spans from wall-clock timestamps.
	// WallSegmentStart mirrors SegmentStart.
	WallElapsed      time.Duration `json:"-"`
	WallSegmentStart time.Time     `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is the read-only session view handed to the UI layer,
// including a live display-only accrual estimate.
type Snapshot struct {
	SessionID        string             `json:"sessionId"`
	AccountID        string             `json:"accountId"`
	State            State              `json:"state"`
	StartedAt        time.Time          `json:"startedAt"`
	ElapsedSeconds   int64              `json:"elapsedSeconds"`
	EstimatedAccrual string             `json:"estimatedAccrual"`
	RateConfig       accrual.RateConfig `json:"rateConfig"`
}
