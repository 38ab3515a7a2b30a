package session

import "context"

// Store persists mining sessions. Implementations must survive process
// restarts for open sessions (the postgres store) or provide fast local
// state for tests and demo mode (the memory store).
type Store interface {
	// Create inserts a new session. Fails if the account already has an
	// open session (the at-most-one-open invariant is enforced here as
	// well as in the controller, since the store is the durable truth).
	Create(ctx context.Context, s *Session) error
	// Get returns a session by ID, or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// GetOpen returns the account's open (Active or Paused) session,
	// or nil if none.
	GetOpen(ctx context.Context, accountID string) (*Session, error)
	// Update overwrites a session's mutable fields.
	Update(ctx context.Context, s *Session) error
	// History returns recent closed sessions for an account, newest first.
	History(ctx context.Context, accountID string, limit int) ([]*Session, error)
}
