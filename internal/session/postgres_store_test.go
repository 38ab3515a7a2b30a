//go:build integration

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/celf-labs/celfd/internal/accrual"
	"github.com/celf-labs/celfd/internal/testutil"
)

func setupSessionDB(t *testing.T) *PostgresStore {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	t.Cleanup(cleanup)
	return NewPostgresStore(db)
}

func pgSession(id, accountID string, state State) *Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Session{
		ID:               id,
		AccountID:        accountID,
		State:            state,
		RateConfig:       accrual.RateConfig{BaseRateUnits: 2, BoostBps: 10000, ReferralBps: 10000},
		StartedAt:        now,
		MonotonicStart:   5 * time.Second,
		SegmentStart:     5 * time.Second,
		WallSegmentStart: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	store := setupSessionDB(t)
	ctx := context.Background()

	s := pgSession("ses_pg1", "acct_1", StateActive)
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "ses_pg1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccountID != "acct_1" || got.State != StateActive {
		t.Errorf("got %+v", got)
	}
	if got.RateConfig.BaseRateUnits != 2 {
		t.Errorf("BaseRateUnits = %d, want 2", got.RateConfig.BaseRateUnits)
	}
	if got.MonotonicStart != 5*time.Second {
		t.Errorf("MonotonicStart = %v, want 5s", got.MonotonicStart)
	}
	if !got.StartedAt.Equal(s.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, s.StartedAt)
	}
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	store := setupSessionDB(t)

	if _, err := store.Get(context.Background(), "ses_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get = %v, want ErrSessionNotFound", err)
	}
}

func TestPostgresStore_OneOpenSessionPerAccount(t *testing.T) {
	store := setupSessionDB(t)
	ctx := context.Background()

	if err := store.Create(ctx, pgSession("ses_a", "acct_1", StateActive)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// The partial unique index rejects a second open session.
	err := store.Create(ctx, pgSession("ses_b", "acct_1", StatePaused))
	if !errors.Is(err, ErrSessionAlreadyActive) {
		t.Errorf("second Create = %v, want ErrSessionAlreadyActive", err)
	}

	// A closed session for the same account is fine.
	if err := store.Create(ctx, pgSession("ses_c", "acct_1", StateClosed)); err != nil {
		t.Errorf("closed Create: %v", err)
	}
}

func TestPostgresStore_GetOpen(t *testing.T) {
	store := setupSessionDB(t)
	ctx := context.Background()

	open, err := store.GetOpen(ctx, "acct_1")
	if err != nil {
		t.Fatalf("GetOpen: %v", err)
	}
	if open != nil {
		t.Fatalf("GetOpen = %+v, want nil", open)
	}

	if err := store.Create(ctx, pgSession("ses_open", "acct_1", StatePaused)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	open, err = store.GetOpen(ctx, "acct_1")
	if err != nil {
		t.Fatalf("GetOpen: %v", err)
	}
	if open == nil || open.ID != "ses_open" {
		t.Errorf("GetOpen = %+v, want ses_open", open)
	}
}

func TestPostgresStore_UpdateLifecycle(t *testing.T) {
	store := setupSessionDB(t)
	ctx := context.Background()

	s := pgSession("ses_u", "acct_1", StateActive)
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	s.State = StateClosed
	s.StoppedAt = &now
	s.ActiveElapsed = 90 * time.Second
	s.WallElapsed = 91 * time.Second
	s.UpdatedAt = now
	if err := store.Update(ctx, s); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "ses_u")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StateClosed {
		t.Errorf("State = %s, want closed", got.State)
	}
	if got.ActiveElapsed != 90*time.Second {
		t.Errorf("ActiveElapsed = %v, want 90s", got.ActiveElapsed)
	}
	if got.StoppedAt == nil || !got.StoppedAt.Equal(now) {
		t.Errorf("StoppedAt = %v, want %v", got.StoppedAt, now)
	}

	// The account can open a new session once the old one is closed.
	if open, _ := store.GetOpen(ctx, "acct_1"); open != nil {
		t.Errorf("GetOpen after close = %+v, want nil", open)
	}
}

func TestPostgresStore_UpdateMissing(t *testing.T) {
	store := setupSessionDB(t)

	s := pgSession("ses_ghost", "acct_1", StateClosed)
	if err := store.Update(context.Background(), s); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Update = %v, want ErrSessionNotFound", err)
	}
}

func TestPostgresStore_HistoryNewestFirst(t *testing.T) {
	store := setupSessionDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, id := range []string{"ses_h1", "ses_h2", "ses_h3"} {
		s := pgSession(id, "acct_1", StateClosed)
		s.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	// Open sessions and other accounts are excluded.
	if err := store.Create(ctx, pgSession("ses_h4", "acct_1", StateActive)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, pgSession("ses_other", "acct_2", StateClosed)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	history, err := store.History(ctx, "acct_1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []string{"ses_h3", "ses_h2", "ses_h1"}
	if len(history) != len(want) {
		t.Fatalf("len(history) = %d, want %d", len(history), len(want))
	}
	for i, s := range history {
		if s.ID != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, s.ID, want[i])
		}
	}
}
