package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celf-labs/celfd/internal/accrual"
	"github.com/celf-labs/celfd/internal/syncer"
	"github.com/celf-labs/celfd/internal/wallet"
)

type stubRemote struct {
	balances map[string]string
	err      error
}

func (s *stubRemote) PushTransaction(ctx context.Context, req *syncer.PushRequest) (*syncer.PushResult, error) {
	return nil, errors.New("not used")
}

func (s *stubRemote) FetchBalance(ctx context.Context, accountID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if bal, ok := s.balances[accountID]; ok {
		return bal, nil
	}
	return "0", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seedAccount(t *testing.T, ledger *wallet.Ledger, sessionID, accountID, amount string) {
	t.Helper()
	_, err := ledger.Apply(context.Background(), &accrual.Record{
		SessionID:  sessionID,
		AccountID:  accountID,
		Amount:     amount,
		ComputedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestReconcile_AdoptsServerBalance(t *testing.T) {
	ledger := wallet.New(wallet.NewMemoryStore(), testLogger())
	remote := &stubRemote{balances: map[string]string{"acct_1": "42.00000000"}}
	svc := New(ledger, remote, time.Minute, testLogger())
	ctx := context.Background()

	seedAccount(t, ledger, "ses_1", "acct_1", "5.00000000")

	drifts, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, "acct_1", drifts[0].AccountID)
	assert.Equal(t, "42.00000000", drifts[0].ServerBalance)

	acct, err := ledger.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "42.00000000", acct.ConfirmedBalance)
	// Unsynced accrual still rides on top of the corrected confirmed value.
	assert.Equal(t, "47.00000000", acct.PendingBalance)
}

func TestReconcile_NoDriftNoCorrection(t *testing.T) {
	ledger := wallet.New(wallet.NewMemoryStore(), testLogger())
	// Server agrees with the local zero confirmed balance.
	remote := &stubRemote{balances: map[string]string{"acct_1": "0.00000000"}}
	svc := New(ledger, remote, time.Minute, testLogger())
	ctx := context.Background()

	seedAccount(t, ledger, "ses_1", "acct_1", "5.00000000")

	drifts, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcile_ServerUnavailable(t *testing.T) {
	ledger := wallet.New(wallet.NewMemoryStore(), testLogger())
	remote := &stubRemote{err: syncer.ErrSyncUnavailable}
	svc := New(ledger, remote, time.Minute, testLogger())
	ctx := context.Background()

	seedAccount(t, ledger, "ses_1", "acct_1", "5.00000000")

	_, err := svc.Reconcile(ctx)
	assert.ErrorIs(t, err, syncer.ErrSyncUnavailable)

	// Local state untouched.
	acct, err := ledger.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "0.00000000", acct.ConfirmedBalance)
	assert.Equal(t, "5.00000000", acct.PendingBalance)
}

func TestReconcile_StartStop(t *testing.T) {
	ledger := wallet.New(wallet.NewMemoryStore(), testLogger())
	remote := &stubRemote{balances: map[string]string{}}
	svc := New(ledger, remote, 5*time.Millisecond, testLogger())

	svc.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	svc.Stop()
}
