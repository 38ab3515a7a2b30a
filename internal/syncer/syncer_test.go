package syncer

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celf-labs/celfd/internal/accrual"
	"github.com/celf-labs/celfd/internal/wallet"
)

// fakeRemote scripts per-transaction verdicts and records push order.
type fakeRemote struct {
	mu       sync.Mutex
	results  map[string]*PushResult // by txID
	errs     map[string]error       // by txID; consumed one push at a time
	pushed   []string
	balances map[string]string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		results:  make(map[string]*PushResult),
		errs:     make(map[string]error),
		balances: make(map[string]string),
	}
}

func (f *fakeRemote) confirm(txID, balance string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[txID] = &PushResult{Status: StatusAccepted, ConfirmedBalance: balance}
}

func (f *fakeRemote) reject(txID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[txID] = &PushResult{Status: StatusRejected, Reason: reason}
}

func (f *fakeRemote) fail(txID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[txID] = err
}

func (f *fakeRemote) PushTransaction(ctx context.Context, req *PushRequest) (*PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, req.TxID)
	if err, ok := f.errs[req.TxID]; ok {
		return nil, err
	}
	if res, ok := f.results[req.TxID]; ok {
		return res, nil
	}
	return &PushResult{Status: StatusAccepted, ConfirmedBalance: req.Amount}, nil
}

func (f *fakeRemote) FetchBalance(ctx context.Context, accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bal, ok := f.balances[accountID]; ok {
		return bal, nil
	}
	return "0", nil
}

func (f *fakeRemote) pushOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushed...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient(remote Remote) (*Client, *wallet.Ledger) {
	ledger := wallet.New(wallet.NewMemoryStore(), testLogger())
	cfg := Config{
		Interval:    time.Minute,
		BatchSize:   100,
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
	}
	return New(ledger, remote, cfg, testLogger()), ledger
}

func apply(t *testing.T, ledger *wallet.Ledger, sessionID, accountID, amount string) {
	t.Helper()
	_, err := ledger.Apply(context.Background(), &accrual.Record{
		SessionID:  sessionID,
		AccountID:  accountID,
		Amount:     amount,
		ComputedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestSyncOnce_ConfirmsTransactions(t *testing.T) {
	remote := newFakeRemote()
	client, ledger := testClient(remote)
	ctx := context.Background()

	apply(t, ledger, "ses_1", "acct_1", "10.00000000")
	remote.confirm("ses_1", "10.00000000")

	require.NoError(t, client.SyncOnce(ctx))

	acct, err := ledger.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "10.00000000", acct.ConfirmedBalance)
	assert.Equal(t, "10.00000000", acct.PendingBalance)

	unsynced, err := ledger.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestSyncOnce_RejectionReversesPending(t *testing.T) {
	remote := newFakeRemote()
	client, ledger := testClient(remote)
	ctx := context.Background()

	apply(t, ledger, "ses_1", "acct_1", "50.00000000")
	remote.reject("ses_1", "fraud_flag")

	require.NoError(t, client.SyncOnce(ctx))

	acct, err := ledger.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "0.00000000", acct.PendingBalance)
}

func TestSyncOnce_UnavailableKeepsQueue(t *testing.T) {
	remote := newFakeRemote()
	client, ledger := testClient(remote)
	ctx := context.Background()

	apply(t, ledger, "ses_1", "acct_1", "5.00000000")
	remote.fail("ses_1", ErrSyncUnavailable)

	require.NoError(t, client.SyncOnce(ctx))

	// Still queued, balance untouched.
	unsynced, err := ledger.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)

	acct, err := ledger.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "5.00000000", acct.PendingBalance)
	assert.Equal(t, "0.00000000", acct.ConfirmedBalance)

	// Server recovers, next cycle drains it.
	remote.mu.Lock()
	delete(remote.errs, "ses_1")
	remote.mu.Unlock()
	remote.confirm("ses_1", "5.00000000")

	require.NoError(t, client.SyncOnce(ctx))
	acct, err = ledger.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "5.00000000", acct.ConfirmedBalance)
}

func TestSyncOnce_FailureParksAccountNotOthers(t *testing.T) {
	remote := newFakeRemote()
	client, ledger := testClient(remote)
	ctx := context.Background()

	apply(t, ledger, "ses_a1", "acct_a", "1.00000000")
	apply(t, ledger, "ses_a2", "acct_a", "2.00000000")
	apply(t, ledger, "ses_b1", "acct_b", "3.00000000")

	remote.fail("ses_a1", ErrSyncUnavailable)
	remote.confirm("ses_b1", "3.00000000")

	require.NoError(t, client.SyncOnce(ctx))

	// ses_a2 must not be pushed ahead of its failed predecessor.
	assert.Equal(t, []string{"ses_a1", "ses_b1"}, remote.pushOrder())

	acctB, err := ledger.Balance(ctx, "acct_b")
	require.NoError(t, err)
	assert.Equal(t, "3.00000000", acctB.ConfirmedBalance)

	unsynced, err := ledger.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, "ses_a1", unsynced[0].TxID)
	assert.Equal(t, "ses_a2", unsynced[1].TxID)
}

func TestSyncOnce_PushesInCreationOrder(t *testing.T) {
	remote := newFakeRemote()
	client, ledger := testClient(remote)
	ctx := context.Background()

	for _, tc := range []struct{ ses, amount string }{
		{"ses_1", "1.00000000"},
		{"ses_2", "2.00000000"},
		{"ses_3", "3.00000000"},
	} {
		apply(t, ledger, tc.ses, "acct_1", tc.amount)
	}

	require.NoError(t, client.SyncOnce(ctx))
	assert.Equal(t, []string{"ses_1", "ses_2", "ses_3"}, remote.pushOrder())
}

func TestSyncOnce_RetriesTransientFailure(t *testing.T) {
	remote := &flakyRemote{failures: 2}
	ledger := wallet.New(wallet.NewMemoryStore(), testLogger())
	cfg := Config{
		Interval:    time.Minute,
		BatchSize:   10,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}
	client := New(ledger, remote, cfg, testLogger())
	ctx := context.Background()

	apply(t, ledger, "ses_1", "acct_1", "4.00000000")
	require.NoError(t, client.SyncOnce(ctx))

	acct, err := ledger.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "4.00000000", acct.ConfirmedBalance)
	assert.Equal(t, 3, remote.calls)
}

// flakyRemote fails the first N pushes, then confirms.
type flakyRemote struct {
	failures int
	calls    int
}

func (f *flakyRemote) PushTransaction(ctx context.Context, req *PushRequest) (*PushResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, ErrSyncUnavailable
	}
	return &PushResult{Status: StatusAccepted, ConfirmedBalance: req.Amount}, nil
}

func (f *flakyRemote) FetchBalance(ctx context.Context, accountID string) (string, error) {
	return "0", nil
}

func TestClient_StartStop(t *testing.T) {
	remote := newFakeRemote()
	ledger := wallet.New(wallet.NewMemoryStore(), testLogger())
	cfg := Config{
		Interval:    10 * time.Millisecond,
		BatchSize:   10,
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
	}
	client := New(ledger, remote, cfg, testLogger())

	apply(t, ledger, "ses_1", "acct_1", "1.00000000")
	remote.confirm("ses_1", "1.00000000")

	client.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		unsynced, err := ledger.ListUnsynced(context.Background(), 10)
		require.NoError(t, err)
		if len(unsynced) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("backlog never drained")
		case <-time.After(5 * time.Millisecond):
		}
	}

	client.Stop()
}
