// Package wallet owns the durable CELF balance and the append-only
// transaction log.
//
// Flow:
//  1. Session controller finalizes a mining session into an accrual record
//  2. Apply credits the pending balance exactly once per session ID
//  3. Sync client pushes unsynced transactions to the authoritative ledger
//  4. Server acks move transactions to synced (or rejected, which reverses
//     the pending credit)
//
// pendingBalance is always confirmedBalance plus the sum of unsynced
// transactions; accrual only ever increases it. Transactions are never
// deleted.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/celf-labs/celfd/internal/accrual"
	"github.com/celf-labs/celfd/internal/syncutil"
	"github.com/celf-labs/celfd/internal/token"
	"github.com/celf-labs/celfd/internal/traces"
)

var (
	ErrTransactionNotFound = errors.New("wallet: transaction not found")
	ErrInvalidAmount       = errors.New("wallet: invalid amount")
	ErrAlreadyResolved     = errors.New("wallet: transaction already synced or rejected")
)

// SyncState tracks a transaction's standing against the remote ledger.
type SyncState string

const (
	SyncUnsynced SyncState = "unsynced"
	SyncSynced   SyncState = "synced"
	SyncRejected SyncState = "rejected"
)

// Kind classifies a ledger transaction.
type Kind string

const (
	KindAccrual        Kind = "accrual"
	KindSyncAdjustment Kind = "sync_adjustment"
)

// Transaction is one append-only ledger entry. For accruals the TxID is
// the session ID, which is what makes application idempotent: a retried
// finalize hits the same TxID and changes nothing.
type Transaction struct {
	TxID         string     `json:"txId"`
	AccountID    string     `json:"accountId"`
	Kind         Kind       `json:"kind"`
	Amount       string     `json:"amount"`
	Flagged      bool       `json:"flagged"`
	SyncState    SyncState  `json:"syncState"`
	RejectReason string     `json:"rejectReason,omitempty"`
	AppliedAt    time.Time  `json:"appliedAt"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty"`
}

// Account is one account's balance pair. ConfirmedBalance is the last
// server-acknowledged value; PendingBalance adds unsynced local accruals.
type Account struct {
	AccountID        string    `json:"accountId"`
	ConfirmedBalance string    `json:"confirmedBalance"`
	PendingBalance   string    `json:"pendingBalance"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Store persists wallet state. Balance and log writes for one call must
// be atomic (a transaction or equivalent): a pending balance without its
// log row would break the idempotency invariant.
type Store interface {
	// GetAccount returns the account, or a zero-balance account if unseen.
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	// ApplyAccrual inserts tx and credits pending atomically. If a
	// transaction with the same TxID exists, it is returned unchanged
	// with created=false and no balance movement.
	ApplyAccrual(ctx context.Context, tx *Transaction) (existing *Transaction, created bool, err error)
	// GetTransaction returns a transaction by ID, or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	// MarkSynced moves an unsynced transaction to synced and adopts the
	// server's confirmed balance. Pending is recomputed as confirmed plus
	// the remaining unsynced sum.
	MarkSynced(ctx context.Context, txID, serverConfirmedBalance string) error
	// MarkRejected moves an unsynced transaction to rejected and reverses
	// its pending credit.
	MarkRejected(ctx context.Context, txID, reason string) error
	// SetConfirmedBalance adopts a server balance outside of any single
	// transaction ack (startup reconciliation). Pending is recomputed.
	SetConfirmedBalance(ctx context.Context, accountID, confirmed string) error
	// ListTransactions returns an account's transactions, newest first.
	// Pass a zero time for before to start from the newest.
	ListTransactions(ctx context.Context, accountID string, limit int, before time.Time, beforeID string) ([]*Transaction, error)
	// ListUnsynced returns unsynced transactions across all accounts in
	// creation order, oldest first. The sync client replays these in
	// order because server-side reconciliation is order-sensitive.
	ListUnsynced(ctx context.Context, limit int) ([]*Transaction, error)
	// ListAccounts returns all known account IDs.
	ListAccounts(ctx context.Context) ([]string, error)
}

// Notifier receives wallet state-change events for UI subscriptions.
type Notifier interface {
	Emit(event string, accountID string, data map[string]interface{})
}

// Ledger manages account balances over a Store, serializing mutations
// per account.
type Ledger struct {
	store    Store
	locks    syncutil.ShardedMutex
	notifier Notifier
	logger   *slog.Logger
}

// Option configures the ledger.
type Option func(*Ledger)

// WithNotifier sets the state-change event sink.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// New creates a ledger over the given store.
func New(store Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyAccrual credits a finalized session's accrual to the pending
// balance, exactly once per session. Safe to retry: a duplicate returns
// the original transaction with no balance movement.
func (l *Ledger) ApplyAccrual(ctx context.Context, rec *accrual.Record) error {
	_, err := l.Apply(ctx, rec)
	return err
}

// Apply is ApplyAccrual returning the ledger transaction.
func (l *Ledger) Apply(ctx context.Context, rec *accrual.Record) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "wallet.Apply",
		traces.TxID(rec.SessionID), traces.AccountID(rec.AccountID), traces.Amount(rec.Amount))
	defer span.End()

	amount, ok := token.Parse(rec.Amount)
	if !ok || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	done := observeOp("apply")
	defer done()

	unlock := l.locks.Lock(rec.AccountID)
	defer unlock()

	tx := &Transaction{
		TxID:      rec.SessionID,
		AccountID: rec.AccountID,
		Kind:      KindAccrual,
		Amount:    rec.Amount,
		Flagged:   rec.Flagged,
		SyncState: SyncUnsynced,
		AppliedAt: rec.ComputedAt,
	}

	stored, created, err := l.store.ApplyAccrual(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !created {
		// Retried finalize; nothing moved.
		return stored, nil
	}

	accrualsAppliedTotal.Inc()
	if rec.Flagged {
		flaggedAccrualsTotal.Inc()
	}
	l.emit("accrual_applied", rec.AccountID, map[string]interface{}{
		"txId":      stored.TxID,
		"accountId": rec.AccountID,
		"amount":    stored.Amount,
		"flagged":   stored.Flagged,
	})
	l.logger.Info("accrual applied",
		"tx_id", stored.TxID, "account_id", rec.AccountID,
		"amount", stored.Amount, "flagged", stored.Flagged)

	return stored, nil
}

// Balance returns the account's pending and confirmed balances.
func (l *Ledger) Balance(ctx context.Context, accountID string) (*Account, error) {
	return l.store.GetAccount(ctx, accountID)
}

// Transactions returns an account's ledger entries, newest first.
func (l *Ledger) Transactions(ctx context.Context, accountID string, limit int, before time.Time, beforeID string) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListTransactions(ctx, accountID, limit, before, beforeID)
}

// MarkSynced records a server acknowledgment: the transaction is synced
// and the server's confirmed balance is adopted verbatim (the server is
// authoritative for the absolute value, absorbing server-side
// adjustments such as fraud clawbacks).
func (l *Ledger) MarkSynced(ctx context.Context, txID, serverConfirmedBalance string) error {
	if _, ok := token.Parse(serverConfirmedBalance); !ok {
		return ErrInvalidAmount
	}

	done := observeOp("mark_synced")
	defer done()

	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}

	unlock := l.locks.Lock(tx.AccountID)
	defer unlock()

	if err := l.store.MarkSynced(ctx, txID, serverConfirmedBalance); err != nil {
		return err
	}

	l.emit("transaction_synced", tx.AccountID, map[string]interface{}{
		"txId":             txID,
		"accountId":        tx.AccountID,
		"confirmedBalance": serverConfirmedBalance,
	})
	return nil
}

// MarkRejected records an authoritative rejection: the transaction is
// rejected and its amount is reversed out of the pending balance. The
// wallet view shows the transition; it is not an error condition.
func (l *Ledger) MarkRejected(ctx context.Context, txID, reason string) error {
	done := observeOp("mark_rejected")
	defer done()

	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}

	unlock := l.locks.Lock(tx.AccountID)
	defer unlock()

	if err := l.store.MarkRejected(ctx, txID, reason); err != nil {
		return err
	}

	rejectionsTotal.Inc()
	l.emit("transaction_rejected", tx.AccountID, map[string]interface{}{
		"txId":      txID,
		"accountId": tx.AccountID,
		"amount":    tx.Amount,
		"reason":    reason,
	})
	l.logger.Warn("accrual rejected by server",
		"tx_id", txID, "account_id", tx.AccountID, "reason", reason)
	return nil
}

// AdoptConfirmed adopts a server-reported confirmed balance outside of a
// transaction ack (startup reconciliation).
func (l *Ledger) AdoptConfirmed(ctx context.Context, accountID, confirmed string) error {
	if _, ok := token.Parse(confirmed); !ok {
		return ErrInvalidAmount
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	if err := l.store.SetConfirmedBalance(ctx, accountID, confirmed); err != nil {
		return err
	}

	l.emit("balance_corrected", accountID, map[string]interface{}{
		"accountId":        accountID,
		"confirmedBalance": confirmed,
	})
	return nil
}

// ListUnsynced returns unsynced transactions across accounts in creation
// order, for the sync client.
func (l *Ledger) ListUnsynced(ctx context.Context, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.store.ListUnsynced(ctx, limit)
}

// ListAccounts returns all known account IDs, for reconciliation sweeps.
func (l *Ledger) ListAccounts(ctx context.Context) ([]string, error) {
	return l.store.ListAccounts(ctx)
}

func (l *Ledger) emit(event, accountID string, data map[string]interface{}) {
	if l.notifier != nil {
		l.notifier.Emit(event, accountID, data)
	}
}
