package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/celf-labs/celfd/internal/token"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*Account
	txs      map[string]*Transaction
	order    []string // txIDs in creation order
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		txs:      make(map[string]*Transaction),
	}
}

func (m *MemoryStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acct, ok := m.accounts[accountID]; ok {
		cp := *acct
		return &cp, nil
	}
	return &Account{
		AccountID:        accountID,
		ConfirmedBalance: token.FormatUnits(0),
		PendingBalance:   token.FormatUnits(0),
		UpdatedAt:        time.Now(),
	}, nil
}

func (m *MemoryStore) ApplyAccrual(ctx context.Context, tx *Transaction) (*Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.txs[tx.TxID]; ok {
		cp := *existing
		return &cp, false, nil
	}

	acct := m.account(tx.AccountID)

	pending, _ := token.Parse(acct.PendingBalance)
	add, _ := token.Parse(tx.Amount)
	pending.Add(pending, add)
	acct.PendingBalance = token.Format(pending)
	acct.UpdatedAt = time.Now()

	cp := *tx
	m.txs[tx.TxID] = &cp
	m.order = append(m.order, tx.TxID)

	out := cp
	return &out, true, nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[txID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) MarkSynced(ctx context.Context, txID, serverConfirmedBalance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.SyncState != SyncUnsynced {
		return ErrAlreadyResolved
	}

	now := time.Now()
	tx.SyncState = SyncSynced
	tx.SyncedAt = &now

	acct := m.account(tx.AccountID)
	acct.ConfirmedBalance = serverConfirmedBalance
	m.recomputePending(acct)
	acct.UpdatedAt = now
	return nil
}

func (m *MemoryStore) MarkRejected(ctx context.Context, txID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.SyncState != SyncUnsynced {
		return ErrAlreadyResolved
	}

	now := time.Now()
	tx.SyncState = SyncRejected
	tx.RejectReason = reason
	tx.SyncedAt = &now

	acct := m.account(tx.AccountID)
	m.recomputePending(acct)
	acct.UpdatedAt = now
	return nil
}

func (m *MemoryStore) SetConfirmedBalance(ctx context.Context, accountID, confirmed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct := m.account(accountID)
	acct.ConfirmedBalance = confirmed
	m.recomputePending(acct)
	acct.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, accountID string, limit int, before time.Time, beforeID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		tx := m.txs[m.order[i]]
		if tx.AccountID != accountID {
			continue
		}
		if !before.IsZero() {
			// Cursor: only rows strictly older than (before, beforeID).
			if tx.AppliedAt.After(before) || (tx.AppliedAt.Equal(before) && tx.TxID >= beforeID) {
				continue
			}
		}
		cp := *tx
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ListUnsynced(ctx context.Context, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, id := range m.order {
		if len(result) >= limit {
			break
		}
		tx := m.txs[id]
		if tx.SyncState == SyncUnsynced {
			cp := *tx
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListAccounts(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

// account returns the live account record, creating it if needed.
// Caller must hold the write lock.
func (m *MemoryStore) account(accountID string) *Account {
	acct, ok := m.accounts[accountID]
	if !ok {
		acct = &Account{
			AccountID:        accountID,
			ConfirmedBalance: token.FormatUnits(0),
			PendingBalance:   token.FormatUnits(0),
		}
		m.accounts[accountID] = acct
	}
	return acct
}

// recomputePending rebuilds pending = confirmed + sum(unsynced).
// Caller must hold the write lock.
func (m *MemoryStore) recomputePending(acct *Account) {
	pending, _ := token.Parse(acct.ConfirmedBalance)
	for _, id := range m.order {
		tx := m.txs[id]
		if tx.AccountID == acct.AccountID && tx.SyncState == SyncUnsynced {
			amt, _ := token.Parse(tx.Amount)
			pending.Add(pending, amt)
		}
	}
	acct.PendingBalance = token.Format(pending)
}
