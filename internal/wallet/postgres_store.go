package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/celf-labs/celfd/internal/token"
)

// PostgresStore implements Store with PostgreSQL. ApplyAccrual runs in a
// serializable transaction so a duplicate transaction ID can never move
// the pending balance twice, even across concurrent engine instances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallet tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_accounts (
			account_id         VARCHAR(64) PRIMARY KEY,
			confirmed_balance  NUMERIC(30, 8) NOT NULL DEFAULT 0,
			pending_balance    NUMERIC(30, 8) NOT NULL DEFAULT 0,
			updated_at         TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ledger_transactions (
			tx_id          VARCHAR(36) PRIMARY KEY,
			seq            BIGSERIAL,
			account_id     VARCHAR(64) NOT NULL,
			kind           VARCHAR(32) NOT NULL,
			amount         NUMERIC(30, 8) NOT NULL,
			flagged        BOOLEAN NOT NULL DEFAULT FALSE,
			sync_state     VARCHAR(16) NOT NULL,
			reject_reason  TEXT NOT NULL DEFAULT '',
			applied_at     TIMESTAMPTZ NOT NULL,
			synced_at      TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_tx_account ON ledger_transactions(account_id, applied_at DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_tx_unsynced ON ledger_transactions(seq) WHERE sync_state = 'unsynced';
	`)
	return err
}

func (p *PostgresStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	acct := &Account{AccountID: accountID}
	err := p.db.QueryRowContext(ctx, `
		SELECT confirmed_balance, pending_balance, updated_at
		FROM wallet_accounts WHERE account_id = $1
	`, accountID).Scan(&acct.ConfirmedBalance, &acct.PendingBalance, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		acct.ConfirmedBalance = token.FormatUnits(0)
		acct.PendingBalance = token.FormatUnits(0)
		acct.UpdatedAt = time.Now()
		return acct, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

func (p *PostgresStore) ApplyAccrual(ctx context.Context, txn *Transaction) (*Transaction, bool, error) {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	res, err := dbTx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (
			tx_id, account_id, kind, amount, flagged, sync_state, reject_reason, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_id) DO NOTHING
	`,
		txn.TxID, txn.AccountID, string(txn.Kind), txn.Amount, txn.Flagged,
		string(txn.SyncState), txn.RejectReason, txn.AppliedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if inserted == 0 {
		existing, err := scanTransaction(dbTx.QueryRowContext(ctx, `
			SELECT `+txColumns+` FROM ledger_transactions WHERE tx_id = $1
		`, txn.TxID))
		if err != nil {
			return nil, false, err
		}
		if err := dbTx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return existing, false, nil
	}

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (account_id, confirmed_balance, pending_balance, updated_at)
		VALUES ($1, 0, $2::numeric, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			pending_balance = wallet_accounts.pending_balance + $2::numeric,
			updated_at = NOW()
	`, txn.AccountID, txn.Amount)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update pending balance: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	cp := *txn
	return &cp, true, nil
}

func (p *PostgresStore) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	txn, err := scanTransaction(p.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM ledger_transactions WHERE tx_id = $1
	`, txID))
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return txn, err
}

func (p *PostgresStore) MarkSynced(ctx context.Context, txID, serverConfirmedBalance string) error {
	return p.resolve(ctx, txID, func(dbTx *sql.Tx, txn *Transaction) error {
		_, err := dbTx.ExecContext(ctx, `
			UPDATE ledger_transactions
			SET sync_state = 'synced', synced_at = NOW()
			WHERE tx_id = $1
		`, txID)
		if err != nil {
			return fmt.Errorf("failed to mark synced: %w", err)
		}
		return p.rebalance(ctx, dbTx, txn.AccountID, &serverConfirmedBalance)
	})
}

func (p *PostgresStore) MarkRejected(ctx context.Context, txID, reason string) error {
	return p.resolve(ctx, txID, func(dbTx *sql.Tx, txn *Transaction) error {
		_, err := dbTx.ExecContext(ctx, `
			UPDATE ledger_transactions
			SET sync_state = 'rejected', reject_reason = $2, synced_at = NOW()
			WHERE tx_id = $1
		`, txID, reason)
		if err != nil {
			return fmt.Errorf("failed to mark rejected: %w", err)
		}
		return p.rebalance(ctx, dbTx, txn.AccountID, nil)
	})
}

func (p *PostgresStore) SetConfirmedBalance(ctx context.Context, accountID, confirmed string) error {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (account_id, confirmed_balance, pending_balance, updated_at)
		VALUES ($1, $2::numeric, $2::numeric, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, confirmed)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}

	if err := p.rebalance(ctx, dbTx, accountID, &confirmed); err != nil {
		return err
	}
	return dbTx.Commit()
}

func (p *PostgresStore) ListTransactions(ctx context.Context, accountID string, limit int, before time.Time, beforeID string) ([]*Transaction, error) {
	query := `
		SELECT ` + txColumns + ` FROM ledger_transactions
		WHERE account_id = $1
	`
	args := []interface{}{accountID}
	if !before.IsZero() {
		query += ` AND (applied_at, tx_id) < ($2, $3)`
		args = append(args, before, beforeID)
	}
	query += fmt.Sprintf(` ORDER BY applied_at DESC, tx_id DESC LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (p *PostgresStore) ListUnsynced(ctx context.Context, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM ledger_transactions
		WHERE sync_state = 'unsynced'
		ORDER BY seq ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (p *PostgresStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT account_id FROM wallet_accounts`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// resolve loads a transaction inside a serializable transaction, verifies it
// is still unsynced, and hands it to fn for the state change.
func (p *PostgresStore) resolve(ctx context.Context, txID string, fn func(*sql.Tx, *Transaction) error) error {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	txn, err := scanTransaction(dbTx.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM ledger_transactions WHERE tx_id = $1 FOR UPDATE
	`, txID))
	if err == sql.ErrNoRows {
		return ErrTransactionNotFound
	}
	if err != nil {
		return err
	}
	if txn.SyncState != SyncUnsynced {
		return ErrAlreadyResolved
	}

	if err := fn(dbTx, txn); err != nil {
		return err
	}
	return dbTx.Commit()
}

// rebalance recomputes pending = confirmed + sum(unsynced) for an account.
// When confirmed is non-nil the confirmed balance is replaced first.
func (p *PostgresStore) rebalance(ctx context.Context, dbTx *sql.Tx, accountID string, confirmed *string) error {
	if confirmed != nil {
		_, err := dbTx.ExecContext(ctx, `
			UPDATE wallet_accounts SET confirmed_balance = $2::numeric, updated_at = NOW()
			WHERE account_id = $1
		`, accountID, *confirmed)
		if err != nil {
			return fmt.Errorf("failed to set confirmed balance: %w", err)
		}
	}

	_, err := dbTx.ExecContext(ctx, `
		UPDATE wallet_accounts SET
			pending_balance = confirmed_balance + COALESCE((
				SELECT SUM(amount) FROM ledger_transactions
				WHERE account_id = $1 AND sync_state = 'unsynced'
			), 0),
			updated_at = NOW()
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("failed to recompute pending balance: %w", err)
	}
	return nil
}

const txColumns = `tx_id, account_id, kind, amount, flagged, sync_state, reject_reason, applied_at, synced_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	txn := &Transaction{}
	var kind, state string
	var syncedAt sql.NullTime
	err := row.Scan(
		&txn.TxID, &txn.AccountID, &kind, &txn.Amount, &txn.Flagged,
		&state, &txn.RejectReason, &txn.AppliedAt, &syncedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.Kind = Kind(kind)
	txn.SyncState = SyncState(state)
	if syncedAt.Valid {
		t := syncedAt.Time
		txn.SyncedAt = &t
	}
	return txn, nil
}

func collectTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
