package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL. Open sessions survive
// process restarts; the partial unique index enforces at most one open
// session per account even across concurrent engine instances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the session tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS mining_sessions (
			id                  VARCHAR(36) PRIMARY KEY,
			account_id          VARCHAR(64) NOT NULL,
			state               VARCHAR(16) NOT NULL,
			base_rate_units     BIGINT NOT NULL,
			boost_bps           BIGINT NOT NULL,
			referral_bps        BIGINT NOT NULL,
			started_at          TIMESTAMPTZ NOT NULL,
			paused_at           TIMESTAMPTZ,
			resumed_at          TIMESTAMPTZ,
			stopped_at          TIMESTAMPTZ,
			monotonic_start_ns  BIGINT NOT NULL,
			epoch               VARCHAR(40) NOT NULL DEFAULT '',
			active_elapsed_ns   BIGINT NOT NULL DEFAULT 0,
			segment_start_ns    BIGINT NOT NULL DEFAULT 0,
			wall_elapsed_ns     BIGINT NOT NULL DEFAULT 0,
			wall_segment_start  TIMESTAMPTZ NOT NULL,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_open
			ON mining_sessions(account_id)
			WHERE state IN ('active', 'paused');

		CREATE INDEX IF NOT EXISTS idx_sessions_account ON mining_sessions(account_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_created ON mining_sessions(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO mining_sessions (
			id, account_id, state, base_rate_units, boost_bps, referral_bps,
			started_at, monotonic_start_ns, epoch, active_elapsed_ns, segment_start_ns,
			wall_elapsed_ns, wall_segment_start, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		s.ID, s.AccountID, string(s.State),
		s.RateConfig.BaseRateUnits, s.RateConfig.BoostBps, s.RateConfig.ReferralBps,
		s.StartedAt, int64(s.MonotonicStart), s.Epoch, int64(s.ActiveElapsed), int64(s.SegmentStart),
		int64(s.WallElapsed), s.WallSegmentStart, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSessionAlreadyActive
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, selectSessionSQL+` WHERE id = $1`, sessionID))
}

func (p *PostgresStore) GetOpen(ctx context.Context, accountID string) (*Session, error) {
	s, err := p.scanOne(p.db.QueryRowContext(ctx,
		selectSessionSQL+` WHERE account_id = $1 AND state IN ('active', 'paused')`, accountID))
	if err == ErrSessionNotFound {
		return nil, nil
	}
	return s, err
}

func (p *PostgresStore) Update(ctx context.Context, s *Session) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE mining_sessions SET
			state              = $2,
			paused_at          = $3,
			resumed_at         = $4,
			stopped_at         = $5,
			active_elapsed_ns  = $6,
			segment_start_ns   = $7,
			wall_elapsed_ns    = $8,
			wall_segment_start = $9,
			updated_at         = $10,
			epoch              = $11
		WHERE id = $1
	`,
		s.ID, string(s.State), s.PausedAt, s.ResumedAt, s.StoppedAt,
		int64(s.ActiveElapsed), int64(s.SegmentStart), int64(s.WallElapsed),
		s.WallSegmentStart, s.UpdatedAt, s.Epoch,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) History(ctx context.Context, accountID string, limit int) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx,
		selectSessionSQL+` WHERE account_id = $1 AND state = 'closed' ORDER BY created_at DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		s, err := p.scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

const selectSessionSQL = `
	SELECT id, account_id, state, base_rate_units, boost_bps, referral_bps,
	       started_at, paused_at, resumed_at, stopped_at,
	       monotonic_start_ns, epoch, active_elapsed_ns, segment_start_ns,
	       wall_elapsed_ns, wall_segment_start, created_at, updated_at
	FROM mining_sessions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Session, error) {
	s, err := p.scanInto(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) scanRow(rows *sql.Rows) (*Session, error) {
	return p.scanInto(rows)
}

func (p *PostgresStore) scanInto(row rowScanner) (*Session, error) {
	var (
		s                                     Session
		state                                 string
		monoStart, activeNs, segStart, wallNs int64
		pausedAt, resumedAt, stoppedAt        sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.AccountID, &state,
		&s.RateConfig.BaseRateUnits, &s.RateConfig.BoostBps, &s.RateConfig.ReferralBps,
		&s.StartedAt, &pausedAt, &resumedAt, &stoppedAt,
		&monoStart, &s.Epoch, &activeNs, &segStart, &wallNs,
		&s.WallSegmentStart, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.State = State(state)
	s.MonotonicStart = time.Duration(monoStart)
	s.ActiveElapsed = time.Duration(activeNs)
	s.SegmentStart = time.Duration(segStart)
	s.WallElapsed = time.Duration(wallNs)
	if pausedAt.Valid {
		s.PausedAt = &pausedAt.Time
	}
	if resumedAt.Valid {
		s.ResumedAt = &resumedAt.Time
	}
	if stoppedAt.Valid {
		s.StoppedAt = &stoppedAt.Time
	}
	return &s, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
