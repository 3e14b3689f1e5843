package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// pgLedger backs the Ledger contract with Postgres. Transaction bodies read
// rows under FOR UPDATE and commit atomically; serialization failures and
// deadlocks are retried here so no caller hand-rolls its own retry loop.
type pgLedger struct {
	db          *sql.DB
	maxAttempts int
	metrics     *coreMetrics
}

func NewPGLedger(db *sql.DB, cfg Config, metrics *coreMetrics) *pgLedger {
	attempts := cfg.TxnMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &pgLedger{db: db, maxAttempts: attempts, metrics: metrics}
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			credits BIGINT NOT NULL,
			votes_remaining INT NOT NULL,
			votes_received BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			status_until TIMESTAMPTZ,
			bounty_id TEXT,
			referred_by TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		ALTER TABLE accounts
			ADD COLUMN IF NOT EXISTS referred_by TEXT;
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		ALTER TABLE accounts
			ADD COLUMN IF NOT EXISTS status_until TIMESTAMPTZ;
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vote_allocations (
			voter_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			week TEXT NOT NULL,
			count INT NOT NULL DEFAULT 0,
			PRIMARY KEY (voter_id, target_id, week)
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vote_log (
			id BIGSERIAL PRIMARY KEY,
			voter_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			week TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_vote_log_voter
		ON vote_log (voter_id, week);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transfer_log (
			id TEXT PRIMARY KEY,
			from_id TEXT,
			to_id TEXT,
			amount BIGINT NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transfer_log_from
		ON transfer_log (from_id, created_at);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transfer_log_to
		ON transfer_log (to_id, created_at);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bounties (
			id TEXT PRIMARY KEY,
			target_id TEXT NOT NULL,
			placer_id TEXT NOT NULL,
			stake BIGINT NOT NULL,
			remaining BIGINT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// One active bounty per target, enforced at the store as well as in the
	// engine's transactional check.
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_bounties_one_active
		ON bounties (target_id)
		WHERE state = 'active';
	`)
	return err
}

func (l *pgLedger) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, credits, votes_remaining, votes_received, status, status_until,
			bounty_id, referred_by, created_at, last_activity_at
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

func (l *pgLedger) CreateAccount(ctx context.Context, a *Account) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, credits, votes_remaining, votes_received, status, status_until,
			bounty_id, referred_by, created_at, last_activity_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.Credits, a.VotesRemaining, a.VotesReceived, string(a.Status),
		nullTime(a.StatusUntil), nullString(a.BountyID), nullString(a.ReferredBy),
		a.CreatedAt, a.LastActivityAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (l *pgLedger) AccountIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id
		FROM accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *pgLedger) RunTransactional(ctx context.Context, fn func(tx Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := l.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryablePGError(err) {
			return err
		}
		if l.metrics != nil {
			l.metrics.txnRetries.Inc()
		}
		if attempt+1 >= l.maxAttempts {
			if l.metrics != nil {
				l.metrics.txnContention.Inc()
			}
			zap.L().Warn("transaction retry budget exhausted",
				zap.Int("attempts", l.maxAttempts))
			return ErrContention
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txnBackoff(attempt)):
		}
	}
}

func (l *pgLedger) runOnce(ctx context.Context, fn func(tx Txn) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	t := &pgTxn{ctx: ctx, tx: tx, accounts: make(map[string]*Account)}
	if err := fn(t); err != nil {
		return err
	}
	if t.err != nil {
		return t.err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// retryablePGError reports whether the error is a transient conflict worth
// another attempt: serialization_failure or deadlock_detected.
func retryablePGError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func (l *pgLedger) AppendVote(ctx context.Context, rec VoteRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO vote_log (voter_id, target_id, week, created_at)
		VALUES ($1, $2, $3, $4)
	`, rec.VoterID, rec.TargetID, rec.Week, rec.CreatedAt)
	return err
}

func (l *pgLedger) ExpiredBountyIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id
		FROM bounties
		WHERE state = 'active' AND expires_at <= $1
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *pgLedger) Transfers(ctx context.Context, accountID string, limit int) ([]TransferRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, from_id, to_id, amount, kind, created_at
		FROM transfer_log
		WHERE $1 = '' OR from_id = $1 OR to_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []TransferRecord
	for rows.Next() {
		var rec TransferRecord
		var from, to sql.NullString
		var kind string
		if err := rows.Scan(&rec.ID, &from, &to, &rec.Amount, &kind, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.FromID = fromNullString(from)
		rec.ToID = fromNullString(to)
		rec.Kind = TransferKind(kind)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (l *pgLedger) TopByVotes(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, votes_received, credits
		FROM accounts
		ORDER BY votes_received DESC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.AccountID, &e.VotesReceived, &e.Credits); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

/* ======================
   Transaction view
   ====================== */

type pgTxn struct {
	ctx      context.Context
	tx       *sql.Tx
	accounts map[string]*Account
	err      error
}

func (t *pgTxn) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func (t *pgTxn) Account(id string) (*Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a, nil
	}
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT id, credits, votes_remaining, votes_received, status, status_until,
			bounty_id, referred_by, created_at, last_activity_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	t.accounts[id] = a
	return a, nil
}

func (t *pgTxn) PutAccount(a *Account) {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE accounts
		SET credits = $2,
			votes_remaining = $3,
			votes_received = $4,
			status = $5,
			status_until = $6,
			bounty_id = $7,
			last_activity_at = $8
		WHERE id = $1
	`, a.ID, a.Credits, a.VotesRemaining, a.VotesReceived, string(a.Status),
		nullTime(a.StatusUntil), nullString(a.BountyID), a.LastActivityAt)
	if err != nil {
		t.fail(fmt.Errorf("put account %s: %w", a.ID, err))
	}
	t.accounts[a.ID] = a
}

func (t *pgTxn) Bounty(id string) (*Bounty, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT id, target_id, placer_id, stake, remaining, state, created_at, expires_at
		FROM bounties
		WHERE id = $1
		FOR UPDATE
	`, id)

	var b Bounty
	var state string
	err := row.Scan(&b.ID, &b.TargetID, &b.PlacerID, &b.Stake, &b.Remaining,
		&state, &b.CreatedAt, &b.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.State = BountyState(state)
	return &b, nil
}

func (t *pgTxn) PutBounty(b *Bounty) {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO bounties (id, target_id, placer_id, stake, remaining, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET
			remaining = EXCLUDED.remaining,
			state = EXCLUDED.state,
			expires_at = EXCLUDED.expires_at
	`, b.ID, b.TargetID, b.PlacerID, b.Stake, b.Remaining, string(b.State),
		b.CreatedAt, b.ExpiresAt)
	if err != nil {
		t.fail(fmt.Errorf("put bounty %s: %w", b.ID, err))
	}
}

func (t *pgTxn) Allocation(voterID, targetID, week string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT count
		FROM vote_allocations
		WHERE voter_id = $1 AND target_id = $2 AND week = $3
		FOR UPDATE
	`, voterID, targetID, week).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (t *pgTxn) SetAllocation(voterID, targetID, week string, count int) {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO vote_allocations (voter_id, target_id, week, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (voter_id, target_id, week)
		DO UPDATE SET count = EXCLUDED.count
	`, voterID, targetID, week, count)
	if err != nil {
		t.fail(fmt.Errorf("set allocation: %w", err))
	}
}

func (t *pgTxn) ClearAllocations(voterID string) {
	_, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM vote_allocations
		WHERE voter_id = $1
	`, voterID)
	if err != nil {
		t.fail(fmt.Errorf("clear allocations: %w", err))
	}
}

func (t *pgTxn) AppendTransfer(rec TransferRecord) {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO transfer_log (id, from_id, to_id, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, nullString(rec.FromID), nullString(rec.ToID), rec.Amount,
		string(rec.Kind), rec.CreatedAt)
	if err != nil {
		t.fail(fmt.Errorf("append transfer: %w", err))
	}
}

/* ======================
   Scan helpers
   ====================== */

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var status string
	var statusUntil sql.NullTime
	var bountyID, referredBy sql.NullString

	err := row.Scan(&a.ID, &a.Credits, &a.VotesRemaining, &a.VotesReceived,
		&status, &statusUntil, &bountyID, &referredBy, &a.CreatedAt, &a.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	if statusUntil.Valid {
		until := statusUntil.Time
		a.StatusUntil = &until
	}
	a.BountyID = fromNullString(bountyID)
	a.ReferredBy = fromNullString(referredBy)
	return &a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
