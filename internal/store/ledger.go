package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"habitloop/internal/credits"
	"habitloop/internal/models"
)

// GrantCreditsParams collects inputs for a ledger grant (subscription
// renewal, signup bonus, purchase).
type GrantCreditsParams struct {
	UserID    string
	Bucket    models.Bucket
	Amount    int64
	ExpiresAt *time.Time
}

// GrantCredits appends a grant entry to the ledger.
func (s *Store) GrantCredits(ctx context.Context, p GrantCreditsParams) (models.CreditEntry, error) {
	if p.Amount <= 0 {
		return models.CreditEntry{}, fmt.Errorf("grant amount must be positive, got %d", p.Amount)
	}
	if !p.Bucket.Valid() {
		return models.CreditEntry{}, fmt.Errorf("unknown bucket %q", p.Bucket)
	}
	entry := models.CreditEntry{
		ID:            uuid.New().String(),
		UserID:        p.UserID,
		Bucket:        p.Bucket,
		AmountGranted: p.Amount,
		ExpiresAt:     p.ExpiresAt,
		GrantedAt:     time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credit_ledger (id, user_id, bucket, amount_granted, amount_consumed, expires_at, granted_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
	`, entry.ID, entry.UserID, entry.Bucket, entry.AmountGranted, entry.ExpiresAt, entry.GrantedAt)
	if err != nil {
		return models.CreditEntry{}, fmt.Errorf("insert grant: %w", err)
	}
	return entry, nil
}

// GetBalance reports per-bucket availability, excluding expired entries.
func (s *Store) GetBalance(ctx context.Context, userID string) (models.BalanceBreakdown, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT bucket, COALESCE(SUM(amount_granted - amount_consumed), 0)
		FROM credit_ledger
		WHERE user_id = $1
		  AND amount_consumed < amount_granted
		  AND (expires_at IS NULL OR expires_at > NOW())
		GROUP BY bucket
	`, userID)
	if err != nil {
		return models.BalanceBreakdown{}, fmt.Errorf("query balance: %w", err)
	}
	defer rows.Close()

	out := models.BalanceBreakdown{UserID: userID, Buckets: make(map[models.Bucket]int64)}
	for rows.Next() {
		var bucket models.Bucket
		var avail int64
		if err := rows.Scan(&bucket, &avail); err != nil {
			return models.BalanceBreakdown{}, fmt.Errorf("scan balance: %w", err)
		}
		out.Buckets[bucket] = avail
		out.Total += avail
	}
	return out, rows.Err()
}

// Consume decrements amount from the user's ledger in fixed bucket
// order, all-or-nothing. The user's live entries are locked for the
// duration of the transaction, so concurrent consumers for the same
// user serialize and cannot overlap the same balance.
func (s *Store) Consume(ctx context.Context, userID string, amount int64) (map[models.Bucket]int64, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("consume amount must be positive, got %d", amount)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	now := time.Now().UTC()
	rows, err := tx.Query(ctx, `
		SELECT id, user_id, bucket, amount_granted, amount_consumed, expires_at, granted_at
		FROM credit_ledger
		WHERE user_id = $1 AND amount_consumed < amount_granted
		ORDER BY granted_at
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("lock ledger entries: %w", err)
	}
	entries, err := scanCreditEntries(rows)
	if err != nil {
		return nil, err
	}

	plan, err := credits.Plan(entries, amount, now)
	if err != nil {
		return nil, fmt.Errorf("consume %d for user %s: %w", amount, userID, err)
	}

	for _, d := range plan {
		tag, err := tx.Exec(ctx, `
			UPDATE credit_ledger SET amount_consumed = amount_consumed + $2
			WHERE id = $1 AND amount_consumed + $2 <= amount_granted
		`, d.EntryID, d.Amount)
		if err != nil {
			return nil, fmt.Errorf("apply draw on %s: %w", d.EntryID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("draw on %s would overdraw entry", d.EntryID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return credits.Breakdown(plan), nil
}

// ExpireCredits zeroes the available balance of expired entries in
// expiring buckets by forcing amount_consumed up to amount_granted.
// Non-expiring (purchased) entries are never touched; re-running over
// already-swept rows matches zero rows and changes nothing.
func (s *Store) ExpireCredits(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credit_ledger SET amount_consumed = amount_granted
		WHERE expires_at IS NOT NULL
		  AND expires_at < $1
		  AND amount_consumed < amount_granted
		  AND bucket <> $2
	`, now, models.BucketPurchased)
	if err != nil {
		return 0, fmt.Errorf("expire sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCreditEntries(rows pgx.Rows) ([]models.CreditEntry, error) {
	defer rows.Close()
	var out []models.CreditEntry
	for rows.Next() {
		var e models.CreditEntry
		var expires pgtype.Timestamptz
		if err := rows.Scan(&e.ID, &e.UserID, &e.Bucket, &e.AmountGranted, &e.AmountConsumed, &expires, &e.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.ExpiresAt = tsPtr(expires)
		out = append(out, e)
	}
	return out, rows.Err()
}
