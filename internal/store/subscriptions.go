package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"habitloop/internal/models"
)

// GetSubscription fetches one subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id string) (models.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, current_period_end, last_payment_at, updated_at
		FROM subscriptions WHERE id = $1
	`, id)
	var sub models.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Status, &sub.CurrentPeriodEnd, &sub.LastPaymentAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subscription{}, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}

// DueSubscriptions lists active/grace subscriptions whose period end
// has passed, the working set for subscription_check.
func (s *Store) DueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, status, current_period_end, last_payment_at, updated_at
		FROM subscriptions
		WHERE status IN ($1, $2) AND current_period_end <= $3
		ORDER BY current_period_end
		LIMIT $4
	`, models.SubscriptionActive, models.SubscriptionGrace, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due subscriptions: %w", err)
	}
	defer rows.Close()

	var out []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Status, &sub.CurrentPeriodEnd, &sub.LastPaymentAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SetSubscriptionStatus transitions a subscription, no-op when the
// status already matches (idempotent re-check).
func (s *Store) SetSubscriptionStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`, id, status)
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	return nil
}
