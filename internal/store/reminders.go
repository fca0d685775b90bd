package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"habitloop/internal/models"
)

// GetReminder fetches a reminder by id.
func (s *Store) GetReminder(ctx context.Context, id string) (models.Reminder, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_id, user_id, message, trigger_at, fired, fired_at, created_at
		FROM reminders WHERE id = $1
	`, id)
	var r models.Reminder
	var firedAt pgtype.Timestamptz
	err := row.Scan(&r.ID, &r.TaskID, &r.UserID, &r.Message, &r.TriggerAt, &r.Fired, &firedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reminder{}, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Reminder{}, fmt.Errorf("scan reminder: %w", err)
	}
	r.FiredAt = tsPtr(firedAt)
	return r, nil
}

// MarkReminderFired flips the fired flag. The WHERE NOT fired guard is
// the idempotency check: a retry that lost the race affects zero rows
// and reports false.
func (s *Store) MarkReminderFired(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminders SET fired = TRUE, fired_at = NOW()
		WHERE id = $1 AND NOT fired
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark reminder fired: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
