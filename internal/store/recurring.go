package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"habitloop/internal/models"
)

// GetTemplate fetches a recurring template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (models.RecurringTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, frequency, interval, last_occurrence, created_at, updated_at
		FROM recurring_templates WHERE id = $1
	`, id)
	var tpl models.RecurringTemplate
	err := row.Scan(&tpl.ID, &tpl.UserID, &tpl.Title, &tpl.Frequency, &tpl.Interval, &tpl.LastOccurrence, &tpl.CreatedAt, &tpl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RecurringTemplate{}, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.RecurringTemplate{}, fmt.Errorf("scan template: %w", err)
	}
	return tpl, nil
}

// GenerateOccurrence advances the template's last-occurrence pointer to
// next and inserts the corresponding task instance, both in one
// transaction. The conditional pointer move is the replay guard: if the
// pointer already covers next, nothing is inserted and generated is
// false.
func (s *Store) GenerateOccurrence(ctx context.Context, tpl models.RecurringTemplate, next time.Time) (models.Task, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Task{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		UPDATE recurring_templates SET last_occurrence = $2, updated_at = NOW()
		WHERE id = $1 AND last_occurrence < $2
	`, tpl.ID, next)
	if err != nil {
		return models.Task{}, false, fmt.Errorf("advance template pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Task{}, false, nil
	}

	id := uuid.New().String()
	row := tx.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, title, due_date, template_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+taskColumns,
		id, tpl.UserID, tpl.Title, next, tpl.ID)
	task, err := scanTask(row)
	if err != nil {
		return models.Task{}, false, fmt.Errorf("insert occurrence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Task{}, false, fmt.Errorf("commit: %w", err)
	}
	return task, true, nil
}
