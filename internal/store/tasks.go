package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"habitloop/internal/models"
)

const taskColumns = `id, user_id, title, version, completed, completed_at, due_date, template_id, created_at, updated_at`

// CreateTaskParams collects inputs required to insert a task.
type CreateTaskParams struct {
	UserID     string
	Title      string
	DueDate    *time.Time
	TemplateID *string
}

// CreateTask inserts a task at version 1.
func (s *Store) CreateTask(ctx context.Context, p CreateTaskParams) (models.Task, error) {
	id := uuid.New().String()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, title, due_date, template_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+taskColumns+`
	`, id, p.UserID, p.Title, p.DueDate, p.TemplateID)
	return scanTask(row)
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1
	`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, err
}

// ApplyTaskMutation applies changes to a task iff expectedVersion
// matches the stored version, incrementing version by exactly 1 in the
// same statement. A stale version yields ErrVersionConflict and no
// change. This is the only write path for version-sensitive fields.
func (s *Store) ApplyTaskMutation(ctx context.Context, taskID string, expectedVersion int64, changes models.TaskChanges) (models.Task, error) {
	sets := []string{"version = version + 1", "updated_at = NOW()"}
	args := []any{taskID, expectedVersion}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if changes.Title != nil {
		add("title", *changes.Title)
	}
	if changes.Completed != nil {
		add("completed", *changes.Completed)
	}
	if changes.CompletedAt != nil {
		add("completed_at", *changes.CompletedAt)
	}
	if changes.DueDate != nil {
		add("due_date", *changes.DueDate)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE tasks SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND version = $2
		RETURNING `+taskColumns,
		args...)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Zero rows means either the task is gone or the version is
		// stale; look again to report the right error.
		if _, getErr := s.GetTask(ctx, taskID); getErr != nil {
			return models.Task{}, getErr
		}
		return models.Task{}, fmt.Errorf("task %s at version %d: %w", taskID, expectedVersion, ErrVersionConflict)
	}
	return task, err
}

// ForceCompleteTask is the guarded completion path: the same version
// check, with fixed changes. It is a named convenience, not a bypass.
func (s *Store) ForceCompleteTask(ctx context.Context, taskID string, expectedVersion int64) (models.Task, error) {
	completed := true
	now := time.Now().UTC()
	return s.ApplyTaskMutation(ctx, taskID, expectedVersion, models.TaskChanges{
		Completed:   &completed,
		CompletedAt: &now,
	})
}

// LifetimeCompletions counts a user's completed tasks, feeding
// achievement evaluation.
func (s *Store) LifetimeCompletions(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks WHERE user_id = $1 AND completed
	`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return n, nil
}

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	var completedAt, dueDate pgtype.Timestamptz
	var templateID pgtype.Text
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Version, &t.Completed, &completedAt, &dueDate, &templateID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return models.Task{}, err
	}
	t.CompletedAt = tsPtr(completedAt)
	t.DueDate = tsPtr(dueDate)
	t.TemplateID = textPtr(templateID)
	return t, nil
}
