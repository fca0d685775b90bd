package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"habitloop/internal/models"
)

// GetStreak fetches a user's streak state, returning a zero state for
// users with no prior activity.
func (s *Store) GetStreak(ctx context.Context, userID string) (models.StreakState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, current_streak, longest_streak, last_completion_date, grace_day_used, updated_at
		FROM streaks WHERE user_id = $1
	`, userID)

	var st models.StreakState
	var last pgtype.Date
	err := row.Scan(&st.UserID, &st.CurrentStreak, &st.LongestStreak, &last, &st.GraceDayUsed, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreakState{UserID: userID}, nil
	}
	if err != nil {
		return models.StreakState{}, fmt.Errorf("scan streak: %w", err)
	}
	if last.Valid {
		d := last.Time
		st.LastCompletionDate = &d
	}
	return st, nil
}

// SaveStreak upserts a user's streak state.
func (s *Store) SaveStreak(ctx context.Context, st models.StreakState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO streaks (user_id, current_streak, longest_streak, last_completion_date, grace_day_used, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_completion_date = EXCLUDED.last_completion_date,
			grace_day_used = EXCLUDED.grace_day_used,
			updated_at = NOW()
	`, st.UserID, st.CurrentStreak, st.LongestStreak, st.LastCompletionDate, st.GraceDayUsed)
	if err != nil {
		return fmt.Errorf("upsert streak: %w", err)
	}
	return nil
}

// UsersWithCompletionsOn lists users who completed at least one task on
// the given UTC day, the input set for streak_calculate.
func (s *Store) UsersWithCompletionsOn(ctx context.Context, day string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM tasks
		WHERE completed AND (completed_at AT TIME ZONE 'UTC')::date = $1::date
	`, day)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
