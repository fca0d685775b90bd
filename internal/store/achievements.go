package store

import (
	"context"
	"fmt"
	"time"

	"habitloop/internal/models"
)

// UnlockAchievement records a crossed threshold. The conflict-ignored
// insert makes replayed events harmless; inserted reports whether this
// call was the first unlock.
func (s *Store) UnlockAchievement(ctx context.Context, userID, code string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO unlocked_achievements (user_id, code, unlocked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, code) DO NOTHING
	`, userID, code)
	if err != nil {
		return false, fmt.Errorf("unlock achievement: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListUnlocked returns the codes a user has already unlocked.
func (s *Store) ListUnlocked(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code FROM unlocked_achievements WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unlocked: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// UserCounters gathers the inputs for achievement evaluation.
func (s *Store) UserCounters(ctx context.Context, userID string) (models.UserCounters, error) {
	st, err := s.GetStreak(ctx, userID)
	if err != nil {
		return models.UserCounters{}, err
	}
	completions, err := s.LifetimeCompletions(ctx, userID)
	if err != nil {
		return models.UserCounters{}, err
	}
	return models.UserCounters{
		UserID:              userID,
		CurrentStreak:       st.CurrentStreak,
		LifetimeCompletions: completions,
	}, nil
}

// AppendAudit adds an activity audit row.
func (s *Store) AppendAudit(ctx context.Context, userID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (user_id, event, detail, ts)
		VALUES ($1, $2, $3, $4)
	`, userID, event, detail, time.Now().UTC())
	return err
}
