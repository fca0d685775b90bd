package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"habitloop/internal/models"
	"habitloop/internal/streaks"
)

// StreakStore is the persistence streak_calculate needs.
type StreakStore interface {
	GetStreak(ctx context.Context, userID string) (models.StreakState, error)
	SaveStreak(ctx context.Context, st models.StreakState) error
	UsersWithCompletionsOn(ctx context.Context, day string) ([]string, error)
}

// StreakHandler advances streak state for the day's completions. A
// payload with user_id targets one user (enqueued on completion); the
// periodic sweep form walks everyone with completions that day. Either
// way re-running is a no-op once last_completion_date covers the day.
type StreakHandler struct {
	store  StreakStore
	logger *zap.Logger
}

func NewStreakHandler(st StreakStore, logger *zap.Logger) *StreakHandler {
	return &StreakHandler{store: st, logger: logger}
}

func (h *StreakHandler) Handle(ctx context.Context, job models.Job) error {
	day, ok := payloadTime(job, "date")
	if !ok {
		day = time.Now().UTC()
	}
	day = streaks.Day(day)

	if userID, ok := payloadString(job, "user_id"); ok {
		return h.advance(ctx, userID, day)
	}

	users, err := h.store.UsersWithCompletionsOn(ctx, day.Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("list users with completions: %w", err)
	}
	for _, userID := range users {
		if err := h.advance(ctx, userID, day); err != nil {
			return err
		}
	}
	return nil
}

func (h *StreakHandler) advance(ctx context.Context, userID string, day time.Time) error {
	st, err := h.store.GetStreak(ctx, userID)
	if err != nil {
		return fmt.Errorf("load streak for %s: %w", userID, err)
	}
	if st.LastCompletionDate != nil && !streaks.Day(*st.LastCompletionDate).Before(day) {
		return nil
	}
	next := streaks.Advance(st, day)
	if err := h.store.SaveStreak(ctx, next); err != nil {
		return fmt.Errorf("save streak for %s: %w", userID, err)
	}
	h.logger.Info("streak advanced",
		zap.String("user_id", userID),
		zap.Int("current", next.CurrentStreak),
		zap.Int("longest", next.LongestStreak),
		zap.Bool("grace_day_used", next.GraceDayUsed),
	)
	return nil
}
