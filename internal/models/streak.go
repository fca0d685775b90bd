package models

import (
	"time"
)

// StreakState tracks one user's daily completion streak. Dates are
// calendar days in UTC, stored truncated to midnight.
type StreakState struct {
	UserID             string     `json:"user_id"`
	CurrentStreak      int        `json:"current_streak"`
	LongestStreak      int        `json:"longest_streak"`
	LastCompletionDate *time.Time `json:"last_completion_date,omitempty"`
	GraceDayUsed       bool       `json:"grace_day_used"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
