package models

import (
	"time"
)

// UnlockedAchievement records a threshold a user has crossed. Inserts
// are conflict-ignored on (user_id, code) so replayed events never
// re-unlock.
type UnlockedAchievement struct {
	UserID     string    `json:"user_id"`
	Code       string    `json:"code"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// UserCounters are the inputs achievement evaluation is a pure function
// of, together with the static threshold table.
type UserCounters struct {
	UserID              string `json:"user_id"`
	CurrentStreak       int    `json:"current_streak"`
	LifetimeCompletions int64  `json:"lifetime_completions"`
}
