package models

import (
	"time"
)

// Job statuses persisted in Postgres.
const (
	StatusPending = "pending"
	StatusClaimed = "claimed"
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusDead    = "dead"
)

// Job types handled by the worker.
const (
	JobReminderFire          = "reminder_fire"
	JobStreakCalculate       = "streak_calculate"
	JobCreditExpire          = "credit_expire"
	JobSubscriptionCheck     = "subscription_check"
	JobRecurringTaskGenerate = "recurring_task_generate"
)

// AllJobTypes is the full set a general-purpose worker claims.
var AllJobTypes = []string{
	JobReminderFire,
	JobStreakCalculate,
	JobCreditExpire,
	JobSubscriptionCheck,
	JobRecurringTaskGenerate,
}

// Job represents a unit of deferred work persisted in Postgres.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	RunAfter    time.Time      `json:"run_after"`
	ClaimedBy   *string        `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AuditLog is a row in the activity audit trail fed by the event bus.
type AuditLog struct {
	UserID   string    `json:"user_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
