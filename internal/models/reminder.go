package models

import (
	"time"
)

// Reminder is a scheduled notification attached to a task. The fired
// flag is the idempotency guard for at-least-once job delivery.
type Reminder struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	UserID    string     `json:"user_id"`
	Message   string     `json:"message"`
	TriggerAt time.Time  `json:"trigger_at"`
	Fired     bool       `json:"fired"`
	FiredAt   *time.Time `json:"fired_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
