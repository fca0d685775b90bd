package models

import (
	"time"
)

// Recurrence frequencies supported by templates.
const (
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
)

// RecurringTemplate drives recurring_task_generate. LastOccurrence is
// the pointer that guards against regenerating an occurrence on
// at-least-once replay: it only ever moves forward.
type RecurringTemplate struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Frequency      string    `json:"frequency"`
	Interval       int       `json:"interval"`
	LastOccurrence time.Time `json:"last_occurrence"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
