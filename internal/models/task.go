package models

import (
	"time"
)

// Task is the version-guarded subset of a task row this core mutates.
// Every write must go through the store's version check; there is no
// unguarded write path.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Version     int64      `json:"version"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	TemplateID  *string    `json:"template_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskChanges carries the fields a mutation may touch. Nil means leave
// the column alone.
type TaskChanges struct {
	Title       *string    `json:"title,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Empty reports whether the mutation would touch nothing.
func (c TaskChanges) Empty() bool {
	return c.Title == nil && c.Completed == nil && c.CompletedAt == nil && c.DueDate == nil
}
