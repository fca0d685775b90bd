// Package events provides the in-process event notifier: a static
// table of named handlers per event type, invoked synchronously in
// registration order. A failing subscriber is logged and skipped; it
// never rolls back the mutation that triggered the event.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event types published by this core.
const (
	TaskCompleted       = "task.completed"
	CreditConsumed      = "credit.consumed"
	AchievementUnlocked = "achievement.unlocked"
)

// Event carries what subscribers need; Fields is event-type specific.
type Event struct {
	Type   string         `json:"type"`
	UserID string         `json:"user_id"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// HandlerFunc processes one event.
type HandlerFunc func(ctx context.Context, ev Event) error

type subscription struct {
	name string
	fn   HandlerFunc
}

// Bus dispatches events to registered handlers. Registration happens
// at wiring time, before any Publish; the bus is not safe for
// concurrent Register calls.
type Bus struct {
	logger   *zap.Logger
	handlers map[string][]subscription
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:   logger,
		handlers: make(map[string][]subscription),
	}
}

// Register binds a named handler to an event type. Handlers run in
// registration order.
func (b *Bus) Register(eventType, name string, fn HandlerFunc) {
	if eventType == "" || fn == nil {
		return
	}
	b.handlers[eventType] = append(b.handlers[eventType], subscription{name: name, fn: fn})
}

// Publish invokes every handler registered for ev.Type, in order.
// Handler failures are logged, not propagated.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, sub := range b.handlers[ev.Type] {
		if err := sub.fn(ctx, ev); err != nil {
			b.logger.Error("event handler failed",
				zap.String("event_type", ev.Type),
				zap.String("handler", sub.name),
				zap.String("user_id", ev.UserID),
				zap.Error(err),
			)
		}
	}
}
