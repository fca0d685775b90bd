package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishInvokesHandlersInRegistrationOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var order []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, ev Event) error {
			order = append(order, name)
			return nil
		}
	}
	bus.Register(TaskCompleted, "first", record("first"))
	bus.Register(TaskCompleted, "second", record("second"))
	bus.Register(TaskCompleted, "third", record("third"))

	bus.Publish(context.Background(), Event{Type: TaskCompleted, UserID: "u1"})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublishContinuesPastFailingHandler(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var reached bool
	bus.Register(CreditConsumed, "broken", func(ctx context.Context, ev Event) error {
		return errors.New("subscriber exploded")
	})
	bus.Register(CreditConsumed, "after", func(ctx context.Context, ev Event) error {
		reached = true
		return nil
	})

	bus.Publish(context.Background(), Event{Type: CreditConsumed, UserID: "u1"})
	assert.True(t, reached, "a failing handler must not block later handlers")
}

func TestPublishIgnoresUnregisteredTypes(t *testing.T) {
	bus := NewBus(zap.NewNop())
	// Nothing registered; must simply not panic.
	bus.Publish(context.Background(), Event{Type: AchievementUnlocked, UserID: "u1"})
}
