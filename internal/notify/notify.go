// Package notify abstracts the user-facing notification transport.
// Delivery is an external collaborator; the worker treats its failures
// as retryable.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers a message to a user.
type Notifier interface {
	Deliver(ctx context.Context, userID, message string) error
}

// LogNotifier is the default transport: it records deliveries in the
// log. Real transports (push, email) plug in behind the same interface.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(ctx context.Context, userID, message string) error {
	n.logger.Info("notification delivered",
		zap.String("user_id", userID),
		zap.String("message", message),
	)
	return nil
}
