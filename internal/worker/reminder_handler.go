package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"habitloop/internal/models"
	"habitloop/internal/notify"
	"habitloop/internal/store"
)

// ReminderStore is the persistence reminder_fire needs.
type ReminderStore interface {
	GetReminder(ctx context.Context, id string) (models.Reminder, error)
	GetTask(ctx context.Context, id string) (models.Task, error)
	MarkReminderFired(ctx context.Context, id string) (bool, error)
}

// ReminderHandler fires due reminders. The not-yet-fired check before
// delivery is the idempotency guard against at-least-once replay; a
// reminder whose task was completed or deleted succeeds as a no-op.
type ReminderHandler struct {
	store    ReminderStore
	notifier notify.Notifier
	timeout  time.Duration
	logger   *zap.Logger
}

func NewReminderHandler(st ReminderStore, notifier notify.Notifier, timeout time.Duration, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{store: st, notifier: notifier, timeout: timeout, logger: logger}
}

func (h *ReminderHandler) Handle(ctx context.Context, job models.Job) error {
	reminderID, ok := payloadString(job, "reminder_id")
	if !ok {
		return Fatal(fmt.Errorf("reminder_fire payload missing reminder_id"))
	}

	reminder, err := h.store.GetReminder(ctx, reminderID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Info("reminder gone, skipping", zap.String("reminder_id", reminderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder: %w", err)
	}
	if reminder.Fired {
		return nil
	}

	task, err := h.store.GetTask(ctx, reminder.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Info("reminder task gone, skipping", zap.String("reminder_id", reminderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.Completed {
		h.logger.Info("reminder task already completed, skipping",
			zap.String("reminder_id", reminderID),
			zap.String("task_id", task.ID),
		)
		return nil
	}

	now := time.Now().UTC()
	duePassed := task.DueDate != nil && task.DueDate.Before(now)
	if reminder.TriggerAt.After(now) && !duePassed {
		// Enqueued ahead of its trigger; defer rather than fail so early
		// polls never eat into the retry budget.
		return RetryAt(reminder.TriggerAt, fmt.Errorf("reminder %s not due until %s", reminderID, reminder.TriggerAt.Format(time.RFC3339)))
	}

	// The lease window is the execution budget; bound the outbound call
	// well inside it.
	deliverCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.notifier.Deliver(deliverCtx, reminder.UserID, reminder.Message); err != nil {
		return fmt.Errorf("deliver reminder %s: %w", reminderID, err)
	}

	if _, err := h.store.MarkReminderFired(ctx, reminderID); err != nil {
		return fmt.Errorf("mark reminder fired: %w", err)
	}
	return nil
}
