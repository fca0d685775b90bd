package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"habitloop/internal/models"
	"habitloop/internal/recurrence"
	"habitloop/internal/store"
)

// RecurringStore is the persistence recurring_task_generate needs.
type RecurringStore interface {
	GetTask(ctx context.Context, id string) (models.Task, error)
	GetTemplate(ctx context.Context, id string) (models.RecurringTemplate, error)
	GenerateOccurrence(ctx context.Context, tpl models.RecurringTemplate, next time.Time) (models.Task, bool, error)
}

// RecurringHandler creates the next occurrence of a recurring template
// after one of its instances completes. The template's last-occurrence
// pointer only moves forward, so an at-least-once replay finds the
// pointer already advanced and generates nothing.
type RecurringHandler struct {
	store  RecurringStore
	logger *zap.Logger
}

func NewRecurringHandler(st RecurringStore, logger *zap.Logger) *RecurringHandler {
	return &RecurringHandler{store: st, logger: logger}
}

func (h *RecurringHandler) Handle(ctx context.Context, job models.Job) error {
	templateID, ok := payloadString(job, "template_id")
	if !ok {
		// Fall back to resolving through the completed task.
		taskID, taskOK := payloadString(job, "task_id")
		if !taskOK {
			return Fatal(fmt.Errorf("recurring_task_generate payload missing template_id and task_id"))
		}
		task, err := h.store.GetTask(ctx, taskID)
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Info("recurring source task gone, skipping", zap.String("task_id", taskID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		if task.TemplateID == nil {
			return Fatal(fmt.Errorf("task %s is not template-generated", taskID))
		}
		templateID = *task.TemplateID
	}

	tpl, err := h.store.GetTemplate(ctx, templateID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Info("recurring template gone, skipping", zap.String("template_id", templateID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	next, err := recurrence.Next(tpl, tpl.LastOccurrence)
	if err != nil {
		return Fatal(err)
	}

	task, generated, err := h.store.GenerateOccurrence(ctx, tpl, next)
	if err != nil {
		return fmt.Errorf("generate occurrence: %w", err)
	}
	if !generated {
		// Pointer already covers this occurrence; replay no-op.
		return nil
	}
	h.logger.Info("recurring occurrence generated",
		zap.String("template_id", tpl.ID),
		zap.String("task_id", task.ID),
		zap.Time("due", next),
	)
	return nil
}
