package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"habitloop/internal/models"
	"habitloop/internal/store"
)

// SubscriptionStore is the persistence subscription_check needs.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (models.Subscription, error)
	DueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	SetSubscriptionStatus(ctx context.Context, id, status string) error
}

// SubscriptionHandler walks renewal boundaries: past the period end an
// active subscription enters grace; past grace it expires. Payment
// signals arrive out of band and move current_period_end forward, which
// naturally pulls a subscription back out of the due set. Re-running
// with no elapsed change is a no-op.
type SubscriptionHandler struct {
	store  SubscriptionStore
	grace  time.Duration
	logger *zap.Logger
}

func NewSubscriptionHandler(st SubscriptionStore, grace time.Duration, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{store: st, grace: grace, logger: logger}
}

func (h *SubscriptionHandler) Handle(ctx context.Context, job models.Job) error {
	now := time.Now().UTC()

	if id, ok := payloadString(job, "subscription_id"); ok {
		sub, err := h.store.GetSubscription(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load subscription: %w", err)
		}
		return h.check(ctx, sub, now)
	}

	due, err := h.store.DueSubscriptions(ctx, now, 500)
	if err != nil {
		return fmt.Errorf("list due subscriptions: %w", err)
	}
	for _, sub := range due {
		if err := h.check(ctx, sub, now); err != nil {
			return err
		}
	}
	return nil
}

func (h *SubscriptionHandler) check(ctx context.Context, sub models.Subscription, now time.Time) error {
	next := nextStatus(sub, h.grace, now)
	if next == sub.Status {
		return nil
	}
	if err := h.store.SetSubscriptionStatus(ctx, sub.ID, next); err != nil {
		return fmt.Errorf("transition subscription %s: %w", sub.ID, err)
	}
	h.logger.Info("subscription transitioned",
		zap.String("subscription_id", sub.ID),
		zap.String("user_id", sub.UserID),
		zap.String("from", sub.Status),
		zap.String("to", next),
	)
	return nil
}

// nextStatus computes where a subscription belongs given elapsed time.
func nextStatus(sub models.Subscription, grace time.Duration, now time.Time) string {
	switch sub.Status {
	case models.SubscriptionActive:
		if now.After(sub.CurrentPeriodEnd.Add(grace)) {
			return models.SubscriptionExpired
		}
		if now.After(sub.CurrentPeriodEnd) {
			return models.SubscriptionGrace
		}
	case models.SubscriptionGrace:
		if now.After(sub.CurrentPeriodEnd.Add(grace)) {
			return models.SubscriptionExpired
		}
		if !now.After(sub.CurrentPeriodEnd) {
			// Payment landed and moved the period forward.
			return models.SubscriptionActive
		}
	}
	return sub.Status
}
