package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"habitloop/internal/models"
)

// LedgerSweeper is the slice of the ledger store credit_expire needs.
type LedgerSweeper interface {
	ExpireCredits(ctx context.Context, now time.Time) (int64, error)
}

// CreditExpireHandler sweeps expired entries in expiring buckets.
// The sweep is a conditional UPDATE, so re-running over already-zeroed
// rows changes nothing.
type CreditExpireHandler struct {
	ledger LedgerSweeper
	logger *zap.Logger
}

func NewCreditExpireHandler(ledger LedgerSweeper, logger *zap.Logger) *CreditExpireHandler {
	return &CreditExpireHandler{ledger: ledger, logger: logger}
}

func (h *CreditExpireHandler) Handle(ctx context.Context, job models.Job) error {
	swept, err := h.ledger.ExpireCredits(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("credit expiry sweep: %w", err)
	}
	if swept > 0 {
		h.logger.Info("expired credit entries swept", zap.Int64("count", swept))
	}
	return nil
}
