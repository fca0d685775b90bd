// Package credits holds the deterministic FIFO consumption logic for
// the multi-bucket credit ledger. Planning is pure; the store applies a
// plan inside a single transaction.
package credits

import (
	"errors"
	"sort"
	"time"

	"habitloop/internal/models"
)

// ErrInsufficientBalance indicates the requested amount exceeds the
// user's total available balance. Nothing is consumed in that case.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Draw is one planned decrement against a ledger entry.
type Draw struct {
	EntryID string        `json:"entry_id"`
	Bucket  models.Bucket `json:"bucket"`
	Amount  int64         `json:"amount"`
}

var bucketRank = func() map[models.Bucket]int {
	m := make(map[models.Bucket]int, len(models.BucketOrder))
	for i, b := range models.BucketOrder {
		m[b] = i
	}
	return m
}()

// Plan computes the drains needed to consume amount from the given
// entries. Buckets deplete in the fixed priority order (promotional,
// subscription, bonus, purchased); within a bucket, entries closest to
// expiry drain first, then oldest grant. Expired entries contribute
// nothing. Returns ErrInsufficientBalance without a partial plan when
// the total available balance is short.
func Plan(entries []models.CreditEntry, amount int64, now time.Time) ([]Draw, error) {
	if amount <= 0 {
		return nil, nil
	}

	live := make([]models.CreditEntry, 0, len(entries))
	var total int64
	for _, e := range entries {
		if avail := e.Available(now); avail > 0 {
			live = append(live, e)
			total += avail
		}
	}
	if total < amount {
		return nil, ErrInsufficientBalance
	}

	sort.SliceStable(live, func(i, j int) bool {
		ri, rj := bucketRank[live[i].Bucket], bucketRank[live[j].Bucket]
		if ri != rj {
			return ri < rj
		}
		ei, ej := live[i].ExpiresAt, live[j].ExpiresAt
		if (ei == nil) != (ej == nil) {
			return ei != nil
		}
		if ei != nil && !ei.Equal(*ej) {
			return ei.Before(*ej)
		}
		return live[i].GrantedAt.Before(live[j].GrantedAt)
	})

	remaining := amount
	var plan []Draw
	for _, e := range live {
		if remaining == 0 {
			break
		}
		draw := e.Available(now)
		if draw > remaining {
			draw = remaining
		}
		plan = append(plan, Draw{EntryID: e.ID, Bucket: e.Bucket, Amount: draw})
		remaining -= draw
	}
	return plan, nil
}

// Breakdown aggregates a plan per bucket, the shape reported back to
// callers and audit subscribers.
func Breakdown(plan []Draw) map[models.Bucket]int64 {
	out := make(map[models.Bucket]int64)
	for _, d := range plan {
		out[d.Bucket] += d.Amount
	}
	return out
}
