package models

import (
	"time"
)

// Bucket is an ordered credit category. Consumption drains buckets in
// the order given by BucketOrder; purchased credits are drained last
// because they never expire and must be preserved longest.
type Bucket string

const (
	BucketPromotional  Bucket = "promotional"
	BucketSubscription Bucket = "subscription"
	BucketBonus        Bucket = "bonus"
	BucketPurchased    Bucket = "purchased"
)

// BucketOrder is the fixed drain priority, cheapest-to-replace first.
var BucketOrder = []Bucket{
	BucketPromotional,
	BucketSubscription,
	BucketBonus,
	BucketPurchased,
}

// Expiring reports whether entries in this bucket are subject to the
// expiry sweep. Purchased credits never expire.
func (b Bucket) Expiring() bool {
	return b != BucketPurchased
}

// Valid reports whether b is one of the known buckets.
func (b Bucket) Valid() bool {
	for _, known := range BucketOrder {
		if b == known {
			return true
		}
	}
	return false
}

// CreditEntry is an append-only grant row in the credit ledger.
// available = amount_granted - amount_consumed, zero once expired.
type CreditEntry struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Bucket         Bucket     `json:"bucket"`
	AmountGranted  int64      `json:"amount_granted"`
	AmountConsumed int64      `json:"amount_consumed"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	GrantedAt      time.Time  `json:"granted_at"`
}

// Available returns the entry's spendable balance at the given instant.
func (e CreditEntry) Available(now time.Time) int64 {
	if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
		return 0
	}
	return e.AmountGranted - e.AmountConsumed
}

// BalanceBreakdown reports per-bucket availability.
type BalanceBreakdown struct {
	UserID  string           `json:"user_id"`
	Total   int64            `json:"total"`
	Buckets map[Bucket]int64 `json:"buckets"`
}
