package credits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitloop/internal/models"
)

func entry(id string, bucket models.Bucket, granted, consumed int64, expires *time.Time) models.CreditEntry {
	return models.CreditEntry{
		ID:             id,
		UserID:         "u1",
		Bucket:         bucket,
		AmountGranted:  granted,
		AmountConsumed: consumed,
		ExpiresAt:      expires,
		GrantedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPlanDrainsBucketsInFixedOrder(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(30 * 24 * time.Hour)

	entries := []models.CreditEntry{
		entry("purchased", models.BucketPurchased, 100, 0, nil),
		entry("bonus", models.BucketBonus, 10, 0, nil),
		entry("promo", models.BucketPromotional, 5, 0, &later),
		entry("sub", models.BucketSubscription, 20, 0, &later),
	}

	plan, err := Plan(entries, 30, now)
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, "promo", plan[0].EntryID)
	assert.Equal(t, int64(5), plan[0].Amount)
	assert.Equal(t, "sub", plan[1].EntryID)
	assert.Equal(t, int64(20), plan[1].Amount)
	assert.Equal(t, "bonus", plan[2].EntryID)
	assert.Equal(t, int64(5), plan[2].Amount)

	breakdown := Breakdown(plan)
	assert.Equal(t, int64(5), breakdown[models.BucketPromotional])
	assert.Equal(t, int64(20), breakdown[models.BucketSubscription])
	assert.Equal(t, int64(5), breakdown[models.BucketBonus])
	assert.Zero(t, breakdown[models.BucketPurchased], "purchased credits must be preserved while free credits remain")
}

func TestPlanInsufficientBalanceIsAllOrNothing(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []models.CreditEntry{
		entry("promo", models.BucketPromotional, 10, 0, nil),
		entry("purchased", models.BucketPurchased, 25, 5, nil),
	}

	plan, err := Plan(entries, 31, now)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Nil(t, plan, "a short request must not plan any partial drain")
}

func TestPlanExcludesExpiredEntries(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	entries := []models.CreditEntry{
		entry("expired-promo", models.BucketPromotional, 50, 0, &past),
		entry("purchased", models.BucketPurchased, 20, 0, nil),
	}

	plan, err := Plan(entries, 15, now)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "purchased", plan[0].EntryID)

	_, err = Plan(entries, 21, now)
	assert.ErrorIs(t, err, ErrInsufficientBalance, "expired balance must contribute zero")
}

func TestPlanDrainsClosestExpiryFirstWithinBucket(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(24 * time.Hour)
	later := now.Add(72 * time.Hour)

	entries := []models.CreditEntry{
		entry("promo-later", models.BucketPromotional, 10, 0, &later),
		entry("promo-soon", models.BucketPromotional, 10, 0, &soon),
	}

	plan, err := Plan(entries, 12, now)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "promo-soon", plan[0].EntryID)
	assert.Equal(t, int64(10), plan[0].Amount)
	assert.Equal(t, "promo-later", plan[1].EntryID)
	assert.Equal(t, int64(2), plan[1].Amount)
}

func TestPlanZeroAmount(t *testing.T) {
	plan, err := Plan(nil, 0, time.Now())
	assert.NoError(t, err)
	assert.Empty(t, plan)
}
