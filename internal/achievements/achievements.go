// Package achievements evaluates unlock thresholds against a user's
// counters. Evaluation is a pure function of counters plus the static
// threshold table; persistence dedupes unlocks so replayed events never
// re-unlock anything.
package achievements

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"habitloop/internal/events"
	"habitloop/internal/models"
)

// Kinds of counters a threshold watches.
const (
	KindStreak      = "streak"
	KindCompletions = "completions"
)

// Threshold is one row of the static achievement table.
type Threshold struct {
	Code          string
	Kind          string
	Value         int64
	PerkTaskLimit int // raised max open tasks granted by the unlock, 0 for none
}

// Table is the full static threshold set, in display order.
var Table = []Threshold{
	{Code: "first_completion", Kind: KindCompletions, Value: 1},
	{Code: "ten_completions", Kind: KindCompletions, Value: 10, PerkTaskLimit: 25},
	{Code: "hundred_completions", Kind: KindCompletions, Value: 100, PerkTaskLimit: 50},
	{Code: "streak_week", Kind: KindStreak, Value: 7},
	{Code: "streak_month", Kind: KindStreak, Value: 30, PerkTaskLimit: 100},
	{Code: "streak_year", Kind: KindStreak, Value: 365, PerkTaskLimit: 250},
}

// NewlyCrossed returns codes whose threshold the counters now meet and
// which are not already unlocked.
func NewlyCrossed(counters models.UserCounters, unlocked []string) []string {
	have := make(map[string]bool, len(unlocked))
	for _, code := range unlocked {
		have[code] = true
	}

	var out []string
	for _, t := range Table {
		if have[t.Code] {
			continue
		}
		var current int64
		switch t.Kind {
		case KindStreak:
			current = int64(counters.CurrentStreak)
		case KindCompletions:
			current = counters.LifetimeCompletions
		}
		if current >= t.Value {
			out = append(out, t.Code)
		}
	}
	return out
}

// PerkTaskLimit returns the highest task-limit perk among the given
// unlocked codes, 0 when none grant one.
func PerkTaskLimit(unlocked []string) int {
	have := make(map[string]bool, len(unlocked))
	for _, code := range unlocked {
		have[code] = true
	}
	limit := 0
	for _, t := range Table {
		if have[t.Code] && t.PerkTaskLimit > limit {
			limit = t.PerkTaskLimit
		}
	}
	return limit
}

// Store is the persistence the evaluator needs.
type Store interface {
	UserCounters(ctx context.Context, userID string) (models.UserCounters, error)
	ListUnlocked(ctx context.Context, userID string) ([]string, error)
	UnlockAchievement(ctx context.Context, userID, code string) (bool, error)
}

// Evaluator subscribes to task.completed and records new unlocks,
// publishing achievement.unlocked for each with any task-limit perk
// the user's unlocks now grant.
type Evaluator struct {
	store  Store
	bus    *events.Bus
	logger *zap.Logger
}

func NewEvaluator(store Store, bus *events.Bus, logger *zap.Logger) *Evaluator {
	return &Evaluator{store: store, bus: bus, logger: logger}
}

// HandleTaskCompleted re-evaluates thresholds for the completing user.
func (e *Evaluator) HandleTaskCompleted(ctx context.Context, ev events.Event) error {
	counters, err := e.store.UserCounters(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("load counters: %w", err)
	}
	unlocked, err := e.store.ListUnlocked(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("load unlocked: %w", err)
	}

	for _, code := range NewlyCrossed(counters, unlocked) {
		inserted, err := e.store.UnlockAchievement(ctx, ev.UserID, code)
		if err != nil {
			return fmt.Errorf("unlock %s: %w", code, err)
		}
		if !inserted {
			// A concurrent evaluation got there first.
			continue
		}
		unlocked = append(unlocked, code)
		fields := map[string]any{"code": code}
		if limit := PerkTaskLimit(unlocked); limit > 0 {
			fields["task_limit"] = limit
		}
		e.logger.Info("achievement unlocked",
			zap.String("user_id", ev.UserID),
			zap.String("code", code),
		)
		e.bus.Publish(ctx, events.Event{
			Type:   events.AchievementUnlocked,
			UserID: ev.UserID,
			Fields: fields,
		})
	}
	return nil
}
