// Package streaks computes daily completion streak transitions.
// All dates are UTC calendar days; callers truncate before passing in.
package streaks

import (
	"time"

	"habitloop/internal/models"
)

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Advance applies a completion on the given day to a streak state.
// Same-day completions are a no-op, which makes the streak_calculate
// job safe to re-run. One missed day is tolerated once per cycle via
// the grace day; the grace flag resets the next time a completion lands
// on a consecutive day.
func Advance(st models.StreakState, day time.Time) models.StreakState {
	day = Day(day)

	switch {
	case st.LastCompletionDate == nil || st.CurrentStreak == 0:
		st.CurrentStreak = 1
		st.GraceDayUsed = false
	default:
		gap := int(day.Sub(Day(*st.LastCompletionDate)).Hours() / 24)
		switch {
		case gap <= 0:
			// Already counted this day (or a bogus out-of-order
			// replay); leave everything as is.
			return st
		case gap == 1:
			st.CurrentStreak++
			st.GraceDayUsed = false
		case gap == 2 && !st.GraceDayUsed:
			st.GraceDayUsed = true
		default:
			st.CurrentStreak = 1
			st.GraceDayUsed = false
		}
	}

	st.LastCompletionDate = &day
	if st.CurrentStreak > st.LongestStreak {
		st.LongestStreak = st.CurrentStreak
	}
	return st
}
