// Package recurrence steps recurring-template occurrences forward.
package recurrence

import (
	"fmt"
	"time"

	"habitloop/internal/models"
)

// Next computes the occurrence that follows last for the template's
// rule. Monthly stepping uses time.AddDate semantics, so a Jan 31 start
// rolls into early March rather than failing.
func Next(tpl models.RecurringTemplate, last time.Time) (time.Time, error) {
	interval := tpl.Interval
	if interval < 1 {
		interval = 1
	}
	switch tpl.Frequency {
	case models.FreqDaily:
		return last.AddDate(0, 0, interval), nil
	case models.FreqWeekly:
		return last.AddDate(0, 0, 7*interval), nil
	case models.FreqMonthly:
		return last.AddDate(0, interval, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence frequency %q", tpl.Frequency)
	}
}
