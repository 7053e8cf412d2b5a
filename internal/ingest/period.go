package ingest

import (
	"fmt"
	"time"

	"github.com/taxpilot/taxpilot/internal/models"
)

// DetectPeriod derives a filing period from the transactions' date range.
// Dates within one calendar month yield that month ("2006-01"), dates within
// one quarter yield that quarter ("2006-Q1"), and wider ranges fall back to
// the month of the latest transaction. Returns false when no transaction
// carries a date.
func DetectPeriod(txs []models.Transaction) (string, bool) {
	var minDate, maxDate time.Time
	for i := range txs {
		d := txs[i].Date
		if d.IsZero() {
			continue
		}
		if minDate.IsZero() || d.Before(minDate) {
			minDate = d
		}
		if d.After(maxDate) {
			maxDate = d
		}
	}
	if minDate.IsZero() {
		return "", false
	}

	minDate, maxDate = minDate.UTC(), maxDate.UTC()
	if minDate.Year() == maxDate.Year() && minDate.Month() == maxDate.Month() {
		return maxDate.Format("2006-01"), true
	}
	if minDate.Year() == maxDate.Year() && quarterOf(minDate) == quarterOf(maxDate) {
		return fmt.Sprintf("%d-Q%d", maxDate.Year(), quarterOf(maxDate)), true
	}
	return maxDate.Format("2006-01"), true
}

func quarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}
