package ingest

import (
	"testing"
	"time"

	"github.com/taxpilot/taxpilot/internal/models"
)

func TestDetectPeriod(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	txs := func(dates ...time.Time) []models.Transaction {
		out := make([]models.Transaction, 0, len(dates))
		for _, d := range dates {
			out = append(out, models.Transaction{Date: d})
		}
		return out
	}

	tests := []struct {
		name   string
		txs    []models.Transaction
		want   string
		wantOK bool
	}{
		{
			name:   "single month",
			txs:    txs(day(2025, time.March, 5), day(2025, time.March, 28)),
			want:   "2025-03",
			wantOK: true,
		},
		{
			name:   "single transaction",
			txs:    txs(day(2025, time.November, 11)),
			want:   "2025-11",
			wantOK: true,
		},
		{
			name:   "same quarter across months",
			txs:    txs(day(2025, time.April, 2), day(2025, time.June, 30)),
			want:   "2025-Q2",
			wantOK: true,
		},
		{
			name:   "cross quarter falls back to latest month",
			txs:    txs(day(2025, time.February, 1), day(2025, time.July, 15)),
			want:   "2025-07",
			wantOK: true,
		},
		{
			name:   "cross year falls back to latest month",
			txs:    txs(day(2024, time.December, 20), day(2025, time.January, 3)),
			want:   "2025-01",
			wantOK: true,
		},
		{
			name:   "zero dates skipped",
			txs:    txs(time.Time{}, day(2025, time.May, 9)),
			want:   "2025-05",
			wantOK: true,
		},
		{name: "empty input", txs: nil},
		{name: "only zero dates", txs: txs(time.Time{}, time.Time{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectPeriod(tt.txs)
			if ok != tt.wantOK {
				t.Fatalf("DetectPeriod ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("DetectPeriod = %q, want %q", got, tt.want)
			}
		})
	}
}
