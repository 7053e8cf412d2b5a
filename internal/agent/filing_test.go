package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/taxpilot/taxpilot/internal/models"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		name    string
		period  string
		from    time.Time
		to      time.Time
		wantErr bool
	}{
		{
			name:   "month",
			period: "2024-03",
			from:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			to:     time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "december rolls over the year",
			period: "2024-12",
			from:   time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
			to:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "second quarter",
			period: "2024-Q2",
			from:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			to:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "fourth quarter rolls over the year",
			period: "2024-Q4",
			from:   time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
			to:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{name: "quarter out of range", period: "2024-Q5", wantErr: true},
		{name: "quarter zero", period: "2024-Q0", wantErr: true},
		{name: "month out of range", period: "2024-13", wantErr: true},
		{name: "garbage", period: "last-month", wantErr: true},
		{name: "empty", period: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := ParsePeriod(tt.period)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePeriod(%q) = [%v, %v), want error", tt.period, from, to)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePeriod(%q) error: %v", tt.period, err)
			}
			if !from.Equal(tt.from) || !to.Equal(tt.to) {
				t.Errorf("ParsePeriod(%q) = [%v, %v), want [%v, %v)", tt.period, from, to, tt.from, tt.to)
			}
		})
	}
}

func TestBuildFilingReportGSTR1(t *testing.T) {
	a := cleanTransaction("TXN-1")
	b := cleanTransaction("TXN-2")
	unreg := cleanTransaction("TXN-3")
	unreg.GSTIN = ""
	unreg.Amount = 500
	unreg.GSTAmount = 90

	report := BuildFilingReport(FilingGSTR1, "2024-03", []models.Transaction{a, b, unreg})

	if report.FilingType != FilingGSTR1 || report.Period != "2024-03" {
		t.Errorf("report header = %s/%s, want gstr1/2024-03", report.FilingType, report.Period)
	}
	if report.TotalTaxable != 2500 {
		t.Errorf("TotalTaxable = %.2f, want 2500.00", report.TotalTaxable)
	}
	if report.TotalTax != 450 {
		t.Errorf("TotalTax = %.2f, want 450.00", report.TotalTax)
	}
	if report.Status != models.FilingReady || report.ReadinessLevel != 100 {
		t.Errorf("status = %s at %.0f%%, want ready at 100%%", report.Status, report.ReadinessLevel)
	}

	if len(report.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(report.Sections))
	}
	lines := report.Sections[0].Lines
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2 (registered + unregistered)", len(lines))
	}
	// Lines are sorted by label; the GSTIN sorts before UNREGISTERED.
	if lines[0].Label != testGSTIN || lines[0].Transaction != 2 || lines[0].Amount != 2000 {
		t.Errorf("registered line = %+v, want label %s with 2 transactions totaling 2000", lines[0], testGSTIN)
	}
	if lines[1].Label != "UNREGISTERED" || lines[1].TaxAmount != 90 {
		t.Errorf("unregistered line = %+v, want label UNREGISTERED with tax 90", lines[1])
	}
}

func TestBuildFilingReportGSTR3B(t *testing.T) {
	txs := []models.Transaction{cleanTransaction("TXN-1"), cleanTransaction("TXN-2")}
	txs[1].Status = models.CompliancePending

	report := BuildFilingReport(FilingGSTR3B, "2024-Q1", txs)

	if len(report.Sections) != 1 || len(report.Sections[0].Lines) != 1 {
		t.Fatalf("expected a single summary line, got %+v", report.Sections)
	}
	line := report.Sections[0].Lines[0]
	if line.Amount != 2000 || line.TaxAmount != 360 || line.Transaction != 2 {
		t.Errorf("summary line = %+v, want 2000/360 over 2 transactions", line)
	}
	if report.ReadinessLevel != 50 || report.Status != models.FilingDraft {
		t.Errorf("readiness = %.0f%% status %s, want 50%% draft", report.ReadinessLevel, report.Status)
	}
}

func TestBuildFilingReportTDS(t *testing.T) {
	a := cleanTransaction("TXN-1")
	a.TaxType = "tds"
	a.PAN = testPAN
	a.TDSAmount = 100
	missing := cleanTransaction("TXN-2")
	missing.TaxType = "tds"
	missing.TDSAmount = 50

	report := BuildFilingReport(FilingTDS, "2024-04", []models.Transaction{a, missing})

	if report.TotalTax != 150 {
		t.Errorf("TotalTax = %.2f, want TDS total 150.00", report.TotalTax)
	}
	lines := report.Sections[0].Lines
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].Label != testPAN || lines[0].TaxAmount != 100 {
		t.Errorf("deductee line = %+v, want %s with tax 100", lines[0], testPAN)
	}
	if lines[1].Label != "PAN-MISSING" || lines[1].TaxAmount != 50 {
		t.Errorf("fallback line = %+v, want PAN-MISSING with tax 50", lines[1])
	}
}

func TestBuildFilingReportEmpty(t *testing.T) {
	report := BuildFilingReport(FilingGSTR1, "2024-03", nil)

	if report.ReadinessLevel != 0 || report.Status != models.FilingDraft {
		t.Errorf("empty report readiness = %.0f%% status %s, want 0%% draft", report.ReadinessLevel, report.Status)
	}
}

func TestNewReportID(t *testing.T) {
	id := NewReportID()
	if !strings.HasPrefix(id, "REP-") || len(id) != 12 {
		t.Fatalf("report ID %q does not match REP-XXXXXXXX", id)
	}
	if id == NewReportID() {
		t.Error("two report IDs collided")
	}
}
