package agent

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/testutil"
)

func testGenerator(t *testing.T) *ReportGenerator {
	t.Helper()
	return NewReportGenerator(nil, nil, nil, t.TempDir(), testutil.DiscardLogger())
}

func TestExportAndValidate(t *testing.T) {
	gen := testGenerator(t)
	report := BuildFilingReport(FilingGSTR1, "2024-03", []models.Transaction{cleanTransaction("TXN-1")})
	report.Summary = "one registered outward supply, ready to file"

	if err := gen.Export(report); err != nil {
		t.Fatalf("Export: %v", err)
	}

	data, err := os.ReadFile(gen.JSONPath(report.ReportID))
	if err != nil {
		t.Fatalf("reading exported JSON: %v", err)
	}
	var gov GovernmentReport
	if err := json.Unmarshal(data, &gov); err != nil {
		t.Fatalf("exported JSON does not parse: %v", err)
	}
	if gov.ReportID != report.ReportID || gov.FilingType != FilingGSTR1 || gov.Summary != report.Summary {
		t.Errorf("exported report = %+v, want fields from %+v", gov, report)
	}
	if gov.GeneratedAt == "" {
		t.Error("generated_at missing from export")
	}

	f, err := os.Open(gen.CSVPath(report.ReportID))
	if err != nil {
		t.Fatalf("opening exported CSV: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading exported CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("CSV rows = %d, want header + 1 line", len(records))
	}
	if records[0][0] != "section" || records[1][1] != testGSTIN {
		t.Errorf("CSV content unexpected: %v", records)
	}

	issues, err := gen.ValidateExport(report.ReportID)
	if err != nil {
		t.Fatalf("ValidateExport: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("ValidateExport issues = %v, want none", issues)
	}
}

func TestValidateExportViolations(t *testing.T) {
	gen := testGenerator(t)
	report := BuildFilingReport(FilingGSTR1, "2024-03", nil)
	report.ReportID = "BAD-ID"
	report.FilingType = "vat"
	report.Period = "whenever"
	report.Sections = nil

	if err := gen.Export(report); err != nil {
		t.Fatalf("Export: %v", err)
	}

	issues, err := gen.ValidateExport("BAD-ID")
	if err != nil {
		t.Fatalf("ValidateExport: %v", err)
	}
	for _, want := range []string{"report_id", "filing_type", "period", "section"} {
		found := false
		for _, issue := range issues {
			if strings.Contains(issue, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("issues %v missing a %s violation", issues, want)
		}
	}
}

func TestValidateExportMissingFile(t *testing.T) {
	gen := testGenerator(t)
	if _, err := gen.ValidateExport("REP-DEADBEEF"); err == nil {
		t.Error("expected error for missing export file")
	}
}

func TestValidateExportMalformedJSON(t *testing.T) {
	gen := testGenerator(t)
	report := BuildFilingReport(FilingGSTR1, "2024-03", nil)
	if err := gen.Export(report); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := os.WriteFile(gen.JSONPath(report.ReportID), []byte("{broken"), 0o640); err != nil {
		t.Fatalf("corrupting export: %v", err)
	}

	issues, err := gen.ValidateExport(report.ReportID)
	if err != nil {
		t.Fatalf("ValidateExport: %v", err)
	}
	if len(issues) != 1 || !strings.Contains(issues[0], "not valid JSON") {
		t.Errorf("issues = %v, want a single JSON parse violation", issues)
	}
}
