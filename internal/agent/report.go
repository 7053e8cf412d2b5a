package agent

// report.go implements the report generator agent. It writes a narrative
// summary onto a filing report and exports it in the government filing
// schema (JSON) plus a CSV of the section lines.

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/store"
)

// ReportGeneratorName is the agent name used in execution audit logs.
const ReportGeneratorName = "report_generator"

// GovernmentReport is the export schema accepted by the filing portal
// upload. Field names must stay stable.
type GovernmentReport struct {
	ReportID       string                 `json:"report_id"`
	FilingType     string                 `json:"filing_type"`
	Period         string                 `json:"period"`
	Status         models.FilingStatus    `json:"status"`
	TotalTaxable   float64                `json:"total_taxable"`
	TotalTax       float64                `json:"total_tax"`
	ReadinessLevel float64                `json:"readiness_level"`
	Sections       []models.FilingSection `json:"sections"`
	Summary        string                 `json:"summary,omitempty"`
	GeneratedAt    string                 `json:"generated_at"`
}

// ReportGenerator produces narrative summaries and export files for filing
// reports.
type ReportGenerator struct {
	runtime   *Runtime
	reports   *store.FilingReportRepo
	anomalies *store.AnomalyRepo
	reportDir string
	logger    log.Logger
}

// NewReportGenerator creates the report generator agent. Export files are
// written under reportDir, which is created on first use.
func NewReportGenerator(runtime *Runtime, reports *store.FilingReportRepo, anomalies *store.AnomalyRepo, reportDir string, logger log.Logger) *ReportGenerator {
	return &ReportGenerator{
		runtime:   runtime,
		reports:   reports,
		anomalies: anomalies,
		reportDir: reportDir,
		logger:    logger,
	}
}

// Generate writes a model-generated summary onto the report and exports the
// JSON and CSV files. Returns the updated report.
func (g *ReportGenerator) Generate(ctx context.Context, reportID string) (*models.FilingReport, error) {
	var report *models.FilingReport

	_, err := g.runtime.Track(ctx, ReportGeneratorName, reportID, func(ctx context.Context) (string, error) {
		rep, err := g.reports.Get(ctx, reportID)
		if err != nil {
			return "", err
		}

		open, err := g.anomalies.List(ctx, "", "", models.AnomalyOpen, 20)
		if err != nil {
			return "", err
		}

		summary, err := g.summarize(ctx, rep, open)
		if err != nil {
			return "", err
		}
		rep.Summary = summary
		if err := g.reports.SetSummary(ctx, reportID, summary); err != nil {
			return "", err
		}

		if err := g.Export(rep); err != nil {
			return "", err
		}

		report = rep
		return fmt.Sprintf("report %s summarized and exported", reportID), nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (g *ReportGenerator) summarize(ctx context.Context, rep *models.FilingReport, open []models.Anomaly) (string, error) {
	var sb strings.Builder
	sb.WriteString("You are preparing a filing review note for an accountant. ")
	sb.WriteString("Summarize the filing report below in 3-5 sentences: overall position, ")
	sb.WriteString("readiness, and what must be resolved before submission. Plain text only.\n\n")
	fmt.Fprintf(&sb, "Filing: %s for %s\nStatus: %s\nTotal taxable: %.2f\nTotal tax: %.2f\nReadiness: %.1f%%\n",
		rep.FilingType, rep.Period, rep.Status, rep.TotalTaxable, rep.TotalTax, rep.ReadinessLevel)
	for _, section := range rep.Sections {
		fmt.Fprintf(&sb, "\nSection %s (%d lines)\n", section.Name, len(section.Lines))
	}
	if len(open) > 0 {
		sb.WriteString("\nOpen anomalies:\n")
		for _, a := range open {
			fmt.Fprintf(&sb, "- [%s/%s] %s\n", a.Type, a.Severity, a.Description)
		}
	}

	summary, err := g.runtime.Generate(ctx, sb.String())
	if err != nil {
		return "", fmt.Errorf("summarizing report %s: %w", rep.ReportID, err)
	}
	return summary, nil
}

// Export writes the government-schema JSON and the CSV of section lines.
// A file lock serializes concurrent exports of the same report.
func (g *ReportGenerator) Export(rep *models.FilingReport) error {
	if err := os.MkdirAll(g.reportDir, 0o750); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	lock := flock.New(filepath.Join(g.reportDir, rep.ReportID+".lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking report %s for export: %w", rep.ReportID, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			g.logger.Warn("unlocking report export failed", "report_id", rep.ReportID, "error", err)
		}
	}()

	if err := g.writeJSON(rep); err != nil {
		return err
	}
	if err := g.writeCSV(rep); err != nil {
		return err
	}

	g.logger.Info("report exported", "report_id", rep.ReportID, "dir", g.reportDir)
	return nil
}

// JSONPath returns the export path of the government-schema JSON file.
func (g *ReportGenerator) JSONPath(reportID string) string {
	return filepath.Join(g.reportDir, reportID+".json")
}

// CSVPath returns the export path of the CSV file.
func (g *ReportGenerator) CSVPath(reportID string) string {
	return filepath.Join(g.reportDir, reportID+".csv")
}

func (g *ReportGenerator) writeJSON(rep *models.FilingReport) error {
	gov := GovernmentReport{
		ReportID:       rep.ReportID,
		FilingType:     rep.FilingType,
		Period:         rep.Period,
		Status:         rep.Status,
		TotalTaxable:   rep.TotalTaxable,
		TotalTax:       rep.TotalTax,
		ReadinessLevel: rep.ReadinessLevel,
		Sections:       rep.Sections,
		Summary:        rep.Summary,
		GeneratedAt:    rep.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	data, err := json.MarshalIndent(gov, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report %s: %w", rep.ReportID, err)
	}
	if err := os.WriteFile(g.JSONPath(rep.ReportID), data, 0o640); err != nil {
		return fmt.Errorf("writing report JSON: %w", err)
	}
	return nil
}

func (g *ReportGenerator) writeCSV(rep *models.FilingReport) error {
	f, err := os.OpenFile(g.CSVPath(rep.ReportID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating report CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"section", "label", "amount", "tax_amount", "transaction_count"}); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, section := range rep.Sections {
		for _, line := range section.Lines {
			record := []string{
				section.Name,
				line.Label,
				strconv.FormatFloat(line.Amount, 'f', 2, 64),
				strconv.FormatFloat(line.TaxAmount, 'f', 2, 64),
				strconv.Itoa(line.Transaction),
			}
			if err := w.Write(record); err != nil {
				return fmt.Errorf("writing CSV record: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return nil
}

// ValidateExport checks the exported JSON file against the government schema
// requirements and returns the list of violations (empty means valid).
func (g *ReportGenerator) ValidateExport(reportID string) ([]string, error) {
	data, err := os.ReadFile(g.JSONPath(reportID))
	if err != nil {
		return nil, fmt.Errorf("reading exported report %s: %w", reportID, err)
	}

	var gov GovernmentReport
	if err := json.Unmarshal(data, &gov); err != nil {
		return []string{"file is not valid JSON: " + err.Error()}, nil
	}

	var issues []string
	if gov.ReportID == "" || !strings.HasPrefix(gov.ReportID, "REP-") {
		issues = append(issues, "report_id must be present with REP- prefix")
	}
	if !validFilingType(gov.FilingType) {
		issues = append(issues, fmt.Sprintf("filing_type %q is not supported", gov.FilingType))
	}
	if _, _, err := ParsePeriod(gov.Period); err != nil {
		issues = append(issues, "period must be YYYY-MM or YYYY-Qn")
	}
	if len(gov.Sections) == 0 {
		issues = append(issues, "at least one section is required")
	}
	if gov.ReadinessLevel < 0 || gov.ReadinessLevel > 100 {
		issues = append(issues, "readiness_level must be between 0 and 100")
	}
	if gov.GeneratedAt == "" {
		issues = append(issues, "generated_at is required")
	}
	return issues, nil
}
