package agent

// filing.go implements the filing aggregator agent. It groups a period's
// transactions into GSTR-1, GSTR-3B, or TDS filing sections and computes the
// filing readiness level.

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/store"
)

// FilingAggregatorName is the agent name used in execution audit logs.
const FilingAggregatorName = "filing_aggregator"

// Supported filing types.
const (
	FilingGSTR1  = "gstr1"
	FilingGSTR3B = "gstr3b"
	FilingTDS    = "tds"
)

// FilingTypes lists the supported filing types in presentation order.
var FilingTypes = []string{FilingGSTR1, FilingGSTR3B, FilingTDS}

// FilingAggregator builds filing reports from validated transactions.
type FilingAggregator struct {
	runtime *Runtime
	txs     *store.TransactionRepo
	reports *store.FilingReportRepo
	logger  log.Logger
}

// NewFilingAggregator creates the filing aggregator agent.
func NewFilingAggregator(runtime *Runtime, txs *store.TransactionRepo, reports *store.FilingReportRepo, logger log.Logger) *FilingAggregator {
	return &FilingAggregator{
		runtime: runtime,
		txs:     txs,
		reports: reports,
		logger:  logger,
	}
}

// Aggregate builds and stores a filing report for the given type and period.
// A report with 100% readiness is stored as ready, otherwise draft.
func (a *FilingAggregator) Aggregate(ctx context.Context, filingType, period string) (*models.FilingReport, error) {
	from, to, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	if !validFilingType(filingType) {
		return nil, fmt.Errorf("unsupported filing type %q, want one of %v", filingType, FilingTypes)
	}

	var report *models.FilingReport
	input := fmt.Sprintf("%s %s", filingType, period)

	_, err = a.runtime.Track(ctx, FilingAggregatorName, input, func(ctx context.Context) (string, error) {
		txs, err := a.txs.ListPeriod(ctx, from, to)
		if err != nil {
			return "", err
		}

		taxType := "gst"
		if filingType == FilingTDS {
			taxType = "tds"
		}
		scoped := filterByTaxType(txs, taxType)

		report = BuildFilingReport(filingType, period, scoped)
		if err := a.reports.Insert(ctx, report); err != nil {
			return "", err
		}

		return marshalCompact(map[string]any{
			"report_id":       report.ReportID,
			"transactions":    len(scoped),
			"readiness_level": report.ReadinessLevel,
			"status":          report.Status,
		}), nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// BuildFilingReport aggregates transactions into a filing report without
// touching storage. Exported for direct use in tests.
func BuildFilingReport(filingType, period string, txs []models.Transaction) *models.FilingReport {
	report := &models.FilingReport{
		ReportID:    NewReportID(),
		FilingType:  filingType,
		Period:      period,
		GeneratedAt: time.Now().UTC(),
	}

	switch filingType {
	case FilingGSTR1:
		report.Sections = []models.FilingSection{outwardSupplies(txs)}
	case FilingGSTR3B:
		report.Sections = []models.FilingSection{gstSummary(txs)}
	case FilingTDS:
		report.Sections = []models.FilingSection{deducteeSummary(txs)}
	}

	for i := range txs {
		report.TotalTaxable += txs[i].Amount
		if filingType == FilingTDS {
			report.TotalTax += txs[i].TDSAmount
		} else {
			report.TotalTax += txs[i].GSTAmount
		}
	}

	report.ReadinessLevel = readinessLevel(txs)
	if report.ReadinessLevel >= 100 && len(txs) > 0 {
		report.Status = models.FilingReady
	} else {
		report.Status = models.FilingDraft
	}
	return report
}

// outwardSupplies groups GST transactions by counterparty GSTIN (GSTR-1).
func outwardSupplies(txs []models.Transaction) models.FilingSection {
	type agg struct {
		amount, tax float64
		count       int
	}
	byGSTIN := make(map[string]*agg)
	for i := range txs {
		key := txs[i].GSTIN
		if key == "" {
			key = "UNREGISTERED"
		}
		entry := byGSTIN[key]
		if entry == nil {
			entry = &agg{}
			byGSTIN[key] = entry
		}
		entry.amount += txs[i].Amount
		entry.tax += txs[i].GSTAmount
		entry.count++
	}

	return models.FilingSection{
		Name:  "GSTR-1 Outward Supplies",
		Lines: sortedLines(byGSTIN, func(a *agg) (float64, float64, int) { return a.amount, a.tax, a.count }),
	}
}

// gstSummary produces the single-line GSTR-3B summary.
func gstSummary(txs []models.Transaction) models.FilingSection {
	var amount, tax float64
	for i := range txs {
		amount += txs[i].Amount
		tax += txs[i].GSTAmount
	}
	return models.FilingSection{
		Name: "GSTR-3B Summary",
		Lines: []models.FilingLine{{
			Label:       "Outward taxable supplies",
			Amount:      amount,
			TaxAmount:   tax,
			Transaction: len(txs),
		}},
	}
}

// deducteeSummary groups TDS transactions by deductee PAN.
func deducteeSummary(txs []models.Transaction) models.FilingSection {
	type agg struct {
		amount, tax float64
		count       int
	}
	byPAN := make(map[string]*agg)
	for i := range txs {
		key := txs[i].PAN
		if key == "" {
			key = "PAN-MISSING"
		}
		entry := byPAN[key]
		if entry == nil {
			entry = &agg{}
			byPAN[key] = entry
		}
		entry.amount += txs[i].Amount
		entry.tax += txs[i].TDSAmount
		entry.count++
	}

	return models.FilingSection{
		Name:  "TDS Deductee Summary",
		Lines: sortedLines(byPAN, func(a *agg) (float64, float64, int) { return a.amount, a.tax, a.count }),
	}
}

func sortedLines[T any](m map[string]*T, get func(*T) (float64, float64, int)) []models.FilingLine {
	lines := make([]models.FilingLine, 0, len(m))
	for label, entry := range m {
		amount, tax, count := get(entry)
		lines = append(lines, models.FilingLine{
			Label:       label,
			Amount:      amount,
			TaxAmount:   tax,
			Transaction: count,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Label < lines[j].Label })
	return lines
}

// readinessLevel is the percentage of transactions with valid compliance
// status.
func readinessLevel(txs []models.Transaction) float64 {
	if len(txs) == 0 {
		return 0
	}
	valid := 0
	for i := range txs {
		if models.NormalizeComplianceStatus(string(txs[i].Status)) == models.ComplianceValid {
			valid++
		}
	}
	return 100 * float64(valid) / float64(len(txs))
}

func filterByTaxType(txs []models.Transaction, taxType string) []models.Transaction {
	out := make([]models.Transaction, 0, len(txs))
	for i := range txs {
		if txs[i].TaxType == taxType {
			out = append(out, txs[i])
		}
	}
	return out
}

func validFilingType(t string) bool {
	for _, ft := range FilingTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// ParsePeriod parses a filing period into its [from, to) time range.
// Supported formats: "2006-01" (month) and "2006-Q1" (quarter).
func ParsePeriod(period string) (from, to time.Time, err error) {
	if t, perr := time.Parse("2006-01", period); perr == nil {
		return t, t.AddDate(0, 1, 0), nil
	}

	parts := strings.SplitN(period, "-Q", 2)
	if len(parts) == 2 {
		year, yerr := strconv.Atoi(parts[0])
		quarter, qerr := strconv.Atoi(parts[1])
		if yerr == nil && qerr == nil && quarter >= 1 && quarter <= 4 {
			from = time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
			return from, from.AddDate(0, 3, 0), nil
		}
	}

	return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q, want YYYY-MM or YYYY-Qn", period)
}

// NewReportID returns "REP-" followed by 8 random hex characters.
func NewReportID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return "REP-" + strings.ToUpper(hex.EncodeToString(b[:]))
}
