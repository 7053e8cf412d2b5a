package agent

// anomaly.go implements the anomaly detector agent. Detection itself is
// deterministic; the model only contributes suggested fixes.

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/store"
)

// AnomalyDetectorName is the agent name used in execution audit logs.
const AnomalyDetectorName = "anomaly_detector"

// Suspicious amount threshold: a transaction more than three times the batch
// mean is flagged.
const suspiciousAmountFactor = 3.0

// TDS on an invoice is expected to be TDSRate/GSTRate of the GST amount;
// deviations beyond 50% are flagged as mismatches.
const tdsRatioTolerance = 0.5

// DetectResult summarizes one detection run.
type DetectResult struct {
	Scanned   int              `json:"scanned"`
	Anomalies []models.Anomaly `json:"anomalies"`
}

// AnomalyStore is the anomaly persistence surface the detector needs.
// *store.AnomalyRepo implements it.
type AnomalyStore interface {
	InsertMany(ctx context.Context, as []models.Anomaly) error
	List(ctx context.Context, typ models.AnomalyType, severity models.Severity, status models.AnomalyStatus, limit int64) ([]models.Anomaly, error)
	SetSuggestedFix(ctx context.Context, anomalyID, fix string) error
}

// AnomalyDetector scans transactions for irregularities.
type AnomalyDetector struct {
	runtime   ModelRuntime
	txs       *store.TransactionRepo
	anomalies AnomalyStore
	logger    log.Logger
}

// NewAnomalyDetector creates the anomaly detector agent.
func NewAnomalyDetector(runtime ModelRuntime, txs *store.TransactionRepo, anomalies AnomalyStore, logger log.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		runtime:   runtime,
		txs:       txs,
		anomalies: anomalies,
		logger:    logger,
	}
}

// Detect scans all transactions, stores any anomalies found, and returns them.
func (d *AnomalyDetector) Detect(ctx context.Context) (*DetectResult, error) {
	result := &DetectResult{}

	_, err := d.runtime.Track(ctx, AnomalyDetectorName, "full scan", func(ctx context.Context) (string, error) {
		txs, err := d.txs.List(ctx, "", 0)
		if err != nil {
			return "", err
		}
		result.Scanned = len(txs)
		if len(txs) == 0 {
			return "no transactions to scan", nil
		}

		anomalies := DetectAnomalies(txs)
		if len(anomalies) == 0 {
			return "no anomalies found", nil
		}

		if err := d.anomalies.InsertMany(ctx, anomalies); err != nil {
			return "", err
		}
		result.Anomalies = anomalies

		return fmt.Sprintf("found %d anomalies in %d transactions", len(anomalies), len(txs)), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DetectAnomalies runs every detector over the transaction set.
// Exported for direct use in tests and the pipeline.
func DetectAnomalies(txs []models.Transaction) []models.Anomaly {
	now := time.Now().UTC()
	var anomalies []models.Anomaly

	anomalies = append(anomalies, detectDuplicates(txs, now)...)
	anomalies = append(anomalies, detectInvalidIdentifiers(txs, now)...)
	anomalies = append(anomalies, detectAmountOutliers(txs, now)...)
	anomalies = append(anomalies, detectDateIssues(txs, now)...)
	anomalies = append(anomalies, detectComplianceMismatches(txs, now)...)
	anomalies = append(anomalies, detectTaxRatioMismatches(txs, now)...)

	return anomalies
}

// detectDuplicates groups transactions by amount, date, and description.
func detectDuplicates(txs []models.Transaction, now time.Time) []models.Anomaly {
	groups := make(map[string][]string)
	for i := range txs {
		key := fmt.Sprintf("%.2f|%s|%s",
			txs[i].Amount, txs[i].Date.Format("2006-01-02"), strings.ToLower(strings.TrimSpace(txs[i].Description)))
		groups[key] = append(groups[key], txs[i].TransactionID)
	}

	var anomalies []models.Anomaly
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		anomalies = append(anomalies, newAnomaly(
			models.AnomalyDuplicate,
			models.SeverityHigh,
			fmt.Sprintf("%d transactions share the same amount, date, and description", len(ids)),
			ids, now))
	}
	return anomalies
}

// detectInvalidIdentifiers flags GST transactions whose GSTIN is not a valid
// 15-character identifier.
func detectInvalidIdentifiers(txs []models.Transaction, now time.Time) []models.Anomaly {
	var anomalies []models.Anomaly
	for i := range txs {
		tx := &txs[i]
		if tx.TaxType == "gst" && !ValidGSTIN(tx.GSTIN) {
			anomalies = append(anomalies, newAnomaly(
				models.AnomalyMismatch,
				models.SeverityHigh,
				fmt.Sprintf("GSTIN %q on transaction %s is not a valid 15-character GSTIN", tx.GSTIN, tx.TransactionID),
				[]string{tx.TransactionID}, now))
		}
	}
	return anomalies
}

// detectAmountOutliers flags non-positive amounts as mismatches and amounts
// far above the batch mean as suspicious.
func detectAmountOutliers(txs []models.Transaction, now time.Time) []models.Anomaly {
	var sum float64
	positive := 0
	for i := range txs {
		if txs[i].Amount > 0 {
			sum += txs[i].Amount
			positive++
		}
	}

	var anomalies []models.Anomaly
	for i := range txs {
		tx := &txs[i]
		if tx.Amount <= 0 {
			anomalies = append(anomalies, newAnomaly(
				models.AnomalyMismatch,
				models.SeverityCritical,
				fmt.Sprintf("transaction %s has non-positive amount %.2f", tx.TransactionID, tx.Amount),
				[]string{tx.TransactionID}, now))
		}
	}
	if positive == 0 {
		return anomalies
	}

	mean := sum / float64(positive)
	for i := range txs {
		tx := &txs[i]
		if tx.Amount > mean*suspiciousAmountFactor {
			anomalies = append(anomalies, newAnomaly(
				models.AnomalySuspicious,
				models.SeverityMedium,
				fmt.Sprintf("transaction %s amount %.2f is more than %gx the mean of %.2f",
					tx.TransactionID, tx.Amount, suspiciousAmountFactor, mean),
				[]string{tx.TransactionID}, now))
		}
	}
	return anomalies
}

// detectDateIssues flags future-dated and stale transactions.
func detectDateIssues(txs []models.Transaction, now time.Time) []models.Anomaly {
	var anomalies []models.Anomaly
	for i := range txs {
		tx := &txs[i]
		switch {
		case tx.Date.After(now):
			anomalies = append(anomalies, newAnomaly(
				models.AnomalySuspicious,
				models.SeverityHigh,
				fmt.Sprintf("transaction %s is dated in the future (%s)", tx.TransactionID, tx.Date.Format("2006-01-02")),
				[]string{tx.TransactionID}, now))
		case now.Sub(tx.Date) > maxTransactionAge:
			anomalies = append(anomalies, newAnomaly(
				models.AnomalySuspicious,
				models.SeverityLow,
				fmt.Sprintf("transaction %s is older than two years (%s)", tx.TransactionID, tx.Date.Format("2006-01-02")),
				[]string{tx.TransactionID}, now))
		}
	}
	return anomalies
}

// detectComplianceMismatches flags transactions still pending or invalid.
func detectComplianceMismatches(txs []models.Transaction, now time.Time) []models.Anomaly {
	var anomalies []models.Anomaly
	for i := range txs {
		tx := &txs[i]
		status := models.NormalizeComplianceStatus(string(tx.Status))
		if status == models.ComplianceInvalid || status == models.CompliancePending {
			severity := models.SeverityMedium
			if status == models.ComplianceInvalid {
				severity = models.SeverityHigh
			}
			anomalies = append(anomalies, newAnomaly(
				models.AnomalyMismatch,
				severity,
				fmt.Sprintf("transaction %s has unresolved compliance status %q", tx.TransactionID, status),
				[]string{tx.TransactionID}, now))
		}
	}
	return anomalies
}

// detectTaxRatioMismatches checks the TDS-to-GST ratio on invoices carrying
// both amounts. TDS is expected at TDSRate/GSTRate of the GST amount.
func detectTaxRatioMismatches(txs []models.Transaction, now time.Time) []models.Anomaly {
	expectedRatio := TDSRate / GSTRate
	var anomalies []models.Anomaly
	for i := range txs {
		tx := &txs[i]
		if tx.GSTAmount <= 0 || tx.TDSAmount <= 0 {
			continue
		}
		ratio := tx.TDSAmount / tx.GSTAmount
		if ratio < expectedRatio*(1-tdsRatioTolerance) || ratio > expectedRatio*(1+tdsRatioTolerance) {
			anomalies = append(anomalies, newAnomaly(
				models.AnomalyMismatch,
				models.SeverityMedium,
				fmt.Sprintf("transaction %s TDS/GST ratio %.2f deviates from expected %.2f",
					tx.TransactionID, ratio, expectedRatio),
				[]string{tx.TransactionID}, now))
		}
	}
	return anomalies
}

func newAnomaly(typ models.AnomalyType, severity models.Severity, description string, txIDs []string, now time.Time) models.Anomaly {
	return models.Anomaly{
		AnomalyID:      newAnomalyID(),
		Type:           typ,
		Severity:       severity,
		Description:    description,
		TransactionIDs: txIDs,
		Status:         models.AnomalyOpen,
		DetectedAt:     now,
	}
}

// newAnomalyID returns "ANM-" followed by 8 random hex characters.
func newAnomalyID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand read failures mean the platform is broken
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return "ANM-" + strings.ToUpper(hex.EncodeToString(b[:]))
}

// QuickFixes asks the model for a one-line fix per open anomaly and stores
// the suggestions on the anomaly documents.
func (d *AnomalyDetector) QuickFixes(ctx context.Context, limit int64) ([]models.Anomaly, error) {
	anomalies, err := d.anomalies.List(ctx, "", "", models.AnomalyOpen, limit)
	if err != nil {
		return nil, err
	}
	pending := make([]models.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if a.SuggestedFix == "" {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return anomalies, nil
	}

	var sb strings.Builder
	sb.WriteString("You are a tax compliance assistant. For each anomaly below, suggest one concrete ")
	sb.WriteString("corrective action. Return ONLY a JSON array with elements ")
	sb.WriteString(`{"anomaly_id", "fix"}.` + "\n\nAnomalies:\n")
	for _, a := range pending {
		fmt.Fprintf(&sb, "- %s [%s/%s]: %s\n", a.AnomalyID, a.Type, a.Severity, a.Description)
	}

	raw, err := d.runtime.Generate(ctx, sb.String())
	if err != nil {
		return nil, fmt.Errorf("generating quick fixes: %w", err)
	}

	var fixes []struct {
		AnomalyID string `json:"anomaly_id"`
		Fix       string `json:"fix"`
	}
	if err := unmarshalModelJSON(raw, &fixes); err != nil {
		return nil, err
	}

	byID := make(map[string]string, len(fixes))
	for _, f := range fixes {
		byID[f.AnomalyID] = f.Fix
	}
	for i := range anomalies {
		if anomalies[i].SuggestedFix != "" {
			continue
		}
		fix := byID[anomalies[i].AnomalyID]
		if fix == "" {
			continue
		}
		anomalies[i].SuggestedFix = fix
		if err := d.anomalies.SetSuggestedFix(ctx, anomalies[i].AnomalyID, fix); err != nil {
			d.logger.Warn("storing suggested fix failed",
				"anomaly_id", anomalies[i].AnomalyID, "error", err)
		}
	}
	return anomalies, nil
}
