package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/testutil"
)

// cleanTransaction returns a transaction that triggers no detector on its own.
func cleanTransaction(id string) models.Transaction {
	tx := validGSTTransaction()
	tx.TransactionID = id
	tx.Description = "office supplies " + id
	tx.Status = models.ComplianceValid
	return tx
}

func countAnomalies(anomalies []models.Anomaly, typ models.AnomalyType, severity models.Severity) int {
	n := 0
	for _, a := range anomalies {
		if a.Type == typ && a.Severity == severity {
			n++
		}
	}
	return n
}

func TestDetectAnomaliesClean(t *testing.T) {
	txs := []models.Transaction{cleanTransaction("TXN-1"), cleanTransaction("TXN-2")}

	if anomalies := DetectAnomalies(txs); len(anomalies) != 0 {
		t.Errorf("DetectAnomalies on clean batch returned %d anomalies: %v", len(anomalies), anomalies)
	}
}

func TestDetectDuplicates(t *testing.T) {
	a := cleanTransaction("TXN-1")
	b := cleanTransaction("TXN-2")
	b.Description = a.Description
	b.Date = a.Date
	c := cleanTransaction("TXN-3")

	anomalies := DetectAnomalies([]models.Transaction{a, b, c})

	if got := countAnomalies(anomalies, models.AnomalyDuplicate, models.SeverityHigh); got != 1 {
		t.Fatalf("duplicate anomalies = %d, want 1", got)
	}
	if len(anomalies) != 1 {
		t.Errorf("total anomalies = %d, want 1: %v", len(anomalies), anomalies)
	}
	if ids := anomalies[0].TransactionIDs; len(ids) != 2 {
		t.Errorf("duplicate group size = %d, want 2", len(ids))
	}
}

func TestDetectInvalidIdentifiers(t *testing.T) {
	bad := cleanTransaction("TXN-1")
	bad.GSTIN = "NOT-A-GSTIN"
	tds := cleanTransaction("TXN-2")
	tds.TaxType = "tds"
	tds.GSTIN = ""
	tds.PAN = testPAN
	tds.GSTAmount = 0
	tds.TDSAmount = 100

	anomalies := DetectAnomalies([]models.Transaction{bad, tds})

	if got := countAnomalies(anomalies, models.AnomalyMismatch, models.SeverityHigh); got != 1 {
		t.Errorf("invalid identifier anomalies = %d, want 1", got)
	}
	if len(anomalies) != 1 {
		t.Errorf("total anomalies = %d, want 1: %v", len(anomalies), anomalies)
	}
}

func TestDetectAmountOutliers(t *testing.T) {
	t.Run("non-positive amount", func(t *testing.T) {
		zero := cleanTransaction("TXN-1")
		zero.Amount = 0
		zero.GSTAmount = 0
		ok := cleanTransaction("TXN-2")

		anomalies := DetectAnomalies([]models.Transaction{zero, ok})

		if got := countAnomalies(anomalies, models.AnomalyMismatch, models.SeverityCritical); got != 1 {
			t.Errorf("non-positive anomalies = %d, want 1", got)
		}
	})

	t.Run("amount far above mean", func(t *testing.T) {
		txs := []models.Transaction{
			cleanTransaction("TXN-1"),
			cleanTransaction("TXN-2"),
			cleanTransaction("TXN-3"),
			cleanTransaction("TXN-4"),
		}
		txs[3].Amount = 10000
		txs[3].GSTAmount = 1800

		anomalies := DetectAnomalies(txs)

		if got := countAnomalies(anomalies, models.AnomalySuspicious, models.SeverityMedium); got != 1 {
			t.Fatalf("outlier anomalies = %d, want 1", got)
		}
	})
}

func TestDetectDateIssues(t *testing.T) {
	future := cleanTransaction("TXN-1")
	future.Date = time.Now().AddDate(0, 0, 7)
	stale := cleanTransaction("TXN-2")
	stale.Date = time.Now().AddDate(-3, 0, 0)

	anomalies := DetectAnomalies([]models.Transaction{future, stale})

	if got := countAnomalies(anomalies, models.AnomalySuspicious, models.SeverityHigh); got != 1 {
		t.Errorf("future date anomalies = %d, want 1", got)
	}
	if got := countAnomalies(anomalies, models.AnomalySuspicious, models.SeverityLow); got != 1 {
		t.Errorf("stale date anomalies = %d, want 1", got)
	}
}

func TestDetectComplianceMismatches(t *testing.T) {
	invalid := cleanTransaction("TXN-1")
	invalid.Status = models.ComplianceInvalid
	pending := cleanTransaction("TXN-2")
	pending.Status = models.CompliancePending

	anomalies := DetectAnomalies([]models.Transaction{invalid, pending})

	if got := countAnomalies(anomalies, models.AnomalyMismatch, models.SeverityHigh); got != 1 {
		t.Errorf("invalid status anomalies = %d, want 1", got)
	}
	if got := countAnomalies(anomalies, models.AnomalyMismatch, models.SeverityMedium); got != 1 {
		t.Errorf("pending status anomalies = %d, want 1", got)
	}
}

func TestDetectTaxRatioMismatches(t *testing.T) {
	off := cleanTransaction("TXN-1")
	off.TDSAmount = off.GSTAmount // ratio 1.0, expected ~0.56
	ok := cleanTransaction("TXN-2")
	ok.TDSAmount = ok.GSTAmount * TDSRate / GSTRate

	anomalies := DetectAnomalies([]models.Transaction{off, ok})

	if got := countAnomalies(anomalies, models.AnomalyMismatch, models.SeverityMedium); got != 1 {
		t.Errorf("tax ratio anomalies = %d, want 1", got)
	}
	if len(anomalies) != 1 {
		t.Errorf("total anomalies = %d, want 1: %v", len(anomalies), anomalies)
	}
}

func TestAnomalyIDFormat(t *testing.T) {
	bad := cleanTransaction("TXN-1")
	bad.Status = models.ComplianceInvalid

	anomalies := DetectAnomalies([]models.Transaction{bad})
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(anomalies))
	}

	id := anomalies[0].AnomalyID
	if !strings.HasPrefix(id, "ANM-") || len(id) != 12 {
		t.Errorf("anomaly ID %q does not match ANM-XXXXXXXX", id)
	}
	if anomalies[0].DetectedAt.IsZero() {
		t.Error("DetectedAt is zero")
	}
	if anomalies[0].Status != models.AnomalyOpen {
		t.Errorf("Status = %q, want %q", anomalies[0].Status, models.AnomalyOpen)
	}
}

// fakeAnomalyStore is an in-memory AnomalyStore.
type fakeAnomalyStore struct {
	anomalies []models.Anomaly
	fixes     map[string]string
}

func (s *fakeAnomalyStore) InsertMany(_ context.Context, as []models.Anomaly) error {
	s.anomalies = append(s.anomalies, as...)
	return nil
}

func (s *fakeAnomalyStore) List(_ context.Context, _ models.AnomalyType, _ models.Severity, status models.AnomalyStatus, limit int64) ([]models.Anomaly, error) {
	out := make([]models.Anomaly, 0, len(s.anomalies))
	for _, a := range s.anomalies {
		if status != "" && a.Status != status {
			continue
		}
		if limit > 0 && int64(len(out)) == limit {
			break
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeAnomalyStore) SetSuggestedFix(_ context.Context, anomalyID, fix string) error {
	if s.fixes == nil {
		s.fixes = make(map[string]string)
	}
	s.fixes[anomalyID] = fix
	return nil
}

// fakeModel returns a canned response and counts Generate calls.
type fakeModel struct {
	response string
	calls    int
}

func (m *fakeModel) Generate(_ context.Context, _ string) (string, error) {
	m.calls++
	return m.response, nil
}

func (m *fakeModel) Track(ctx context.Context, _, _ string, fn func(context.Context) (string, error)) (string, error) {
	return fn(ctx)
}

func storedAnomaly(id, fix string) models.Anomaly {
	return models.Anomaly{
		AnomalyID:    id,
		Type:         models.AnomalyMismatch,
		Severity:     models.SeverityMedium,
		Description:  "description for " + id,
		SuggestedFix: fix,
		Status:       models.AnomalyOpen,
		DetectedAt:   time.Now().UTC(),
	}
}

func TestQuickFixes(t *testing.T) {
	store := &fakeAnomalyStore{anomalies: []models.Anomaly{
		storedAnomaly("ANM-AAAAAAAA", "resubmit the invoice"),
		storedAnomaly("ANM-BBBBBBBB", ""),
		storedAnomaly("ANM-CCCCCCCC", ""),
	}}
	model := &fakeModel{response: `[
		{"anomaly_id": "ANM-BBBBBBBB", "fix": "correct the GSTIN"},
		{"anomaly_id": "ANM-CCCCCCCC", "fix": "remove the duplicate entry"}
	]`}
	d := NewAnomalyDetector(model, nil, store, testutil.DiscardLogger())

	got, err := d.QuickFixes(context.Background(), 10)
	if err != nil {
		t.Fatalf("QuickFixes: %v", err)
	}

	wantFixes := map[string]string{
		"ANM-AAAAAAAA": "resubmit the invoice",
		"ANM-BBBBBBBB": "correct the GSTIN",
		"ANM-CCCCCCCC": "remove the duplicate entry",
	}
	if len(got) != len(wantFixes) {
		t.Fatalf("QuickFixes returned %d anomalies, want %d", len(got), len(wantFixes))
	}
	seen := make(map[string]bool, len(got))
	for _, a := range got {
		if seen[a.AnomalyID] {
			t.Errorf("anomaly %s returned twice", a.AnomalyID)
		}
		seen[a.AnomalyID] = true
		if a.SuggestedFix != wantFixes[a.AnomalyID] {
			t.Errorf("anomaly %s fix = %q, want %q", a.AnomalyID, a.SuggestedFix, wantFixes[a.AnomalyID])
		}
	}
	for id := range wantFixes {
		if !seen[id] {
			t.Errorf("anomaly %s missing from result", id)
		}
	}

	// Only the two anomalies without a fix get a store write.
	if len(store.fixes) != 2 {
		t.Errorf("stored fixes = %v, want writes for ANM-BBBBBBBB and ANM-CCCCCCCC", store.fixes)
	}
	if store.fixes["ANM-BBBBBBBB"] != "correct the GSTIN" || store.fixes["ANM-CCCCCCCC"] != "remove the duplicate entry" {
		t.Errorf("stored fixes = %v", store.fixes)
	}
}

func TestQuickFixesAllFixedSkipsModel(t *testing.T) {
	store := &fakeAnomalyStore{anomalies: []models.Anomaly{
		storedAnomaly("ANM-AAAAAAAA", "resubmit the invoice"),
	}}
	model := &fakeModel{}
	d := NewAnomalyDetector(model, nil, store, testutil.DiscardLogger())

	got, err := d.QuickFixes(context.Background(), 10)
	if err != nil {
		t.Fatalf("QuickFixes: %v", err)
	}
	if len(got) != 1 || got[0].SuggestedFix != "resubmit the invoice" {
		t.Errorf("QuickFixes = %+v", got)
	}
	if model.calls != 0 {
		t.Errorf("model called %d times with nothing to fix", model.calls)
	}
}
