package agent

import (
	"testing"
	"time"

	"github.com/taxpilot/taxpilot/internal/models"
)

const (
	testGSTIN = "27AAPFU0939F1ZV"
	testPAN   = "AAPFU0939F"
)

func validGSTTransaction() models.Transaction {
	return models.Transaction{
		TransactionID: "TXN-1",
		EntityName:    "Acme Traders",
		GSTIN:         testGSTIN,
		InvoiceNumber: "INV-001",
		Amount:        1000,
		GSTAmount:     180,
		TaxType:       "gst",
		Date:          time.Now().AddDate(0, -1, 0),
	}
}

func checkResult(t *testing.T, checks []models.RuleCheck, rule string) models.ValidationResult {
	t.Helper()
	for _, c := range checks {
		if c.Rule == rule {
			return c.Result
		}
	}
	t.Fatalf("rule %q not found in checks %v", rule, checks)
	return ""
}

func TestRunChecksValidGST(t *testing.T) {
	tx := validGSTTransaction()
	checks := runChecks(&tx)

	for _, rule := range []string{RuleAmountPositive, RuleDateValid, RuleGSTINFormat, RuleInvoicePresent, RuleGSTRate} {
		if got := checkResult(t, checks, rule); got != models.ValidationPass {
			t.Errorf("rule %s = %q, want pass", rule, got)
		}
	}

	if status := statusFromChecks(checks); status != models.ComplianceValid {
		t.Errorf("statusFromChecks = %q, want valid", status)
	}
}

func TestRunChecksFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Transaction)
		rule   string
		result models.ValidationResult
		status models.ComplianceStatus
	}{
		{
			name:   "negative amount",
			mutate: func(tx *models.Transaction) { tx.Amount = -50 },
			rule:   RuleAmountPositive,
			result: models.ValidationFail,
			status: models.ComplianceInvalid,
		},
		{
			name:   "missing date",
			mutate: func(tx *models.Transaction) { tx.Date = time.Time{} },
			rule:   RuleDateValid,
			result: models.ValidationFail,
			status: models.ComplianceInvalid,
		},
		{
			name:   "future date",
			mutate: func(tx *models.Transaction) { tx.Date = time.Now().AddDate(0, 1, 0) },
			rule:   RuleDateValid,
			result: models.ValidationFail,
			status: models.ComplianceInvalid,
		},
		{
			name:   "stale date is a warning",
			mutate: func(tx *models.Transaction) { tx.Date = time.Now().AddDate(-3, 0, 0) },
			rule:   RuleDateValid,
			result: models.ValidationWarning,
			status: models.CompliancePending,
		},
		{
			name:   "missing GSTIN",
			mutate: func(tx *models.Transaction) { tx.GSTIN = "" },
			rule:   RuleGSTINFormat,
			result: models.ValidationFail,
			status: models.ComplianceInvalid,
		},
		{
			name:   "malformed GSTIN",
			mutate: func(tx *models.Transaction) { tx.GSTIN = "NOT-A-GSTIN-123" },
			rule:   RuleGSTINFormat,
			result: models.ValidationFail,
			status: models.ComplianceInvalid,
		},
		{
			name:   "missing invoice is a warning",
			mutate: func(tx *models.Transaction) { tx.InvoiceNumber = "" },
			rule:   RuleInvoicePresent,
			result: models.ValidationWarning,
			status: models.CompliancePending,
		},
		{
			name:   "GST rate deviation is a warning",
			mutate: func(tx *models.Transaction) { tx.GSTAmount = 90 },
			rule:   RuleGSTRate,
			result: models.ValidationWarning,
			status: models.CompliancePending,
		},
		{
			name:   "missing GST amount fails",
			mutate: func(tx *models.Transaction) { tx.GSTAmount = 0 },
			rule:   RuleGSTRate,
			result: models.ValidationFail,
			status: models.ComplianceInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validGSTTransaction()
			tt.mutate(&tx)
			checks := runChecks(&tx)

			if got := checkResult(t, checks, tt.rule); got != tt.result {
				t.Errorf("rule %s = %q, want %q", tt.rule, got, tt.result)
			}
			if got := statusFromChecks(checks); got != tt.status {
				t.Errorf("statusFromChecks = %q, want %q", got, tt.status)
			}
		})
	}
}

func TestRunChecksTDS(t *testing.T) {
	tx := models.Transaction{
		TransactionID: "TXN-2",
		PAN:           testPAN,
		Amount:        10000,
		TDSAmount:     1000,
		TaxType:       "tds",
		Date:          time.Now().AddDate(0, -1, 0),
	}

	checks := runChecks(&tx)
	if got := checkResult(t, checks, RulePANFormat); got != models.ValidationPass {
		t.Errorf("pan_format = %q, want pass", got)
	}
	if got := checkResult(t, checks, RuleTDSRate); got != models.ValidationPass {
		t.Errorf("tds_rate = %q, want pass", got)
	}
	if status := statusFromChecks(checks); status != models.ComplianceValid {
		t.Errorf("statusFromChecks = %q, want valid", status)
	}

	tx.PAN = "short"
	checks = runChecks(&tx)
	if got := checkResult(t, checks, RulePANFormat); got != models.ValidationFail {
		t.Errorf("pan_format with bad PAN = %q, want fail", got)
	}
}

func TestRunChecksUnknownTaxType(t *testing.T) {
	tx := validGSTTransaction()
	tx.TaxType = "vat"

	checks := runChecks(&tx)
	if got := checkResult(t, checks, RuleTaxTypeKnown); got != models.ValidationWarning {
		t.Errorf("tax_type_known = %q, want warning", got)
	}
	if status := statusFromChecks(checks); status != models.CompliancePending {
		t.Errorf("statusFromChecks = %q, want pending", status)
	}
}

func TestStatusFromChecksEmpty(t *testing.T) {
	if got := statusFromChecks(nil); got != models.ComplianceValid {
		t.Errorf("statusFromChecks(nil) = %q, want valid", got)
	}
}
