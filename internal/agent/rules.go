package agent

// rules.go contains the deterministic compliance rule checks. Rule outcomes
// use the raw pass/fail/warning results; statusFromChecks maps them onto the
// canonical compliance statuses.

import (
	"fmt"
	"math"
	"time"

	"github.com/taxpilot/taxpilot/internal/models"
)

// Rule names, stable identifiers recorded on every check.
const (
	RuleAmountPositive = "amount_positive"
	RuleGSTINFormat    = "gstin_format"
	RulePANFormat      = "pan_format"
	RuleInvoicePresent = "invoice_present"
	RuleDateValid      = "date_valid"
	RuleGSTRate        = "gst_rate"
	RuleTDSRate        = "tds_rate"
	RuleTaxTypeKnown   = "tax_type_known"
)

// Statutory rates used by rule checks and filing aggregation.
const (
	GSTRate = 0.18
	TDSRate = 0.10

	// rateTolerance is the accepted relative deviation from the statutory
	// rate before a check degrades to warning.
	rateTolerance = 0.02

	// maxTransactionAge flags records old enough to fall outside any open
	// filing period.
	maxTransactionAge = 2 * 365 * 24 * time.Hour
)

// runChecks evaluates every applicable rule against one transaction.
func runChecks(tx *models.Transaction) []models.RuleCheck {
	var checks []models.RuleCheck
	add := func(rule string, result models.ValidationResult, msg string) {
		checks = append(checks, models.RuleCheck{Rule: rule, Result: result, Message: msg})
	}

	// Amount
	if tx.Amount > 0 {
		add(RuleAmountPositive, models.ValidationPass, "")
	} else {
		add(RuleAmountPositive, models.ValidationFail,
			fmt.Sprintf("amount must be positive, got %.2f", tx.Amount))
	}

	// Date
	now := time.Now()
	switch {
	case tx.Date.IsZero():
		add(RuleDateValid, models.ValidationFail, "transaction date is missing")
	case tx.Date.After(now):
		add(RuleDateValid, models.ValidationFail, "transaction date is in the future")
	case now.Sub(tx.Date) > maxTransactionAge:
		add(RuleDateValid, models.ValidationWarning, "transaction is older than two years")
	default:
		add(RuleDateValid, models.ValidationPass, "")
	}

	switch tx.TaxType {
	case "gst":
		// GSTIN mandatory for GST transactions
		if ValidGSTIN(tx.GSTIN) {
			add(RuleGSTINFormat, models.ValidationPass, "")
		} else if tx.GSTIN == "" {
			add(RuleGSTINFormat, models.ValidationFail, "GSTIN is required for GST transactions")
		} else {
			add(RuleGSTINFormat, models.ValidationFail,
				fmt.Sprintf("GSTIN %q is not a valid 15-character GSTIN", tx.GSTIN))
		}

		if tx.InvoiceNumber != "" {
			add(RuleInvoicePresent, models.ValidationPass, "")
		} else {
			add(RuleInvoicePresent, models.ValidationWarning, "invoice number is missing")
		}

		add(rateCheck(RuleGSTRate, tx.GSTAmount, tx.Amount, GSTRate))

	case "tds":
		// PAN mandatory for TDS deductees
		if ValidPAN(tx.PAN) {
			add(RulePANFormat, models.ValidationPass, "")
		} else if tx.PAN == "" {
			add(RulePANFormat, models.ValidationFail, "PAN is required for TDS transactions")
		} else {
			add(RulePANFormat, models.ValidationFail,
				fmt.Sprintf("PAN %q is not a valid 10-character PAN", tx.PAN))
		}

		add(rateCheck(RuleTDSRate, tx.TDSAmount, tx.Amount, TDSRate))

	default:
		add(RuleTaxTypeKnown, models.ValidationWarning,
			fmt.Sprintf("unknown tax type %q", tx.TaxType))
	}

	return checks
}

// rateCheck verifies a tax amount against the statutory rate on the base
// amount, within tolerance.
func rateCheck(rule string, taxAmount, base, rate float64) (string, models.ValidationResult, string) {
	if base <= 0 {
		// amount_positive already failed; don't double-report
		return rule, models.ValidationWarning, "cannot verify rate on non-positive amount"
	}
	expected := base * rate
	if taxAmount <= 0 {
		return rule, models.ValidationFail,
			fmt.Sprintf("tax amount missing, expected about %.2f (%.0f%% of %.2f)", expected, rate*100, base)
	}
	if math.Abs(taxAmount-expected)/expected > rateTolerance {
		return rule, models.ValidationWarning,
			fmt.Sprintf("tax amount %.2f deviates from expected %.2f (%.0f%%)", taxAmount, expected, rate*100)
	}
	return rule, models.ValidationPass, ""
}

// statusFromChecks maps rule outcomes onto a compliance status: any fail
// makes the transaction invalid, any warning leaves it pending, otherwise it
// is valid.
func statusFromChecks(checks []models.RuleCheck) models.ComplianceStatus {
	status := models.ComplianceValid
	for _, c := range checks {
		switch c.Result {
		case models.ValidationFail:
			return models.ComplianceInvalid
		case models.ValidationWarning:
			status = models.CompliancePending
		}
	}
	return status
}
