package agent

// compliance.go implements the compliance validator agent. Deterministic rule
// checks decide the status of each transaction; the model adds issue
// explanations and fix suggestions for flagged ones, grounded on retrieved
// regulation chunks.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/rag"
	"github.com/taxpilot/taxpilot/internal/store"
)

// ComplianceValidatorName is the agent name used in execution audit logs.
const ComplianceValidatorName = "compliance_validator"

// ValidateResult summarizes one validation run.
type ValidateResult struct {
	Total       int                 `json:"total"`
	Valid       int                 `json:"valid"`
	Invalid     int                 `json:"invalid"`
	Pending     int                 `json:"pending"`
	Validations []models.Validation `json:"validations"`
}

// ComplianceValidator validates transactions against tax rules.
type ComplianceValidator struct {
	runtime     *Runtime
	searcher    *rag.Searcher
	txs         *store.TransactionRepo
	validations *store.ValidationRepo
	logger      log.Logger
}

// NewComplianceValidator creates the compliance validator agent.
func NewComplianceValidator(runtime *Runtime, searcher *rag.Searcher, txs *store.TransactionRepo, validations *store.ValidationRepo, logger log.Logger) *ComplianceValidator {
	return &ComplianceValidator{
		runtime:     runtime,
		searcher:    searcher,
		txs:         txs,
		validations: validations,
		logger:      logger,
	}
}

// ValidateBatch validates the given transactions. When txIDs is empty, all
// pending transactions are validated. Results are persisted and each
// transaction's status is updated to the normalized outcome.
func (v *ComplianceValidator) ValidateBatch(ctx context.Context, txIDs []string) (*ValidateResult, error) {
	result := &ValidateResult{}

	_, err := v.runtime.Track(ctx, ComplianceValidatorName, fmt.Sprintf("%d transactions", len(txIDs)), func(ctx context.Context) (string, error) {
		txs, err := v.loadTransactions(ctx, txIDs)
		if err != nil {
			return "", err
		}
		if len(txs) == 0 {
			return "no transactions to validate", nil
		}

		now := time.Now().UTC()
		var flagged []flaggedTx
		for i := range txs {
			checks := runChecks(&txs[i])
			status := statusFromChecks(checks)

			val := models.Validation{
				TransactionID: txs[i].TransactionID,
				Status:        status,
				Checks:        checks,
				ValidatedAt:   now,
			}
			if status != models.ComplianceValid {
				flagged = append(flagged, flaggedTx{tx: &txs[i], idx: len(result.Validations)})
			}
			result.Validations = append(result.Validations, val)

			switch status {
			case models.ComplianceValid:
				result.Valid++
			case models.ComplianceInvalid:
				result.Invalid++
			default:
				result.Pending++
			}
		}
		result.Total = len(txs)

		// One model call covers all flagged transactions; a per-transaction
		// call would blow through free-tier quotas on any realistic batch.
		if len(flagged) > 0 {
			v.adviseFlagged(ctx, flagged, result.Validations)
		}

		if err := v.validations.InsertMany(ctx, result.Validations); err != nil {
			return "", err
		}
		for i := range result.Validations {
			val := &result.Validations[i]
			if err := v.txs.UpdateStatus(ctx, val.TransactionID, val.Status); err != nil {
				v.logger.Warn("updating transaction status failed",
					"transaction_id", val.TransactionID, "error", err)
			}
		}

		return marshalCompact(map[string]int{
			"total": result.Total, "valid": result.Valid,
			"invalid": result.Invalid, "pending": result.Pending,
		}), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (v *ComplianceValidator) loadTransactions(ctx context.Context, txIDs []string) ([]models.Transaction, error) {
	if len(txIDs) == 0 {
		return v.txs.List(ctx, models.CompliancePending, 0)
	}
	txs := make([]models.Transaction, 0, len(txIDs))
	for _, id := range txIDs {
		tx, err := v.txs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

type flaggedTx struct {
	tx  *models.Transaction
	idx int
}

// advice is the JSON shape the model returns per flagged transaction.
type advice struct {
	TransactionID string   `json:"transaction_id"`
	Issues        []string `json:"issues"`
	Suggestions   []string `json:"suggestions"`
}

// adviseFlagged fills Issues and Suggestions on flagged validations using one
// grounded model call. Advice failures are logged and skipped; the
// deterministic statuses stand on their own.
func (v *ComplianceValidator) adviseFlagged(ctx context.Context, flagged []flaggedTx, validations []models.Validation) {
	domain := flagged[0].tx.TaxType
	docs, err := v.searcher.Search(ctx, "compliance requirements for "+domain+" transactions", domain, "", rag.DefaultTopK)
	if err != nil {
		v.logger.Warn("regulation retrieval for advice failed", "error", err)
	}

	var sb strings.Builder
	sb.WriteString("You are a tax compliance reviewer. For each flagged transaction below, ")
	sb.WriteString("list its concrete issues and actionable fix suggestions. Return ONLY a JSON array ")
	sb.WriteString(`with elements {"transaction_id", "issues": [...], "suggestions": [...]}.`)
	if len(docs) > 0 {
		sb.WriteString("\n\nRelevant regulations:\n")
		for _, d := range docs {
			sb.WriteString(truncate(docText(d), 800))
			sb.WriteString("\n---\n")
		}
	}
	sb.WriteString("\nFlagged transactions:\n")
	for _, f := range flagged {
		val := validations[f.idx]
		fmt.Fprintf(&sb, "- %s: amount=%.2f gst=%.2f tds=%.2f tax_type=%s gstin=%q pan=%q failed_checks=%s\n",
			f.tx.TransactionID, f.tx.Amount, f.tx.GSTAmount, f.tx.TDSAmount,
			f.tx.TaxType, f.tx.GSTIN, f.tx.PAN, failedCheckNames(val.Checks))
	}

	raw, err := v.runtime.Generate(ctx, sb.String())
	if err != nil {
		v.logger.Warn("advice generation failed", "error", err)
		return
	}

	var advices []advice
	if err := unmarshalModelJSON(raw, &advices); err != nil {
		v.logger.Warn("advice parsing failed", "error", err)
		return
	}

	byID := make(map[string]advice, len(advices))
	for _, a := range advices {
		byID[a.TransactionID] = a
	}
	regIDs := regulationIDs(docs)
	for _, f := range flagged {
		if a, ok := byID[f.tx.TransactionID]; ok {
			validations[f.idx].Issues = a.Issues
			validations[f.idx].Suggestions = a.Suggestions
			validations[f.idx].RegulationIDs = regIDs
		}
	}
}

func failedCheckNames(checks []models.RuleCheck) string {
	var names []string
	for _, c := range checks {
		if c.Result != models.ValidationPass {
			names = append(names, c.Rule)
		}
	}
	return strings.Join(names, ",")
}
