package api

import (
	"log/slog"
	"net/http"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/store"
)

// complianceHandler serves the compliance validation endpoints.
type complianceHandler struct {
	validator   *agent.ComplianceValidator
	validations *store.ValidationRepo
	txs         *store.TransactionRepo
	logger      *slog.Logger
}

// validateRequest selects which transactions to validate. Empty means every
// pending transaction.
type validateRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
}

// validate handles POST /api/v1/compliance/validate.
func (h *complianceHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req, h.logger) {
		return
	}

	result, err := h.validator.ValidateBatch(r.Context(), req.TransactionIDs)
	if err != nil {
		h.logger.Error("validating transactions", "error", err, "requested", len(req.TransactionIDs))
		writeError(w, http.StatusInternalServerError, "validate_failed", "compliance validation failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, result, h.logger)
}

// flaggedEntries handles GET /api/v1/compliance/flagged-entries?limit=50.
func (h *complianceHandler) flaggedEntries(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", 50), 200)

	flagged, err := h.validations.ListFlagged(r.Context(), int64(limit))
	if err != nil {
		h.logger.Error("listing flagged entries", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list flagged entries", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": flagged,
		"total": len(flagged),
	}, h.logger)
}

// validationSummary handles GET /api/v1/compliance/validation-summary.
// Combines the validation outcome counts with the current transaction
// status counts.
func (h *complianceHandler) validationSummary(w http.ResponseWriter, r *http.Request) {
	validations, err := h.validations.Summary(r.Context())
	if err != nil {
		h.logger.Error("summarizing validations", "error", err)
		writeError(w, http.StatusInternalServerError, "summary_failed", "failed to summarize validations", h.logger)
		return
	}

	transactions, err := h.txs.CountByStatus(r.Context())
	if err != nil {
		h.logger.Error("counting transactions by status", "error", err)
		writeError(w, http.StatusInternalServerError, "summary_failed", "failed to summarize transactions", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"validations":  validations,
		"transactions": transactions,
	}, h.logger)
}
