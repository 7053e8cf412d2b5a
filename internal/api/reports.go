package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/store"
)

// reportIDPattern matches generated report IDs, and doubles as path
// traversal protection for download paths.
var reportIDPattern = regexp.MustCompile(`^REP-[0-9A-F]{8}$`)

// reportHandler serves the report generation and export endpoints.
type reportHandler struct {
	generator *agent.ReportGenerator
	reports   *store.FilingReportRepo
	logger    *slog.Logger
}

// generateReportRequest names the filing report to summarize and export.
type generateReportRequest struct {
	ReportID string `json:"report_id"`
}

// generate handles POST /api/v1/reports/generate — summarizes a filing
// report with open anomalies in view, then exports JSON and CSV files.
func (h *reportHandler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if !reportIDPattern.MatchString(req.ReportID) {
		writeError(w, http.StatusBadRequest, "invalid_id", "report_id must look like REP-XXXXXXXX", h.logger)
		return
	}

	rep, err := h.generator.Generate(r.Context(), req.ReportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "report not found", h.logger)
			return
		}
		h.logger.Error("generating report", "error", err, "report_id", req.ReportID)
		writeError(w, http.StatusInternalServerError, "generate_failed", "report generation failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, rep, h.logger)
}

// status handles GET /api/v1/reports/{id}/status.
func (h *reportHandler) status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !reportIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid_id", "report ID must look like REP-XXXXXXXX", h.logger)
		return
	}

	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "report not found", h.logger)
			return
		}
		h.logger.Error("getting report", "error", err, "report_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get report", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report_id":       rep.ReportID,
		"status":          rep.Status,
		"filing_type":     rep.FilingType,
		"period":          rep.Period,
		"readiness_level": rep.ReadinessLevel,
		"generated_at":    rep.GeneratedAt,
	}, h.logger)
}

// list handles GET /api/v1/reports/list?filing_type=...&period=...&limit=50.
func (h *reportHandler) list(w http.ResponseWriter, r *http.Request) {
	filingType := r.URL.Query().Get("filing_type")
	period := r.URL.Query().Get("period")
	limit := min(parseIntParam(r, "limit", 50), 200)

	items, err := h.reports.List(r.Context(), filingType, period, int64(limit))
	if err != nil {
		h.logger.Error("listing reports", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list reports", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// summary handles GET /api/v1/reports/summary — report counts by status.
func (h *reportHandler) summary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.reports.Summary(r.Context())
	if err != nil {
		h.logger.Error("summarizing reports", "error", err)
		writeError(w, http.StatusInternalServerError, "summary_failed", "failed to summarize reports", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"by_status": counts}, h.logger)
}

// download handles GET /api/v1/reports/download/{id}?format=json|csv.
// Serves the exported file written by generate.
func (h *reportHandler) download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !reportIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid_id", "report ID must look like REP-XXXXXXXX", h.logger)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	var path, contentType string
	switch format {
	case "json":
		path = h.generator.JSONPath(id)
		contentType = "application/json"
	case "csv":
		path = h.generator.CSVPath(id)
		contentType = "text/csv"
	default:
		writeError(w, http.StatusBadRequest, "invalid_format", "format must be json or csv", h.logger)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.`+format+`"`)
	http.ServeFile(w, r, path)
}

// schemaValidation handles GET /api/v1/reports/schema-validation/{id} —
// re-reads the exported JSON and checks it against the government schema.
func (h *reportHandler) schemaValidation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !reportIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid_id", "report ID must look like REP-XXXXXXXX", h.logger)
		return
	}

	issues, err := h.generator.ValidateExport(id)
	if err != nil {
		h.logger.Error("validating report export", "error", err, "report_id", id)
		writeError(w, http.StatusNotFound, "export_missing", "report export not found; run generate first", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report_id": id,
		"valid":     len(issues) == 0,
		"issues":    issues,
	}, h.logger)
}
