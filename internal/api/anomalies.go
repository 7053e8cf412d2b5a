package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/store"
)

// anomalyHandler serves the anomaly detection endpoints.
type anomalyHandler struct {
	detector  *agent.AnomalyDetector
	anomalies *store.AnomalyRepo
	logger    *slog.Logger
}

// detect handles POST /api/v1/anomalies/detect — runs the detector over the
// stored transactions and persists what it finds.
func (h *anomalyHandler) detect(w http.ResponseWriter, r *http.Request) {
	result, err := h.detector.Detect(r.Context())
	if err != nil {
		h.logger.Error("detecting anomalies", "error", err)
		writeError(w, http.StatusInternalServerError, "detect_failed", "anomaly detection failed", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, result, h.logger)
}

// list handles GET /api/v1/anomalies?type=...&severity=...&status=open&limit=50.
// Status defaults to open; "all" lists every lifecycle state.
func (h *anomalyHandler) list(w http.ResponseWriter, r *http.Request) {
	typ := models.AnomalyType(r.URL.Query().Get("type"))
	severity := models.Severity(r.URL.Query().Get("severity"))
	limit := min(parseIntParam(r, "limit", 50), 200)

	status := models.AnomalyOpen
	if raw := r.URL.Query().Get("status"); raw != "" {
		if raw == "all" {
			status = ""
		} else {
			parsed, ok := models.ParseAnomalyStatus(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_status",
					"status must be open, resolved, ignored, or all", h.logger)
				return
			}
			status = parsed
		}
	}

	items, err := h.anomalies.List(r.Context(), typ, severity, status, int64(limit))
	if err != nil {
		h.logger.Error("listing anomalies", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list anomalies", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// summary handles GET /api/v1/anomalies/summary — open counts grouped by
// type and severity.
func (h *anomalyHandler) summary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.anomalies.Summary(r.Context())
	if err != nil {
		h.logger.Error("summarizing anomalies", "error", err)
		writeError(w, http.StatusInternalServerError, "summary_failed", "failed to summarize anomalies", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"by_type": counts}, h.logger)
}

// resolve handles POST /api/v1/anomalies/{id}/resolve.
func (h *anomalyHandler) resolve(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.AnomalyResolved, h.anomalies.Resolve)
}

// ignore handles POST /api/v1/anomalies/{id}/ignore — drops the anomaly out
// of open views without claiming it was fixed.
func (h *anomalyHandler) ignore(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.AnomalyIgnored, h.anomalies.Ignore)
}

func (h *anomalyHandler) setStatus(w http.ResponseWriter, r *http.Request, status models.AnomalyStatus, update func(context.Context, string) error) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "anomaly ID required", h.logger)
		return
	}

	if err := update(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "anomaly not found", h.logger)
			return
		}
		h.logger.Error("updating anomaly status", "error", err, "anomaly_id", id, "status", status)
		writeError(w, http.StatusInternalServerError, "update_failed", "failed to update anomaly", h.logger)
		return
	}

	a, err := h.anomalies.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("reloading anomaly", "error", err, "anomaly_id", id)
		writeError(w, http.StatusInternalServerError, "update_failed", "failed to reload anomaly", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, a, h.logger)
}

// types handles GET /api/v1/anomalies/types — the anomaly taxonomy.
func (h *anomalyHandler) types(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"types":      []models.AnomalyType{models.AnomalyDuplicate, models.AnomalyMismatch, models.AnomalySuspicious},
		"severities": []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical},
		"statuses":   []models.AnomalyStatus{models.AnomalyOpen, models.AnomalyResolved, models.AnomalyIgnored},
	}, h.logger)
}

// quickFixes handles GET /api/v1/anomalies/quick-fixes?limit=10 — generates
// suggested fixes for open anomalies that don't have one yet.
func (h *anomalyHandler) quickFixes(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", 10), 50)

	fixed, err := h.detector.QuickFixes(r.Context(), int64(limit))
	if err != nil {
		h.logger.Error("generating quick fixes", "error", err)
		writeError(w, http.StatusInternalServerError, "quick_fixes_failed", "failed to generate quick fixes", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": fixed,
		"total": len(fixed),
	}, h.logger)
}
