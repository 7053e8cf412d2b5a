package api

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/ingest"
	"github.com/taxpilot/taxpilot/internal/store"
)

// maxUploadSize caps CSV uploads at 10 MiB.
const maxUploadSize = 10 << 20

// filingHandler serves the filing preparation endpoints.
type filingHandler struct {
	aggregator *agent.FilingAggregator
	parser     *ingest.Parser
	txs        *store.TransactionRepo
	reports    *store.FilingReportRepo
	logger     *slog.Logger
}

// upload handles POST /api/v1/filing/upload — a multipart CSV of
// transactions. Parsed rows are stored; duplicate transaction IDs are
// skipped.
func (h *filingHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "expected multipart form with a 'file' field", h.logger)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "form field 'file' is required", h.logger)
		return
	}
	defer file.Close()

	txs, result, err := h.parser.Parse(r.Context(), file)
	if err != nil {
		h.logger.Warn("parsing uploaded CSV", "error", err, "filename", header.Filename)
		writeError(w, http.StatusBadRequest, "parse_failed", err.Error(), h.logger)
		return
	}

	inserted, err := h.txs.InsertMany(r.Context(), txs)
	if err != nil {
		h.logger.Error("storing uploaded transactions", "error", err, "parsed", len(txs))
		writeError(w, http.StatusInternalServerError, "store_failed", "failed to store transactions", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filename":   header.Filename,
		"parsed":     result.Parsed,
		"skipped":    result.Skipped,
		"inserted":   inserted,
		"duplicates": len(txs) - inserted,
		"errors":     result.Errors,
	}, h.logger)
}

// generateRequest selects a filing aggregation.
type generateRequest struct {
	FilingType string `json:"filing_type"`
	Period     string `json:"period"`
}

// generate handles POST /api/v1/filing/generate — aggregates stored
// transactions into a filing report for the period.
func (h *filingHandler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if req.Period == "" {
		writeError(w, http.StatusBadRequest, "missing_period", "period is required (YYYY-MM or YYYY-Qn)", h.logger)
		return
	}
	if _, _, err := agent.ParsePeriod(req.Period); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_period", err.Error(), h.logger)
		return
	}

	rep, err := h.aggregator.Aggregate(r.Context(), req.FilingType, req.Period)
	if err != nil {
		h.logger.Error("aggregating filing", "error", err, "filing_type", req.FilingType, "period", req.Period)
		writeError(w, http.StatusInternalServerError, "generate_failed", "filing aggregation failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, rep, h.logger)
}

// readinessSummary handles GET /api/v1/filing/readiness-summary — report
// counts by status plus transaction compliance counts.
func (h *filingHandler) readinessSummary(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.Summary(r.Context())
	if err != nil {
		h.logger.Error("summarizing filing reports", "error", err)
		writeError(w, http.StatusInternalServerError, "summary_failed", "failed to summarize reports", h.logger)
		return
	}

	txs, err := h.txs.CountByStatus(r.Context())
	if err != nil {
		h.logger.Error("counting transactions by status", "error", err)
		writeError(w, http.StatusInternalServerError, "summary_failed", "failed to summarize transactions", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports":      reports,
		"transactions": txs,
	}, h.logger)
}

// filingTypes handles GET /api/v1/filing/filing-types.
func (h *filingHandler) filingTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"filing_types": agent.FilingTypes,
	}, h.logger)
}

// periods handles GET /api/v1/filing/periods — the last 12 monthly and 4
// quarterly periods, newest first.
func (h *filingHandler) periods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"monthly":   recentMonths(12),
		"quarterly": recentQuarters(4),
	}, h.logger)
}

func recentMonths(n int) []string {
	now := time.Now().UTC()
	months := make([]string, 0, n)
	for i := range n {
		months = append(months, now.AddDate(0, -i, 0).Format("2006-01"))
	}
	return months
}

func recentQuarters(n int) []string {
	now := time.Now().UTC()
	seen := make(map[string]struct{})
	quarters := make([]string, 0, n)
	for i := 0; len(quarters) < n; i++ {
		t := now.AddDate(0, -3*i, 0)
		q := (int(t.Month())-1)/3 + 1
		p := t.Format("2006") + "-Q" + string(rune('0'+q))
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		quarters = append(quarters, p)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(quarters)))
	return quarters
}
