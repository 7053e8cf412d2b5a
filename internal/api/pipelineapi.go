package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/taxpilot/taxpilot/internal/ingest"
	"github.com/taxpilot/taxpilot/internal/pipeline"
	"github.com/taxpilot/taxpilot/internal/store"
)

// pipelineHandler serves the end-to-end pipeline endpoints.
type pipelineHandler struct {
	pipe     *pipeline.Pipeline
	parser   *ingest.Parser
	txs      *store.TransactionRepo
	execLogs *store.ExecutionLogRepo
	logger   *slog.Logger
}

// runRequest configures a pipeline run over already-stored transactions.
type runRequest struct {
	FilingType string `json:"filing_type"`
	Period     string `json:"period"`
	SkipFetch  bool   `json:"skip_fetch"`
}

// run handles POST /api/v1/pipeline/run. Accepts either a multipart form
// with a CSV 'file' (ingested before the run, options in form fields) or a
// JSON body selecting a period over stored transactions.
func (h *pipelineHandler) run(w http.ResponseWriter, r *http.Request) {
	opts := pipeline.Options{}
	var ingested int

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		n, ok := h.ingestUpload(w, r, &opts)
		if !ok {
			return
		}
		ingested = n
	} else {
		var req runRequest
		if r.ContentLength > 0 && !decodeJSON(w, r, &req, h.logger) {
			return
		}
		opts.FilingType = req.FilingType
		opts.Period = req.Period
		opts.SkipFetch = req.SkipFetch
	}

	result, err := h.pipe.Run(r.Context(), opts)
	if err != nil {
		h.logger.Error("running pipeline", "error", err)
		// Partial step results still describe how far the run got.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    errorBody{Code: "pipeline_failed", Message: err.Error()},
			"ingested": ingested,
			"result":   result,
		}, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ingested": ingested,
		"result":   result,
	}, h.logger)
}

// executions handles GET /api/v1/pipeline/executions?agent=...&limit=50 —
// the most recent agent execution audit records.
func (h *pipelineHandler) executions(w http.ResponseWriter, r *http.Request) {
	agentName := r.URL.Query().Get("agent")
	limit := min(parseIntParam(r, "limit", 50), 200)

	logs, err := h.execLogs.Recent(r.Context(), agentName, int64(limit))
	if err != nil {
		h.logger.Error("listing executions", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list executions", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": logs,
		"total": len(logs),
	}, h.logger)
}

// ingestUpload parses the multipart CSV and stores its transactions,
// filling run options from the form fields. Returns the inserted count.
func (h *pipelineHandler) ingestUpload(w http.ResponseWriter, r *http.Request, opts *pipeline.Options) (int, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "expected multipart form with a 'file' field", h.logger)
		return 0, false
	}

	opts.FilingType = r.FormValue("filing_type")
	opts.Period = r.FormValue("period")
	opts.SkipFetch = r.FormValue("skip_fetch") == "true"

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "form field 'file' is required", h.logger)
		return 0, false
	}
	defer file.Close()

	txs, _, err := h.parser.Parse(r.Context(), file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_failed", err.Error(), h.logger)
		return 0, false
	}

	// No explicit period means the run covers the uploaded data's date range.
	if opts.Period == "" {
		if period, ok := ingest.DetectPeriod(txs); ok {
			opts.Period = period
		}
	}

	inserted, err := h.txs.InsertMany(r.Context(), txs)
	if err != nil {
		h.logger.Error("storing pipeline upload", "error", err, "parsed", len(txs))
		writeError(w, http.StatusInternalServerError, "store_failed", "failed to store transactions", h.logger)
		return 0, false
	}

	return inserted, true
}
