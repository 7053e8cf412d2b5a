package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/taxpilot/taxpilot/internal/rag"
)

// maxRAGQueryLength caps question length in bytes.
const maxRAGQueryLength = 2000

// ragHandler serves the retrieval-augmented question endpoints.
type ragHandler struct {
	engine *rag.Engine
	logger *slog.Logger
}

// ragQueryRequest is the body for query and hybrid-search.
type ragQueryRequest struct {
	Query      string `json:"query"`
	Domain     string `json:"domain,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

func (h *ragHandler) validQuery(w http.ResponseWriter, r *http.Request, req *ragQueryRequest) bool {
	if !decodeJSON(w, r, req, h.logger) {
		return false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required", h.logger)
		return false
	}
	if len(req.Query) > maxRAGQueryLength {
		writeError(w, http.StatusBadRequest, "query_too_long", "query must be 2000 characters or fewer", h.logger)
		return false
	}
	return true
}

// query handles POST /api/v1/rag/query — grounded answer generation.
func (h *ragHandler) query(w http.ResponseWriter, r *http.Request) {
	var req ragQueryRequest
	if !h.validQuery(w, r, &req) {
		return
	}

	answer, err := h.engine.Query(r.Context(), req.Query, req.Domain, req.EntityType, req.TopK)
	if err != nil {
		if errors.Is(err, rag.ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, "invalid_filter",
				"domain and entity_type filters must match [a-z0-9_-]", h.logger)
			return
		}
		h.logger.Error("answering rag query", "error", err, "query_len", len(req.Query))
		writeError(w, http.StatusInternalServerError, "query_failed", "failed to answer query", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, answer, h.logger)
}

// hybridSearch handles POST /api/v1/rag/hybrid-search — vector similarity
// re-ranked with keyword overlap, no generation.
func (h *ragHandler) hybridSearch(w http.ResponseWriter, r *http.Request) {
	var req ragQueryRequest
	if !h.validQuery(w, r, &req) {
		return
	}

	docs, err := h.engine.HybridSearch(r.Context(), req.Query, req.Domain, req.EntityType, req.TopK)
	if err != nil {
		if errors.Is(err, rag.ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, "invalid_filter",
				"domain and entity_type filters must match [a-z0-9_-]", h.logger)
			return
		}
		h.logger.Error("hybrid search", "error", err, "query_len", len(req.Query))
		writeError(w, http.StatusInternalServerError, "search_failed", "hybrid search failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"total": len(docs),
	}, h.logger)
}

// capabilities handles GET /api/v1/rag/capabilities.
func (h *ragHandler) capabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"vector_dimension": rag.VectorDimension,
		"chunk_size":       rag.ChunkSize,
		"chunk_overlap":    rag.ChunkOverlap,
		"default_top_k":    rag.DefaultTopK,
		"max_top_k":        rag.MaxTopK,
		"filters":          []string{"domain", "entity_type"},
		"hybrid_search":    true,
		"answer_cache":     h.engine.CacheEnabled(),
	}, h.logger)
}
