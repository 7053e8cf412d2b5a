package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/rag"
	"github.com/taxpilot/taxpilot/internal/store"
)

// regulationHandler serves the regulation corpus endpoints.
type regulationHandler struct {
	fetcher  *agent.RegulationFetcher
	searcher *rag.Searcher
	regs     *store.RegulationRepo
	logger   *slog.Logger
}

// fetchRequest selects which source pages to scrape. Empty sources means
// the built-in defaults.
type fetchRequest struct {
	Sources []struct {
		URL        string `json:"url"`
		Domain     string `json:"domain"`
		EntityType string `json:"entity_type"`
	} `json:"sources"`
}

// fetch handles POST /api/v1/regulations/fetch.
func (h *regulationHandler) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req, h.logger) {
		return
	}

	sources := make([]agent.Source, 0, len(req.Sources))
	for _, s := range req.Sources {
		if s.URL == "" {
			writeError(w, http.StatusBadRequest, "missing_url", "each source needs a url", h.logger)
			return
		}
		sources = append(sources, agent.Source{URL: s.URL, Domain: s.Domain, EntityType: s.EntityType})
	}

	result, err := h.fetcher.Fetch(r.Context(), sources)
	if err != nil {
		h.logger.Error("fetching regulations", "error", err)
		writeError(w, http.StatusInternalServerError, "fetch_failed", "regulation fetch failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, result, h.logger)
}

// sync handles POST /api/v1/regulations/sync — pushes unindexed regulations
// into the vector store.
func (h *regulationHandler) sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.fetcher.Sync(r.Context())
	if err != nil {
		h.logger.Error("syncing regulations", "error", err)
		writeError(w, http.StatusInternalServerError, "sync_failed", "regulation sync failed", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, result, h.logger)
}

// search handles GET /api/v1/regulations/search?q=...&domain=...&entity_type=...&top_k=5.
// Direct corpus matches and vector hits are merged, deduplicated by title,
// and sorted by title.
func (h *regulationHandler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query parameter 'q' is required", h.logger)
		return
	}

	domain := r.URL.Query().Get("domain")
	entityType := r.URL.Query().Get("entity_type")
	topK := parseIntParam(r, "top_k", rag.DefaultTopK)
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	topK = min(topK, rag.MaxTopK)

	docs, err := h.searcher.Search(r.Context(), query, domain, entityType, topK)
	if err != nil {
		if errors.Is(err, rag.ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, "invalid_filter",
				"domain and entity_type filters must match [a-z0-9_-]", h.logger)
			return
		}
		h.logger.Error("searching regulations", "error", err, "query_len", len(query))
		writeError(w, http.StatusInternalServerError, "search_failed", "regulation search failed", h.logger)
		return
	}

	regs, err := h.regs.Search(r.Context(), query, domain, entityType, int64(topK))
	if err != nil {
		h.logger.Error("searching regulation corpus", "error", err, "query_len", len(query))
		writeError(w, http.StatusInternalServerError, "search_failed", "regulation search failed", h.logger)
		return
	}

	items := mergeSearchResults(regs, rag.SourcesFromDocuments(docs))
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// mergeSearchResults combines direct corpus matches with vector hits,
// keeping the first result per title.
func mergeSearchResults(regs []models.Regulation, hits []rag.Source) []rag.Source {
	merged := make([]rag.Source, 0, len(regs)+len(hits))
	seen := make(map[string]bool, len(regs)+len(hits))

	add := func(s rag.Source) {
		key := strings.ToLower(strings.TrimSpace(s.Title))
		if key == "" {
			key = s.RegulationID
		}
		if seen[key] {
			return
		}
		seen[key] = true
		merged = append(merged, s)
	}

	for i := range regs {
		add(rag.Source{
			RegulationID: regs[i].RegulationID,
			Title:        regs[i].Title,
			Excerpt:      rag.Excerpt(regs[i].Content),
		})
	}
	for _, hit := range hits {
		add(hit)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Title < merged[j].Title })
	return merged
}

// get handles GET /api/v1/regulations/{id}.
func (h *regulationHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reg, err := h.regs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "regulation not found", h.logger)
			return
		}
		h.logger.Error("loading regulation", "error", err, "regulation_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to load regulation", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, reg, h.logger)
}

// stats handles GET /api/v1/regulations/stats — corpus size plus the
// distinct domains and entity types.
func (h *regulationHandler) stats(w http.ResponseWriter, r *http.Request) {
	total, err := h.regs.Count(r.Context())
	if err != nil {
		h.logger.Error("counting regulations", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "failed to compute corpus stats", h.logger)
		return
	}
	domains, err := h.regs.Domains(r.Context())
	if err != nil {
		h.logger.Error("listing regulation domains", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "failed to compute corpus stats", h.logger)
		return
	}
	types, err := h.regs.EntityTypes(r.Context())
	if err != nil {
		h.logger.Error("listing regulation entity types", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "failed to compute corpus stats", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        total,
		"domains":      domains,
		"entity_types": types,
	}, h.logger)
}

// domains handles GET /api/v1/regulations/domains.
func (h *regulationHandler) domains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.regs.Domains(r.Context())
	if err != nil {
		h.logger.Error("listing regulation domains", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list domains", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": domains}, h.logger)
}

// entityTypes handles GET /api/v1/regulations/entity-types.
func (h *regulationHandler) entityTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.regs.EntityTypes(r.Context())
	if err != nil {
		h.logger.Error("listing regulation entity types", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list entity types", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_types": types}, h.logger)
}
