package agent

// regulation.go implements the regulation fetcher agent. It pulls regulation
// text from configured official sources (or asks the model when no source is
// configured), structures it into Regulation documents, and stores them.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/rag"
	"github.com/taxpilot/taxpilot/internal/store"
)

// RegulationFetcherName is the agent name used in execution audit logs.
const RegulationFetcherName = "regulation_fetcher"

// Source is an official regulation source page for one tax domain.
type Source struct {
	URL        string
	Domain     string
	EntityType string
}

// DefaultSources lists the regulation source pages scraped when the caller
// does not supply any.
var DefaultSources = []Source{
	{URL: "https://www.cbic.gov.in/entities/cbic-content-mst/NzE%3D", Domain: "gst", EntityType: "company"},
	{URL: "https://incometaxindia.gov.in/Pages/acts/income-tax-act.aspx", Domain: "tds", EntityType: "company"},
}

// FetchResult summarizes a regulation fetch run.
type FetchResult struct {
	Fetched int                 `json:"fetched"`
	Stored  int                 `json:"stored"`
	Failed  []string            `json:"failed,omitempty"`
	Items   []models.Regulation `json:"items"`
}

// SyncResult summarizes a vector index sync.
type SyncResult struct {
	Indexed int `json:"indexed"`
	Chunks  int `json:"chunks"`
}

// RegulationFetcher fetches, structures, and indexes tax regulations.
type RegulationFetcher struct {
	runtime *Runtime
	scraper *Scraper
	regs    *store.RegulationRepo
	indexer *rag.Indexer
	logger  log.Logger
}

// NewRegulationFetcher creates the regulation fetcher agent.
func NewRegulationFetcher(runtime *Runtime, scraper *Scraper, regs *store.RegulationRepo, indexer *rag.Indexer, logger log.Logger) *RegulationFetcher {
	return &RegulationFetcher{
		runtime: runtime,
		scraper: scraper,
		regs:    regs,
		indexer: indexer,
		logger:  logger,
	}
}

// structuredRegulation is the JSON shape the model returns per regulation.
type structuredRegulation struct {
	RegulationID  string `json:"regulation_id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	Domain        string `json:"domain"`
	EntityType    string `json:"entity_type"`
	EffectiveFrom string `json:"effective_from"`
}

// Fetch scrapes the given sources (DefaultSources when empty), structures the
// scraped text into regulations via the model, and upserts them. Regulations
// are stored unindexed; Sync pushes them into the vector store.
func (f *RegulationFetcher) Fetch(ctx context.Context, sources []Source) (*FetchResult, error) {
	if len(sources) == 0 {
		sources = DefaultSources
	}

	input := fmt.Sprintf("%d sources", len(sources))
	result := &FetchResult{}

	_, err := f.runtime.Track(ctx, RegulationFetcherName, input, func(ctx context.Context) (string, error) {
		for _, src := range sources {
			regs, err := f.fetchSource(ctx, src)
			if err != nil {
				f.logger.Warn("source fetch failed", "url", src.URL, "error", err)
				result.Failed = append(result.Failed, src.URL)
				continue
			}
			result.Fetched += len(regs)
			result.Items = append(result.Items, regs...)
		}

		if len(result.Items) == 0 {
			return "", fmt.Errorf("no regulations fetched from %d sources", len(sources))
		}

		if err := f.regs.UpsertMany(ctx, result.Items); err != nil {
			return "", err
		}
		result.Stored = len(result.Items)

		return fmt.Sprintf("stored %d regulations", result.Stored), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fetchSource scrapes one source and asks the model to structure the text.
func (f *RegulationFetcher) fetchSource(ctx context.Context, src Source) ([]models.Regulation, error) {
	var pageText string
	page, err := f.scraper.Fetch(src.URL)
	if err != nil {
		// Sources behind bot protection still get structured coverage: the
		// model falls back to its own knowledge of the domain.
		f.logger.Warn("scrape failed, falling back to model knowledge",
			"url", src.URL, "error", err)
	} else {
		pageText = truncate(page.Content, 20000)
	}

	prompt := structurePrompt(src, pageText)
	raw, err := f.runtime.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("structuring regulations for %s: %w", src.Domain, err)
	}

	var structured []structuredRegulation
	if err := unmarshalModelJSON(raw, &structured); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	regs := make([]models.Regulation, 0, len(structured))
	for _, sr := range structured {
		if sr.RegulationID == "" || sr.Content == "" {
			continue
		}
		reg := models.Regulation{
			RegulationID: normalizeRegulationID(sr.RegulationID, src.Domain),
			Title:        sr.Title,
			Content:      sr.Content,
			Domain:       src.Domain,
			EntityType:   src.EntityType,
			SourceURL:    src.URL,
			FetchedAt:    now,
			Indexed:      false,
		}
		if ts, err := time.Parse("2006-01-02", sr.EffectiveFrom); err == nil {
			reg.EffectiveFrom = ts
		}
		regs = append(regs, reg)
	}
	if len(regs) == 0 {
		return nil, fmt.Errorf("model returned no usable regulations for %s", src.Domain)
	}
	return regs, nil
}

func structurePrompt(src Source, pageText string) string {
	var sb strings.Builder
	sb.WriteString("You are a tax regulation analyst. ")
	if pageText != "" {
		sb.WriteString("Extract the distinct regulations from the source text below. ")
	} else {
		fmt.Fprintf(&sb, "List the key current %s regulations for %s entities in India. ",
			strings.ToUpper(src.Domain), src.EntityType)
	}
	sb.WriteString("Return ONLY a JSON array where each element has: ")
	sb.WriteString(`"regulation_id" (short stable identifier), "title", `)
	sb.WriteString(`"content" (the full rule text, self-contained), `)
	fmt.Fprintf(&sb, `"domain" (%q), "entity_type" (%q), `, src.Domain, src.EntityType)
	sb.WriteString(`"effective_from" (YYYY-MM-DD or empty).`)
	if pageText != "" {
		sb.WriteString("\n\nSource text:\n")
		sb.WriteString(pageText)
	}
	return sb.String()
}

// normalizeRegulationID lowercases and prefixes a model-chosen ID so IDs are
// stable across runs and unique per domain.
func normalizeRegulationID(id, domain string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ', r == '/', r == '.':
			return '-'
		}
		return -1
	}, id)
	if !strings.HasPrefix(id, domain+"-") {
		id = domain + "-" + id
	}
	return id
}

// Sync indexes all regulations not yet present in the vector store and marks
// them indexed.
func (f *RegulationFetcher) Sync(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{}

	_, err := f.runtime.Track(ctx, RegulationFetcherName, "sync", func(ctx context.Context) (string, error) {
		pending, err := f.regs.ListUnindexed(ctx)
		if err != nil {
			return "", err
		}
		if len(pending) == 0 {
			return "nothing to index", nil
		}

		ir, err := f.indexer.IndexRegulations(ctx, pending)
		if err != nil {
			return "", err
		}

		ids := make([]string, 0, len(pending))
		for i := range pending {
			ids = append(ids, pending[i].RegulationID)
		}
		if err := f.regs.MarkIndexed(ctx, ids); err != nil {
			return "", err
		}

		result.Indexed = ir.Regulations
		result.Chunks = ir.Chunks
		return fmt.Sprintf("indexed %d regulations (%d chunks)", ir.Regulations, ir.Chunks), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// marshalCompact renders v as compact JSON for audit log output fields.
func marshalCompact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
