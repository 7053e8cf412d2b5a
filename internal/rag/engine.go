package rag

// engine.go answers tax questions grounded on retrieved regulation chunks
// and provides hybrid (vector + keyword) search.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/taxpilot/taxpilot/internal/log"
)

// AnswerCache caches generated answers keyed by normalized query.
// The Redis implementation lives in internal/cache; a nil cache disables
// caching entirely.
type AnswerCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Answer is a grounded response with its supporting sources.
type Answer struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Cached  bool     `json:"cached"`
}

// Source identifies one regulation chunk used to ground an answer.
type Source struct {
	RegulationID string  `json:"regulation_id"`
	Title        string  `json:"title,omitempty"`
	Excerpt      string  `json:"excerpt"`
	Similarity   float64 `json:"similarity,omitempty"`
}

// ScoredDocument is a hybrid search result with its combined score.
type ScoredDocument struct {
	Content      string  `json:"content"`
	RegulationID string  `json:"regulation_id"`
	Title        string  `json:"title,omitempty"`
	Score        float64 `json:"score"`
}

// Engine answers questions over the regulation index.
type Engine struct {
	g         *genkit.Genkit
	searcher  *Searcher
	cache     AnswerCache // nil disables caching
	modelName string
	logger    log.Logger
}

// NewEngine creates an Engine. cache may be nil.
func NewEngine(g *genkit.Genkit, searcher *Searcher, cache AnswerCache, modelName string, logger log.Logger) *Engine {
	return &Engine{
		g:         g,
		searcher:  searcher,
		cache:     cache,
		modelName: modelName,
		logger:    logger,
	}
}

// CacheEnabled reports whether an answer cache is configured.
func (e *Engine) CacheEnabled() bool {
	return e.cache != nil
}

const maxExcerptLen = 300

// Query retrieves regulation context for the question and generates a
// grounded answer. Cache hits skip both retrieval and generation.
func (e *Engine) Query(ctx context.Context, query, domain, entityType string, topK int) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	cacheKey := answerCacheKey(query, domain, entityType)
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, cacheKey); err != nil {
			e.logger.Warn("answer cache read failed", "error", err)
		} else if ok {
			return &Answer{Query: query, Answer: cached, Cached: true}, nil
		}
	}

	docs, err := e.searcher.Search(ctx, query, domain, entityType, topK)
	if err != nil {
		return nil, err
	}

	answer, err := e.generate(ctx, query, docs)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, cacheKey, answer); err != nil {
			e.logger.Warn("answer cache write failed", "error", err)
		}
	}

	return &Answer{
		Query:   query,
		Answer:  answer,
		Sources: SourcesFromDocuments(docs),
	}, nil
}

func (e *Engine) generate(ctx context.Context, query string, docs []*ai.Document) (string, error) {
	var sb strings.Builder
	sb.WriteString("You are a tax compliance assistant. Answer the question using only the regulation excerpts below. ")
	sb.WriteString("If the excerpts do not contain the answer, say so explicitly.\n\n")
	if len(docs) == 0 {
		sb.WriteString("(no relevant regulation excerpts were found)\n")
	}
	for i, doc := range docs {
		fmt.Fprintf(&sb, "--- Excerpt %d", i+1)
		if title, ok := doc.Metadata["title"].(string); ok && title != "" {
			fmt.Fprintf(&sb, " (%s)", title)
		}
		sb.WriteString(" ---\n")
		sb.WriteString(documentText(doc))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)

	resp, err := genkit.Generate(ctx, e.g,
		ai.WithModelName(e.modelName),
		ai.WithPrompt(sb.String()),
	)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// HybridSearch combines vector similarity with keyword overlap.
// Vector retrieval supplies the candidate set; each candidate's score is the
// retriever similarity (when present) plus a keyword-overlap bonus, then the
// set is re-ranked.
func (e *Engine) HybridSearch(ctx context.Context, query, domain, entityType string, topK int) ([]ScoredDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	// Over-fetch candidates so keyword re-ranking has room to reorder.
	candidates, err := e.searcher.Search(ctx, query, domain, entityType, clampTopK(topK)*2)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	scored := make([]ScoredDocument, 0, len(candidates))
	for _, doc := range candidates {
		content := documentText(doc)
		sd := ScoredDocument{Content: content}
		if id, ok := doc.Metadata["regulation_id"].(string); ok {
			sd.RegulationID = id
		}
		if title, ok := doc.Metadata["title"].(string); ok {
			sd.Title = title
		}
		if sim, ok := doc.Metadata["similarity"].(float64); ok {
			sd.Score = sim
		}
		sd.Score += keywordOverlap(terms, content)
		scored = append(scored, sd)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	k := clampTopK(topK)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// answerCacheKey derives a stable cache key from the normalized query and
// filters.
func answerCacheKey(query, domain, entityType string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	hash := sha256.Sum256([]byte(normalized + "|" + domain + "|" + entityType))
	return "rag:answer:" + hex.EncodeToString(hash[:16])
}

// queryTerms lowercases and splits the query, dropping short stop-ish terms.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:?!\"'()")
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

// keywordOverlap returns the fraction of query terms present in content,
// scaled to [0, 0.5] so vector similarity stays the dominant signal.
func keywordOverlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return 0.5 * float64(matched) / float64(len(terms))
}

// documentText concatenates a document's text parts.
func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, part := range doc.Content {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// Excerpt trims content to the transport excerpt length.
func Excerpt(s string) string {
	return truncate(s, maxExcerptLen)
}

// SourcesFromDocuments converts retrieved documents into their source
// summaries, truncating excerpts for transport.
func SourcesFromDocuments(docs []*ai.Document) []Source {
	sources := make([]Source, 0, len(docs))
	for _, doc := range docs {
		src := Source{Excerpt: truncate(documentText(doc), maxExcerptLen)}
		if id, ok := doc.Metadata["regulation_id"].(string); ok {
			src.RegulationID = id
		}
		if title, ok := doc.Metadata["title"].(string); ok {
			src.Title = title
		}
		if sim, ok := doc.Metadata["similarity"].(float64); ok {
			src.Similarity = sim
		}
		sources = append(sources, src)
	}
	return sources
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
