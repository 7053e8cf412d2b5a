package rag

// retriever.go wraps the Genkit retriever with filter construction for
// regulation searches.

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/plugins/postgresql"
)

// ErrInvalidFilter reports a metadata filter value outside the allowed
// character set. Callers map it to a client error.
var ErrInvalidFilter = errors.New("invalid filter value")

// Default and maximum TopK values for regulation searches.
const (
	DefaultTopK = 5
	MaxTopK     = 20
)

// filterValuePattern restricts metadata filter values to identifier-like
// strings. Filter values are interpolated into a SQL WHERE clause by the
// postgresql plugin, so anything outside this set is rejected outright
// rather than escaped.
var filterValuePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Searcher performs filtered semantic searches over regulation chunks.
type Searcher struct {
	retriever ai.Retriever
}

// NewSearcher creates a Searcher over the given Genkit retriever.
func NewSearcher(retriever ai.Retriever) *Searcher {
	return &Searcher{retriever: retriever}
}

// Search retrieves the topK regulation chunks most similar to query,
// optionally restricted by domain and entity type.
func (s *Searcher) Search(ctx context.Context, query, domain, entityType string, topK int) ([]*ai.Document, error) {
	filter, err := buildFilter(domain, entityType)
	if err != nil {
		return nil, err
	}

	req := &ai.RetrieverRequest{
		Query: ai.DocumentFromText(query, nil),
		Options: &postgresql.RetrieverOptions{
			Filter: filter,
			K:      clampTopK(topK),
		},
	}

	resp, err := s.retriever.Retrieve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieving regulation chunks: %w", err)
	}
	return resp.Documents, nil
}

// buildFilter composes a SQL WHERE clause from validated filter values.
//
// SECURITY: values are validated against filterValuePattern before
// interpolation; only [a-z0-9_-] can reach the SQL filter (CWE-89
// defense-in-depth, the pattern check is the primary gate).
func buildFilter(domain, entityType string) (string, error) {
	var filter string
	if domain != "" {
		if !filterValuePattern.MatchString(domain) {
			return "", fmt.Errorf("%w: domain %q", ErrInvalidFilter, domain)
		}
		filter = "domain = '" + domain + "'"
	}
	if entityType != "" {
		if !filterValuePattern.MatchString(entityType) {
			return "", fmt.Errorf("%w: entity type %q", ErrInvalidFilter, entityType)
		}
		clause := "entity_type = '" + entityType + "'"
		if filter != "" {
			filter += " AND " + clause
		} else {
			filter = clause
		}
	}
	return filter, nil
}

// clampTopK validates topK and returns a value within [1, MaxTopK].
func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}
