package rag

// indexer.go chunks regulation content and writes the chunks to the
// pgvector-backed document store.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/plugins/postgresql"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
)

// DocIndexer is the subset of *postgresql.DocStore the Indexer needs.
// Defined by the consumer so tests can substitute a fake.
type DocIndexer interface {
	Index(ctx context.Context, docs []*ai.Document) error
}

// compile-time check that the production DocStore satisfies the interface
var _ DocIndexer = (*postgresql.DocStore)(nil)

// IndexResult summarizes one indexing run.
type IndexResult struct {
	Regulations int
	Chunks      int
	Duration    time.Duration
}

// Indexer writes regulation chunks into the vector store.
type Indexer struct {
	docStore DocIndexer
	logger   log.Logger
}

// NewIndexer creates an Indexer over the given document store.
func NewIndexer(docStore DocIndexer, logger log.Logger) *Indexer {
	return &Indexer{docStore: docStore, logger: logger}
}

// IndexRegulations chunks each regulation and indexes every chunk.
// Chunk document IDs are deterministic (regulation_id + chunk ordinal), so
// re-indexing the same regulation overwrites its previous chunks in place.
func (idx *Indexer) IndexRegulations(ctx context.Context, regs []models.Regulation) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	for i := range regs {
		reg := &regs[i]
		chunks := ChunkText(reg.Content, ChunkSize, ChunkOverlap)
		if len(chunks) == 0 {
			continue
		}

		docs := make([]*ai.Document, 0, len(chunks))
		for n, chunk := range chunks {
			metadata := map[string]any{
				"id":            chunkDocID(reg.RegulationID, n),
				"regulation_id": reg.RegulationID,
				"domain":        reg.Domain,
				"entity_type":   reg.EntityType,
				"title":         reg.Title,
				"chunk":         n,
				"indexed_at":    time.Now().Format(time.RFC3339),
			}
			docs = append(docs, ai.DocumentFromText(chunk, metadata))
		}

		if err := idx.docStore.Index(ctx, docs); err != nil {
			return result, fmt.Errorf("indexing regulation %s: %w", reg.RegulationID, err)
		}

		result.Regulations++
		result.Chunks += len(docs)
	}

	result.Duration = time.Since(start)
	idx.logger.Info("regulations indexed",
		"regulations", result.Regulations,
		"chunks", result.Chunks,
		"duration", result.Duration)
	return result, nil
}

// chunkDocID generates a deterministic chunk document ID.
// The hash covers the regulation ID only; the ordinal keeps sibling chunks
// distinct while re-indexing stays idempotent.
func chunkDocID(regulationID string, n int) string {
	hash := sha256.Sum256([]byte(regulationID))
	return fmt.Sprintf("reg_%s_%04d", hex.EncodeToString(hash[:8]), n)
}

// ChunkText splits text into overlapping chunks of at most size runes.
// Splits prefer paragraph then sentence boundaries near the target size.
// overlap runes from the end of each chunk lead the next one.
func ChunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = ChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// Prefer a paragraph or sentence break in the tail 20% of the window.
		cut := end
		window := runes[start:end]
		if brk := lastBreak(window, size*4/5); brk > 0 {
			cut = start + brk
		}

		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// lastBreak returns the index just past the last paragraph or sentence
// boundary at or after floor, or 0 if none exists.
func lastBreak(window []rune, floor int) int {
	for i := len(window) - 1; i >= floor; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= floor; i-- {
		switch window[i] {
		case '.', '!', '?', ';':
			return i + 1
		}
	}
	return 0
}
