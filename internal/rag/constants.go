// Package rag indexes regulation text in pgvector and answers questions
// grounded on the retrieved chunks.
//
// Contents:
//   - Table schema constants for the regulation_chunks table
//   - NewDocStoreConfig factory for consistent DocStore configuration
//   - Indexer for chunking and writing regulations (indexer.go)
//   - Retriever for filtered semantic search (retriever.go)
//   - Engine for grounded question answering and hybrid search (engine.go)
package rag

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/plugins/postgresql"
)

// VectorDimension is the embedding dimension of the regulation_chunks table.
// gemini-embedding-001 supports truncation to 768 via OutputDimensionality.
const VectorDimension = 768

// Chunking parameters for regulation content.
// Regulations are long-form legal text; overlapping chunks keep clause
// boundaries retrievable.
const (
	ChunkSize    = 1000
	ChunkOverlap = 200
)

// Table schema constants for the Genkit PostgreSQL plugin.
// These match the regulation_chunks table in db/migrations.
const (
	ChunksTableName    = "regulation_chunks"
	ChunksSchemaName   = "public"
	ChunksIDColumn     = "id"
	ChunksContentCol   = "content"
	ChunksEmbeddingCol = "embedding"
	ChunksMetadataCol  = "metadata"
)

// NewDocStoreConfig creates a postgresql.Config for the regulation_chunks table.
// This factory ensures consistent configuration across production and tests.
func NewDocStoreConfig(embedder ai.Embedder) *postgresql.Config {
	return &postgresql.Config{
		TableName:          ChunksTableName,
		SchemaName:         ChunksSchemaName,
		IDColumn:           ChunksIDColumn,
		ContentColumn:      ChunksContentCol,
		EmbeddingColumn:    ChunksEmbeddingCol,
		MetadataJSONColumn: ChunksMetadataCol,
		MetadataColumns:    []string{"regulation_id", "domain", "entity_type"}, // for filtering
		Embedder:           embedder,
	}
}
