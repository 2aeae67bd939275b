// Package vectorstore persists embedded chunks and retrieves them by
// semantic, keyword, or hybrid similarity. One contract covers three
// engines: an in-memory reference store, Qdrant, and Postgres with
// pgvector. All engines share the same scoring semantics, so switching
// engines never changes what a search means, only where the data lives.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SearchMode selects how candidate chunks are scored.
type SearchMode string

const (
	// ModeSemantic scores by cosine similarity of embeddings.
	ModeSemantic SearchMode = "semantic"
	// ModeKeyword scores by the fraction of query tokens found in the chunk.
	ModeKeyword SearchMode = "keyword"
	// ModeHybrid scores by the mean of the semantic and keyword scores.
	ModeHybrid SearchMode = "hybrid"
)

// DefaultLimit is the result count used when SearchOptions.Limit is unset.
const DefaultLimit = 5

// Record is one embedded chunk as stored by an engine.
type Record struct {
	// ID is a deterministic UUID string; re-adding the same ID overwrites.
	ID string
	// Content is the chunk text.
	Content string
	// Vector is the chunk embedding.
	Vector []float32
	// SourceDocID ties the record to its parent document for cascades.
	SourceDocID string
	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int
	// SourceName is the human-readable document name.
	SourceName string
	// Timestamp is when the record was ingested.
	Timestamp time.Time
}

// SearchResult is a record plus its score for one query.
type SearchResult struct {
	Record
	Score float64
}

// Filter keys accepted by SearchOptions.Filters.
const (
	FilterSourceDocID = "source_doc_id"
	FilterSourceName  = "source_name"
)

// SearchOptions bounds and filters a search.
type SearchOptions struct {
	// Mode selects the scoring. Empty means hybrid.
	Mode SearchMode
	// Limit caps the result count. Zero or negative means DefaultLimit.
	Limit int
	// Threshold drops results scoring below it.
	Threshold float64
	// Filters restricts results to records whose metadata equals every
	// entry. Keys must be Filter* constants; anything else is an error.
	Filters map[string]string
}

// withDefaults normalizes unset fields.
func (o SearchOptions) withDefaults() SearchOptions {
	if o.Mode == "" {
		o.Mode = ModeHybrid
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Threshold < 0 {
		o.Threshold = 0
	}
	return o
}

// validateFilters rejects filter keys no engine can match on, so a typo
// surfaces as an error instead of an empty result set.
func validateFilters(filters map[string]string) error {
	for k := range filters {
		switch k {
		case FilterSourceDocID, FilterSourceName:
		default:
			return fmt.Errorf("vectorstore: unknown filter key %q, valid keys: %s, %s",
				k, FilterSourceDocID, FilterSourceName)
		}
	}
	return nil
}

// matchesFilters reports whether the record satisfies every filter entry.
func matchesFilters(r Record, filters map[string]string) bool {
	for k, v := range filters {
		switch k {
		case FilterSourceDocID:
			if r.SourceDocID != v {
				return false
			}
		case FilterSourceName:
			if r.SourceName != v {
				return false
			}
		}
	}
	return true
}

// Store is the engine contract. Implementations are safe for concurrent
// use after Initialize.
type Store interface {
	// Initialize prepares collections or schema. It must be called before
	// any other method and is idempotent.
	Initialize(ctx context.Context) error
	// AddDocuments upserts records by ID.
	AddDocuments(ctx context.Context, records []Record) error
	// Search scores stored chunks against the query text and vector and
	// returns at most opts.Limit results at or above opts.Threshold,
	// ordered by descending score. Ties keep insertion order.
	Search(ctx context.Context, query string, vector []float32, opts SearchOptions) ([]SearchResult, error)
	// DeleteDocument removes every record of one source document.
	// Unknown IDs are a no-op.
	DeleteDocument(ctx context.Context, sourceDocID string) error
	// Clear removes all records.
	Clear(ctx context.Context) error
	// TestConnection verifies the backing service is reachable.
	TestConnection(ctx context.Context) error
	// Close releases connections. The store is unusable afterwards.
	Close() error
}

// Engine names accepted by Config.Engine.
const (
	EngineMemory   = "memory"
	EngineQdrant   = "qdrant"
	EnginePgvector = "pgvector"
)

// Config selects and parameterizes an engine.
type Config struct {
	// Engine is one of memory, qdrant, pgvector. Empty means memory.
	Engine string
	// Dimension is the embedding vector length the engine must accept.
	Dimension int

	// Collection names the Qdrant collection.
	Collection string
	// QdrantHost, QdrantPort, QdrantAPIKey, QdrantUseTLS configure the
	// Qdrant gRPC client.
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantUseTLS bool

	// PostgresDSN is the pgx connection string for the pgvector engine.
	PostgresDSN string
}

// New constructs the configured engine. Construction does no IO; call
// Initialize to reach the backing service.
func New(cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Engine {
	case "", EngineMemory:
		return NewMemory(logger), nil
	case EngineQdrant:
		return NewQdrant(cfg, logger)
	case EnginePgvector:
		return NewPgvector(cfg, logger)
	default:
		return nil, fmt.Errorf("vectorstore: unknown engine %q, valid values: memory, qdrant, pgvector", cfg.Engine)
	}
}
