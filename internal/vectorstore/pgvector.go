package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/meridell/docqa-go/internal/logging"
)

// PgvectorStore implements Store on Postgres with the pgvector extension.
// Cosine candidates come from an ivfflat-indexed <=> query; keyword and
// hybrid scores are computed locally over the candidate set like the
// Qdrant engine.
type PgvectorStore struct {
	// dsn is the pgx connection string.
	dsn string
	// dimension is the embedding vector length baked into the schema.
	dimension int
	// pool is nil until Initialize succeeds.
	pool *pgxpool.Pool

	logger *slog.Logger
}

// NewPgvector creates a PgvectorStore. The pool is opened in Initialize.
func NewPgvector(cfg Config, logger *slog.Logger) (*PgvectorStore, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("vectorstore: pgvector requires a connection string")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vectorstore: pgvector requires a positive vector dimension, got %d", cfg.Dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PgvectorStore{
		dsn:       cfg.PostgresDSN,
		dimension: cfg.Dimension,
		logger:    logging.WithComponent(logger, "vectorstore"),
	}, nil
}

// Initialize opens the pool, verifies connectivity, and applies the
// schema. Statements run one at a time; pgx's extended protocol does not
// take multi-statement strings.
func (s *PgvectorStore) Initialize(ctx context.Context) error {
	if s.pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("vectorstore: open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("vectorstore: ping postgres: %w", err)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS docqa_chunks (
			id UUID PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			source_doc_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			source_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS docqa_chunks_embedding_idx
			ON docqa_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS docqa_chunks_source_doc_idx
			ON docqa_chunks (source_doc_id)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return fmt.Errorf("vectorstore: apply pgvector schema: %w", err)
		}
	}

	s.pool = pool
	s.logger.Info("pgvector schema ready", "dimension", s.dimension)
	return nil
}

func (s *PgvectorStore) ready() error {
	if s.pool == nil {
		return errors.New("vectorstore: pgvector engine not initialized")
	}
	return nil
}

// AddDocuments upserts records in one batch round trip.
func (s *PgvectorStore) AddDocuments(ctx context.Context, records []Record) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	const upsert = `INSERT INTO docqa_chunks (id, content, embedding, source_doc_id, chunk_index, source_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			source_doc_id = EXCLUDED.source_doc_id,
			chunk_index = EXCLUDED.chunk_index,
			source_name = EXCLUDED.source_name,
			created_at = EXCLUDED.created_at`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(upsert, r.ID, r.Content, pgvector.NewVector(r.Vector), r.SourceDocID, r.ChunkIndex, r.SourceName, r.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("vectorstore: pgvector upsert: %w", err)
		}
	}
	return nil
}

// Search pulls cosine-ordered candidates and rescores them locally for
// the requested mode. The <=> operator is cosine distance, so similarity
// is its complement. Metadata filters become WHERE clauses.
func (s *PgvectorStore) Search(ctx context.Context, query string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := validateFilters(opts.Filters); err != nil {
		return nil, err
	}

	q := `SELECT id, content, source_doc_id, chunk_index, source_name, created_at,
			1 - (embedding <=> $1) AS score
		FROM docqa_chunks`
	args := []any{pgvector.NewVector(vector)}

	var conds []string
	if v, ok := opts.Filters[FilterSourceDocID]; ok {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("source_doc_id = $%d", len(args)))
	}
	if v, ok := opts.Filters[FilterSourceName]; ok {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("source_name = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, candidateLimit(opts.Limit))
	q += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: pgvector query: %w", err)
	}
	defer rows.Close()

	var candidates []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.ID, &res.Content, &res.SourceDocID, &res.ChunkIndex, &res.SourceName, &res.Timestamp, &res.Score); err != nil {
			return nil, fmt.Errorf("vectorstore: scan pgvector row: %w", err)
		}
		candidates = append(candidates, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: read pgvector rows: %w", err)
	}

	return rescoreCandidates(candidates, query, opts), nil
}

// DeleteDocument removes every chunk row of the source document.
func (s *PgvectorStore) DeleteDocument(ctx context.Context, sourceDocID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM docqa_chunks WHERE source_doc_id = $1`, sourceDocID); err != nil {
		return fmt.Errorf("vectorstore: pgvector delete document %q: %w", sourceDocID, err)
	}
	return nil
}

// Clear removes all rows but keeps the schema.
func (s *PgvectorStore) Clear(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE docqa_chunks`); err != nil {
		return fmt.Errorf("vectorstore: pgvector clear: %w", err)
	}
	return nil
}

// TestConnection pings the pool.
func (s *PgvectorStore) TestConnection(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("vectorstore: postgres unreachable: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PgvectorStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}
