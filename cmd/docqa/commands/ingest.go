package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meridell/docqa-go/internal/embed"
	"github.com/meridell/docqa-go/internal/ingestion"
	"github.com/meridell/docqa-go/internal/logging"
	"github.com/meridell/docqa-go/internal/rag"
)

// NewIngestCmd constructs the `docqa ingest` command, which runs local
// files through the ingestion pipeline into the configured vector store.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest documents into the vector store",
		Long: `Extract, chunk, embed, and index local documents so questions can be
answered from them.

Supported formats: PDF, DOCX, HTML, Markdown, and plain text. Scanned or
malformed files degrade to a placeholder entry instead of failing; the
extraction quality is recorded with each document.

Relevant environment variables:
  EMBEDDING_PROVIDER   local | ollama | openai | gemini | huggingface (default: local)
  VECTOR_STORE_ENGINE  memory | qdrant | pgvector (default: memory)
  QDRANT_*             Qdrant settings when the qdrant engine is selected
  POSTGRES_DSN         pgx connection string for the pgvector engine

The memory engine does not persist between processes. Standalone ingest
runs are only useful against qdrant or pgvector; with the memory engine,
upload documents through the running server instead (POST /api/documents
uses the same pipeline).

Examples:
  docqa ingest handbook.pdf
  docqa ingest manual.docx notes.md
  VECTOR_STORE_ENGINE=qdrant docqa ingest handbook.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			engineCfg := engineConfigFromEnv()

			engine := rag.New(log)
			defer func() { _ = engine.Close() }()
			if err := engine.Configure(ctx, engineCfg); err != nil {
				// Ingestion needs the embedder and the store but not the
				// generation model, and Configure installs those first. Only
				// bail out when the failure took the store down with it.
				if !engine.CanIngest() {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Warn("generation backend unavailable, ingesting anyway", slog.Any("error", err))
			}

			embedder, err := embed.New(engineCfg.Embedding, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			pipeline, err := ingestion.New(embedder, engine, pipelineConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("files", len(args)))

			summaries, err := pipeline.Ingest(ctx, args, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			for _, s := range summaries {
				fmt.Printf("%s: %d chunks (quality %s, category %s)\n",
					s.Name, s.Chunks, s.Metadata.Quality, s.Category)
			}
			log.Info("ingestion complete", slog.Int("files", len(summaries)))
			return nil
		},
	}

	return cmd
}
