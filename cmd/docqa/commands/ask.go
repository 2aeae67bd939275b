package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridell/docqa-go/internal/embed"
	"github.com/meridell/docqa-go/internal/history"
	"github.com/meridell/docqa-go/internal/ingestion"
	"github.com/meridell/docqa-go/internal/logging"
	"github.com/meridell/docqa-go/internal/rag"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// natural language question from the ingested documents and streams the
// answer to stdout.
func NewAskCmd() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your documents",
		Long: `Ask a natural language question and receive an answer grounded in the
ingested documents, with the source documents named afterwards.

With a persistent vector store (qdrant, pgvector) the question runs against
everything previously ingested. With the default in-memory store, pass the
documents to consult via --file; they are ingested for this run only.

Examples:
  docqa ask --file handbook.pdf "how many vacation days do I get?"
  docqa ask --file a.pdf --file b.md "which document covers returns?"
  VECTOR_STORE_ENGINE=qdrant docqa ask "what is the maximum pressure?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			engineCfg := engineConfigFromEnv()

			engine := rag.New(log)
			defer func() { _ = engine.Close() }()
			if err := engine.Configure(ctx, engineCfg); err != nil {
				return fmt.Errorf("ask: failed to configure engine: %w", err)
			}

			if len(files) > 0 {
				embedder, err := embed.New(engineCfg.Embedding, log)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				pipeline, err := ingestion.New(embedder, engine, pipelineConfigFromEnv(), log)
				if err != nil {
					return fmt.Errorf("ask: failed to create pipeline: %w", err)
				}
				if _, err := pipeline.Ingest(ctx, files, nil); err != nil {
					return fmt.Errorf("ask: %w", err)
				}
			}

			question := args[0]
			start := time.Now()
			answer, err := engine.QueryStream(ctx, question, os.Stdout)
			if err != nil {
				if errors.Is(err, rag.ErrNoDocuments) {
					return fmt.Errorf("ask: no documents ingested; pass --file or ingest into a persistent store first")
				}
				return err
			}
			fmt.Println()

			if len(answer.Sources) > 0 {
				fmt.Printf("\nSources: %s (relevance %.2f, %d chunks)\n",
					strings.Join(answer.Sources, ", "), answer.RelevanceScore, answer.RetrievedChunkCount)
			}

			recordAskHistory(ctx, log, engine.ModelName(), question, answer, time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Document to ingest for this question (repeatable)")

	return cmd
}

// recordAskHistory persists the answered question to the query history log.
// Best effort: a history failure is logged, never surfaced to the user.
func recordAskHistory(ctx context.Context, log *slog.Logger, model, question string, answer rag.Answer, elapsed time.Duration) {
	historyLog, err := history.FromPath(os.Getenv("DOCQA_HISTORY_DB"))
	if err != nil {
		log.Warn("history: failed to open log, skipping", slog.Any("error", err))
		return
	}
	defer func() { _ = historyLog.Close() }()

	entry := history.Entry{
		Question:   question,
		Answer:     answer.Answer,
		Sources:    answer.Sources,
		Score:      answer.RelevanceScore,
		ChunkCount: answer.RetrievedChunkCount,
		Model:      model,
		Duration:   elapsed,
	}
	if err := historyLog.Record(ctx, entry); err != nil {
		log.Warn("history: record failed", slog.Any("error", err))
	}
}
