package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/meridell/docqa-go/internal/embed"
	"github.com/meridell/docqa-go/internal/history"
	"github.com/meridell/docqa-go/internal/ingestion"
	"github.com/meridell/docqa-go/internal/logging"
	"github.com/meridell/docqa-go/internal/rag"
	"github.com/meridell/docqa-go/internal/server"
	"github.com/meridell/docqa-go/internal/tracing"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// server exposing the upload, query, and document management API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the DocQA HTTP server",
		Long: `Start the DocQA HTTP server on localhost.

The server exposes a REST/SSE API: upload documents, ask questions with
streamed answers, list and delete documents, and scrape Prometheus metrics.

The engine is configured from the environment at startup. When only the
generation model is unreachable the server starts anyway: uploads keep
working, queries answer 503, and /readyz names what is wrong.

Examples:
  docqa serve
  docqa serve --port 9090
  MODEL_PROVIDER=azure docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing. Opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			engineCfg := engineConfigFromEnv()

			engine := rag.New(log)
			defer func() { _ = engine.Close() }()
			if err := engine.Configure(ctx, engineCfg); err != nil {
				// A dead model or store must not keep the API down. The
				// engine retains the cause, /readyz reports it, and what
				// still works (typically uploads) keeps working.
				log.Warn("engine not ready, serving anyway", slog.Any("error", err))
			}

			embedder, err := embed.New(engineCfg.Embedding, log)
			if err != nil {
				// An unknown embedding vendor means no part of the pipeline
				// can ever work, so this one is fatal.
				return fmt.Errorf("serve: %w", err)
			}
			pipeline, err := ingestion.New(embedder, engine, pipelineConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("serve: failed to create ingestion pipeline: %w", err)
			}

			// Open the query history log. DOCQA_HISTORY_DB overrides the
			// default path (~/.docqa/history.db). Set to "disabled" to turn
			// recording off.
			var historyLog history.Log = history.Nop{}
			dbPath := os.Getenv("DOCQA_HISTORY_DB")
			if dbPath == history.Disabled {
				log.Info("history: disabled via DOCQA_HISTORY_DB=disabled")
			} else {
				if dbPath == "" {
					dbPath, err = history.DefaultDBPath()
					if err != nil {
						log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
						dbPath = ""
					}
				}
				if dbPath != "" {
					hl, hlErr := history.Open(dbPath)
					if hlErr != nil {
						log.Warn("history: failed to open log, disabling", slog.Any("error", hlErr))
					} else {
						historyLog = hl
						defer func() { _ = hl.Close() }()
						log.Info("history: log opened", slog.String("path", dbPath))
					}
				}
			}

			// Explicit flags win; otherwise SERVER_HOST/SERVER_PORT (and so
			// the YAML server section) take effect.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SERVER_PORT", port)
			}

			pingers := buildPingers(engine, &engineCfg.Provider, engineCfg.Store, log)

			srv, err := server.New(engine, pipeline, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				RateLimit: getEnvFloat64("RATE_LIMIT_RPS", 0),
				RateBurst: getEnvInt("RATE_LIMIT_BURST", 0),
				History:   historyLog,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
