// Package server implements the HTTP server that exposes the answer engine
// over a REST/SSE API: question answering with streamed tokens, document
// upload and management, health and readiness probes, and Prometheus
// metrics. The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridell/docqa-go/internal/history"
	"github.com/meridell/docqa-go/internal/ingestion"
	"github.com/meridell/docqa-go/internal/logging"
	"github.com/meridell/docqa-go/internal/rag"
)

// defaultMaxUploadSize caps one uploaded document at 50 MiB, matching the
// ingestion pipeline's own file cap.
const defaultMaxUploadSize = 50 << 20

// SSE event names emitted by POST /api/query.
const (
	// eventContext carries the retrieved sources, sent before the first delta.
	eventContext = "context"
	// eventDelta carries one generation text fragment.
	eventDelta = "delta"
	// eventDone carries the full answer JSON and closes the stream.
	eventDone = "done"
	// eventError carries the failure message when generation fails mid-stream.
	eventError = "error"
)

// New constructs a Server around the engine and the ingestion pipeline.
func New(engine *rag.Engine, pipeline *ingestion.Pipeline, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("server: ingestion pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.History == nil {
		cfg.History = history.Nop{}
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	log = logging.WithComponent(log, "server")

	s := &Server{
		engine:   engine,
		uploader: pipeline,
		history:  cfg.History,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry, func() float64 {
			return float64(engine.DocumentCount())
		}),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.Handle("POST /api/query", rl.middleware(http.HandlerFunc(s.handleQuery)))
	mux.Handle("POST /api/documents", rl.middleware(http.HandlerFunc(s.handleUploadDocument)))
	mux.Handle("GET /api/documents", rl.middleware(http.HandlerFunc(s.handleListDocuments)))
	mux.Handle("DELETE /api/documents/{id}", rl.middleware(http.HandlerFunc(s.handleDeleteDocument)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.metrics, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleQuery handles POST /api/query. It streams the answer using
// Server-Sent Events: a "context" event naming the retrieved sources, then
// "delta" events carrying generation fragments, then a terminal "done"
// event with the full answer JSON. A generation failure after the stream
// has started is delivered in-band as an "error" event.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	// Guard before the SSE headers go out so the two user-actionable
	// failures arrive as plain HTTP status codes, not in-band events.
	if !s.engine.Ready() {
		http.Error(w, "engine not ready", http.StatusServiceUnavailable)
		return
	}
	if s.engine.DocumentCount() == 0 {
		http.Error(w, "no documents ingested", http.StatusConflict)
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// sseWriter receives generation deltas and the retrieval notification.
	sw := &sseWriter{w: w, flusher: flusher}

	s.metrics.queryActiveStreams.Inc()
	defer s.metrics.queryActiveStreams.Dec()

	start := time.Now()
	answer, err := s.engine.QueryStream(r.Context(), req.Question, sw)
	elapsed := time.Since(start)

	if err != nil {
		outcome := outcomeError
		if errors.Is(err, context.Canceled) {
			outcome = outcomeCanceled
		}
		s.observeQuery(outcome, elapsed)
		log.Error("query failed", slog.Any("error", err))
		sw.event(eventError, err.Error())
		return
	}

	payload, err := json.Marshal(answer)
	if err != nil {
		s.observeQuery(outcomeError, elapsed)
		log.Error("answer encode failed", slog.Any("error", err))
		sw.event(eventError, "failed to encode answer")
		return
	}
	sw.event(eventDone, string(payload))
	s.observeQuery(outcomeOK, elapsed)

	s.recordHistory(r.Context(), req.Question, answer, elapsed)
}

// observeQuery records one completed query in the Prometheus instruments.
func (s *Server) observeQuery(outcome string, elapsed time.Duration) {
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// recordHistory persists the answered query. Recording is best effort and
// survives the client's disconnect, hence the detached context.
func (s *Server) recordHistory(ctx context.Context, question string, answer rag.Answer, elapsed time.Duration) {
	entry := history.Entry{
		Question:   question,
		Answer:     answer.Answer,
		Sources:    answer.Sources,
		Score:      answer.RelevanceScore,
		ChunkCount: answer.RetrievedChunkCount,
		Model:      s.engine.ModelName(),
		Duration:   elapsed,
	}
	if err := s.history.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Warn("history record failed", slog.Any("error", err))
	}
}

// handleHealth handles GET /healthz for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event frames.
// It implements io.Writer for generation deltas and rag.StreamObserver for
// the retrieval notification.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each frame.
	flusher http.Flusher
}

// event writes one named SSE frame. Each newline in data gets its own
// "data: " prefix so multi-line payloads never break the frame boundary.
func (s *sseWriter) event(name, data string) {
	var buf strings.Builder
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteString("\n")
	for _, line := range strings.Split(strings.TrimRight(data, "\n"), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err := fmt.Fprint(s.w, buf.String()); err != nil {
		return
	}
	s.flusher.Flush()
}

// Write emits p as one "delta" event.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	s.event(eventDelta, string(p))
	return len(p), nil
}

// RetrievedContext emits the "context" event naming the sources the answer
// will draw on. Called by the engine after retrieval, before generation.
func (s *sseWriter) RetrievedContext(sources []string, chunks int) {
	if sources == nil {
		sources = []string{}
	}
	payload, err := json.Marshal(contextEvent{Sources: sources, RetrievedChunkCount: chunks})
	if err != nil {
		return
	}
	s.event(eventContext, string(payload))
}
