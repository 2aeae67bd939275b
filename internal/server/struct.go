package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridell/docqa-go/internal/history"
	"github.com/meridell/docqa-go/internal/ingestion"
	"github.com/meridell/docqa-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// MaxUploadSize caps the accepted size of one uploaded document in
	// bytes. Defaults to 50 MiB if zero.
	MaxUploadSize int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /readyz.
	// If empty, /readyz returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// History records answered queries. If nil, recording is disabled.
	History history.Log
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer; tests inject a fresh registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// answerEngine is the slice of the engine the handlers call.
// *rag.Engine satisfies it; tests inject a fake.
type answerEngine interface {
	// Ready reports whether the engine can serve queries.
	Ready() bool
	// ModelName names the installed generation model, for history entries.
	ModelName() string
	// DocumentCount returns the registry size.
	DocumentCount() int
	// Documents returns the registry snapshot in insertion order.
	Documents() []rag.Document
	// RemoveDocument deletes one document and its indexed chunks.
	RemoveDocument(ctx context.Context, id string) error
	// QueryStream answers question, writing generation deltas to w.
	QueryStream(ctx context.Context, question string, w io.Writer) (rag.Answer, error)
}

// uploader ingests one uploaded file. *ingestion.Pipeline satisfies it.
type uploader interface {
	IngestBytes(ctx context.Context, name, declaredMIME string, data []byte, progress func(msg string)) (ingestion.Summary, error)
}

// Server is the HTTP server that exposes the answer engine and the
// document registry.
type Server struct {
	// engine answers queries and manages the document registry.
	engine answerEngine
	// uploader runs the ingestion pipeline for POST /api/documents.
	uploader uploader
	// history records answered queries; never nil after New.
	history history.Log
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /readyz.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// contextEvent is the payload of the SSE "context" event, sent once
// retrieval finishes and before the first generation delta.
type contextEvent struct {
	// Sources lists the distinct document names placed in the prompt
	// context, most relevant first.
	Sources []string `json:"sources"`
	// RetrievedChunkCount is the number of chunks that made it into the
	// prompt context.
	RetrievedChunkCount int `json:"retrievedChunkCount"`
}

// documentInfo is one entry in the GET /api/documents listing.
type documentInfo struct {
	// ID is the registry identifier, used with DELETE /api/documents/{id}.
	ID string `json:"id"`
	// Name is the original file name.
	Name string `json:"name"`
	// Chunks is the number of indexed chunks.
	Chunks int `json:"chunks"`
	// Quality is the extraction quality grade (high | medium | low).
	Quality string `json:"quality"`
	// Method is the extraction method that produced the text.
	Method string `json:"method,omitempty"`
	// UploadedAt is when the document entered the registry.
	UploadedAt time.Time `json:"uploadedAt"`
}

// documentListResponse is the JSON response for GET /api/documents.
type documentListResponse struct {
	// Documents lists the registry in insertion order.
	Documents []documentInfo `json:"documents"`
	// Count is len(Documents), kept explicit for UI convenience.
	Count int `json:"count"`
}
