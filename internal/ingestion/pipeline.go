// Package ingestion glues files to the answer engine. It reads a file,
// extracts its text through the tiered extractor, chunks it, embeds each
// chunk, and registers the result with the engine's document registry.
// Both the `docqa ingest` CLI command and the server's upload handler go
// through this pipeline.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/meridell/docqa-go/internal/chunk"
	"github.com/meridell/docqa-go/internal/embed"
	"github.com/meridell/docqa-go/internal/extract"
	"github.com/meridell/docqa-go/internal/logging"
	"github.com/meridell/docqa-go/internal/rag"
)

// defaultMaxFileSize caps accepted inputs at 50 MiB.
const defaultMaxFileSize = 50 << 20

// documentSink receives the finished document. The engine satisfies it.
type documentSink interface {
	AddDocument(ctx context.Context, doc rag.Document) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Chunking bounds chunk sizes. Zero fields take the chunker defaults.
	Chunking chunk.Options

	// Extraction configures the tiered extractor. Its OnProgress is
	// overridden per call so page ticks reach the caller's progress
	// function.
	Extraction extract.Options

	// MaxFileSize is the largest accepted input in bytes. Defaults to
	// 50 MiB if zero.
	MaxFileSize int64
}

// Summary reports one ingested file.
type Summary struct {
	// DocumentID is the registry ID, derived from the file name so
	// re-ingesting the same name replaces the earlier version.
	DocumentID string `json:"documentId"`
	// Name is the file's base name.
	Name string `json:"name"`
	// Category is the inferred document category.
	Category Category `json:"category"`
	// Chunks is the number of chunks indexed.
	Chunks int `json:"chunks"`
	// Embedded counts chunks embedded by the configured vendor.
	Embedded int `json:"embedded"`
	// Fallback counts chunks that used the local hashing embedder.
	Fallback int `json:"fallback"`
	// Metadata is the extraction outcome.
	Metadata extract.Metadata `json:"metadata"`
	// Duration is the wall-clock time for the whole file.
	Duration time.Duration `json:"duration"`
}

// Pipeline orchestrates the read, extract, chunk, embed, register flow.
type Pipeline struct {
	embedder *embed.Service
	sink     documentSink
	cfg      Config
	logger   *slog.Logger
}

// New constructs a Pipeline from the provided dependencies and config.
func New(embedder *embed.Service, sink documentSink, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("ingestion: document sink must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	return &Pipeline{
		embedder: embedder,
		sink:     sink,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "ingestion"),
	}, nil
}

// Ingest processes files sequentially and returns the summaries of the
// files processed so far plus the first error encountered. Progress is
// reported through the optional callback.
func (p *Pipeline) Ingest(ctx context.Context, paths []string, progress func(msg string)) ([]Summary, error) {
	summaries := make([]Summary, 0, len(paths))
	for _, path := range paths {
		s, err := p.IngestFile(ctx, path, progress)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// IngestFile reads one file from disk and ingests it. The declared MIME
// type is left empty; detection runs on content and extension.
func (p *Pipeline) IngestFile(ctx context.Context, path string, progress func(msg string)) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("ingestion: reading %s: %w", path, err)
	}
	return p.IngestBytes(ctx, filepath.Base(path), "", data, progress)
}

// IngestBytes ingests an in-memory file, as received by the server's
// upload handler. declaredMIME may be empty; when set it is handed to
// format detection as the weakest signal.
func (p *Pipeline) IngestBytes(ctx context.Context, name, declaredMIME string, data []byte, progress func(msg string)) (Summary, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if len(data) == 0 {
		return Summary{}, fmt.Errorf("ingestion: %s is empty", name)
	}
	if int64(len(data)) > p.cfg.MaxFileSize {
		return Summary{}, fmt.Errorf("ingestion: %s is %d bytes, above the %d byte limit", name, len(data), p.cfg.MaxFileSize)
	}

	start := time.Now()
	progress(fmt.Sprintf("extracting %s", name))

	// A per-call extractor binds page ticks to this call's progress
	// function; construction is cheap.
	opts := p.cfg.Extraction
	opts.OnProgress = func(stage string, page, total int) {
		progress(fmt.Sprintf("%s: %s %d/%d", name, stage, page, total))
	}
	res := extract.New(opts, p.logger).Extract(ctx, name, declaredMIME, data)
	progress(fmt.Sprintf("extracted %s: %d pages, quality %s", name, res.Metadata.Pages, res.Metadata.Quality))

	chunks := chunk.Split(res.Text, p.cfg.Chunking)
	progress(fmt.Sprintf("chunked %s into %d chunks", name, len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	results := p.embedder.EmbedBatch(ctx, texts)
	embeddings := make([][]float32, len(results))
	fallback := 0
	for i, r := range results {
		embeddings[i] = r.Vector
		if r.FromFallback {
			fallback++
		}
	}
	progress(fmt.Sprintf("embedded %d chunks (%d via fallback)", len(chunks), fallback))

	doc := rag.Document{
		ID:         DocumentID(name),
		Name:       name,
		RawText:    res.Text,
		Chunks:     chunks,
		Embeddings: embeddings,
		UploadedAt: time.Now().UTC(),
		Metadata:   res.Metadata,
	}
	if err := p.sink.AddDocument(ctx, doc); err != nil {
		return Summary{}, fmt.Errorf("ingestion: registering %s failed: %w", name, err)
	}

	category := InferCategory(name, res.Metadata.Kind)
	s := Summary{
		DocumentID: doc.ID,
		Name:       name,
		Category:   category,
		Chunks:     len(chunks),
		Embedded:   len(chunks) - fallback,
		Fallback:   fallback,
		Metadata:   res.Metadata,
		Duration:   time.Since(start),
	}
	p.logger.Info("file ingested",
		"name", name,
		"id", doc.ID,
		"category", category,
		"chunks", len(chunks),
		"fallback_embeddings", fallback,
		"quality", res.Metadata.Quality,
		"duration", s.Duration,
	)
	progress(fmt.Sprintf("ingested %s: %d chunks", name, len(chunks)))
	return s, nil
}

// DocumentID derives the registry ID from the file name. The same name
// always maps to the same ID, so re-uploading a file replaces its earlier
// version instead of accumulating duplicates.
func DocumentID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("docqa:document:"+name)).String()
}
