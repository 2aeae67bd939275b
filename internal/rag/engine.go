package rag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/meridell/docqa-go/internal/budget"
	"github.com/meridell/docqa-go/internal/embed"
	"github.com/meridell/docqa-go/internal/logging"
	"github.com/meridell/docqa-go/internal/provider"
	"github.com/meridell/docqa-go/internal/vectorstore"
)

// generator is the slice of the provider generator the engine depends on.
type generator interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
	Stream(ctx context.Context, messages []*schema.Message, sink func(delta string)) (string, error)
	ModelName() string
}

// Engine coordinates ingestion and querying. It is safe for concurrent
// use; Configure may run while queries against the previous configuration
// are still in flight.
type Engine struct {
	mu      sync.RWMutex
	state   State
	lastErr error

	store    vectorstore.Store
	embedder *embed.Service
	gen      generator
	counter  *budget.Counter

	docs  map[string]*Document
	order []string

	searchLimit      int
	threshold        float64
	maxContextTokens int

	logger *slog.Logger

	// newGenerator builds the generation backend; tests replace it.
	newGenerator func(ctx context.Context, cfg *provider.Config) (generator, error)
}

// New returns an unconfigured engine. Call Configure before querying.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		state:  StateUnconfigured,
		docs:   make(map[string]*Document),
		logger: logging.WithComponent(logger, "rag"),
		newGenerator: func(ctx context.Context, cfg *provider.Config) (generator, error) {
			return provider.NewGenerator(ctx, cfg)
		},
	}
}

// State returns the lifecycle phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Ready reports whether queries can be served.
func (e *Engine) Ready() bool { return e.State() == StateReady }

// LastError returns the retained cause of the error state, or nil.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// ModelName reports the generation model currently installed, or an empty
// string before Configure succeeds. Used for logging and query history.
func (e *Engine) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.gen == nil {
		return ""
	}
	return e.gen.ModelName()
}

// CanIngest reports whether documents can be added. Ingestion needs the
// store and the embedder but not the generation backend, so it may hold
// while Ready does not.
func (e *Engine) CanIngest() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store != nil && e.embedder != nil
}

// Configure builds the embedder, the vector store, and the generation
// backend from cfg, then moves the engine to the ready state. On failure
// the engine lands in the error state with the cause retained, and
// Configure may be called again. The embedder and store are installed
// before the generation backend is built, so when only the model is at
// fault, ingestion keeps working while queries stay unavailable.
func (e *Engine) Configure(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	if e.state == StateInitializing {
		e.mu.Unlock()
		return fmt.Errorf("%w: configuration already in progress", ErrConfiguration)
	}
	e.state = StateInitializing
	e.mu.Unlock()

	err := e.configure(ctx, cfg)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = StateError
		e.lastErr = err
		e.logger.Error("configuration failed", "error", err)
		return err
	}
	e.state = StateReady
	e.lastErr = nil
	return nil
}

func (e *Engine) configure(ctx context.Context, cfg Config) error {
	// A known generation-only backend cannot serve embeddings; naming the
	// role mismatch beats the unknown-vendor error it would otherwise hit.
	if caps := provider.Capabilities(provider.Backend(cfg.Embedding.Vendor)); caps.SupportsGeneration && !caps.SupportsEmbedding {
		return fmt.Errorf("%w: vendor %q is generation-only and cannot serve embeddings", ErrConfiguration, cfg.Embedding.Vendor)
	}

	embedder, err := embed.New(cfg.Embedding, e.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	// The store dimension always follows the embedder. A mismatch would
	// not fail, it would silently make every search score meaningless.
	storeCfg := cfg.Store
	storeCfg.Dimension = embedder.Dimension()
	store, err := vectorstore.New(storeCfg, e.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("rag: store initialization failed: %w", err)
	}
	if err := store.TestConnection(ctx); err != nil {
		return fmt.Errorf("rag: store connection check failed: %w", err)
	}

	// The registry is the source of truth for what was ingested, so a
	// re-Configure replays it into the fresh store. Chunks are re-embedded
	// first when the new embedder's dimension no longer matches. A replay
	// failure leaves the previous store serving.
	reembedded, err := e.replay(ctx, store, embedder)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.store != nil {
		if cerr := e.store.Close(); cerr != nil {
			e.logger.Warn("closing previous store failed", "error", cerr)
		}
	}
	e.store = store
	e.embedder = embedder
	for id, d := range reembedded {
		if _, ok := e.docs[id]; ok {
			e.docs[id] = d
		}
	}
	if e.counter == nil {
		e.counter = budget.NewCounter()
	}
	e.searchLimit = cfg.Search.Limit
	e.threshold = cfg.Search.Threshold
	e.maxContextTokens = cfg.Search.MaxContextTokens
	if e.maxContextTokens <= 0 {
		e.maxContextTokens = budget.DefaultMaxContextTokens
	}
	e.mu.Unlock()

	gen, err := e.newGenerator(ctx, &cfg.Provider)
	if err != nil {
		return fmt.Errorf("%w: generation backend: %w", ErrConfiguration, err)
	}

	e.mu.Lock()
	e.gen = gen
	e.mu.Unlock()

	e.logger.Info("engine configured",
		"model", gen.ModelName(),
		"embedding_vendor", embedder.Vendor(),
		"embedding_dimension", embedder.Dimension(),
		"store", storeCfg.Engine,
	)
	return nil
}

// AddDocument registers doc and upserts its chunk embeddings into the
// vector store. It requires a configured store and embedder but not a
// working generation backend. When the store rejects the records the
// registry change is rolled back, so the two never disagree.
func (e *Engine) AddDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("rag: document ID must not be empty")
	}
	if len(doc.Chunks) != len(doc.Embeddings) {
		return fmt.Errorf("rag: document %q has %d chunks but %d embeddings", doc.Name, len(doc.Chunks), len(doc.Embeddings))
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	e.mu.Lock()
	if e.store == nil || e.embedder == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: no store configured", ErrNotReady)
	}
	store := e.store
	prev, existed := e.docs[doc.ID]
	e.docs[doc.ID] = &doc
	if !existed {
		e.order = append(e.order, doc.ID)
	}
	e.mu.Unlock()

	// Replacing a document first drops its old records. Upserting alone
	// would leave stale chunks behind whenever the new version is shorter.
	if existed {
		if err := store.DeleteDocument(ctx, doc.ID); err != nil {
			e.mu.Lock()
			e.docs[doc.ID] = prev
			e.mu.Unlock()
			return fmt.Errorf("rag: replacing document %q failed: %w", doc.Name, err)
		}
	}
	if err := store.AddDocuments(ctx, recordsFor(doc)); err != nil {
		e.mu.Lock()
		if existed {
			e.docs[doc.ID] = prev
		} else {
			delete(e.docs, doc.ID)
			e.dropFromOrder(doc.ID)
		}
		e.mu.Unlock()
		if existed {
			if rerr := store.AddDocuments(ctx, recordsFor(*prev)); rerr != nil {
				e.logger.Warn("restoring previous document records failed", "id", doc.ID, "error", rerr)
			}
		}
		return fmt.Errorf("rag: storing document %q failed: %w", doc.Name, err)
	}

	e.logger.Info("document added", "id", doc.ID, "name", doc.Name, "chunks", len(doc.Chunks))
	return nil
}

// replay upserts every registry document into store, re-embedding chunks
// whose vectors no longer match the embedder's dimension. It returns the
// documents whose embeddings were replaced.
func (e *Engine) replay(ctx context.Context, store vectorstore.Store, embedder *embed.Service) (map[string]*Document, error) {
	e.mu.RLock()
	docs := make([]*Document, 0, len(e.order))
	for _, id := range e.order {
		if d, ok := e.docs[id]; ok {
			docs = append(docs, d)
		}
	}
	e.mu.RUnlock()

	reembedded := make(map[string]*Document)
	for _, d := range docs {
		doc := *d
		if len(doc.Embeddings) > 0 && len(doc.Embeddings[0]) != embedder.Dimension() {
			texts := make([]string, len(doc.Chunks))
			for i, c := range doc.Chunks {
				texts[i] = c.Content
			}
			results := embedder.EmbedBatch(ctx, texts)
			embeddings := make([][]float32, len(results))
			for i, r := range results {
				embeddings[i] = r.Vector
			}
			doc.Embeddings = embeddings
			reembedded[doc.ID] = &doc
			e.logger.Info("document re-embedded for new dimension", "id", doc.ID, "dimension", embedder.Dimension())
		}
		if err := store.AddDocuments(ctx, recordsFor(doc)); err != nil {
			return nil, fmt.Errorf("rag: replaying document %q into the store failed: %w", doc.Name, err)
		}
	}
	return reembedded, nil
}

// recordsFor flattens a document into store records, one per chunk.
func recordsFor(doc Document) []vectorstore.Record {
	records := make([]vectorstore.Record, 0, len(doc.Chunks))
	for i, c := range doc.Chunks {
		records = append(records, vectorstore.Record{
			ID:          recordID(doc.ID, c.Index),
			Content:     c.Content,
			Vector:      doc.Embeddings[i],
			SourceDocID: doc.ID,
			ChunkIndex:  c.Index,
			SourceName:  doc.Name,
			Timestamp:   doc.UploadedAt,
		})
	}
	return records
}

// RemoveDocument deletes the document and all its records from the store.
func (e *Engine) RemoveDocument(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.store == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: no store configured", ErrNotReady)
	}
	doc, ok := e.docs[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(e.docs, id)
	e.dropFromOrder(id)
	store := e.store
	e.mu.Unlock()

	if err := store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("rag: deleting document %q from the store failed: %w", doc.Name, err)
	}
	e.logger.Info("document removed", "id", id, "name", doc.Name)
	return nil
}

// ClearDocuments empties the registry and the store.
func (e *Engine) ClearDocuments(ctx context.Context) error {
	e.mu.Lock()
	if e.store == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: no store configured", ErrNotReady)
	}
	n := len(e.docs)
	e.docs = make(map[string]*Document)
	e.order = nil
	store := e.store
	e.mu.Unlock()

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("rag: clearing the store failed: %w", err)
	}
	e.logger.Info("documents cleared", "count", n)
	return nil
}

// Documents returns a snapshot of the registry in insertion order.
func (e *Engine) Documents() []Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Document, 0, len(e.order))
	for _, id := range e.order {
		if d, ok := e.docs[id]; ok {
			out = append(out, *d)
		}
	}
	return out
}

// DocumentCount returns the registry size.
func (e *Engine) DocumentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Query answers a question from the ingested documents. The answer text
// arrives in one piece; use QueryStream to observe generation deltas.
func (e *Engine) Query(ctx context.Context, question string) (Answer, error) {
	return e.query(ctx, question, nil)
}

// StreamObserver may be implemented by the writer passed to QueryStream.
// RetrievedContext fires once retrieval and context assembly finish, before
// the first generation delta, so streaming clients can show which sources
// the answer will draw on while tokens are still arriving.
type StreamObserver interface {
	RetrievedContext(sources []string, chunks int)
}

// QueryStream is Query with generation deltas written to w as they
// arrive. The returned Answer carries the full accumulated text.
func (e *Engine) QueryStream(ctx context.Context, question string, w io.Writer) (Answer, error) {
	var notify func(sources []string, chunks int)
	if obs, ok := w.(StreamObserver); ok {
		notify = obs.RetrievedContext
	}
	return e.queryObserved(ctx, question, func(delta string) {
		_, _ = io.WriteString(w, delta)
	}, notify)
}

func (e *Engine) query(ctx context.Context, question string, sink func(delta string)) (Answer, error) {
	return e.queryObserved(ctx, question, sink, nil)
}

func (e *Engine) queryObserved(ctx context.Context, question string, sink func(delta string), notify func(sources []string, chunks int)) (Answer, error) {
	e.mu.RLock()
	if e.state != StateReady {
		state := e.state
		e.mu.RUnlock()
		return Answer{}, fmt.Errorf("%w: state %s", ErrNotReady, state)
	}
	if len(e.docs) == 0 {
		e.mu.RUnlock()
		return Answer{}, ErrNoDocuments
	}
	store := e.store
	embedder := e.embedder
	gen := e.gen
	counter := e.counter
	limit := e.searchLimit
	threshold := e.threshold
	maxTokens := e.maxContextTokens
	e.mu.RUnlock()

	start := time.Now()
	emb := embedder.Embed(ctx, question)
	results, err := store.Search(ctx, question, emb.Vector, vectorstore.SearchOptions{
		Mode:      vectorstore.ModeHybrid,
		Limit:     limit,
		Threshold: threshold,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("rag: search failed: %w", err)
	}

	// Zero results is not an error. The model is asked anyway, with no
	// excerpts, and the prompt obliges it to admit the gap rather than
	// invent sources.
	asm := assembleContext(counter, maxTokens, question, results)
	messages := buildMessages(question, asm.context)
	if notify != nil {
		notify(asm.sources, asm.used)
	}

	var text string
	if sink == nil {
		text, err = gen.Generate(ctx, messages)
	} else {
		text, err = gen.Stream(ctx, messages, sink)
	}
	if err != nil {
		return Answer{}, fmt.Errorf("rag: generation failed: %w", err)
	}

	e.logger.Info("query answered",
		"retrieved", len(results),
		"used", asm.used,
		"score", asm.meanScore,
		"duration", time.Since(start),
	)
	return Answer{
		Answer:              text,
		Sources:             asm.sources,
		RelevanceScore:      asm.meanScore,
		RetrievedChunkCount: asm.used,
	}, nil
}

// Close releases the vector store. The engine is unusable afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	store := e.store
	e.store = nil
	e.embedder = nil
	e.gen = nil
	e.state = StateUnconfigured
	if store != nil {
		return store.Close()
	}
	return nil
}

// dropFromOrder removes id from the insertion-order slice. Callers hold
// the write lock.
func (e *Engine) dropFromOrder(id string) {
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}

// recordID derives a stable UUID for one chunk so re-ingesting a document
// overwrites its records instead of duplicating them. Qdrant only accepts
// UUID-shaped point IDs, hence a name-based UUID rather than a raw string.
func recordID(docID string, chunkIndex int) string {
	name := docID + "#" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
