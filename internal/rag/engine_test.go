package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/meridell/docqa-go/internal/budget"
	"github.com/meridell/docqa-go/internal/chunk"
	"github.com/meridell/docqa-go/internal/embed"
	"github.com/meridell/docqa-go/internal/provider"
	"github.com/meridell/docqa-go/internal/vectorstore"
)

// fakeGenerator stands in for the provider generator. Stream emits the
// reply in two deltas so accumulation is observable.
type fakeGenerator struct {
	reply    string
	err      error
	lastMsgs []*schema.Message
	calls    int
}

func (f *fakeGenerator) Generate(_ context.Context, msgs []*schema.Message) (string, error) {
	f.lastMsgs = msgs
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) Stream(_ context.Context, msgs []*schema.Message, sink func(delta string)) (string, error) {
	f.lastMsgs = msgs
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if sink != nil {
		half := len(f.reply) / 2
		sink(f.reply[:half])
		sink(f.reply[half:])
	}
	return f.reply, nil
}

func (f *fakeGenerator) ModelName() string { return "fake-model" }

// failingStore rejects writes so rollback paths can be exercised.
type failingStore struct {
	addErr error
}

func (f *failingStore) Initialize(context.Context) error                         { return nil }
func (f *failingStore) AddDocuments(context.Context, []vectorstore.Record) error { return f.addErr }
func (f *failingStore) Search(context.Context, string, []float32, vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	return nil, nil
}
func (f *failingStore) DeleteDocument(context.Context, string) error { return nil }
func (f *failingStore) Clear(context.Context) error                  { return nil }
func (f *failingStore) TestConnection(context.Context) error         { return nil }
func (f *failingStore) Close() error                                 { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Provider: provider.Config{
			Backend: provider.BackendOllama,
			Ollama:  provider.ProviderOllama{Model: "llama3.1"},
		},
		Store: vectorstore.Config{Engine: vectorstore.EngineMemory},
	}
}

// newTestEngine returns a configured engine backed by the memory store,
// the local embedder, and gen as the generation backend.
func newTestEngine(t *testing.T, gen generator) *Engine {
	t.Helper()
	e := New(testLogger())
	e.counter = &budget.Counter{}
	e.newGenerator = func(context.Context, *provider.Config) (generator, error) {
		return gen, nil
	}
	if err := e.Configure(context.Background(), testConfig()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return e
}

// testDocument builds a document with one chunk per content string,
// embedded with the local hashing embedder so retrieval scores line up
// with what the engine computes for the question.
func testDocument(id, name string, contents ...string) Document {
	chunks := make([]chunk.Chunk, len(contents))
	embeddings := make([][]float32, len(contents))
	offset := 0
	for i, c := range contents {
		chunks[i] = chunk.Chunk{
			Content:     c,
			Index:       i,
			StartOffset: offset,
			EndOffset:   offset + len(c),
			WordCount:   len(strings.Fields(c)),
		}
		offset += len(c) + 2
		embeddings[i] = embed.FallbackVector(c, embed.FallbackDimension)
	}
	return Document{
		ID:         id,
		Name:       name,
		RawText:    strings.Join(contents, "\n\n"),
		Chunks:     chunks,
		Embeddings: embeddings,
	}
}

func TestEngine_StartsUnconfigured(t *testing.T) {
	t.Parallel()

	e := New(testLogger())
	if got := e.State(); got != StateUnconfigured {
		t.Fatalf("State() = %q, want %q", got, StateUnconfigured)
	}
	if e.Ready() {
		t.Fatal("Ready() = true before Configure")
	}
	if e.LastError() != nil {
		t.Fatalf("LastError() = %v, want nil", e.LastError())
	}
}

func TestEngine_QueryBeforeConfigure(t *testing.T) {
	t.Parallel()

	e := New(testLogger())
	_, err := e.Query(context.Background(), "anything")
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Query error = %v, want ErrNotReady", err)
	}
}

func TestEngine_QueryWithEmptyRegistry(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, &fakeGenerator{reply: "unused"})
	_, err := e.Query(context.Background(), "what does the handbook say?")
	if !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("Query error = %v, want ErrNoDocuments", err)
	}
}

func TestEngine_ConfigureRejectsGenerationOnlyEmbeddingVendor(t *testing.T) {
	t.Parallel()

	e := New(testLogger())
	e.counter = &budget.Counter{}
	e.newGenerator = func(context.Context, *provider.Config) (generator, error) {
		t.Fatal("generator built despite invalid embedding vendor")
		return nil, nil
	}
	cfg := testConfig()
	cfg.Embedding.Vendor = "ark"

	err := e.Configure(context.Background(), cfg)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Configure error = %v, want ErrConfiguration", err)
	}
	if !strings.Contains(err.Error(), "embeddings") {
		t.Fatalf("Configure error %q does not name the embedding role", err)
	}
	if got := e.State(); got != StateError {
		t.Fatalf("State() = %q, want %q", got, StateError)
	}
}

func TestEngine_IngestSurvivesGeneratorFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gen := &fakeGenerator{reply: "The limit is 40 bar, per manual.txt."}
	genAvailable := false

	e := New(testLogger())
	e.counter = &budget.Counter{}
	e.newGenerator = func(context.Context, *provider.Config) (generator, error) {
		if !genAvailable {
			return nil, errors.New("connection refused")
		}
		return gen, nil
	}

	// First Configure fails at the generation backend but installs the
	// store and embedder.
	err := e.Configure(ctx, testConfig())
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Configure error = %v, want ErrConfiguration", err)
	}
	if got := e.State(); got != StateError {
		t.Fatalf("State() = %q, want %q", got, StateError)
	}
	if le := e.LastError(); le == nil || !strings.Contains(le.Error(), "connection refused") {
		t.Fatalf("LastError() = %v, want the retained cause", le)
	}

	// Ingestion works in the error state.
	doc := testDocument("d1", "manual.txt", "The reactor coolant pressure limit is 40 bar.")
	if err := e.AddDocument(ctx, doc); err != nil {
		t.Fatalf("AddDocument in error state: %v", err)
	}

	// Queries stay guarded.
	if _, err := e.Query(ctx, "coolant pressure limit"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Query error = %v, want ErrNotReady", err)
	}

	// Recovery: the backend comes back, re-Configure succeeds, and the
	// document ingested during the outage is searchable again.
	genAvailable = true
	if err := e.Configure(ctx, testConfig()); err != nil {
		t.Fatalf("re-Configure: %v", err)
	}
	if got := e.State(); got != StateReady {
		t.Fatalf("State() = %q, want %q", got, StateReady)
	}
	if e.LastError() != nil {
		t.Fatalf("LastError() = %v after recovery, want nil", e.LastError())
	}

	answer, err := e.Query(ctx, "coolant pressure limit")
	if err != nil {
		t.Fatalf("Query after recovery: %v", err)
	}
	if answer.RetrievedChunkCount == 0 {
		t.Fatal("RetrievedChunkCount = 0, want the replayed document retrieved")
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != "manual.txt" {
		t.Fatalf("Sources = %v, want [manual.txt]", answer.Sources)
	}
}

func TestEngine_QueryAssemblesPromptAndAnswer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gen := &fakeGenerator{reply: "The coolant pressure limit is 40 bar (manual.txt)."}
	e := newTestEngine(t, gen)

	doc := testDocument("d1", "manual.txt",
		"The reactor coolant pressure limit is 40 bar.",
		"Exceeding the coolant pressure limit trips the relief valve.",
	)
	if err := e.AddDocument(ctx, doc); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	answer, err := e.Query(ctx, "What is the coolant pressure limit?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if answer.Answer != gen.reply {
		t.Fatalf("Answer = %q, want %q", answer.Answer, gen.reply)
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != "manual.txt" {
		t.Fatalf("Sources = %v, want [manual.txt]", answer.Sources)
	}
	if answer.RetrievedChunkCount == 0 {
		t.Fatal("RetrievedChunkCount = 0, want retrieved chunks in the context")
	}
	if answer.RelevanceScore <= 0 {
		t.Fatalf("RelevanceScore = %v, want > 0", answer.RelevanceScore)
	}

	if len(gen.lastMsgs) != 3 {
		t.Fatalf("prompt has %d messages, want persona, context, question", len(gen.lastMsgs))
	}
	if gen.lastMsgs[0].Role != schema.System || gen.lastMsgs[0].Content != systemPrompt {
		t.Fatal("first message is not the persona")
	}
	if !strings.Contains(gen.lastMsgs[1].Content, "### Source 1: manual.txt") {
		t.Fatalf("context message %q lacks the source header", gen.lastMsgs[1].Content)
	}
	if !strings.Contains(gen.lastMsgs[1].Content, "40 bar") {
		t.Fatal("context message lacks the retrieved chunk text")
	}
	if gen.lastMsgs[2].Role != schema.User || gen.lastMsgs[2].Content != "What is the coolant pressure limit?" {
		t.Fatal("last message is not the question")
	}
}

func TestEngine_QueryWithNothingRetrieved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gen := &fakeGenerator{reply: "The documents do not cover that topic."}

	e := New(testLogger())
	e.counter = &budget.Counter{}
	e.newGenerator = func(context.Context, *provider.Config) (generator, error) {
		return gen, nil
	}
	cfg := testConfig()
	cfg.Search.Threshold = 0.99
	if err := e.Configure(ctx, cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	doc := testDocument("d1", "parking.txt", "Employee parking is assigned on level two of the garage.")
	if err := e.AddDocument(ctx, doc); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	answer, err := e.Query(ctx, "quantum chromodynamics coupling")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if answer.Answer != gen.reply {
		t.Fatalf("Answer = %q, want the model's reply", answer.Answer)
	}
	if len(answer.Sources) != 0 {
		t.Fatalf("Sources = %v, want none for an empty retrieval", answer.Sources)
	}
	if answer.RelevanceScore != 0 || answer.RetrievedChunkCount != 0 {
		t.Fatalf("score/count = %v/%d, want 0/0", answer.RelevanceScore, answer.RetrievedChunkCount)
	}
	if len(gen.lastMsgs) != 2 {
		t.Fatalf("prompt has %d messages, want persona and question only", len(gen.lastMsgs))
	}
}

func TestEngine_GenerationFailurePropagates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backendErr := errors.New("model overloaded")
	e := newTestEngine(t, &fakeGenerator{err: backendErr})

	if err := e.AddDocument(ctx, testDocument("d1", "a.txt", "alpha beta gamma")); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	_, err := e.Query(ctx, "alpha")
	if !errors.Is(err, backendErr) {
		t.Fatalf("Query error = %v, want the backend error in the chain", err)
	}
	if !strings.Contains(err.Error(), "generation failed") {
		t.Fatalf("Query error %q lacks the generation context", err)
	}
}

func TestEngine_QueryStreamWritesDeltas(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gen := &fakeGenerator{reply: "Streamed answer about the handbook."}
	e := newTestEngine(t, gen)

	if err := e.AddDocument(ctx, testDocument("d1", "handbook.txt", "The handbook covers onboarding.")); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	var buf bytes.Buffer
	answer, err := e.QueryStream(ctx, "what does the handbook cover?", &buf)
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}
	if buf.String() != gen.reply {
		t.Fatalf("streamed %q, want %q", buf.String(), gen.reply)
	}
	if answer.Answer != gen.reply {
		t.Fatalf("Answer = %q, want the accumulated reply", answer.Answer)
	}
}

// observingWriter records the RetrievedContext callback and whether it fired
// before the first delta arrived.
type observingWriter struct {
	bytes.Buffer
	sources     []string
	chunks      int
	notified    bool
	beforeDelta bool
}

func (o *observingWriter) RetrievedContext(sources []string, chunks int) {
	o.sources = sources
	o.chunks = chunks
	o.notified = true
	o.beforeDelta = o.Len() == 0
}

func TestEngine_QueryStreamNotifiesObserverBeforeDeltas(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gen := &fakeGenerator{reply: "The handbook covers onboarding."}
	e := newTestEngine(t, gen)

	if err := e.AddDocument(ctx, testDocument("d1", "handbook.txt", "The handbook covers onboarding.")); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	w := &observingWriter{}
	if _, err := e.QueryStream(ctx, "what does the handbook cover?", w); err != nil {
		t.Fatalf("QueryStream: %v", err)
	}

	if !w.notified {
		t.Fatal("observer was never notified")
	}
	if !w.beforeDelta {
		t.Fatal("observer fired after deltas had already been written")
	}
	if len(w.sources) != 1 || w.sources[0] != "handbook.txt" {
		t.Fatalf("observer sources = %v, want [handbook.txt]", w.sources)
	}
	if w.chunks == 0 {
		t.Fatal("observer reported zero context chunks for a matching document")
	}
}

func TestEngine_AddDocumentValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t, &fakeGenerator{reply: "ok"})

	if err := e.AddDocument(ctx, Document{Name: "no-id.txt"}); err == nil {
		t.Fatal("AddDocument accepted an empty ID")
	}

	doc := testDocument("d1", "skewed.txt", "one", "two")
	doc.Embeddings = doc.Embeddings[:1]
	err := e.AddDocument(ctx, doc)
	if err == nil {
		t.Fatal("AddDocument accepted mismatched chunks and embeddings")
	}
	if !strings.Contains(err.Error(), "2 chunks but 1 embeddings") {
		t.Fatalf("error %q does not state the mismatch", err)
	}
}

func TestEngine_AddDocumentRollsBackOnStoreFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t, &fakeGenerator{reply: "ok"})
	e.store = &failingStore{addErr: errors.New("disk full")}

	err := e.AddDocument(ctx, testDocument("d1", "doomed.txt", "content"))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("AddDocument error = %v, want the store failure", err)
	}
	if n := e.DocumentCount(); n != 0 {
		t.Fatalf("DocumentCount() = %d after rollback, want 0", n)
	}
	if docs := e.Documents(); len(docs) != 0 {
		t.Fatalf("Documents() = %v after rollback, want empty", docs)
	}
}

func TestEngine_ReingestReplacesDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t, &fakeGenerator{reply: "ok"})

	v1 := testDocument("d1", "report-v1.txt", "first draft part one", "first draft part two")
	if err := e.AddDocument(ctx, v1); err != nil {
		t.Fatalf("AddDocument v1: %v", err)
	}
	v2 := testDocument("d1", "report-v2.txt", "final version, single chunk")
	if err := e.AddDocument(ctx, v2); err != nil {
		t.Fatalf("AddDocument v2: %v", err)
	}

	docs := e.Documents()
	if len(docs) != 1 || docs[0].Name != "report-v2.txt" {
		t.Fatalf("Documents() = %v, want only report-v2.txt", docs)
	}
	mem, ok := e.store.(*vectorstore.MemoryStore)
	if !ok {
		t.Fatalf("store is %T, want *vectorstore.MemoryStore", e.store)
	}
	if got := mem.Len(); got != 1 {
		t.Fatalf("store holds %d records, want 1 after replacement", got)
	}
}

func TestEngine_RemoveDocumentCascades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t, &fakeGenerator{reply: "ok"})

	if err := e.AddDocument(ctx, testDocument("d1", "a.txt", "alpha", "beta")); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := e.AddDocument(ctx, testDocument("d2", "b.txt", "gamma")); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if err := e.RemoveDocument(ctx, "d1"); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}

	docs := e.Documents()
	if len(docs) != 1 || docs[0].ID != "d2" {
		t.Fatalf("Documents() = %v, want only d2", docs)
	}
	mem := e.store.(*vectorstore.MemoryStore)
	if got := mem.Len(); got != 1 {
		t.Fatalf("store holds %d records, want only d2's chunk", got)
	}

	if err := e.RemoveDocument(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveDocument(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestEngine_ClearDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t, &fakeGenerator{reply: "ok"})

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("d%d", i)
		if err := e.AddDocument(ctx, testDocument(id, id+".txt", "content "+id)); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	if err := e.ClearDocuments(ctx); err != nil {
		t.Fatalf("ClearDocuments: %v", err)
	}
	if n := e.DocumentCount(); n != 0 {
		t.Fatalf("DocumentCount() = %d, want 0", n)
	}
	if got := e.store.(*vectorstore.MemoryStore).Len(); got != 0 {
		t.Fatalf("store holds %d records after Clear, want 0", got)
	}

	if _, err := e.Query(ctx, "anything"); !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("Query after Clear = %v, want ErrNoDocuments", err)
	}
}

func TestEngine_DocumentsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t, &fakeGenerator{reply: "ok"})

	names := []string{"first.txt", "second.txt", "third.txt"}
	for i, name := range names {
		if err := e.AddDocument(ctx, testDocument(fmt.Sprintf("d%d", i), name, "content")); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}

	docs := e.Documents()
	if len(docs) != len(names) {
		t.Fatalf("Documents() returned %d entries, want %d", len(docs), len(names))
	}
	for i, name := range names {
		if docs[i].Name != name {
			t.Fatalf("Documents()[%d].Name = %q, want %q", i, docs[i].Name, name)
		}
	}
}

func TestAssembleContext_BudgetStopsAtFirstOverflow(t *testing.T) {
	t.Parallel()

	counter := &budget.Counter{}
	question := "q"
	results := []vectorstore.SearchResult{
		{Record: vectorstore.Record{Content: strings.Repeat("a", 400), SourceName: "one.txt"}, Score: 0.9},
		{Record: vectorstore.Record{Content: strings.Repeat("b", 400), SourceName: "two.txt"}, Score: 0.7},
		{Record: vectorstore.Record{Content: strings.Repeat("c", 400), SourceName: "one.txt"}, Score: 0.5},
	}

	// Budget for the fixed prompt parts plus exactly two blocks.
	fixed := counter.CountMessages([]*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(question),
	}) + counter.Count(contextHeader)
	block := fmt.Sprintf("### Source 1: %s\n%s\n\n", "one.txt", strings.Repeat("a", 400))
	maxTokens := fixed + 2*counter.Count(block)

	asm := assembleContext(counter, maxTokens, question, results)

	if asm.used != 2 {
		t.Fatalf("used = %d, want 2", asm.used)
	}
	if want := []string{"one.txt", "two.txt"}; len(asm.sources) != 2 || asm.sources[0] != want[0] || asm.sources[1] != want[1] {
		t.Fatalf("sources = %v, want %v", asm.sources, want)
	}
	if !strings.Contains(asm.context, "### Source 2: two.txt") {
		t.Fatal("context lacks the second block")
	}
	if strings.Contains(asm.context, "### Source 3") {
		t.Fatal("context contains a block past the budget")
	}
	// The mean covers all three results, including the dropped one.
	if want := (0.9 + 0.7 + 0.5) / 3; math.Abs(asm.meanScore-want) > 1e-9 {
		t.Fatalf("meanScore = %v, want %v", asm.meanScore, want)
	}
}

func TestAssembleContext_NoResults(t *testing.T) {
	t.Parallel()

	asm := assembleContext(&budget.Counter{}, 6000, "q", nil)
	if asm.used != 0 || asm.context != "" || asm.sources != nil || asm.meanScore != 0 {
		t.Fatalf("assembly = %+v, want zero value", asm)
	}
}

func TestAssembleContext_TinyBudgetDropsEverything(t *testing.T) {
	t.Parallel()

	results := []vectorstore.SearchResult{
		{Record: vectorstore.Record{Content: "some chunk", SourceName: "a.txt"}, Score: 0.8},
	}
	asm := assembleContext(&budget.Counter{}, 1, "q", results)
	if asm.used != 0 || asm.context != "" || len(asm.sources) != 0 {
		t.Fatalf("assembly = %+v, want nothing admitted", asm)
	}
	if math.Abs(asm.meanScore-0.8) > 1e-9 {
		t.Fatalf("meanScore = %v, want 0.8 even with nothing admitted", asm.meanScore)
	}
}

func TestRecordID(t *testing.T) {
	t.Parallel()

	a := recordID("doc-1", 0)
	if b := recordID("doc-1", 0); a != b {
		t.Fatalf("recordID not deterministic: %q vs %q", a, b)
	}
	if b := recordID("doc-1", 1); a == b {
		t.Fatal("recordID collides across chunk indexes")
	}
	if b := recordID("doc-2", 0); a == b {
		t.Fatal("recordID collides across documents")
	}
	if len(a) != 36 {
		t.Fatalf("recordID %q is not UUID-shaped", a)
	}
}
