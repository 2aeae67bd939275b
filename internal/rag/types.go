// Package rag orchestrates the question-answering pipeline. The Engine
// owns the document registry, forwards chunk embeddings to the vector
// store, retrieves and budgets context for each question, and hands the
// assembled prompt to the generation backend. Ingestion needs only the
// store and the embedder, so documents can be added while the generation
// model is unreachable.
package rag

import (
	"time"

	"github.com/meridell/docqa-go/internal/chunk"
	"github.com/meridell/docqa-go/internal/embed"
	"github.com/meridell/docqa-go/internal/extract"
	"github.com/meridell/docqa-go/internal/provider"
	"github.com/meridell/docqa-go/internal/vectorstore"
)

// State names the engine lifecycle phase.
type State string

const (
	// StateUnconfigured is the initial phase; no collaborators exist yet.
	StateUnconfigured State = "unconfigured"
	// StateInitializing is the transient phase while Configure runs.
	StateInitializing State = "initializing"
	// StateReady means embedder, store, and generation backend are built.
	StateReady State = "ready"
	// StateError means the last Configure failed; the cause is retained
	// and Configure may be called again.
	StateError State = "error"
)

// Document is one ingested document held in the engine's registry.
type Document struct {
	// ID uniquely identifies the document. Re-adding an ID replaces the
	// earlier registry entry and overwrites its store records.
	ID string
	// Name is the original file name, used to label retrieved context.
	Name string
	// RawText is the full extracted text.
	RawText string
	// Chunks are the split units of RawText, ordered by Index.
	Chunks []chunk.Chunk
	// Embeddings is parallel to Chunks, one vector per chunk.
	Embeddings [][]float32
	// UploadedAt is when the document entered the registry. Zero means
	// AddDocument stamps the current time.
	UploadedAt time.Time
	// Metadata is the extraction outcome for the document.
	Metadata extract.Metadata
}

// Answer is the result of one query.
type Answer struct {
	// Answer is the generated text.
	Answer string `json:"answer"`
	// Sources lists the distinct document names whose chunks made it into
	// the context, in rank order. Empty when nothing was retrieved.
	Sources []string `json:"sources"`
	// RelevanceScore is the mean score across everything the search
	// returned, including chunks later dropped by the token budget. Zero
	// when nothing was retrieved.
	RelevanceScore float64 `json:"relevanceScore"`
	// RetrievedChunkCount is the number of chunks that made it into the
	// context after budgeting.
	RetrievedChunkCount int `json:"retrievedChunkCount"`
}

// SearchSettings tunes retrieval and context assembly.
type SearchSettings struct {
	// Limit caps the chunks retrieved per query. Zero or negative selects
	// the store default.
	Limit int
	// Threshold drops search results scoring below it.
	Threshold float64
	// MaxContextTokens bounds the assembled prompt, retrieved context
	// included. Zero selects the budget default.
	MaxContextTokens int
}

// Config assembles every collaborator the engine builds during Configure.
type Config struct {
	// Provider configures the generation backend.
	Provider provider.Config
	// Embedding configures the embedding service.
	Embedding embed.Config
	// Store configures the vector store. Its Dimension is overridden with
	// the embedder's output length so search stays well defined.
	Store vectorstore.Config
	// Search tunes retrieval.
	Search SearchSettings
}
