package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meridell/docqa-go/internal/logging"
)

// MemoryStore is the reference engine: exact scoring over everything held
// in RAM. It defines the search semantics the external engines
// approximate, and it is the default for single-session runs and tests.
type MemoryStore struct {
	mu sync.RWMutex
	// records holds insertion order so equal scores rank deterministically.
	records []Record
	// byID maps record ID to its index in records for overwrites.
	byID map[string]int

	logger *slog.Logger
}

// NewMemory constructs an empty MemoryStore.
func NewMemory(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		byID:   make(map[string]int),
		logger: logging.WithComponent(logger, "vectorstore"),
	}
}

// Initialize is a no-op; the store is ready on construction.
func (s *MemoryStore) Initialize(ctx context.Context) error { return nil }

// AddDocuments upserts records by ID. An existing ID is overwritten in
// place, keeping its original rank position.
func (s *MemoryStore) AddDocuments(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vectorstore: record for document %q has no ID", r.SourceDocID)
		}
		if idx, ok := s.byID[r.ID]; ok {
			s.records[idx] = r
			continue
		}
		s.byID[r.ID] = len(s.records)
		s.records = append(s.records, r)
	}
	return nil
}

// Search scores every stored record against the query under the selected
// mode, then filters, sorts, and truncates.
func (s *MemoryStore) Search(ctx context.Context, query string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	opts = opts.withDefaults()
	if err := validateFilters(opts.Filters); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0, len(s.records))
	for _, r := range s.records {
		if !matchesFilters(r, opts.Filters) {
			continue
		}
		semantic := 0.0
		if opts.Mode != ModeKeyword {
			semantic = Cosine(vector, r.Vector)
		}
		keyword := 0.0
		if opts.Mode != ModeSemantic {
			keyword = KeywordScore(query, r.Content)
		}
		results = append(results, SearchResult{
			Record: r,
			Score:  CombineScore(opts.Mode, semantic, keyword),
		})
	}
	return rankResults(results, opts), nil
}

// DeleteDocument removes every record belonging to the source document.
// Unknown IDs are a no-op.
func (s *MemoryStore) DeleteDocument(ctx context.Context, sourceDocID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if r.SourceDocID != sourceDocID {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(s.records) {
		return nil
	}
	s.records = kept
	s.byID = make(map[string]int, len(kept))
	for i, r := range kept {
		s.byID[r.ID] = i
	}
	return nil
}

// Clear removes all records.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.byID = make(map[string]int)
	return nil
}

// TestConnection always succeeds; there is nothing to reach.
func (s *MemoryStore) TestConnection(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len reports the stored record count.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
