package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/meridell/docqa-go/internal/logging"
)

// QdrantStore implements Store backed by a Qdrant instance over gRPC.
// Semantic candidates come from Qdrant's cosine query; keyword and hybrid
// scores are computed locally over the candidate set so the engine keeps
// the reference semantics.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
	// collection is the Qdrant collection name.
	collection string
	// dimension is the embedding vector length for collection creation.
	dimension int

	logger *slog.Logger
}

// NewQdrant creates a QdrantStore. The gRPC connection is lazy; nothing
// is reached until Initialize or the first call.
func NewQdrant(cfg Config, logger *slog.Logger) (*QdrantStore, error) {
	host := cfg.QdrantHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.QdrantPort
	if port == 0 {
		port = 6334
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "docqa_chunks"
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vectorstore: qdrant requires a positive vector dimension, got %d", cfg.Dimension)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  cfg.Dimension,
		logger:     logging.WithComponent(logger, "vectorstore"),
	}, nil
}

// Initialize creates the collection if it does not already exist.
func (s *QdrantStore) Initialize(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create qdrant collection %q: %w", s.collection, err)
	}
	s.logger.Info("created qdrant collection", "collection", s.collection, "dimension", s.dimension)
	return nil
}

// AddDocuments upserts records as points keyed by their UUID, so
// re-ingesting a document overwrites its previous points.
func (s *QdrantStore) AddDocuments(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"content":     r.Content,
				"sourceDocId": r.SourceDocID,
				"chunkIndex":  int64(r.ChunkIndex),
				"sourceName":  r.SourceName,
				"timestamp":   r.Timestamp.UTC().Format(time.RFC3339Nano),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant upsert: %w", err)
	}
	return nil
}

// Search pulls a cosine-ordered candidate set from Qdrant, then applies
// the local scoring pipeline for the requested mode. Metadata filters
// become native match conditions so rejected points never leave the
// server.
func (s *QdrantStore) Search(ctx context.Context, query string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	opts = opts.withDefaults()
	if err := validateFilters(opts.Filters); err != nil {
		return nil, err
	}

	limit := uint64(candidateLimit(opts.Limit))
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qdrantFilter(opts.Filters),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query: %w", err)
	}

	candidates := make([]SearchResult, 0, len(points))
	for _, pt := range points {
		res := SearchResult{
			Record: Record{ID: pt.Id.GetUuid()},
			Score:  float64(pt.Score),
		}
		if p := pt.Payload; p != nil {
			if v, ok := p["content"]; ok {
				res.Content = v.GetStringValue()
			}
			if v, ok := p["sourceDocId"]; ok {
				res.SourceDocID = v.GetStringValue()
			}
			if v, ok := p["chunkIndex"]; ok {
				res.ChunkIndex = int(v.GetIntegerValue())
			}
			if v, ok := p["sourceName"]; ok {
				res.SourceName = v.GetStringValue()
			}
			if v, ok := p["timestamp"]; ok {
				if ts, terr := time.Parse(time.RFC3339Nano, v.GetStringValue()); terr == nil {
					res.Timestamp = ts
				}
			}
		}
		candidates = append(candidates, res)
	}

	return rescoreCandidates(candidates, query, opts), nil
}

// qdrantFilter translates the filter map into payload match conditions.
func qdrantFilter(filters map[string]string) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(filters))
	if v, ok := filters[FilterSourceDocID]; ok {
		conds = append(conds, qdrant.NewMatch("sourceDocId", v))
	}
	if v, ok := filters[FilterSourceName]; ok {
		conds = append(conds, qdrant.NewMatch("sourceName", v))
	}
	return &qdrant.Filter{Must: conds}
}

// DeleteDocument removes every point whose payload names the source
// document.
func (s *QdrantStore) DeleteDocument(ctx context.Context, sourceDocID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("sourceDocId", sourceDocID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant delete document %q: %w", sourceDocID, err)
	}
	return nil
}

// Clear drops and recreates the collection.
func (s *QdrantStore) Clear(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("vectorstore: drop qdrant collection %q: %w", s.collection, err)
	}
	return s.Initialize(ctx)
}

// TestConnection checks the Qdrant health endpoint.
func (s *QdrantStore) TestConnection(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vectorstore: qdrant unreachable: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
