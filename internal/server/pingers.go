package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/qdrant/go-client/qdrant"
)

// engineState is the slice of the engine the readiness probe reads.
type engineState interface {
	Ready() bool
	LastError() error
}

// EnginePinger reports whether the answer engine finished configuration.
// It satisfies the Pinger interface and is used by GET /readyz.
type EnginePinger struct {
	// engine is the configuration state source.
	engine engineState
}

// NewEnginePinger constructs an EnginePinger for the given engine.
func NewEnginePinger(engine engineState) *EnginePinger {
	return &EnginePinger{engine: engine}
}

// Name returns the dependency label used in readiness responses.
func (p *EnginePinger) Name() string { return "engine" }

// Ping reports nil when the engine is ready to answer queries. When the
// engine sits in the error state, the retained configuration error becomes
// the probe failure so /readyz explains what is wrong.
func (p *EnginePinger) Ping(_ context.Context) error {
	if p.engine.Ready() {
		return nil
	}
	if err := p.engine.LastError(); err != nil {
		return err
	}
	return fmt.Errorf("engine not configured")
}

// HTTPPinger probes an HTTP dependency with a plain GET request, a zero-cost
// alternative to sending a real inference request. Any response with a
// status below 500 counts as reachable. Used for the Ollama host and the
// remote extraction service.
type HTTPPinger struct {
	// name identifies the dependency in readiness responses (e.g. "ollama").
	name string
	// url is the endpoint to probe.
	url string
	// client is the HTTP client used for probes, bounded by probeTimeout.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger hitting url under the given label.
func NewHTTPPinger(name, url string) *HTTPPinger {
	return &HTTPPinger{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: probeTimeout},
	}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping sends the GET request and classifies the outcome.
// Returns nil if the dependency answered, or a descriptive error otherwise.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("responded %s", resp.Status)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /readyz.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
