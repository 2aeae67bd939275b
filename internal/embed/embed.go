// Package embed converts chunk text into dense vector embeddings. Vendor
// backends (OpenAI, Ollama, Gemini, Hugging Face) are reached via plain
// HTTP — no additional SDK dependencies are required. Every vendor failure
// degrades to a deterministic local hashing embedder, so embedding as a
// whole never fails: callers always get a vector of the configured
// dimension and a flag telling them whether it came from the fallback.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridell/docqa-go/internal/logging"
)

// Supported vendor names for Config.Vendor.
const (
	VendorLocal       = "local"
	VendorOpenAI      = "openai"
	VendorOllama      = "ollama"
	VendorGemini      = "gemini"
	VendorHuggingFace = "huggingface"
)

// Default embedding models and their output dimensions per vendor.
const (
	defaultOpenAIModel      = "text-embedding-3-small"
	defaultOpenAIDimensions = 1536

	defaultOllamaModel      = "nomic-embed-text"
	defaultOllamaDimensions = 768

	defaultGeminiModel      = "text-embedding-004"
	defaultGeminiDimensions = 768

	defaultHuggingFaceModel      = "sentence-transformers/all-MiniLM-L6-v2"
	defaultHuggingFaceDimensions = 384
)

// fallbackModel names the local hashing embedder in results and logs.
const fallbackModel = "local-hash"

// client is the vendor-specific transport. Implementations return one
// vector per input text, in input order.
type client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// clientFactory builds a vendor client from a resolved config.
type clientFactory func(cfg Config) (client, error)

// vendors is the registry of embedding backends. Construction looks the
// vendor name up here; adding a backend means adding one entry and one
// client file.
var vendors = map[string]clientFactory{
	VendorOpenAI:      newOpenAIClient,
	VendorOllama:      newOllamaClient,
	VendorGemini:      newGeminiClient,
	VendorHuggingFace: newHuggingFaceClient,
}

// Config holds the settings for constructing a Service.
type Config struct {
	// Vendor selects the embedding backend. Empty or "local" uses only the
	// deterministic hashing embedder.
	Vendor string
	// Model overrides the vendor's default embedding model.
	Model string
	// APIKey authenticates against the vendor. Required for openai, gemini,
	// and huggingface; ignored for ollama and local.
	APIKey string
	// Endpoint overrides the vendor's default base URL.
	Endpoint string
	// Dimension is the expected vector length. Zero selects the default for
	// the resolved model. Vendor responses of any other length are treated
	// as failures and fall back.
	Dimension int
	// RequestDelay paces vendor calls within a batch. Zero disables pacing.
	RequestDelay time.Duration
}

// Result is the outcome of embedding one text. Vector always has the
// service dimension; FromFallback reports whether the vendor was bypassed
// or failed for this item.
type Result struct {
	Vector       []float32
	FromFallback bool
	Model        string
}

// Service embeds text through a configured vendor with a local fallback.
// It is safe for concurrent use.
type Service struct {
	vendor     client
	vendorName string
	model      string
	dim        int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New constructs a Service for the configured vendor. An unknown vendor
// name or missing credentials fail construction; after that, embedding
// itself never returns an error.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "embed")

	name := cfg.Vendor
	if name == "" {
		name = VendorLocal
	}

	s := &Service{
		vendorName: name,
		model:      fallbackModel,
		dim:        cfg.Dimension,
		limiter:    newLimiter(cfg.RequestDelay),
		logger:     logger,
	}

	if name == VendorLocal {
		if s.dim <= 0 {
			s.dim = FallbackDimension
		}
		return s, nil
	}

	factory, ok := vendors[name]
	if !ok {
		return nil, fmt.Errorf("embed: unknown vendor %q, valid values: local, openai, ollama, gemini, huggingface", name)
	}

	cfg.Model, cfg.Dimension = resolveDefaults(name, cfg.Model, cfg.Dimension)
	c, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	s.vendor = c
	s.model = cfg.Model
	s.dim = cfg.Dimension
	return s, nil
}

// resolveDefaults fills in the vendor's default model and dimension for
// any field left unset.
func resolveDefaults(vendor, model string, dim int) (string, int) {
	var defModel string
	var defDim int
	switch vendor {
	case VendorOpenAI:
		defModel, defDim = defaultOpenAIModel, defaultOpenAIDimensions
	case VendorOllama:
		defModel, defDim = defaultOllamaModel, defaultOllamaDimensions
	case VendorGemini:
		defModel, defDim = defaultGeminiModel, defaultGeminiDimensions
	case VendorHuggingFace:
		defModel, defDim = defaultHuggingFaceModel, defaultHuggingFaceDimensions
	}
	if model == "" {
		model = defModel
	}
	if dim <= 0 {
		dim = defDim
	}
	return model, dim
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Dimension returns the vector length every Result carries.
func (s *Service) Dimension() int { return s.dim }

// Vendor returns the configured vendor name.
func (s *Service) Vendor() string { return s.vendorName }

// Model returns the active embedding model name.
func (s *Service) Model() string { return s.model }

// Embed converts one text into a vector. The vendor is paced by the
// request limiter; any vendor error, shape mismatch, or cancellation
// degrades to the local fallback, so the result is always usable.
func (s *Service) Embed(ctx context.Context, text string) Result {
	if s.vendor == nil {
		return s.fallback(text)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return s.fallbackAfter(text, err)
	}

	vecs, err := s.vendor.Embed(ctx, []string{text})
	if err == nil {
		if len(vecs) != 1 {
			err = fmt.Errorf("embed: vendor returned %d vectors for one input", len(vecs))
		} else if len(vecs[0]) != s.dim {
			err = fmt.Errorf("embed: vendor returned %d dimensions, configured for %d", len(vecs[0]), s.dim)
		}
	}
	if err != nil {
		return s.fallbackAfter(text, err)
	}

	return Result{Vector: vecs[0], Model: s.model}
}

// EmbedBatch embeds texts sequentially, preserving input order. Each item
// is isolated: one vendor failure sends only that item to the fallback.
// When ctx is cancelled the remaining items are produced by the fallback
// without further vendor calls.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))
	for i, text := range texts {
		results[i] = s.Embed(ctx, text)
	}
	return results
}

func (s *Service) fallback(text string) Result {
	return Result{
		Vector:       FallbackVector(text, s.dim),
		FromFallback: true,
		Model:        fallbackModel,
	}
}

func (s *Service) fallbackAfter(text string, err error) Result {
	s.logger.Warn("vendor embedding failed, using local fallback",
		"vendor", s.vendorName, "model", s.model, "error", err)
	return s.fallback(text)
}
