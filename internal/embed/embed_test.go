package embed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
)

// fakeClient is a vendor stand-in that can fail per text.
type fakeClient struct {
	dim    int
	failOn map[string]bool
	calls  int
}

func (f *fakeClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn[text] {
			return nil, errors.New("vendor unavailable")
		}
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func newTestService(c client, dim int) *Service {
	return &Service{
		vendor:     c,
		vendorName: "test",
		model:      "test-model",
		dim:        dim,
		limiter:    newLimiter(0),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestFallbackVector_Deterministic(t *testing.T) {
	t.Parallel()

	text := "The same input must always produce the same vector."
	a := FallbackVector(text, 0)
	b := FallbackVector(text, 0)
	if len(a) != FallbackDimension {
		t.Fatalf("vector length = %d, want %d", len(a), FallbackDimension)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at index %d: %v vs %v", i, a[i], b[i])
		}
	}

	other := FallbackVector("a completely different sentence about storage engines", 0)
	same := true
	for i := range a {
		if a[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}
}

func TestFallbackVector_Normalized(t *testing.T) {
	t.Parallel()

	vec := FallbackVector("normalize me, please, with several words", 128)
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestFallbackVector_EmptyText(t *testing.T) {
	t.Parallel()

	vec := FallbackVector("  \t\n  ", 32)
	if len(vec) != 32 {
		t.Fatalf("vector length = %d, want 32", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Errorf("index %d = %v, want 0 for tokenless input", i, v)
		}
	}
}

func TestService_VendorSuccess(t *testing.T) {
	t.Parallel()

	s := newTestService(&fakeClient{dim: 4}, 4)
	res := s.Embed(context.Background(), "hello")
	if res.FromFallback {
		t.Error("FromFallback = true for a healthy vendor")
	}
	if len(res.Vector) != 4 {
		t.Errorf("vector length = %d, want 4", len(res.Vector))
	}
	if res.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", res.Model)
	}
}

func TestService_FallsBackOnVendorError(t *testing.T) {
	t.Parallel()

	s := newTestService(&fakeClient{dim: 4, failOn: map[string]bool{"boom": true}}, 4)
	res := s.Embed(context.Background(), "boom")
	if !res.FromFallback {
		t.Fatal("FromFallback = false after a vendor error")
	}
	if len(res.Vector) != 4 {
		t.Errorf("fallback vector length = %d, want the service dimension 4", len(res.Vector))
	}
	if res.Model != fallbackModel {
		t.Errorf("Model = %q, want %q", res.Model, fallbackModel)
	}
}

func TestService_FallsBackOnDimensionMismatch(t *testing.T) {
	t.Parallel()

	// Vendor answers with 3-dimensional vectors but the service expects 4.
	s := newTestService(&fakeClient{dim: 3}, 4)
	res := s.Embed(context.Background(), "hello")
	if !res.FromFallback {
		t.Fatal("FromFallback = false despite a dimension mismatch")
	}
	if len(res.Vector) != 4 {
		t.Errorf("vector length = %d, want 4", len(res.Vector))
	}
}

func TestEmbedBatch_IsolatesFailures(t *testing.T) {
	t.Parallel()

	s := newTestService(&fakeClient{dim: 4, failOn: map[string]bool{"bad": true}}, 4)
	results := s.EmbedBatch(context.Background(), []string{"first", "bad", "third"})
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].FromFallback || results[2].FromFallback {
		t.Error("healthy items fell back alongside the failing one")
	}
	if !results[1].FromFallback {
		t.Error("failing item did not fall back")
	}
	// Vendor vectors are marked in the first component, fallback ones are not.
	if results[0].Vector[0] != 1 || results[2].Vector[0] != 1 {
		t.Error("result order does not match input order")
	}
}

func TestEmbedBatch_CancelledContext(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{dim: 4}
	s := newTestService(fake, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := s.EmbedBatch(ctx, []string{"one", "two"})
	for i, res := range results {
		if !res.FromFallback {
			t.Errorf("result %d did not fall back under a cancelled context", i)
		}
	}
	if fake.calls != 0 {
		t.Errorf("vendor was called %d times under a cancelled context", fake.calls)
	}
}

func TestNew_LocalDefaults(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Vendor() != VendorLocal {
		t.Errorf("Vendor = %q, want %q", s.Vendor(), VendorLocal)
	}
	if s.Dimension() != FallbackDimension {
		t.Errorf("Dimension = %d, want %d", s.Dimension(), FallbackDimension)
	}
	res := s.Embed(context.Background(), "anything")
	if !res.FromFallback {
		t.Error("local service must report FromFallback")
	}
}

func TestNew_VendorDefaults(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Vendor: VendorOllama}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Dimension() != defaultOllamaDimensions {
		t.Errorf("Dimension = %d, want %d", s.Dimension(), defaultOllamaDimensions)
	}
	if s.Model() != defaultOllamaModel {
		t.Errorf("Model = %q, want %q", s.Model(), defaultOllamaModel)
	}
}

func TestNew_UnknownVendor(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Vendor: "acme"}, nil); err == nil {
		t.Fatal("New accepted an unknown vendor")
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()

	for _, vendor := range []string{VendorOpenAI, VendorGemini, VendorHuggingFace} {
		if _, err := New(Config{Vendor: vendor}, nil); err == nil {
			t.Errorf("New(%q) accepted an empty API key", vendor)
		}
	}
}
