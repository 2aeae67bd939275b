package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultHuggingFaceBaseURL is used when Config.Endpoint is empty.
const defaultHuggingFaceBaseURL = "https://api-inference.huggingface.co/models"

// huggingFaceClient talks to the Hugging Face Inference API using the
// feature-extraction pipeline of a sentence-transformers model. It is safe
// for concurrent use.
type huggingFaceClient struct {
	// baseURL is the inference API base, the model name is appended.
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// model is the repository id (e.g. "sentence-transformers/all-MiniLM-L6-v2").
	model string
	// client is the shared HTTP client. Cold models can take a while to
	// spin up, so the timeout is generous.
	client *http.Client
}

func newHuggingFaceClient(cfg Config) (client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embed: huggingface requires an API key")
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = defaultHuggingFaceBaseURL
	}
	return &huggingFaceClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// hfEmbedRequest is the JSON body sent to the inference endpoint.
// wait_for_model blocks instead of erroring while the model loads.
type hfEmbedRequest struct {
	Inputs  []string `json:"inputs"`
	Options struct {
		WaitForModel bool `json:"wait_for_model"`
	} `json:"options"`
}

// hfErrorResponse is returned with a non-2xx status.
type hfErrorResponse struct {
	Error string `json:"error"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *huggingFaceClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := hfEmbedRequest{Inputs: texts}
	body.Options.WaitForModel = true

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("huggingface embed: marshal request: %w", err)
	}

	url := e.baseURL + "/" + e.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("huggingface embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("huggingface embed: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var herr hfErrorResponse
		if json.Unmarshal(raw, &herr) == nil && herr.Error != "" {
			msg = herr.Error
		}
		return nil, fmt.Errorf("huggingface embed: %s", msg)
	}

	// Sentence-transformers models return one vector per input.
	var embeddings [][]float32
	if err := json.Unmarshal(raw, &embeddings); err != nil {
		return nil, fmt.Errorf("huggingface embed: decode response: %w", err)
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("huggingface embed: expected %d embeddings, got %d", len(texts), len(embeddings))
	}

	return embeddings, nil
}
