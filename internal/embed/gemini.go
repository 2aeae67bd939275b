package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// defaultGeminiBaseURL is used when Config.Endpoint is empty.
const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiClient talks to the Gemini batchEmbedContents REST endpoint. It is
// safe for concurrent use.
type geminiClient struct {
	// baseURL is the API base (e.g. "https://generativelanguage.googleapis.com/v1beta").
	baseURL string
	// apiKey is sent via the x-goog-api-key header.
	apiKey string
	// model is the embedding model name (e.g. "text-embedding-004").
	model string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

func newGeminiClient(cfg Config) (client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embed: gemini requires an API key")
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &geminiClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// geminiContent is one text payload in Gemini request terms.
type geminiContent struct {
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

func newGeminiContent(text string) geminiContent {
	var c geminiContent
	c.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	return c
}

// geminiEmbedRequest is the JSON body sent to :batchEmbedContents.
type geminiEmbedRequest struct {
	Requests []struct {
		Model   string        `json:"model"`
		Content geminiContent `json:"content"`
	} `json:"requests"`
}

// geminiEmbedResponse is the JSON body returned from :batchEmbedContents.
type geminiEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *geminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var body geminiEmbedRequest
	body.Requests = make([]struct {
		Model   string        `json:"model"`
		Content geminiContent `json:"content"`
	}, len(texts))
	for i, text := range texts {
		body.Requests[i].Model = "models/" + e.model
		body.Requests[i].Content = newGeminiContent(text)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: marshal request: %w", err)
	}

	url := e.baseURL + "/models/" + e.model + ":batchEmbedContents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result geminiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gemini embed: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("gemini embed: %s", msg)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	embeddings := make([][]float32, len(texts))
	for i, em := range result.Embeddings {
		embeddings[i] = em.Values
	}
	return embeddings, nil
}
