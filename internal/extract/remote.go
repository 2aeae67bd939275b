package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// defaultRemoteTimeout bounds the remote extraction round trip. Conversion
// services chew on large documents for a while.
const defaultRemoteTimeout = 60 * time.Second

// remoteClient uploads a document to an extraction service and reads the
// text back. It is safe for concurrent use.
type remoteClient struct {
	// endpoint is the full URL of the extraction route.
	endpoint string
	// client is the shared HTTP client with the remote tier timeout.
	client *http.Client
}

func newRemoteClient(endpoint string, timeout time.Duration) *remoteClient {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &remoteClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// remoteResponse is the JSON body returned by the extraction service.
type remoteResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
	Error string `json:"error,omitempty"`
}

// extract posts the document as a multipart upload and returns the
// extracted text and page count.
func (r *remoteClient) extract(ctx context.Context, name string, data []byte) (string, int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("files", name)
	if err != nil {
		return "", 0, fmt.Errorf("extract: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", 0, fmt.Errorf("extract: write upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("extract: finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &buf)
	if err != nil {
		return "", 0, fmt.Errorf("extract: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("extract: remote request failed: %w", err)
	}
	defer resp.Body.Close()

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("extract: decode remote response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return "", 0, fmt.Errorf("extract: remote: %s", msg)
	}

	if strings.TrimSpace(result.Text) == "" {
		return "", 0, errors.New("extract: remote returned no text")
	}
	pages := result.Pages
	if pages < 1 {
		pages = 1
	}
	return result.Text, pages, nil
}
