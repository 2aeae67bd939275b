package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meridell/docqa-go/internal/history"
	"github.com/meridell/docqa-go/internal/rag"
)

// fakeHistory implements history.Log and records entries in memory.
type fakeHistory struct {
	// entries accumulates everything passed to Record.
	entries []history.Entry
}

func (f *fakeHistory) Record(_ context.Context, e history.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}
func (f *fakeHistory) Recent(context.Context, int) ([]history.Entry, error) { return nil, nil }
func (f *fakeHistory) Close() error                                         { return nil }

// postQuery runs one POST /api/query against the handler directly.
// httptest.ResponseRecorder implements http.Flusher, so the handler's
// flusher check passes without a real connection.
func postQuery(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handleQuery(w, req)
	return w
}

// ---------------------------------------------------------------------------
// POST /api/query — validation and guard paths
// ---------------------------------------------------------------------------

func Test_HandleQuery_InvalidJSON(t *testing.T) {
	t.Parallel()

	s, _ := newTestServerWith(&fakeEngine{ready: true}, &fakeUploader{})
	if w := postQuery(s, `not-json`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func Test_HandleQuery_MissingQuestion(t *testing.T) {
	t.Parallel()

	s, _ := newTestServerWith(&fakeEngine{ready: true}, &fakeUploader{})
	if w := postQuery(s, `{"question":"   "}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a blank question, got %d", w.Code)
	}
}

func Test_HandleQuery_EngineNotReady(t *testing.T) {
	t.Parallel()

	s, _ := newTestServerWith(&fakeEngine{ready: false}, &fakeUploader{})
	w := postQuery(s, `{"question":"what is the limit?"}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		t.Error("guard failures must not open an SSE stream")
	}
}

func Test_HandleQuery_NoDocuments(t *testing.T) {
	t.Parallel()

	s, _ := newTestServerWith(&fakeEngine{ready: true}, &fakeUploader{})
	w := postQuery(s, `{"question":"what is the limit?"}`)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 with an empty registry, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/query — SSE stream
// ---------------------------------------------------------------------------

// Test_HandleQuery_StreamsContextDeltasAndDone verifies the event protocol:
// one "context" event naming the sources, then "delta" events with the
// generation fragments, then a terminal "done" event carrying the full
// answer JSON, in that order.
func Test_HandleQuery_StreamsContextDeltasAndDone(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{
		ready: true,
		docs:  []rag.Document{{ID: "d1", Name: "manual.pdf"}},
		answer: rag.Answer{
			Answer:              "The maximum pressure is 40 bar.",
			Sources:             []string{"manual.pdf"},
			RelevanceScore:      0.82,
			RetrievedChunkCount: 2,
		},
		deltas: []string{"The maximum pressure ", "is 40 bar."},
	}
	s, _ := newTestServerWith(e, &fakeUploader{})

	w := postQuery(s, `{"question":"what is the maximum pressure?"}`)
	body := w.Body.String()

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type: expected text/event-stream, got %q", ct)
	}

	ctxIdx := strings.Index(body, "event: context")
	deltaIdx := strings.Index(body, "event: delta")
	doneIdx := strings.Index(body, "event: done")
	if ctxIdx < 0 || deltaIdx < 0 || doneIdx < 0 {
		t.Fatalf("missing events in stream: %s", body)
	}
	if !(ctxIdx < deltaIdx && deltaIdx < doneIdx) {
		t.Errorf("events out of order (context=%d delta=%d done=%d):\n%s", ctxIdx, deltaIdx, doneIdx, body)
	}

	if !strings.Contains(body, `"sources":["manual.pdf"]`) {
		t.Errorf("context event should name the sources, got: %s", body)
	}
	if !strings.Contains(body, "data: The maximum pressure ") {
		t.Errorf("expected first delta in stream, got: %s", body)
	}
	if !strings.Contains(body, `"answer":"The maximum pressure is 40 bar."`) {
		t.Errorf("done event should carry the answer JSON, got: %s", body)
	}
	if !strings.Contains(body, `"relevanceScore":0.82`) {
		t.Errorf("done event should carry the relevance score, got: %s", body)
	}
}

// Test_HandleQuery_GenerationErrorEmitsErrorEvent verifies that a failure
// after the stream has opened is delivered in-band as an "error" event,
// not via HTTP status.
func Test_HandleQuery_GenerationErrorEmitsErrorEvent(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{
		ready:    true,
		docs:     []rag.Document{{ID: "d1"}},
		queryErr: errors.New("rag: generation failed: model unavailable"),
	}
	s, _ := newTestServerWith(e, &fakeUploader{})

	w := postQuery(s, `{"question":"anything"}`)
	body := w.Body.String()

	if w.Code != http.StatusOK {
		t.Errorf("SSE errors are in-band; expected 200, got %d", w.Code)
	}
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected error event in body, got: %s", body)
	}
	if !strings.Contains(body, "model unavailable") {
		t.Errorf("expected the failure reason in body, got: %s", body)
	}
	if strings.Contains(body, "event: done") {
		t.Errorf("failed stream must not end with done, got: %s", body)
	}
}

// Test_HandleQuery_RecordsHistory verifies that a successful answer lands in
// the query history with the answer's fields.
func Test_HandleQuery_RecordsHistory(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{
		ready: true,
		model: "llama3.1",
		docs:  []rag.Document{{ID: "d1"}},
		answer: rag.Answer{
			Answer:              "Returns are accepted for 30 days.",
			Sources:             []string{"policy.md"},
			RelevanceScore:      0.7,
			RetrievedChunkCount: 1,
		},
	}
	s, _ := newTestServerWith(e, &fakeUploader{})
	hist := &fakeHistory{}
	s.history = hist

	if w := postQuery(s, `{"question":"what is the return window?"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if len(hist.entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist.entries))
	}
	got := hist.entries[0]
	if got.Question != "what is the return window?" {
		t.Errorf("Question = %q", got.Question)
	}
	if got.Answer != e.answer.Answer {
		t.Errorf("Answer = %q", got.Answer)
	}
	if got.Model != "llama3.1" {
		t.Errorf("Model = %q", got.Model)
	}
	if len(got.Sources) != 1 || got.Sources[0] != "policy.md" {
		t.Errorf("Sources = %v", got.Sources)
	}
	if got.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d", got.ChunkCount)
	}
}

// Test_HandleQuery_ErrorSkipsHistory verifies failed queries are not recorded.
func Test_HandleQuery_ErrorSkipsHistory(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{
		ready:    true,
		docs:     []rag.Document{{ID: "d1"}},
		queryErr: errors.New("generation failed"),
	}
	s, _ := newTestServerWith(e, &fakeUploader{})
	hist := &fakeHistory{}
	s.history = hist

	postQuery(s, `{"question":"anything"}`)

	if len(hist.entries) != 0 {
		t.Errorf("expected no history entries for a failed query, got %d", len(hist.entries))
	}
}
