package history

import (
	"context"
	"testing"
	"time"
)

// openTestLog opens an in-memory SQLiteLog for use in tests.
func openTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory log: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func Test_Log_RecordAndRecent(t *testing.T) {
	t.Parallel()
	l := openTestLog(t)
	ctx := context.Background()

	e := Entry{
		Question:   "What is the refund policy?",
		Answer:     "Refunds are issued within 30 days, per policy.pdf.",
		Sources:    []string{"policy.pdf", "faq.md"},
		Score:      0.82,
		ChunkCount: 3,
		Model:      "llama3.1",
		Duration:   1250 * time.Millisecond,
	}
	if err := l.Record(ctx, e); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Question != e.Question || got.Answer != e.Answer {
		t.Errorf("question/answer: want %q/%q, got %q/%q", e.Question, e.Answer, got.Question, got.Answer)
	}
	if len(got.Sources) != 2 || got.Sources[0] != "policy.pdf" || got.Sources[1] != "faq.md" {
		t.Errorf("sources: want [policy.pdf faq.md], got %v", got.Sources)
	}
	if got.Score != 0.82 || got.ChunkCount != 3 || got.Model != "llama3.1" {
		t.Errorf("score/chunks/model: got %v/%d/%s", got.Score, got.ChunkCount, got.Model)
	}
	if got.Duration != 1250*time.Millisecond {
		t.Errorf("duration: want 1.25s, got %v", got.Duration)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}
}

func Test_Log_NilSourcesStoredAsEmptyList(t *testing.T) {
	t.Parallel()
	l := openTestLog(t)
	ctx := context.Background()

	if err := l.Record(ctx, Entry{Question: "q", Answer: "a", Sources: nil}); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := l.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	if entries[0].Sources == nil || len(entries[0].Sources) != 0 {
		t.Errorf("sources: want empty list, got %v", entries[0].Sources)
	}
}

func Test_Log_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	l := openTestLog(t)
	ctx := context.Background()

	for range 6 {
		if err := l.Record(ctx, Entry{Question: "q", Answer: "a"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := l.Recent(ctx, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("want 4 entries, got %d", len(entries))
	}
}

func Test_Log_OldestFirstOrdering(t *testing.T) {
	t.Parallel()
	l := openTestLog(t)
	ctx := context.Background()

	questions := []string{"first", "second", "third"}
	for _, q := range questions {
		if err := l.Record(ctx, Entry{Question: q, Answer: "a"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != len(questions) {
		t.Fatalf("want %d entries, got %d", len(questions), len(entries))
	}
	for i, want := range questions {
		if entries[i].Question != want {
			t.Errorf("entry[%d]: want %q, got %q", i, want, entries[i].Question)
		}
	}
}

func Test_Log_EmptyReturnsNil(t *testing.T) {
	t.Parallel()
	l := openTestLog(t)

	entries, err := l.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent empty: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("want 0 entries, got %d", len(entries))
	}
}

func Test_FromPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	disabled, err := FromPath(Disabled)
	if err != nil {
		t.Fatalf("FromPath(disabled): %v", err)
	}
	if _, ok := disabled.(Nop); !ok {
		t.Fatalf("FromPath(disabled) = %T, want Nop", disabled)
	}
	if err := disabled.Record(ctx, Entry{Question: "q"}); err != nil {
		t.Fatalf("nop record: %v", err)
	}
	entries, err := disabled.Recent(ctx, 10)
	if err != nil || entries != nil {
		t.Fatalf("nop recent = %v, %v; want nil, nil", entries, err)
	}

	mem, err := FromPath(":memory:")
	if err != nil {
		t.Fatalf("FromPath(:memory:): %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	if _, ok := mem.(*SQLiteLog); !ok {
		t.Fatalf("FromPath(:memory:) = %T, want *SQLiteLog", mem)
	}
}
