package index_test

import (
	"context"
	"os"
	"testing"

	"github.com/bdobrica/hibiki/internal/hibiki/index"
	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

func newTestIndex(t *testing.T) *index.SQLiteIndex {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "hibiki-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return index.NewSQLiteIndex(s.DB(), nil)
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	entries := []index.Entry{
		{SessionKey: "sess", FirstMessageID: 1, LastMessageID: 2, Content: "about cats", Embedding: []float32{1, 0, 0}},
		{SessionKey: "sess", FirstMessageID: 2, LastMessageID: 3, Content: "about dogs", Embedding: []float32{0, 1, 0}},
		{SessionKey: "sess", FirstMessageID: 3, LastMessageID: 4, Content: "mostly cats", Embedding: []float32{0.9, 0.1, 0}},
	}
	if err := idx.Upsert(ctx, entries); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Search(ctx, []float32{1, 0, 0}, "sess", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Content != "about cats" {
		t.Errorf("best match: got %q, want %q", got[0].Content, "about cats")
	}
	if got[1].Content != "mostly cats" {
		t.Errorf("second match: got %q, want %q", got[1].Content, "mostly cats")
	}
	if got[0].Score < got[1].Score {
		t.Errorf("scores not descending: %f < %f", got[0].Score, got[1].Score)
	}
}

func TestSearch_SessionIsolation(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	entries := []index.Entry{
		{SessionKey: "sess-a", FirstMessageID: 1, LastMessageID: 2, Content: "a", Embedding: []float32{1, 0}},
		{SessionKey: "sess-b", FirstMessageID: 1, LastMessageID: 2, Content: "b", Embedding: []float32{1, 0}},
	}
	if err := idx.Upsert(ctx, entries); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Search(ctx, []float32{1, 0}, "sess-a", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Content != "a" {
		t.Errorf("got %+v, want only session a's entry", got)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	got, err := idx.Search(context.Background(), []float32{1, 0}, "sess", 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d entries, want 0", len(got))
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	entry := index.Entry{SessionKey: "sess", FirstMessageID: 1, LastMessageID: 2, Content: "v1", Embedding: []float32{1, 0}}
	if err := idx.Upsert(ctx, []index.Entry{entry}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	entry.Content = "v2"
	if err := idx.Upsert(ctx, []index.Entry{entry}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Search(ctx, []float32{1, 0}, "sess", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1 after re-upsert", len(got))
	}
	if got[0].Content != "v2" {
		t.Errorf("got %q, want the replacing content", got[0].Content)
	}
}

func TestSearch_ZeroK(t *testing.T) {
	idx := newTestIndex(t)

	got, err := idx.Search(context.Background(), []float32{1}, "sess", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}
