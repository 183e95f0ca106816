package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "lexical"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	err := idx.Index(ctx,
		Entry{ChunkID: "doc:a:1", DocumentID: "doc:a", Title: "Sleep", Content: "Good sleep hygiene means a regular bedtime."},
		Entry{ChunkID: "doc:b:1", DocumentID: "doc:b", Title: "Breathing", Content: "Box breathing calms the body."},
	)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := idx.Search(ctx, "bedtime", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "doc:a:1" {
		t.Fatalf("results = %+v", results)
	}

	// No stemming: "Breathing" matches "breathing" exactly.
	results, _ = idx.Search(ctx, "BREATHING", 10, nil)
	if len(results) == 0 || results[0].ID != "doc:b:1" {
		t.Errorf("case-insensitive match failed: %+v", results)
	}
}

func TestBleveIndex_SearchChinese(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, Entry{ChunkID: "doc:zh:1", DocumentID: "doc:zh", Content: "焦虑的时候可以尝试深呼吸练习。"}); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "深呼吸", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].ID != "doc:zh:1" {
		t.Errorf("han bigram match failed: %+v", results)
	}
}

func TestBleveIndex_TitleBoost(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx,
		Entry{ChunkID: "body", DocumentID: "d1", Title: "Notes", Content: "feedback is useful at work"},
		Entry{ChunkID: "titled", DocumentID: "d2", Title: "Feedback", Content: "giving notes at work"},
	)
	results, err := idx.Search(ctx, "feedback", 10, &SearchOptions{TitleBoost: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "titled" {
		t.Errorf("title boost order = %+v", results)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, Entry{ChunkID: "c1", DocumentID: "d1", Content: "assertive communication"})
	results, err := idx.Search(ctx, "asertive", 10, &SearchOptions{Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("fuzzy results = %+v", results)
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, Entry{ChunkID: "c1", DocumentID: "d1", Content: "onlyinchunk1"})
	if err := idx.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := idx.Search(ctx, "onlyinchunk1", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount = %d", n)
	}
}

func TestBleveIndex_ReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "lexical")
	idx1, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = idx1.Index(ctx, Entry{ChunkID: "c1", DocumentID: "d1", Content: "uniqueword"})
	if err := idx1.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("index path should exist: %v", err)
	}

	idx2, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()
	results, _ := idx2.Search(ctx, "uniqueword", 10, nil)
	if len(results) != 1 {
		t.Errorf("after reopen got %d results", len(results))
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil || results != nil {
		t.Errorf("empty query = %v, %v", results, err)
	}
}

func TestNewMapping_indexesChunkFields(t *testing.T) {
	m := newMapping()
	if m.DefaultType != "chunk" {
		t.Errorf("DefaultType = %q, want chunk", m.DefaultType)
	}
	dm, ok := m.TypeMapping["chunk"]
	if !ok {
		t.Fatal("chunk document mapping missing")
	}
	for _, field := range []string{"content", "title", "document_id"} {
		if _, ok := dm.Properties[field]; !ok {
			t.Errorf("field %q not mapped", field)
		}
	}
}
