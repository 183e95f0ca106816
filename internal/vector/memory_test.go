package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3, Cosine)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	ids := []string{"a", "b", "c"}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order = %s,%s", results[0].ID, results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("scores not descending")
	}
}

func TestMemoryIndex_CosineIgnoresMagnitude(t *testing.T) {
	idx, _ := NewMemoryIndex(2, Cosine)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"long", "short"}, [][]float32{{10, 0}, {0.5, 0.5}})
	res, err := idx.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res[0].ID != "long" || res[0].Score < 0.999 || res[0].Score > 1.001 {
		t.Errorf("cosine top = %+v", res[0])
	}
}

func TestMemoryIndex_InnerProductUsesMagnitude(t *testing.T) {
	idx, _ := NewMemoryIndex(2, InnerProduct)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"unit", "big"}, [][]float32{{1, 0}, {0.8, 5}})
	res, _ := idx.Search(ctx, []float32{0.5, 0.5}, 1)
	if res[0].ID != "big" {
		t.Errorf("inner product top = %s", res[0].ID)
	}
}

func TestMemoryIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx, _ := NewMemoryIndex(2, Cosine)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"first", "second", "third"}, [][]float32{{1, 0}, {1, 0}, {1, 0}})
	res, _ := idx.Search(ctx, []float32{1, 0}, 3)
	for i, want := range []string{"first", "second", "third"} {
		if res[i].ID != want {
			t.Errorf("res[%d] = %s, want %s", i, res[i].ID, want)
		}
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(2, Cosine)
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {1, 0, 0}}); err == nil {
		t.Error("expected add error")
	}
	if idx.Size() != 0 {
		t.Errorf("partial add: size %d", idx.Size())
	}
	if _, err := idx.Search(ctx, []float32{1}, 1); err == nil {
		t.Error("expected search error")
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2, Cosine)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y", "z"}, [][]float32{{1, 0}, {0, 1}, {1, 1}})
	if err := idx.Remove(ctx, []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("expected size 2, got %d", idx.Size())
	}
	if ids := idx.IDs(); ids[0] != "y" || ids[1] != "z" {
		t.Errorf("ids after remove = %v", ids)
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.bin")
	ctx := context.Background()

	idx, _ := NewMemoryIndex(3, Cosine)
	_ = idx.Add(ctx, []string{"doc:a:1", "doc:a:2"}, [][]float32{{1, 0, 0}, {0, 1, 0}})
	sum, err := idx.Save(path)
	if err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(3, Cosine)
	if err := loaded.Load(path, sum); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("loaded size %d", loaded.Size())
	}
	res, _ := loaded.Search(ctx, []float32{0, 1, 0}, 1)
	if res[0].ID != "doc:a:2" {
		t.Errorf("top after load = %s", res[0].ID)
	}
}

func TestMemoryIndex_LoadRejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.bin")
	ctx := context.Background()
	idx, _ := NewMemoryIndex(2, Cosine)
	_ = idx.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
	sum, err := idx.Save(path)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("checksum", func(t *testing.T) {
		fresh, _ := NewMemoryIndex(2, Cosine)
		if err := fresh.Load(path, sum+1); !errors.Is(err, ErrCorrupt) {
			t.Errorf("want ErrCorrupt, got %v", err)
		}
	})
	t.Run("dimensions", func(t *testing.T) {
		fresh, _ := NewMemoryIndex(3, Cosine)
		if err := fresh.Load(path, sum); !errors.Is(err, ErrCorrupt) {
			t.Errorf("want ErrCorrupt, got %v", err)
		}
	})
	t.Run("metric", func(t *testing.T) {
		fresh, _ := NewMemoryIndex(2, InnerProduct)
		if err := fresh.Load(path, sum); !errors.Is(err, ErrCorrupt) {
			t.Errorf("want ErrCorrupt, got %v", err)
		}
	})
	t.Run("missing", func(t *testing.T) {
		fresh, _ := NewMemoryIndex(2, Cosine)
		if err := fresh.Load(filepath.Join(dir, "nope.bin"), 0); !errors.Is(err, ErrCorrupt) {
			t.Errorf("want ErrCorrupt, got %v", err)
		}
	})
	t.Run("flipped byte", func(t *testing.T) {
		data, _ := os.ReadFile(path)
		data[len(data)-1] ^= 0xff
		bad := filepath.Join(dir, "bad.bin")
		if err := os.WriteFile(bad, data, 0644); err != nil {
			t.Fatal(err)
		}
		fresh, _ := NewMemoryIndex(2, Cosine)
		if err := fresh.Load(bad, sum); !errors.Is(err, ErrCorrupt) {
			t.Errorf("want ErrCorrupt, got %v", err)
		}
		if fresh.Size() != 0 {
			t.Error("index should be unchanged after failed load")
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal = %f", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector = %f", got)
	}
}

func TestDot(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1}, []float32{1, 2}, 0},
		{nil, nil, 0},
	}
	for _, tt := range tests {
		if got := Dot(tt.a, tt.b); got != tt.want {
			t.Errorf("Dot(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
	q, v := []float32{2, 0}, []float32{3, 0}
	if got := InnerProduct.score(q, L2Norm(q), v, L2Norm(v)); got != 6 {
		t.Errorf("InnerProduct.score = %v, want 6", got)
	}
	if got := Cosine.score(q, L2Norm(q), v, L2Norm(v)); got != 1 {
		t.Errorf("Cosine.score = %v, want 1", got)
	}
}
