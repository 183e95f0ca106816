package embedding

import (
	"context"
	"math"
	"testing"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i] * b[i])
	}
	return s
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "I feel anxious before exams")
	b, _ := e.Embed(ctx, "I feel anxious before exams")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d", i)
		}
	}
	if n := dot(a, a); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm^2 = %f, want 1", n)
	}
}

func TestHashEmbedder_SharedVocabularyScoresHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "how to manage exam anxiety")
	near, _ := e.Embed(ctx, "managing anxiety before an exam")
	far, _ := e.Embed(ctx, "salary negotiation tips for engineers")
	if dot(q, near) <= dot(q, far) {
		t.Errorf("near=%f far=%f", dot(q, near), dot(q, far))
	}
}

func TestHashEmbedder_EmptyAndModel(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dimensions() != 384 || e.Model() != "hash-384" {
		t.Errorf("defaults: %d %s", e.Dimensions(), e.Model())
	}
	v, err := e.Embed(context.Background(), "")
	if err != nil || len(v) != 384 || dot(v, v) != 0 {
		t.Errorf("empty text: %v %v", err, dot(v, v))
	}
}

func TestHashEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).EmbedBatch(ctx, []string{"a"}); err == nil {
		t.Error("expected context error")
	}
}
