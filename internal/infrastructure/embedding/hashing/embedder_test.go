package hashing

import (
	"context"
	"math"
	"testing"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestEmbedIsDeterministicAndNormalized(t *testing.T) {
	e := New(64)
	first, err := e.EmbedQuery(context.Background(), "PD-1 blockade in melanoma")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	second, _ := e.EmbedQuery(context.Background(), "pd-1 BLOCKADE in melanoma")
	if len(first) != 64 {
		t.Fatalf("unexpected dimensions %d", len(first))
	}
	if math.Abs(dot(first, second)-1) > 1e-5 {
		t.Fatalf("expected identical vectors, cosine=%f", dot(first, second))
	}
	if math.Abs(dot(first, first)-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %f", dot(first, first))
	}
}

func TestEmbedRanksRelatedTextHigher(t *testing.T) {
	e := New(DefaultDimensions)
	vectors, err := e.Embed(context.Background(), []string{
		"KRAS mutation drives pancreatic cancer progression",
		"weather forecast for the coastal region",
	})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	query, _ := e.EmbedQuery(context.Background(), "KRAS pancreatic cancer")
	if dot(query, vectors[0]) <= dot(query, vectors[1]) {
		t.Fatalf("expected related text to score higher")
	}
}

func TestEmbedEmptyTextIsZeroVector(t *testing.T) {
	e := New(8)
	v, _ := e.EmbedQuery(context.Background(), "   ")
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector, got %v", v)
		}
	}
	if e.Name() != "hashing:8" {
		t.Fatalf("unexpected name %q", e.Name())
	}
}

func TestEmbedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(8).Embed(ctx, []string{"a"}); err == nil {
		t.Fatalf("expected context error")
	}
}
