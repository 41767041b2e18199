package llm

import (
	"context"
	"testing"
)

func TestNewFuncEmbedderAdaptsBareFunc(t *testing.T) {
	calls := 0
	e := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
		calls++
		return []float32{1, 2, 3}, nil
	}, 3)

	if e.Dim() != 3 {
		t.Fatalf("Dim() = %d, want 3", e.Dim())
	}
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("Embed() len = %d, want 3", len(vec))
	}
	if calls != 1 {
		t.Fatalf("embed func called %d times, want 1", calls)
	}
}
