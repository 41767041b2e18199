package tiers

import (
	"context"
	"testing"
)

type stubEmbedder struct{ dim int }

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dim)
	for i := range vec {
		vec[i] = float32(len(text)) / float32(i+1)
	}
	return vec, nil
}
func (s stubEmbedder) Dim() int { return s.dim }

func TestActiveContextTierStoreAndRetrieveChronological(t *testing.T) {
	store := newTestStore(t)
	tier := NewActiveContextTier(store, 5, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		turn := Turn{SessionID: "s1", Role: "user", Content: "hello"}
		if err := tier.Store(ctx, turn); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	turns, err := tier.Retrieve(ctx, "s1")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].TurnID <= turns[i-1].TurnID {
			t.Fatalf("turns not chronological: %+v", turns)
		}
	}
}

func TestActiveContextTierWindowTrim(t *testing.T) {
	store := newTestStore(t)
	tier := NewActiveContextTier(store, 3, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := tier.Store(ctx, Turn{SessionID: "s1", Role: "user", Content: "turn"}); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	turns, err := tier.Retrieve(ctx, "s1")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want window size 3", len(turns))
	}
	if turns[len(turns)-1].TurnID != 10 {
		t.Fatalf("last turn id = %d, want 10", turns[len(turns)-1].TurnID)
	}
}

func TestActiveContextTierUnknownSessionReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	tier := NewActiveContextTier(store, 5, nil)

	turns, err := tier.Retrieve(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Retrieve on unknown session returned error: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("len(turns) = %d, want 0", len(turns))
	}
}

func TestActiveContextTierDelete(t *testing.T) {
	store := newTestStore(t)
	tier := NewActiveContextTier(store, 5, nil)
	ctx := context.Background()

	if err := tier.Store(ctx, Turn{SessionID: "s1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := tier.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	turns, err := tier.Retrieve(ctx, "s1")
	if err != nil {
		t.Fatalf("Retrieve after delete: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("len(turns) after delete = %d, want 0", len(turns))
	}
}

func TestActiveContextTierServesColdReadsFromDurableStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	warm := NewActiveContextTier(store, 5, nil)
	if err := warm.Store(ctx, Turn{SessionID: "s1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	cold := NewActiveContextTier(store, 5, nil)
	turns, err := cold.Retrieve(ctx, "s1")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1 from durable fallback", len(turns))
	}
}

func TestActiveContextTierAutoEmbedsWhenEmbedderConfigured(t *testing.T) {
	store := newTestStore(t)
	tier := NewActiveContextTier(store, 5, stubEmbedder{dim: 4})
	ctx := context.Background()

	if err := tier.Store(ctx, Turn{SessionID: "s1", Role: "user", Content: "remember this"}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	turns, err := tier.Retrieve(ctx, "s1")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(turns) != 1 || len(turns[0].Vector) != 4 {
		t.Fatalf("turns = %+v, want one turn with a 4-dim vector", turns)
	}
}

func TestActiveContextTierRejectsEmptySessionID(t *testing.T) {
	store := newTestStore(t)
	tier := NewActiveContextTier(store, 5, nil)
	err := tier.Store(context.Background(), Turn{Role: "user", Content: "hi"})
	if err == nil {
		t.Fatal("expected ValidationError for empty session_id")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %v (%T), want *ValidationError", err, err)
	}
}
