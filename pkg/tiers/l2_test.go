package tiers

import (
	"context"
	"testing"
	"time"

	"github.com/agentmem/memcore/pkg/ciar"
	"github.com/agentmem/memcore/pkg/core"
)

func TestWorkingMemoryTierRejectsBelowThreshold(t *testing.T) {
	store := newTestStore(t)
	tier := NewWorkingMemoryTier(store, nil)

	f := &core.Fact{
		ID:        "f1",
		SessionID: "s1",
		Content:   "maybe the user mentioned tea once",
		FactType:  string(ciar.FactTypeMention),
		Certainty: 0.2,
	}
	err := tier.Store(context.Background(), f)
	if err == nil {
		t.Fatal("expected CIARThresholdError for low-scoring fact")
	}
	var cte *CIARThresholdError
	if e, ok := err.(*CIARThresholdError); ok {
		cte = e
	} else {
		t.Fatalf("err = %v (%T), want *CIARThresholdError", err, err)
	}
	if cte.Threshold != ciar.DefaultThreshold {
		t.Fatalf("threshold = %v, want %v", cte.Threshold, ciar.DefaultThreshold)
	}
}

func TestWorkingMemoryTierStoresAboveThreshold(t *testing.T) {
	store := newTestStore(t)
	tier := NewWorkingMemoryTier(store, nil)

	f := &core.Fact{
		ID:        "f2",
		SessionID: "s1",
		Content:   "the user prefers dark mode",
		FactType:  string(ciar.FactTypePreference),
		Certainty: 0.9,
	}
	if err := tier.Store(context.Background(), f); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if f.CIARScore < ciar.DefaultThreshold {
		t.Fatalf("stored fact's own ciar_score = %v below threshold", f.CIARScore)
	}

	got, err := tier.Retrieve(context.Background(), "f2")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.AccessCount != 1 {
		t.Fatalf("AccessCount = %d, want 1", got.AccessCount)
	}
}

func TestWorkingMemoryTierQueryExcludesExpired(t *testing.T) {
	store := newTestStore(t)
	tier := NewWorkingMemoryTier(store, nil)
	tier.ttl = time.Hour

	fresh := &core.Fact{ID: "fresh", SessionID: "s1", Content: "user prefers tea", FactType: string(ciar.FactTypePreference), Certainty: 0.9}
	stale := &core.Fact{ID: "stale", SessionID: "s1", Content: "user prefers coffee", FactType: string(ciar.FactTypePreference), Certainty: 0.9,
		ExtractedAt: time.Now().UTC().Add(-48 * time.Hour)}

	if err := tier.Store(context.Background(), fresh); err != nil {
		t.Fatalf("Store fresh: %v", err)
	}
	if err := tier.Store(context.Background(), stale); err != nil {
		t.Fatalf("Store stale: %v", err)
	}

	facts, err := tier.Query(context.Background(), core.FactQuery{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, f := range facts {
		if f.ID == "stale" {
			t.Fatalf("expired fact %q present in query results", f.ID)
		}
	}
}

func TestWorkingMemoryTierDelete(t *testing.T) {
	store := newTestStore(t)
	tier := NewWorkingMemoryTier(store, nil)
	f := &core.Fact{ID: "f3", SessionID: "s1", Content: "user requires dark mode always", FactType: string(ciar.FactTypeConstraint), Certainty: 0.9}
	if err := tier.Store(context.Background(), f); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := tier.Delete(context.Background(), "f3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tier.Retrieve(context.Background(), "f3"); err == nil {
		t.Fatal("expected error retrieving deleted fact")
	}
}
