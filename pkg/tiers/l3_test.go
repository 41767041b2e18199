package tiers

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/agentmem/memcore/pkg/graph"
)

func newTestEpisodicTier(t *testing.T) *EpisodicMemoryTier {
	store := newTestStore(t)
	g := newTestGraphStore(t, store)
	n := 0
	return NewEpisodicMemoryTier(store, g, func() string {
		n++
		return "ep_test_" + string(rune('a'+n))
	})
}

func TestEpisodicMemoryTierStoreSetsBothIDs(t *testing.T) {
	tier := newTestEpisodicTier(t)
	ep := &Episode{
		SessionID:     "s1",
		Summary:       "the user discussed their weekend plans",
		Entities:      []string{"Saturday"},
		FactValidFrom: time.Now().UTC(),
		Embedding:     []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
	}
	if err := tier.Store(context.Background(), ep); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if ep.VectorID == "" || ep.GraphNodeID == "" {
		t.Fatalf("episode missing vector_id or graph_node_id: %+v", ep)
	}
	if ep.VectorID != ep.GraphNodeID {
		t.Fatalf("vector_id %q != graph_node_id %q", ep.VectorID, ep.GraphNodeID)
	}
}

func TestEpisodicMemoryTierRejectsShortSummary(t *testing.T) {
	tier := newTestEpisodicTier(t)
	ep := &Episode{SessionID: "s1", Summary: "short", FactValidFrom: time.Now()}
	err := tier.Store(context.Background(), ep)
	if err == nil {
		t.Fatal("expected ValidationError for short summary")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %v (%T), want *ValidationError", err, err)
	}
}

func TestEpisodicMemoryTierRejectsInvertedValidity(t *testing.T) {
	tier := newTestEpisodicTier(t)
	from := time.Now().UTC()
	to := from.Add(-time.Hour)
	ep := &Episode{SessionID: "s1", Summary: "a long enough summary text", FactValidFrom: from, FactValidTo: &to}
	err := tier.Store(context.Background(), ep)
	if err == nil {
		t.Fatal("expected ValidationError for fact_valid_to before fact_valid_from")
	}
}

func TestEpisodicMemoryTierRetrieveRoundTrips(t *testing.T) {
	tier := newTestEpisodicTier(t)
	ep := &Episode{
		SessionID:     "s1",
		Summary:       "the user asked about flight options to Tokyo",
		Entities:      []string{"Tokyo"},
		FactValidFrom: time.Now().UTC(),
		Embedding:     []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
	}
	if err := tier.Store(context.Background(), ep); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := tier.Retrieve(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.Summary != ep.Summary {
		t.Fatalf("Summary = %q, want %q", got.Summary, ep.Summary)
	}
	if got.SessionID != ep.SessionID {
		t.Fatalf("SessionID = %q, want %q", got.SessionID, ep.SessionID)
	}
}

func TestEpisodicMemoryTierDualIndexRollbackOnGraphFailure(t *testing.T) {
	store := newTestStore(t)
	g := newTestGraphStore(t, store)
	tier := NewEpisodicMemoryTier(store, g, func() string { return "ep_dual_fail" })

	ep := &Episode{
		SessionID:     "s1",
		Summary:       "a perfectly fine summary of events",
		FactValidFrom: time.Now().UTC(),
		// Missing embedding: GraphStore.UpsertNode rejects nodes with no vector,
		// simulating a graph-write failure after the vector write succeeded.
	}
	err := tier.Store(context.Background(), ep)
	if err == nil {
		t.Fatal("expected DualIndexError when graph write fails")
	}
	if _, ok := err.(*DualIndexError); !ok {
		t.Fatalf("err = %v (%T), want *DualIndexError", err, err)
	}

	if _, getErr := store.GetByID(context.Background(), "ep_dual_fail"); getErr == nil {
		t.Fatal("expected compensating vector delete to have removed the record")
	}
}

func TestEpisodicMemoryTierExportGraphRoundTrips(t *testing.T) {
	tier := newTestEpisodicTier(t)
	ep := &Episode{
		SessionID:     "s1",
		Summary:       "the user asked about flight options to Tokyo",
		Entities:      []string{"Tokyo"},
		FactValidFrom: time.Now().UTC(),
		Embedding:     []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
	}
	if err := tier.Store(context.Background(), ep); err != nil {
		t.Fatalf("Store: %v", err)
	}

	var buf bytes.Buffer
	if err := tier.ExportGraph(context.Background(), &buf, graph.FormatJSON); err != nil {
		t.Fatalf("ExportGraph: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty export")
	}

	fresh := newTestEpisodicTier(t)
	if err := fresh.ImportGraph(context.Background(), &buf, graph.FormatJSON); err != nil {
		t.Fatalf("ImportGraph: %v", err)
	}
	got, err := fresh.Retrieve(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("Retrieve after import: %v", err)
	}
	if got.Summary != ep.Summary {
		t.Fatalf("Summary = %q, want %q", got.Summary, ep.Summary)
	}
}
