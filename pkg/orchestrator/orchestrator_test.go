package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmem/memcore/pkg/tiers"
)

type stubClient struct{ response string }

func (s stubClient) Generate(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	return s.response, nil
}

type stubEmbedder struct{ dim int }

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}
func (s stubEmbedder) Dim() int { return s.dim }

func newTestSystem(t *testing.T) *UnifiedMemorySystem {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "orchestrator_test.db")
	cfg := DefaultConfig(dbPath)
	cfg.VectorDim = 8
	sys, err := New(cfg, WithLLM(stubClient{response: `{}`}, stubEmbedder{dim: 8}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sys.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = sys.Close() })
	return sys
}

func TestLifecycleConnectStartStopClose(t *testing.T) {
	sys := newTestSystem(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sys.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sys.promotion.Running() || !sys.consolidation.Running() || !sys.distillation.Running() {
		t.Fatal("expected all three engines running after Start")
	}

	sys.Stop()
	if sys.promotion.Running() || sys.consolidation.Running() || sys.distillation.Running() {
		t.Fatal("expected all three engines stopped after Stop")
	}
}

func TestStartBeforeConnectFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "unconnected.db")
	cfg := DefaultConfig(dbPath)
	cfg.VectorDim = 8
	sys, err := New(cfg, WithLLM(stubClient{response: `{}`}, stubEmbedder{dim: 8}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sys.Start(context.Background()); err == nil {
		t.Fatal("expected Start before Connect to fail")
	}
}

func TestRememberAndQueryAssemblesAllTiers(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()

	if err := sys.Remember(ctx, tiers.Turn{SessionID: "s1", Role: "user", Content: "I prefer dark mode"}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	result := sys.Query(ctx, QueryRequest{SessionID: "s1", QueryText: "preferences"})
	if result.AnyDegraded() {
		t.Fatalf("expected no degraded tiers, got L1=%v L2=%v L3=%v L4=%v",
			result.L1.Degraded, result.L2.Degraded, result.L3.Degraded, result.L4.Degraded)
	}
	if len(result.L1.Turns) != 1 {
		t.Fatalf("L1 turns = %d, want 1", len(result.L1.Turns))
	}
	if result.L1.Turns[0].Content != "I prefer dark mode" {
		t.Fatalf("L1 turn content = %q", result.L1.Turns[0].Content)
	}
}

func TestQueryDegradesGracefullyOnTierTimeout(t *testing.T) {
	sys := newTestSystem(t)
	sys.cfg.PerTierTimeout = time.Nanosecond

	result := sys.Query(context.Background(), QueryRequest{SessionID: "s2", QueryText: "anything"})
	// Every tier races against an effectively-expired timeout; at minimum the
	// query must return promptly with degradation flags rather than hang or
	// panic, and a degraded tier must never carry partial results.
	if result.L1.Degraded && len(result.L1.Turns) != 0 {
		t.Fatal("a degraded L1 result must not carry turns")
	}
}

func TestHealthAggregatesEngineState(t *testing.T) {
	sys := newTestSystem(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := sys.Health(ctx)
	if !h.StoreOK {
		t.Fatal("expected StoreOK after Connect")
	}
	if h.Promotion.Running || h.Consolidation.Running || h.Distillation.Running {
		t.Fatal("expected engines not running before Start")
	}

	if err := sys.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sys.Stop()

	h = sys.Health(ctx)
	if !h.Promotion.Running || !h.Consolidation.Running || !h.Distillation.Running {
		t.Fatal("expected engines running after Start")
	}
}

func TestVectorQuantizationRoundTripsThroughEpisodeSearch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quantized.db")
	cfg := DefaultConfig(dbPath)
	cfg.VectorDim = 8
	cfg.VectorQuantization = true
	sys, err := New(cfg, WithLLM(stubClient{response: `{}`}, stubEmbedder{dim: 8}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sys.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sys.Close()

	ctx := context.Background()
	ep := &tiers.Episode{
		SessionID:     "s1",
		Summary:       "the user asked about flight options to Tokyo",
		FactValidFrom: time.Now().UTC(),
		Embedding:     []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
	}
	if err := sys.L3().Store(ctx, ep); err != nil {
		t.Fatalf("Store: %v", err)
	}

	results, err := sys.L3().Query(ctx, tiers.EpisodeQuery{Vector: ep.Embedding, TopK: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != ep.ID {
		t.Fatalf("Query results = %+v, want one match for %q", results, ep.ID)
	}
}

func TestSetIntervalAppliesBeforeStart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "interval_test.db")
	cfg := DefaultConfig(dbPath)
	cfg.VectorDim = 8
	cfg.PromotionInterval = 5 * time.Millisecond
	sys, err := New(cfg, WithLLM(stubClient{response: `{"segments":[]}`}, stubEmbedder{dim: 8}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sys.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sys.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sys.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sys.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if !sys.promotion.Health().LastCycleAt.IsZero() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("promotion engine never completed a cycle within the fast interval")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
