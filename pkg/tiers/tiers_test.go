package tiers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentmem/memcore/pkg/core"
	"github.com/agentmem/memcore/pkg/graph"
)

func newTestStore(t *testing.T) *core.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tiers_test.db")
	store, err := core.New(dbPath, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestGraphStore(t *testing.T, store *core.SQLiteStore) *graph.GraphStore {
	t.Helper()
	g := graph.NewGraphStore(store)
	if err := g.InitGraphSchema(context.Background()); err != nil {
		t.Fatalf("InitGraphSchema: %v", err)
	}
	return g
}
