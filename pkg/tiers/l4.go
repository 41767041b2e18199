package tiers

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmem/memcore/pkg/core"
)

// DefaultMinOccurrences is the minimum number of corroborating episodes
// DistillationEngine requires before synthesizing a knowledge document.
const DefaultMinOccurrences = 3

// SemanticMemoryTier holds distilled, confidence-scored knowledge with
// provenance pointers back to the L3 episodes that produced it.
type SemanticMemoryTier struct {
	store *core.SQLiteStore
}

// NewSemanticMemoryTier builds a SemanticMemoryTier over the shared store.
func NewSemanticMemoryTier(store *core.SQLiteStore) *SemanticMemoryTier {
	return &SemanticMemoryTier{store: store}
}

// Store persists a knowledge document. Requires a non-empty
// SourceEpisodeIDs: semantic knowledge with no traceable provenance is a
// data-model violation, not a degraded write.
func (t *SemanticMemoryTier) Store(ctx context.Context, d *core.KnowledgeDocument) error {
	if d == nil {
		return &ValidationError{Op: "l4.store", Err: errNilRecord}
	}
	if len(d.SourceEpisodeIDs) == 0 {
		return &ValidationError{Op: "l4.store", Err: fmt.Errorf("source_episode_ids must not be empty")}
	}
	now := time.Now().UTC()
	if d.DistilledAt.IsZero() {
		d.DistilledAt = now
	}
	d.UpdatedAt = now

	if err := t.store.InsertKnowledgeDocument(ctx, d); err != nil {
		return &TierStorageError{Op: "l4.store", Err: err}
	}
	return nil
}

// Search performs a ranked full-text query over title/content/category,
// optionally restricted by exact facet match and sort order.
func (t *SemanticMemoryTier) Search(ctx context.Context, q core.KnowledgeSearchQuery) ([]*core.KnowledgeDocument, error) {
	docs, err := t.store.SearchKnowledgeDocuments(ctx, q)
	if err != nil {
		return nil, &TierStorageError{Op: "l4.search", Err: err}
	}
	return docs, nil
}

// Retrieve fetches a knowledge document by ID, bumping its access_count.
func (t *SemanticMemoryTier) Retrieve(ctx context.Context, knowledgeID string) (*core.KnowledgeDocument, error) {
	d, err := t.store.GetKnowledgeDocument(ctx, knowledgeID)
	if err != nil {
		return nil, &TierStorageError{Op: "l4.retrieve", Err: err}
	}
	now := time.Now().UTC()
	if err := t.store.TouchKnowledgeDocument(ctx, knowledgeID, now); err != nil {
		return nil, &TierStorageError{Op: "l4.retrieve", Err: err}
	}
	d.AccessCount++
	d.LastAccessed = now
	return d, nil
}

// Delete removes a knowledge document by ID.
func (t *SemanticMemoryTier) Delete(ctx context.Context, knowledgeID string) error {
	if err := t.store.DeleteKnowledgeDocument(ctx, knowledgeID); err != nil {
		return &TierStorageError{Op: "l4.delete", Err: err}
	}
	return nil
}
