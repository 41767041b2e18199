package tiers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/agentmem/memcore/pkg/ciar"
	"github.com/agentmem/memcore/pkg/core"
)

// WorkingMemoryTier holds CIAR-scored facts distilled from L1 turns.
// Retention is gated by the scorer's threshold: facts below it are rejected
// at write time rather than stored and filtered later.
type WorkingMemoryTier struct {
	store  *core.SQLiteStore
	scorer *ciar.Scorer
	ttl    time.Duration
}

// DefaultL2TTL matches the documented working-memory retention window.
const DefaultL2TTL = 7 * 24 * time.Hour

// NewWorkingMemoryTier builds a WorkingMemoryTier over the shared store.
// scorer defaults to ciar.NewDefault() when nil.
func NewWorkingMemoryTier(store *core.SQLiteStore, scorer *ciar.Scorer) *WorkingMemoryTier {
	if scorer == nil {
		scorer = ciar.NewDefault()
	}
	return &WorkingMemoryTier{store: store, scorer: scorer, ttl: DefaultL2TTL}
}

// Store persists a fact after computing its CIAR score. Facts scoring below
// the scorer's threshold are rejected with CIARThresholdError and never
// written; this is the engine's normal control-flow path, not a failure.
func (t *WorkingMemoryTier) Store(ctx context.Context, f *core.Fact) error {
	if f == nil {
		return &ValidationError{Op: "l2.store", Err: errNilRecord}
	}
	if math.IsNaN(f.Certainty) || math.IsInf(f.Certainty, 0) {
		return &ValidationError{Op: "l2.store", Err: fmt.Errorf("certainty %v is not a finite number", f.Certainty)}
	}
	if f.ExtractedAt.IsZero() {
		f.ExtractedAt = time.Now().UTC()
	}

	score, comp := t.scorer.ScoreFact(ciar.FactType(f.FactType), f.Certainty, f.ExtractedAt, f.ExtractedAt, f.AccessCount)
	f.AgeDecay = comp.AgeDecay
	f.RecencyBoost = comp.RecencyBoost
	f.CIARScore = score

	if score < t.scorer.Threshold {
		return &CIARThresholdError{Score: score, Threshold: t.scorer.Threshold}
	}

	if err := t.store.InsertFact(ctx, f); err != nil {
		return &TierStorageError{Op: "l2.store", Err: err}
	}
	return nil
}

// Retrieve fetches a fact by ID, bumping its access_count and recomputing
// recency_boost/ciar_score against the current time.
func (t *WorkingMemoryTier) Retrieve(ctx context.Context, factID string) (*core.Fact, error) {
	f, err := t.store.GetFact(ctx, factID)
	if err != nil {
		return nil, &TierStorageError{Op: "l2.retrieve", Err: err}
	}

	now := time.Now().UTC()
	score, comp := t.scorer.ScoreFact(ciar.FactType(f.FactType), f.Certainty, f.ExtractedAt, now, f.AccessCount+1)
	if err := t.store.TouchFact(ctx, factID, now, comp.RecencyBoost, score); err != nil {
		return nil, &TierStorageError{Op: "l2.retrieve", Err: err}
	}

	f.AccessCount++
	f.LastAccessed = now
	f.AgeDecay = comp.AgeDecay
	f.RecencyBoost = comp.RecencyBoost
	f.CIARScore = score
	return f, nil
}

// Query lists facts matching the filter, excluding records older than the
// tier's TTL. Results are ordered by ciar_score descending (the store's
// native order).
func (t *WorkingMemoryTier) Query(ctx context.Context, q core.FactQuery) ([]*core.Fact, error) {
	facts, err := t.store.QueryFacts(ctx, q)
	if err != nil {
		return nil, &TierStorageError{Op: "l2.query", Err: err}
	}

	cutoff := time.Now().UTC().Add(-t.ttl)
	out := facts[:0]
	for _, f := range facts {
		if f.ExtractedAt.Before(cutoff) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Delete removes a fact by ID.
func (t *WorkingMemoryTier) Delete(ctx context.Context, factID string) error {
	if err := t.store.DeleteFact(ctx, factID); err != nil {
		return &TierStorageError{Op: "l2.delete", Err: err}
	}
	return nil
}

// DeleteExpired purges facts extracted before the tier's TTL window,
// returning the count removed. No engine calls it; it runs only when a
// caller invokes it, and Query already excludes expired facts on read.
func (t *WorkingMemoryTier) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-t.ttl)
	n, err := t.store.DeleteExpiredFacts(ctx, cutoff)
	if err != nil {
		return 0, &TierStorageError{Op: "l2.delete_expired", Err: err}
	}
	return n, nil
}
