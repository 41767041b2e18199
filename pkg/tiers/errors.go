// Package tiers implements the four memory tiers (L1 ActiveContextTier, L2
// WorkingMemoryTier, L3 EpisodicMemoryTier, L4 SemanticMemoryTier) over the
// shared SQLite-backed storage and graph engines.
package tiers

import (
	"errors"
	"fmt"
)

// TierStorageError reports a backend failure that persisted after retries.
type TierStorageError struct {
	Op  string
	Err error
}

func (e *TierStorageError) Error() string { return fmt.Sprintf("tiers: %s: %v", e.Op, e.Err) }
func (e *TierStorageError) Unwrap() error { return e.Err }
func (e *TierStorageError) Is(target error) bool {
	_, ok := target.(*TierStorageError)
	return ok
}

// ValidationError reports a payload violating a data-model invariant.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("tiers: %s: %v", e.Op, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// CIARThresholdError is the expected rejection when a fact's CIAR score is
// below L2's retention threshold. Engines treat this as normal control flow;
// direct API callers see it as an error.
type CIARThresholdError struct {
	Score     float64
	Threshold float64
}

func (e *CIARThresholdError) Error() string {
	return fmt.Sprintf("tiers: ciar_score %.4f below threshold %.4f", e.Score, e.Threshold)
}
func (e *CIARThresholdError) Is(target error) bool {
	_, ok := target.(*CIARThresholdError)
	return ok
}

// DualIndexError reports that an L3 write failed after part of it succeeded.
// When the graph-node write fails, the compensating delete of the vector
// record runs and the episode is not stored. When a later step fails (the
// payload update that records graph_node_id, or a relationship edge), no
// delete runs and the episode stays stored on both halves.
type DualIndexError struct {
	Op  string
	Err error
}

func (e *DualIndexError) Error() string { return fmt.Sprintf("tiers: %s: %v", e.Op, e.Err) }
func (e *DualIndexError) Unwrap() error { return e.Err }
func (e *DualIndexError) Is(target error) bool {
	_, ok := target.(*DualIndexError)
	return ok
}

// CircuitOpenError reports an LLM-dependent call short-circuited by a
// breaker. Engines handle this via fallback, not as a failure.
type CircuitOpenError struct {
	Dependency string
	Err        error
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("tiers: circuit open for %s: %v", e.Dependency, e.Err)
}
func (e *CircuitOpenError) Unwrap() error { return e.Err }
func (e *CircuitOpenError) Is(target error) bool {
	_, ok := target.(*CircuitOpenError)
	return ok
}

// TransientBackendError wraps an error retried internally with backoff;
// callers only see it after retries are exhausted.
type TransientBackendError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("tiers: %s: failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}
func (e *TransientBackendError) Unwrap() error { return e.Err }
func (e *TransientBackendError) Is(target error) bool {
	_, ok := target.(*TransientBackendError)
	return ok
}

var errNilRecord = errors.New("record must not be nil")
