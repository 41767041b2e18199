package tiers

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/agentmem/memcore/pkg/core"
	"github.com/agentmem/memcore/pkg/llm"
)

const (
	// DefaultWindowSize is L1's default per-session turn window (range 10-20).
	DefaultWindowSize = 20
	// DefaultL1TTL is the TTL applied on every write.
	DefaultL1TTL = 24 * time.Hour
)

// Turn is one conversational turn held by ActiveContextTier.
type Turn struct {
	SessionID string
	TurnID    int64
	Role      string
	Content   string
	Vector    []float32
	Metadata  map[string]interface{}
	Timestamp time.Time
}

// ActiveContextTier maintains the most recent N turns per session with a
// write-through dual store: an in-process per-session ring buffer (hot,
// sub-10ms reads) backed by the shared SQLite messages table (durable,
// used for recovery and as the PromotionEngine's read path).
type ActiveContextTier struct {
	store      *core.SQLiteStore
	windowSize int
	ttl        time.Duration
	embedder   llm.Embedder // optional; nil means turns are stored without vectors

	ringsMu sync.Map // sessionID -> *sessionRing
}

type sessionRing struct {
	mu    sync.Mutex
	turns []Turn
	touchedAt time.Time
}

// NewActiveContextTier builds an ActiveContextTier over the shared store.
// windowSize defaults to DefaultWindowSize when <= 0.
func NewActiveContextTier(store *core.SQLiteStore, windowSize int, embedder llm.Embedder) *ActiveContextTier {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &ActiveContextTier{store: store, windowSize: windowSize, ttl: DefaultL1TTL, embedder: embedder}
}

func (t *ActiveContextTier) ring(sessionID string) *sessionRing {
	v, _ := t.ringsMu.LoadOrStore(sessionID, &sessionRing{})
	return v.(*sessionRing)
}

// Store appends a turn to the session's window, trimming to windowSize and
// resetting TTL. Atomic with respect to concurrent writes on the same
// session via a per-session lock. Hot-store failure downgrades to
// persistent-only (nothing to fail here: the ring buffer is in-process);
// persistent-store write failure is fatal for this call.
func (t *ActiveContextTier) Store(ctx context.Context, turn Turn) error {
	if turn.SessionID == "" {
		return &ValidationError{Op: "l1.store", Err: errNilRecord}
	}

	if len(turn.Vector) == 0 && t.embedder != nil && turn.Content != "" {
		vec, err := t.embedder.Embed(ctx, turn.Content)
		if err == nil {
			turn.Vector = vec
		}
		// Embedding failure degrades to an unvectored turn rather than
		// failing the store: L1's primary contract is recent-turn recall,
		// not semantic search.
	}

	r := t.ring(turn.SessionID)
	r.mu.Lock()
	defer r.mu.Unlock()

	turnID, err := t.store.NextTurnID(ctx, turn.SessionID)
	if err != nil {
		return &TierStorageError{Op: "l1.store", Err: err}
	}
	turn.TurnID = turnID
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	msg := &core.Message{
		ID:        sessionTurnKey(turn.SessionID, turnID),
		SessionID: turn.SessionID,
		TurnID:    turnID,
		Role:      turn.Role,
		Content:   turn.Content,
		Vector:    turn.Vector,
		Metadata:  turn.Metadata,
	}
	if err := t.store.AddMessage(ctx, msg); err != nil {
		return &TierStorageError{Op: "l1.store", Err: err}
	}
	if err := t.store.TrimSessionMessages(ctx, turn.SessionID, t.windowSize); err != nil {
		return &TierStorageError{Op: "l1.store", Err: err}
	}

	r.turns = append(r.turns, turn)
	if len(r.turns) > t.windowSize {
		r.turns = r.turns[len(r.turns)-t.windowSize:]
	}
	r.touchedAt = time.Now()

	return nil
}

// Retrieve returns the session's recent turns in chronological order
// (oldest first). Serves from the in-process ring when warm; falls back to
// the durable store on a cold/expired ring. Unknown sessions return an
// empty slice, never a not-found error.
func (t *ActiveContextTier) Retrieve(ctx context.Context, sessionID string) ([]Turn, error) {
	return t.Query(ctx, sessionID, 0)
}

// Query is Retrieve with an optional smaller limit (0 means windowSize).
func (t *ActiveContextTier) Query(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = t.windowSize
	}

	if v, ok := t.ringsMu.Load(sessionID); ok {
		r := v.(*sessionRing)
		r.mu.Lock()
		if time.Since(r.touchedAt) < t.ttl && len(r.turns) > 0 {
			n := len(r.turns)
			if n > limit {
				n = limit
			}
			out := make([]Turn, n)
			copy(out, r.turns[len(r.turns)-n:])
			r.mu.Unlock()
			return out, nil
		}
		r.mu.Unlock()
	}

	msgs, err := t.store.GetSessionHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, &TierStorageError{Op: "l1.query", Err: err}
	}
	out := make([]Turn, len(msgs))
	for i, m := range msgs {
		out[i] = Turn{
			SessionID: m.SessionID,
			TurnID:    m.TurnID,
			Role:      m.Role,
			Content:   m.Content,
			Vector:    m.Vector,
			Metadata:  m.Metadata,
			Timestamp: m.CreatedAt,
		}
	}
	return out, nil
}

// Delete removes the session's window from both stores.
func (t *ActiveContextTier) Delete(ctx context.Context, sessionID string) error {
	t.ringsMu.Delete(sessionID)
	if err := t.store.DeleteSessionMessages(ctx, sessionID); err != nil {
		return &TierStorageError{Op: "l1.delete", Err: err}
	}
	return nil
}

func sessionTurnKey(sessionID string, turnID int64) string {
	return sessionID + ":" + strconv.FormatInt(turnID, 10)
}
