package engines

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentmem/memcore/pkg/ciar"
	"github.com/agentmem/memcore/pkg/core"
	"github.com/agentmem/memcore/pkg/extract"
	"github.com/agentmem/memcore/pkg/segment"
	"github.com/agentmem/memcore/pkg/tiers"
)

// SessionLister is the narrow read path PromotionEngine needs to enumerate
// sessions with new L1 activity since the last cycle.
type SessionLister interface {
	ActiveSessionsSince(ctx context.Context, since time.Time) ([]string, error)
}

// PromotionEngine compresses L1 turn windows into topic segments, filters
// them by CIAR, extracts facts from the survivors, and writes the facts to
// L2. State machine per session: idle -> sampling -> segmenting -> scoring
// -> extracting -> writing -> idle, cancellable at any boundary.
type PromotionEngine struct {
	*loop

	sessions    SessionLister
	l1          *tiers.ActiveContextTier
	l2          *tiers.WorkingMemoryTier
	segmenter   *segment.Segmenter
	extractor   *extract.Extractor
	scorer      *ciar.Scorer
	retry       tiers.RetryConfig
	concurrency int
	logger      core.Logger

	lastRun time.Time
}

// NewPromotionEngine wires the engine over its tier dependencies. scorer
// defaults to ciar.NewDefault() when nil; concurrency defaults to
// DefaultConcurrency when <= 0.
func NewPromotionEngine(sessions SessionLister, l1 *tiers.ActiveContextTier, l2 *tiers.WorkingMemoryTier, seg *segment.Segmenter, ext *extract.Extractor, scorer *ciar.Scorer, concurrency int, logger core.Logger) *PromotionEngine {
	if scorer == nil {
		scorer = ciar.NewDefault()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = core.NopLogger()
	}
	return &PromotionEngine{
		loop:        newLoop(DefaultPromotionInterval),
		sessions:    sessions,
		l1:          l1,
		l2:          l2,
		segmenter:   seg,
		extractor:   ext,
		scorer:      scorer,
		retry:       tiers.DefaultRetryConfig(),
		concurrency: concurrency,
		logger:      logger,
		lastRun:     time.Now().UTC().Add(-time.Hour),
	}
}

// SetInterval overrides the cycle period before Start is called.
func (e *PromotionEngine) SetInterval(d time.Duration) { e.loop.setInterval(d) }

// Start launches the ticker-driven background loop.
func (e *PromotionEngine) Start(ctx context.Context) {
	e.loop.start(ctx, e.runCycle)
}

// Stop cancels the loop, waiting for the in-flight cycle to finish.
func (e *PromotionEngine) Stop() { e.loop.stop() }

// Health reports the engine's running/last-cycle-ok status.
func (e *PromotionEngine) Health() Health { return e.loop.health() }

func (e *PromotionEngine) runCycle(ctx context.Context) error {
	since := e.lastRun
	cycleStart := time.Now().UTC()

	sessionIDs, err := e.sessions.ActiveSessionsSince(ctx, since)
	if err != nil {
		e.logger.Error("promotion: list active sessions failed", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, sid := range sessionIDs {
		sid := sid
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			e.promoteSession(gctx, sid)
			return nil
		})
	}
	_ = g.Wait()

	e.lastRun = cycleStart
	return nil
}

func (e *PromotionEngine) promoteSession(ctx context.Context, sessionID string) {
	turns, err := e.l1.Retrieve(ctx, sessionID)
	if err != nil {
		e.logger.Error("promotion: retrieve L1 window failed", "session_id", sessionID, "error", err)
		return
	}
	if len(turns) < segment.BatchMinTurns {
		return
	}

	segTurns := make([]segment.Turn, len(turns))
	turnIDsByIndex := make([]int64, len(turns))
	for i, t := range turns {
		segTurns[i] = segment.Turn{Index: i, SessionID: t.SessionID, Role: t.Role, Content: t.Content, Timestamp: t.Timestamp}
		turnIDsByIndex[i] = t.TurnID
	}

	segments, err := e.segmenter.Segment(ctx, segTurns)
	if err != nil {
		e.logger.Warn("promotion: segmentation degraded to fallback", "session_id", sessionID, "error", err)
	}

	for _, seg := range segments {
		if ctx.Err() != nil {
			return
		}

		segScore := ciar.Components{Certainty: seg.Certainty, Impact: seg.Impact, AgeDecay: 1.0, RecencyBoost: 1.0}
		if e.scorer.Score(segScore) < e.scorer.Threshold {
			continue
		}

		turnIDs := make([]int64, 0, len(seg.TurnIndices))
		for _, idx := range seg.TurnIndices {
			if idx >= 0 && idx < len(turnIDsByIndex) {
				turnIDs = append(turnIDs, turnIDsByIndex[idx])
			}
		}

		facts, err := e.extractor.Extract(ctx, seg, turnIDs)
		if err != nil {
			e.logger.Warn("promotion: fact extraction failed", "session_id", sessionID, "segment_id", seg.ID, "error", err)
			continue
		}

		for _, f := range facts {
			fact := &core.Fact{
				ID:             uuid.NewString(),
				SessionID:      sessionID,
				Content:        f.Content,
				FactType:       string(f.Type),
				Certainty:      f.Certainty,
				SourceTurnIDs:  f.SourceTurnIDs,
				TopicSegmentID: f.TopicSegmentID,
				TopicLabel:     f.TopicLabel,
			}

			if err := e.storeFactWithRetry(ctx, fact); err != nil {
				if _, ok := err.(*tiers.CIARThresholdError); ok {
					continue
				}
				e.logger.Error("promotion: L2 write failed after retries", "session_id", sessionID, "error", err)
			}
		}
	}
}

// storeFactWithRetry writes a fact to L2, retrying only on transient storage
// failures. A CIARThresholdError or ValidationError is deterministic given
// the same input and is returned immediately without burning retry budget.
func (e *PromotionEngine) storeFactWithRetry(ctx context.Context, fact *core.Fact) error {
	first := e.l2.Store(ctx, fact)
	if first == nil {
		return nil
	}
	if _, ok := first.(*tiers.TierStorageError); !ok {
		return first
	}
	return tiers.Retry(ctx, e.retry, func(ctx context.Context) error {
		return e.l2.Store(ctx, fact)
	})
}
