package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentmem/memcore/pkg/breaker"
	"github.com/agentmem/memcore/pkg/core"
	"github.com/agentmem/memcore/pkg/llm"
	"github.com/agentmem/memcore/pkg/tiers"
)

const (
	DefaultConsolidationWindow      = 24 * time.Hour
	DefaultClusterGapMinutes        = 60
	consolidationMinClusterFacts    = 2
)

// FactLister is the narrow read path ConsolidationEngine needs to enumerate
// sessions with new L2 activity since the last cycle.
type FactLister interface {
	SessionsWithFactsSince(ctx context.Context, since time.Time) ([]string, error)
}

// ConsolidationConfig tunes clustering behavior. Zero value resolves to the
// documented defaults via NewConsolidationEngine.
type ConsolidationConfig struct {
	Window            time.Duration
	ClusterGapMinutes int
	// SubclusterByTopic additionally splits a time-cluster by embedding
	// similarity. Off by default: time-gap clustering alone satisfies the
	// spec, and this adds an LLM-independent embedding dependency.
	SubclusterByTopic bool
	Concurrency       int
}

// ConsolidationEngine clusters L2 facts by time gap (and optionally topic),
// summarizes each cluster into a narrative episode via one LLM call, and
// dual-indexes it in L3.
type ConsolidationEngine struct {
	*loop

	sessions FactLister
	l2       *tiers.WorkingMemoryTier
	l3       *tiers.EpisodicMemoryTier
	client   llm.Client
	embedder llm.Embedder
	breaker  *breaker.Breaker
	cfg      ConsolidationConfig
	logger   core.Logger

	lastRun time.Time
}

// NewConsolidationEngine wires the engine. br may be nil (a default breaker
// is created); embedder may be nil unless cfg.SubclusterByTopic is set.
func NewConsolidationEngine(sessions FactLister, l2 *tiers.WorkingMemoryTier, l3 *tiers.EpisodicMemoryTier, client llm.Client, embedder llm.Embedder, br *breaker.Breaker, cfg ConsolidationConfig, logger core.Logger) *ConsolidationEngine {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConsolidationWindow
	}
	if cfg.ClusterGapMinutes <= 0 {
		cfg.ClusterGapMinutes = DefaultClusterGapMinutes
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if br == nil {
		br = breaker.NewDefault()
	}
	if logger == nil {
		logger = core.NopLogger()
	}
	return &ConsolidationEngine{
		loop:     newLoop(DefaultConsolidationInterval),
		sessions: sessions,
		l2:       l2,
		l3:       l3,
		client:   client,
		embedder: embedder,
		breaker:  br,
		cfg:      cfg,
		logger:   logger,
		lastRun:  time.Now().UTC().Add(-cfg.Window),
	}
}

// SetInterval overrides the cycle period before Start is called.
func (e *ConsolidationEngine) SetInterval(d time.Duration) { e.loop.setInterval(d) }

func (e *ConsolidationEngine) Start(ctx context.Context) { e.loop.start(ctx, e.runCycle) }
func (e *ConsolidationEngine) Stop()                     { e.loop.stop() }
func (e *ConsolidationEngine) Health() Health            { return e.loop.health() }

func (e *ConsolidationEngine) runCycle(ctx context.Context) error {
	since := e.lastRun
	cycleStart := time.Now().UTC()

	sessionIDs, err := e.sessions.SessionsWithFactsSince(ctx, since)
	if err != nil {
		e.logger.Error("consolidation: list sessions failed", "error", err)
		return err
	}

	for _, sid := range sessionIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.consolidateSession(ctx, sid, cycleStart)
	}

	e.lastRun = cycleStart
	return nil
}

func (e *ConsolidationEngine) consolidateSession(ctx context.Context, sessionID string, now time.Time) {
	facts, err := e.l2.Query(ctx, core.FactQuery{SessionID: sessionID})
	if err != nil {
		e.logger.Error("consolidation: query L2 facts failed", "session_id", sessionID, "error", err)
		return
	}

	cutoff := now.Add(-e.cfg.Window)
	windowed := facts[:0]
	for _, f := range facts {
		if !f.ExtractedAt.Before(cutoff) {
			windowed = append(windowed, f)
		}
	}
	if len(windowed) == 0 {
		return
	}
	sort.Slice(windowed, func(i, j int) bool { return windowed[i].ExtractedAt.Before(windowed[j].ExtractedAt) })

	for _, cluster := range timeCluster(windowed, time.Duration(e.cfg.ClusterGapMinutes)*time.Minute) {
		if ctx.Err() != nil {
			return
		}
		for _, sub := range e.maybeSubcluster(ctx, cluster) {
			if len(sub) < consolidationMinClusterFacts {
				continue
			}
			e.consolidateCluster(ctx, sessionID, sub, now)
		}
	}
}

// timeCluster sorts-assumed facts into runs separated by gaps exceeding gap.
func timeCluster(facts []*core.Fact, gap time.Duration) [][]*core.Fact {
	var clusters [][]*core.Fact
	var current []*core.Fact
	for i, f := range facts {
		if i > 0 && f.ExtractedAt.Sub(facts[i-1].ExtractedAt) > gap {
			clusters = append(clusters, current)
			current = nil
		}
		current = append(current, f)
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}
	return clusters
}

// maybeSubcluster optionally splits a time-cluster by embedding similarity of
// fact content. Ties (equal best-match similarity) favor joining the smaller
// existing sub-cluster, per the recorded tie-break rule.
func (e *ConsolidationEngine) maybeSubcluster(ctx context.Context, cluster []*core.Fact) [][]*core.Fact {
	if !e.cfg.SubclusterByTopic || e.embedder == nil || len(cluster) < 2 {
		return [][]*core.Fact{cluster}
	}

	type sub struct {
		facts []*core.Fact
		centroid []float32
	}
	var subs []sub
	for _, f := range cluster {
		vec, err := e.embedder.Embed(ctx, f.Content)
		if err != nil {
			return [][]*core.Fact{cluster}
		}
		bestIdx, bestScore := -1, -1.0
		for i, s := range subs {
			score := core.CosineSimilarity(vec, s.centroid)
			if score > bestScore || (score == bestScore && (bestIdx == -1 || len(s.facts) < len(subs[bestIdx].facts))) {
				bestIdx, bestScore = i, score
			}
		}
		const topicSimilarityThreshold = 0.75
		if bestIdx >= 0 && bestScore >= topicSimilarityThreshold {
			subs[bestIdx].facts = append(subs[bestIdx].facts, f)
		} else {
			subs = append(subs, sub{facts: []*core.Fact{f}, centroid: vec})
		}
	}

	out := make([][]*core.Fact, len(subs))
	for i, s := range subs {
		out[i] = s.facts
	}
	return out
}

func (e *ConsolidationEngine) consolidateCluster(ctx context.Context, sessionID string, facts []*core.Fact, consolidatedAt time.Time) {
	summary, entities, rels, err := e.summarize(ctx, facts)
	if err != nil {
		e.logger.Warn("consolidation: llm summarization failed, skipping cluster this cycle", "session_id", sessionID, "error", err)
		return
	}

	minT, maxT := facts[0].ExtractedAt, facts[0].ExtractedAt
	sourceIDs := make([]string, 0, len(facts))
	for _, f := range facts {
		if f.ExtractedAt.Before(minT) {
			minT = f.ExtractedAt
		}
		if f.ExtractedAt.After(maxT) {
			maxT = f.ExtractedAt
		}
		sourceIDs = append(sourceIDs, f.ID)
	}

	var embedding []float32
	if e.embedder != nil {
		if vec, err := e.embedder.Embed(ctx, summary); err == nil {
			embedding = vec
		}
	}

	episode := &tiers.Episode{
		ID:                         uuid.NewString(),
		SessionID:                  sessionID,
		Summary:                    summary,
		Entities:                   entities,
		Relationships:              rels,
		SourceFactIDs:              sourceIDs,
		FactValidFrom:              minT,
		FactValidTo:                &maxT,
		SourceObservationTimestamp: consolidatedAt,
		Embedding:                  embedding,
		ConsolidatedAt:             consolidatedAt,
	}

	if err := e.l3.Store(ctx, episode); err != nil {
		e.logger.Error("consolidation: L3 store failed", "session_id", sessionID, "error", err)
	}
}

func (e *ConsolidationEngine) summarize(ctx context.Context, facts []*core.Fact) (string, []string, []tiers.Relationship, error) {
	var out struct {
		Summary       string              `json:"summary"`
		Entities      []string            `json:"entities"`
		Relationships []tiers.Relationship `json:"relationships"`
	}

	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		raw, genErr := e.client.Generate(ctx, buildConsolidationPrompt(facts), consolidationResponseSchema)
		if genErr != nil {
			return genErr
		}
		return json.Unmarshal([]byte(raw), &out)
	})
	if err != nil {
		return "", nil, nil, err
	}
	if len(out.Summary) < 10 {
		return "", nil, nil, fmt.Errorf("consolidation: llm returned an empty or too-short summary")
	}
	return out.Summary, out.Entities, out.Relationships, nil
}

func buildConsolidationPrompt(facts []*core.Fact) string {
	var b strings.Builder
	b.WriteString("Summarize the following related facts into a short narrative episode and extract entities/relationships. ")
	b.WriteString("Respond with JSON: {\"summary\", \"entities\": [string], \"relationships\": [{\"subject\",\"predicate\",\"object\"}]}.\n\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- (%s, certainty=%.2f) %s\n", f.FactType, f.Certainty, f.Content)
	}
	return b.String()
}

var consolidationResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary":  map[string]any{"type": "string"},
		"entities": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"relationships": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subject":   map[string]any{"type": "string"},
					"predicate": map[string]any{"type": "string"},
					"object":    map[string]any{"type": "string"},
				},
			},
		},
	},
}
