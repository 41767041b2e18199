package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentmem/memcore/pkg/breaker"
	"github.com/agentmem/memcore/pkg/core"
	"github.com/agentmem/memcore/pkg/graph"
	"github.com/agentmem/memcore/pkg/llm"
	"github.com/agentmem/memcore/pkg/tiers"
)

// DistillationConfig tunes pattern mining. Zero value resolves to documented
// defaults via NewDistillationEngine.
type DistillationConfig struct {
	MinOccurrences int
	// UseGraphCentrality weights a pattern's significance score by the
	// average PageRank centrality of its source episodes, computed over the
	// whole L3 graph (episode and entity nodes), in addition to plain
	// occurrence_count/total_episodes.
	UseGraphCentrality bool
}

// DistillationEngine mines themes recurring across L3 episodes and
// synthesizes generalized L4 knowledge, one LLM call per significant
// pattern.
type DistillationEngine struct {
	*loop

	l3         *tiers.EpisodicMemoryTier
	l4         *tiers.SemanticMemoryTier
	graphStore *graph.GraphStore
	client     llm.Client
	breaker    *breaker.Breaker
	cfg        DistillationConfig
	logger     core.Logger

	watermark time.Time
}

// NewDistillationEngine wires the engine. br may be nil (a default breaker
// is created). graphStore may be nil unless cfg.UseGraphCentrality is set.
func NewDistillationEngine(l3 *tiers.EpisodicMemoryTier, l4 *tiers.SemanticMemoryTier, graphStore *graph.GraphStore, client llm.Client, br *breaker.Breaker, cfg DistillationConfig, logger core.Logger) *DistillationEngine {
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = tiers.DefaultMinOccurrences
	}
	if br == nil {
		br = breaker.NewDefault()
	}
	if logger == nil {
		logger = core.NopLogger()
	}
	return &DistillationEngine{
		loop:       newLoop(DefaultDistillationInterval),
		l3:         l3,
		l4:         l4,
		graphStore: graphStore,
		client:     client,
		breaker:    br,
		cfg:        cfg,
		logger:     logger,
		watermark:  time.Time{},
	}
}

// SetInterval overrides the cycle period before Start is called.
func (e *DistillationEngine) SetInterval(d time.Duration) { e.loop.setInterval(d) }

func (e *DistillationEngine) Start(ctx context.Context) { e.loop.start(ctx, e.runCycle) }
func (e *DistillationEngine) Stop()                     { e.loop.stop() }
func (e *DistillationEngine) Health() Health            { return e.loop.health() }

func (e *DistillationEngine) runCycle(ctx context.Context) error {
	cycleStart := time.Now().UTC()

	episodes, err := e.l3.Query(ctx, tiers.EpisodeQuery{})
	if err != nil {
		e.logger.Error("distillation: scroll L3 episodes failed", "error", err)
		return err
	}

	var since []*tiers.Episode
	for _, ep := range episodes {
		if ep.ConsolidatedAt.After(e.watermark) {
			since = append(since, ep)
		}
	}
	if len(since) == 0 {
		e.watermark = cycleStart
		return nil
	}

	centrality := e.episodeCentrality(ctx, since)

	themes := groupByTheme(since)
	totalEpisodes := len(since)

	for theme, members := range themes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(distinctEpisodes(members)) < e.cfg.MinOccurrences {
			continue
		}
		e.synthesizePattern(ctx, theme, members, totalEpisodes, centrality)
	}

	e.watermark = cycleStart
	return nil
}

// groupByTheme buckets episodes by each of their stored entities, treating an
// entity string as a theme. An episode can contribute to multiple themes.
func groupByTheme(episodes []*tiers.Episode) map[string][]*tiers.Episode {
	themes := make(map[string][]*tiers.Episode)
	for _, ep := range episodes {
		for _, entity := range ep.Entities {
			key := strings.ToLower(strings.TrimSpace(entity))
			if key == "" {
				continue
			}
			themes[key] = append(themes[key], ep)
		}
	}
	return themes
}

func distinctEpisodes(members []*tiers.Episode) map[string]bool {
	seen := make(map[string]bool, len(members))
	for _, ep := range members {
		seen[ep.ID] = true
	}
	return seen
}

// episodeCentrality returns each episode's PageRank score, computed over the
// whole graph including entity nodes, when enabled, or nil (treated as
// uniform weight 1) otherwise.
func (e *DistillationEngine) episodeCentrality(ctx context.Context, episodes []*tiers.Episode) map[string]float64 {
	if !e.cfg.UseGraphCentrality || e.graphStore == nil {
		return nil
	}
	ranks, err := e.graphStore.PageRank(ctx, 0, 0)
	if err != nil {
		e.logger.Warn("distillation: pagerank unavailable, falling back to uniform weighting", "error", err)
		return nil
	}
	out := make(map[string]float64, len(ranks))
	for _, r := range ranks {
		out[r.NodeID] = r.Score
	}
	return out
}

func (e *DistillationEngine) synthesizePattern(ctx context.Context, theme string, members []*tiers.Episode, totalEpisodes int, centrality map[string]float64) {
	distinct := distinctEpisodes(members)
	occurrenceCount := len(distinct)

	significance := float64(occurrenceCount) / float64(totalEpisodes)
	if centrality != nil {
		var sum float64
		for id := range distinct {
			sum += centrality[id]
		}
		significance *= sum / float64(len(distinct))
	}

	sourceIDs := make([]string, 0, len(distinct))
	var certaintySum float64
	episodesByID := make(map[string]*tiers.Episode, len(distinct))
	for _, ep := range members {
		episodesByID[ep.ID] = ep
	}
	for id, ep := range episodesByID {
		sourceIDs = append(sourceIDs, id)
		certaintySum += episodeCertaintyProxy(ep)
	}
	avgCertainty := certaintySum / float64(len(episodesByID))
	confidence := significance * avgCertainty
	if confidence > 1 {
		confidence = 1
	}

	statement, err := e.synthesize(ctx, theme, episodesByID)
	if err != nil {
		e.logger.Warn("distillation: llm synthesis failed, skipping pattern this cycle", "theme", theme, "error", err)
		return
	}

	doc := &core.KnowledgeDocument{
		ID:               uuid.NewString(),
		Title:            theme,
		Content:          statement,
		Category:         "pattern",
		ConfidenceScore:  confidence,
		OccurrenceCount:  occurrenceCount,
		SourceEpisodeIDs: sourceIDs,
	}
	if err := e.l4.Store(ctx, doc); err != nil {
		e.logger.Error("distillation: L4 store failed", "theme", theme, "error", err)
	}
}

// episodeCertaintyProxy approximates a consolidated episode's certainty:
// episodes do not carry their own certainty score, so this uses the presence
// of relationships/entities as a density-based proxy, clipped to [0.3, 1].
func episodeCertaintyProxy(ep *tiers.Episode) float64 {
	density := 0.5 + 0.1*float64(len(ep.Entities)) + 0.1*float64(len(ep.Relationships))
	if density > 1 {
		density = 1
	}
	if density < 0.3 {
		density = 0.3
	}
	return density
}

func (e *DistillationEngine) synthesize(ctx context.Context, theme string, episodes map[string]*tiers.Episode) (string, error) {
	var out struct {
		Statement string `json:"statement"`
	}
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		raw, genErr := e.client.Generate(ctx, buildDistillationPrompt(theme, episodes), distillationResponseSchema)
		if genErr != nil {
			return genErr
		}
		return json.Unmarshal([]byte(raw), &out)
	})
	if err != nil {
		return "", err
	}
	if len(out.Statement) < 10 {
		return "", fmt.Errorf("distillation: llm returned an empty or too-short statement")
	}
	return out.Statement, nil
}

func buildDistillationPrompt(theme string, episodes map[string]*tiers.Episode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The theme %q recurs across the following episode summaries. ", theme)
	b.WriteString("Synthesize one generalized knowledge statement about it. ")
	b.WriteString("Respond with JSON: {\"statement\"}.\n\n")
	for _, ep := range episodes {
		fmt.Fprintf(&b, "- %s\n", ep.Summary)
	}
	return b.String()
}

var distillationResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"statement": map[string]any{"type": "string"},
	},
}
