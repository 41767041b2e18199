// Package orchestrator provides UnifiedMemorySystem, the single entry point
// that owns the four tier instances and the three background lifecycle
// engines, and assembles a unified context query across all of them.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentmem/memcore/pkg/breaker"
	"github.com/agentmem/memcore/pkg/ciar"
	"github.com/agentmem/memcore/pkg/core"
	"github.com/agentmem/memcore/pkg/engines"
	"github.com/agentmem/memcore/pkg/extract"
	"github.com/agentmem/memcore/pkg/graph"
	"github.com/agentmem/memcore/pkg/llm"
	"github.com/agentmem/memcore/pkg/segment"
	"github.com/agentmem/memcore/pkg/tiers"
)

// DefaultPerTierTimeout bounds how long a single tier's Query may run within
// a unified context query before its result is dropped and the tier is
// marked degraded.
const DefaultPerTierTimeout = 3 * time.Second

// DefaultStopTimeout bounds how long Stop waits for in-flight engine cycles
// to reach a step boundary before giving up.
const DefaultStopTimeout = 30 * time.Second

// Config collects every recognized option. Zero-value fields resolve to the
// documented defaults inside New.
type Config struct {
	// DBPath is the SQLite database file backing every tier.
	DBPath    string
	VectorDim int

	L1WindowSize int
	L1TTL        time.Duration

	L2CIARThreshold float64

	L3ClusterGapMinutes int
	L3SubclusterByTopic bool

	L4MinOccurrences      int
	L4UseGraphCentrality bool

	PromotionInterval    time.Duration
	ConsolidationInterval time.Duration
	DistillationInterval time.Duration
	EngineConcurrency    int

	CircuitBreakerFailureThreshold int
	CircuitBreakerResetTimeout     time.Duration

	PerTierTimeout time.Duration
	StopTimeout    time.Duration

	// VectorIndexDisabled turns off HNSW indexing over the episode vector
	// store, falling back to linear scan. HNSW is on by default: episode
	// search is the one hot path that benefits from sub-linear lookup as the
	// store grows.
	VectorIndexDisabled bool

	// VectorQuantization scalar-quantizes stored episode/knowledge vectors
	// (8 bits/component) to cut memory footprint at a small recall cost. Off
	// by default; callers with large L3 stores can opt in.
	VectorQuantization bool

	LLMClient llm.Client
	Embedder  llm.Embedder
	Logger    core.Logger
	Metrics   Metrics
}

// DefaultConfig returns a Config with every recognized default applied,
// DBPath set to dbPath and VectorDim to 384, leaving LLMClient and Embedder
// for the caller to set.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:                dbPath,
		VectorDim:             384,
		L1WindowSize:          tiers.DefaultWindowSize,
		L1TTL:                 tiers.DefaultL1TTL,
		L2CIARThreshold:       ciar.DefaultThreshold,
		L3ClusterGapMinutes:   engines.DefaultClusterGapMinutes,
		L4MinOccurrences:      tiers.DefaultMinOccurrences,
		PromotionInterval:     engines.DefaultPromotionInterval,
		ConsolidationInterval: engines.DefaultConsolidationInterval,
		DistillationInterval:  engines.DefaultDistillationInterval,
		EngineConcurrency:     engines.DefaultConcurrency,
		CircuitBreakerFailureThreshold: breaker.DefaultFailureThreshold,
		CircuitBreakerResetTimeout:     breaker.DefaultResetTimeout,
		PerTierTimeout:        DefaultPerTierTimeout,
		StopTimeout:           DefaultStopTimeout,
	}
}

// Option mutates a Config during New, applied after defaults and explicit
// fields so callers can layer adjustments without restating the whole
// struct.
type Option func(*Config)

// WithLLM sets the shared LLM client and embedder used by every
// LLM-dependent component.
func WithLLM(client llm.Client, embedder llm.Embedder) Option {
	return func(c *Config) {
		c.LLMClient = client
		c.Embedder = embedder
	}
}

// WithLogger overrides the structured logger shared by every tier and
// engine.
func WithLogger(logger core.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithMetrics overrides the metrics sink. Defaults to a no-op implementation.
func WithMetrics(m Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithEngineIntervals overrides the three background engines' cycle periods.
func WithEngineIntervals(promotion, consolidation, distillation time.Duration) Option {
	return func(c *Config) {
		c.PromotionInterval = promotion
		c.ConsolidationInterval = consolidation
		c.DistillationInterval = distillation
	}
}

// UnifiedMemorySystem is the single entry point over the four memory tiers
// and their three lifecycle engines. Lifecycle: New (init) -> Connect
// (connect_all_tiers) -> Start (start_engines) -> ... serve Query/Remember
// ... -> Stop (stop_engines) -> Close (disconnect_all_tiers).
type UnifiedMemorySystem struct {
	cfg Config

	store      *core.SQLiteStore
	graphStore *graph.GraphStore

	l1 *tiers.ActiveContextTier
	l2 *tiers.WorkingMemoryTier
	l3 *tiers.EpisodicMemoryTier
	l4 *tiers.SemanticMemoryTier

	promotion    *engines.PromotionEngine
	consolidation *engines.ConsolidationEngine
	distillation *engines.DistillationEngine

	logger core.Logger

	connected bool
	started   bool
}

// New wires tier instances and engine tasks over an unopened store (the
// init phase). No I/O happens here; call Connect to open the database and
// Start to launch the background engines.
func New(cfg Config, opts ...Option) (*UnifiedMemorySystem, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("orchestrator: DBPath is required")
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.L1WindowSize <= 0 {
		cfg.L1WindowSize = tiers.DefaultWindowSize
	}
	if cfg.L2CIARThreshold <= 0 {
		cfg.L2CIARThreshold = ciar.DefaultThreshold
	}
	if cfg.L3ClusterGapMinutes <= 0 {
		cfg.L3ClusterGapMinutes = engines.DefaultClusterGapMinutes
	}
	if cfg.L4MinOccurrences <= 0 {
		cfg.L4MinOccurrences = tiers.DefaultMinOccurrences
	}
	if cfg.PromotionInterval <= 0 {
		cfg.PromotionInterval = engines.DefaultPromotionInterval
	}
	if cfg.ConsolidationInterval <= 0 {
		cfg.ConsolidationInterval = engines.DefaultConsolidationInterval
	}
	if cfg.DistillationInterval <= 0 {
		cfg.DistillationInterval = engines.DefaultDistillationInterval
	}
	if cfg.EngineConcurrency <= 0 {
		cfg.EngineConcurrency = engines.DefaultConcurrency
	}
	if cfg.PerTierTimeout <= 0 {
		cfg.PerTierTimeout = DefaultPerTierTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}

	storeCfg := core.DefaultConfig()
	storeCfg.Path = cfg.DBPath
	storeCfg.VectorDim = cfg.VectorDim
	storeCfg.Logger = cfg.Logger
	storeCfg.HNSW.Enabled = !cfg.VectorIndexDisabled
	storeCfg.Quantization.Enabled = cfg.VectorQuantization
	store, err := core.NewWithConfig(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build store: %w", err)
	}
	graphStore := graph.NewGraphStore(store)

	scorer := ciar.NewDefault()
	scorer.Threshold = cfg.L2CIARThreshold

	l1 := tiers.NewActiveContextTier(store, cfg.L1WindowSize, cfg.Embedder)
	l2 := tiers.NewWorkingMemoryTier(store, scorer)
	l3 := tiers.NewEpisodicMemoryTier(store, graphStore, nil)
	l4 := tiers.NewSemanticMemoryTier(store)

	br := breaker.New(cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerResetTimeout)

	seg := segment.New(cfg.LLMClient, nil)
	ext := extract.New(cfg.LLMClient, br)

	promotion := engines.NewPromotionEngine(store, l1, l2, seg, ext, scorer, cfg.EngineConcurrency, cfg.Logger)
	consolidation := engines.NewConsolidationEngine(store, l2, l3, cfg.LLMClient, cfg.Embedder, br, engines.ConsolidationConfig{
		ClusterGapMinutes: cfg.L3ClusterGapMinutes,
		SubclusterByTopic: cfg.L3SubclusterByTopic,
		Concurrency:       cfg.EngineConcurrency,
	}, cfg.Logger)
	distillation := engines.NewDistillationEngine(l3, l4, graphStore, cfg.LLMClient, br, engines.DistillationConfig{
		MinOccurrences:     cfg.L4MinOccurrences,
		UseGraphCentrality: cfg.L4UseGraphCentrality,
	}, cfg.Logger)

	promotion.SetInterval(cfg.PromotionInterval)
	consolidation.SetInterval(cfg.ConsolidationInterval)
	distillation.SetInterval(cfg.DistillationInterval)

	return &UnifiedMemorySystem{
		cfg:           cfg,
		store:         store,
		graphStore:    graphStore,
		l1:            l1,
		l2:            l2,
		l3:            l3,
		l4:            l4,
		promotion:     promotion,
		consolidation: consolidation,
		distillation:  distillation,
		logger:        cfg.Logger,
	}, nil
}

// Connect opens the backing database and initializes the graph schema (the
// connect_all_tiers phase). Idempotent.
func (u *UnifiedMemorySystem) Connect(ctx context.Context) error {
	if u.connected {
		return nil
	}
	if err := u.store.Init(ctx); err != nil {
		return fmt.Errorf("orchestrator: connect: %w", err)
	}
	if err := u.graphStore.InitGraphSchema(ctx); err != nil {
		return fmt.Errorf("orchestrator: connect: %w", err)
	}
	u.connected = true
	return nil
}

// Start launches the three background engines (start_engines). Connect
// must be called first.
func (u *UnifiedMemorySystem) Start(ctx context.Context) error {
	if !u.connected {
		return fmt.Errorf("orchestrator: Start called before Connect")
	}
	if u.started {
		return nil
	}
	u.promotion.Start(ctx)
	u.consolidation.Start(ctx)
	u.distillation.Start(ctx)
	u.started = true
	return nil
}

// Stop cancels the three engines and waits up to cfg.StopTimeout for their
// in-flight cycles to reach a step boundary (stop_engines). A stop that
// exceeds the timeout returns without waiting further; any partial
// dual-index state left behind is recoverable via
// EpisodicMemoryTier.ReconcileEpisodicIndex.
func (u *UnifiedMemorySystem) Stop() {
	if !u.started {
		return
	}
	done := make(chan struct{})
	go func() {
		u.promotion.Stop()
		u.consolidation.Stop()
		u.distillation.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(u.cfg.StopTimeout):
		u.logger.Warn("orchestrator: stop_timeout exceeded, engines may still be shutting down")
	}
	u.started = false
}

// Close disconnects the backing store (disconnect_all_tiers). Call after
// Stop.
func (u *UnifiedMemorySystem) Close() error {
	u.connected = false
	return u.store.Close()
}

// Tiers exposes the underlying tier instances for direct reads/writes
// outside the unified Query path (e.g. ingesting a turn via L1().Store).
func (u *UnifiedMemorySystem) L1() *tiers.ActiveContextTier   { return u.l1 }
func (u *UnifiedMemorySystem) L2() *tiers.WorkingMemoryTier   { return u.l2 }
func (u *UnifiedMemorySystem) L3() *tiers.EpisodicMemoryTier  { return u.l3 }
func (u *UnifiedMemorySystem) L4() *tiers.SemanticMemoryTier  { return u.l4 }

// SystemHealth aggregates per-tier and per-engine health.
type SystemHealth struct {
	StoreOK       bool
	Promotion     engines.Health
	Consolidation engines.Health
	Distillation  engines.Health
}

// Health reports the orchestrator's aggregate health. StoreOK is true when
// a full store Stats() call succeeds.
func (u *UnifiedMemorySystem) Health(ctx context.Context) SystemHealth {
	_, statErr := u.store.Stats(ctx)
	return SystemHealth{
		StoreOK:       statErr == nil,
		Promotion:     u.promotion.Health(),
		Consolidation: u.consolidation.Health(),
		Distillation:  u.distillation.Health(),
	}
}

// Remember ingests one conversational turn into L1. The narrow, always-on
// write path every agent loop calls on every message.
func (u *UnifiedMemorySystem) Remember(ctx context.Context, turn tiers.Turn) error {
	return u.l1.Store(ctx, turn)
}

// QueryRequest parameterizes a unified context query across all four tiers.
type QueryRequest struct {
	SessionID string
	QueryText string
	QueryVec  []float32
	TopK      int // result cap for each of the L2, L3 and L4 queries (L1 returns its recent-turn window regardless); 0 means each tier's own default
}

// TierResult is one tier's contribution to a unified query, or its
// degradation status if it failed or timed out.
type TierResult struct {
	Tier      string
	Degraded  bool
	Err       error
	Turns     []tiers.Turn
	Facts     []*core.Fact
	Episodes  []*tiers.Episode
	Knowledge []*core.KnowledgeDocument
}

// QueryResult is the assembled unified context: L1 recent turns, L2 facts
// ranked by CIAR, L3 episodes ranked by similarity or recency, and L4
// knowledge ranked by relevance, each annotated with whether that tier
// degraded during assembly.
type QueryResult struct {
	L1 TierResult
	L2 TierResult
	L3 TierResult
	L4 TierResult
}

// AnyDegraded reports whether any tier failed or timed out during
// assembly; callers surface this as a warning flag rather than failing the
// whole query, per the graceful-degradation policy.
func (r QueryResult) AnyDegraded() bool {
	return r.L1.Degraded || r.L2.Degraded || r.L3.Degraded || r.L4.Degraded
}

// Query assembles a unified context: L1 (recent turns), L2 (top-k facts by
// CIAR for the session), L3 (k-NN episodes), and L4 (relevant knowledge),
// each tier queried concurrently via errgroup with a bounded per-tier
// timeout. A slow or failing tier degrades gracefully: its TierResult is
// marked Degraded and the other three still return, since partial context
// is better than none.
func (u *UnifiedMemorySystem) Query(ctx context.Context, req QueryRequest) QueryResult {
	var result QueryResult

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		result.L1 = u.queryL1(gctx, req)
		return nil
	})
	g.Go(func() error {
		result.L2 = u.queryL2(gctx, req)
		return nil
	})
	g.Go(func() error {
		result.L3 = u.queryL3(gctx, req)
		return nil
	})
	g.Go(func() error {
		result.L4 = u.queryL4(gctx, req)
		return nil
	})

	_ = g.Wait()
	return result
}

func (u *UnifiedMemorySystem) withTierTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, u.cfg.PerTierTimeout)
}

func (u *UnifiedMemorySystem) observeTier(tier string, start time.Time, degraded bool) {
	tags := map[string]string{"tier": tier}
	u.cfg.Metrics.ObserveLatency("orchestrator.tier_query", tags, time.Since(start).Seconds())
	if degraded {
		u.cfg.Metrics.IncCounter("orchestrator.tier_degraded", tags)
	}
}

func (u *UnifiedMemorySystem) queryL1(ctx context.Context, req QueryRequest) TierResult {
	start := time.Now()
	ctx, cancel := u.withTierTimeout(ctx)
	defer cancel()
	turns, err := u.l1.Retrieve(ctx, req.SessionID)
	if err != nil {
		u.logger.Warn("orchestrator: L1 query degraded", "session_id", req.SessionID, "error", err)
		u.observeTier("l1", start, true)
		return TierResult{Tier: "l1", Degraded: true, Err: err}
	}
	u.observeTier("l1", start, false)
	return TierResult{Tier: "l1", Turns: turns}
}

func (u *UnifiedMemorySystem) queryL2(ctx context.Context, req QueryRequest) TierResult {
	start := time.Now()
	ctx, cancel := u.withTierTimeout(ctx)
	defer cancel()
	facts, err := u.l2.Query(ctx, core.FactQuery{SessionID: req.SessionID, Limit: req.TopK})
	if err != nil {
		u.logger.Warn("orchestrator: L2 query degraded", "session_id", req.SessionID, "error", err)
		u.observeTier("l2", start, true)
		return TierResult{Tier: "l2", Degraded: true, Err: err}
	}
	u.observeTier("l2", start, false)
	return TierResult{Tier: "l2", Facts: facts}
}

func (u *UnifiedMemorySystem) queryL3(ctx context.Context, req QueryRequest) TierResult {
	start := time.Now()
	ctx, cancel := u.withTierTimeout(ctx)
	defer cancel()
	episodes, err := u.l3.Query(ctx, tiers.EpisodeQuery{SessionID: req.SessionID, Vector: req.QueryVec, TopK: req.TopK})
	if err != nil {
		u.logger.Warn("orchestrator: L3 query degraded", "session_id", req.SessionID, "error", err)
		u.observeTier("l3", start, true)
		return TierResult{Tier: "l3", Degraded: true, Err: err}
	}
	u.observeTier("l3", start, false)
	return TierResult{Tier: "l3", Episodes: episodes}
}

func (u *UnifiedMemorySystem) queryL4(ctx context.Context, req QueryRequest) TierResult {
	start := time.Now()
	ctx, cancel := u.withTierTimeout(ctx)
	defer cancel()
	docs, err := u.l4.Search(ctx, core.KnowledgeSearchQuery{Query: req.QueryText, Limit: req.TopK})
	if err != nil {
		u.logger.Warn("orchestrator: L4 query degraded", "query", req.QueryText, "error", err)
		u.observeTier("l4", start, true)
		return TierResult{Tier: "l4", Degraded: true, Err: err}
	}
	u.observeTier("l4", start, false)
	return TierResult{Tier: "l4", Knowledge: docs}
}
