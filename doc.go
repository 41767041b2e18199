// Package memcore provides an embeddable, cognition-inspired long-term
// memory layer for LLM agents: a four-tier pipeline (active context ->
// working memory -> episodic memory -> semantic memory) backed by a single
// SQLite file, promoted, consolidated, and distilled between tiers by
// background engines running on their own schedules.
//
// # Quick start
//
//	cfg := memcore.DefaultConfig("agent-memory.db")
//	sys, err := memcore.New(cfg, memcore.WithLLM(myClient, myEmbedder))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sys.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sys.Close()
//
//	if err := sys.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sys.Stop()
//
//	sys.Remember(ctx, tiers.Turn{SessionID: "s1", Role: "user", Content: "I prefer dark mode"})
//	result := sys.Query(ctx, memcore.QueryRequest{SessionID: "s1", QueryText: "editor preferences"})
//
// The four tiers, the CIAR significance score gating promotion into L2, and
// the promotion/consolidation/distillation engines that move memory between
// tiers are documented in pkg/tiers, pkg/ciar, and pkg/engines respectively.
// This package is a thin facade over pkg/orchestrator.
package memcore

import (
	"github.com/agentmem/memcore/pkg/core"
	"github.com/agentmem/memcore/pkg/llm"
	"github.com/agentmem/memcore/pkg/orchestrator"
)

// UnifiedMemorySystem is the single entry point over the four memory tiers
// and their three lifecycle engines.
type UnifiedMemorySystem = orchestrator.UnifiedMemorySystem

// Config collects every recognized configuration option.
type Config = orchestrator.Config

// Option mutates a Config during New.
type Option = orchestrator.Option

// QueryRequest parameterizes a unified context query across all four tiers.
type QueryRequest = orchestrator.QueryRequest

// QueryResult is the assembled unified context returned by Query.
type QueryResult = orchestrator.QueryResult

// Metrics is the narrow sink every tier and engine reports through.
type Metrics = orchestrator.Metrics

// DefaultConfig returns a Config with every recognized default applied.
func DefaultConfig(dbPath string) Config { return orchestrator.DefaultConfig(dbPath) }

// New wires a UnifiedMemorySystem over an unopened store. Call Connect then
// Start before using it.
func New(cfg Config, opts ...Option) (*UnifiedMemorySystem, error) {
	return orchestrator.New(cfg, opts...)
}

// WithLLM sets the shared LLM client and embedder used by every
// LLM-dependent component.
func WithLLM(client llm.Client, embedder llm.Embedder) Option {
	return orchestrator.WithLLM(client, embedder)
}

// WithLogger overrides the structured logger shared by every tier and
// engine.
func WithLogger(logger core.Logger) Option { return orchestrator.WithLogger(logger) }

// WithMetrics overrides the metrics sink. Defaults to a no-op implementation.
func WithMetrics(m Metrics) Option { return orchestrator.WithMetrics(m) }

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return orchestrator.NopMetrics() }
