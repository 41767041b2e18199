// Package llm defines the narrow external-collaborator interfaces the
// memory engines call into: a structured-output text generator and a text
// embedder. Callers supply their own Client implementations; for Embedder,
// NewFuncEmbedder adapts a bare embed function when no richer wrapper is
// needed.
package llm

import "context"

// Client generates text or structured JSON output from a prompt. A single
// Client is shared by TopicSegmenter, FactExtractor, ConsolidationEngine and
// DistillationEngine. The orchestrator routes the last three through one
// shared breaker.Breaker; TopicSegmenter calls Generate directly.
//
// responseSchema, when non-nil, is a JSON Schema describing the expected
// output shape; implementations that support structured output should
// constrain generation to it and return the raw JSON text. Implementations
// without structured-output support may ignore it and rely on prompt
// instructions, at the cost of looser validation downstream.
type Client interface {
	Generate(ctx context.Context, prompt string, responseSchema map[string]any) (string, error)
}

// Embedder converts text into vectors for episode and knowledge-document
// indexing. Mirrors the shape of the vector store's own embedding hook so a
// single implementation can serve both.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// funcEmbedder adapts a bare embed function into an Embedder, running
// EmbedBatch's per-text calls concurrently.
type funcEmbedder struct {
	embed func(ctx context.Context, text string) ([]float32, error)
	dim   int
}

func (f *funcEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.embed(ctx, text)
}

func (f *funcEmbedder) Dim() int { return f.dim }

// EmbedBatch embeds each text concurrently, for callers that want batch
// fan-out without writing their own goroutine plumbing.
func (f *funcEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	type result struct {
		idx int
		vec []float32
		err error
	}
	ch := make(chan result, len(texts))
	for i, text := range texts {
		go func(idx int, t string) {
			vec, err := f.embed(ctx, t)
			ch <- result{idx: idx, vec: vec, err: err}
		}(i, text)
	}

	out := make([][]float32, len(texts))
	var firstErr error
	for range texts {
		r := <-ch
		out[r.idx] = r.vec
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// NewFuncEmbedder adapts a bare embed function (e.g. a thin call into an
// OpenAI- or Ollama-compatible embeddings endpoint) into an Embedder with a
// fixed, caller-declared dimension.
func NewFuncEmbedder(embed func(ctx context.Context, text string) ([]float32, error), dim int) Embedder {
	return &funcEmbedder{embed: embed, dim: dim}
}
