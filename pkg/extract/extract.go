// Package extract implements FactExtractor: turning a single topic segment
// into structured facts, one LLM call per accepted segment, degrading to a
// lexical rule-based extractor when the shared breaker is open.
package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agentmem/memcore/pkg/breaker"
	"github.com/agentmem/memcore/pkg/ciar"
	"github.com/agentmem/memcore/pkg/llm"
	"github.com/agentmem/memcore/pkg/segment"
)

// Fact is a single extracted fact prior to CIAR scoring. It inherits its
// certainty and type-driven impact from the extraction path; pkg/tiers
// computes the final CIAR score and persists it as core.Fact.
type Fact struct {
	Content        string
	Type           ciar.FactType
	Certainty      float64
	TopicSegmentID string
	TopicLabel     string
	SourceTurnIDs  []int64
	Heuristic      bool // true when produced by the rule-based fallback
}

// Extractor pulls facts out of a TopicSegment via an LLM call guarded by a
// circuit breaker, falling back to lexical scoring when the breaker is open.
type Extractor struct {
	client  llm.Client
	breaker *breaker.Breaker
	lexicon Lexicon
}

// New builds an Extractor. br may be nil, in which case a default breaker is
// created (one breaker per engine-LLM pairing is recommended by the caller).
func New(client llm.Client, br *breaker.Breaker) *Extractor {
	if br == nil {
		br = breaker.NewDefault()
	}
	return &Extractor{client: client, breaker: br, lexicon: DefaultLexicon()}
}

// Extract produces facts from a single segment. Each fact inherits the
// segment's topic_segment_id and topic_label, and takes the segment's
// certainty when the LLM gives none; no impact value is carried (the CIAR
// scorer derives impact from the fact type). Malformed entries and entries
// with empty content in the LLM response are skipped individually. Any
// failed call (LLM error or an unparsable response) returns the heuristic
// facts instead; repeated failures open the breaker, and while it is open
// every call takes the heuristic path without calling the LLM.
func (e *Extractor) Extract(ctx context.Context, seg segment.Segment, turnIDs []int64) ([]Fact, error) {
	var facts []Fact
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		raw, genErr := e.client.Generate(ctx, buildPrompt(seg), factResponseSchema)
		if genErr != nil {
			return genErr
		}
		parsed, parseErr := parseFacts(raw)
		if parseErr != nil {
			return parseErr
		}
		for _, p := range parsed {
			if p.Content == "" {
				continue
			}
			facts = append(facts, Fact{
				Content:        p.Content,
				Type:           ciar.FactType(p.FactType),
				Certainty:      firstPositive(p.Certainty, seg.Certainty),
				TopicSegmentID: seg.ID,
				TopicLabel:     seg.Topic,
				SourceTurnIDs:  turnIDs,
			})
		}
		return nil
	})
	if err != nil {
		return e.heuristicExtract(seg, turnIDs), nil
	}
	return facts, nil
}

func firstPositive(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

// heuristicExtract runs when the breaker is open: lexical BM25-style scoring
// over a small preference/constraint cue lexicon, plus a regex-based
// entity/quantity extractor, producing lower-certainty facts.
func (e *Extractor) heuristicExtract(seg segment.Segment, turnIDs []int64) []Fact {
	var facts []Fact

	terms := segment.Tokenize(seg.Summary)
	if ft, ok := e.lexicon.Classify(terms); ok {
		facts = append(facts, Fact{
			Content:        seg.Summary,
			Type:           ft,
			Certainty:      ciar.HeuristicCertainty(seg.Summary),
			TopicSegmentID: seg.ID,
			TopicLabel:     seg.Topic,
			SourceTurnIDs:  turnIDs,
			Heuristic:      true,
		})
	}

	for _, entity := range extractEntities(seg.Summary) {
		facts = append(facts, Fact{
			Content:        entity,
			Type:           ciar.FactTypeEntity,
			Certainty:      ciar.DefaultCertaintyHedge,
			TopicSegmentID: seg.ID,
			TopicLabel:     seg.Topic,
			SourceTurnIDs:  turnIDs,
			Heuristic:      true,
		})
	}

	return facts
}

func buildPrompt(seg segment.Segment) string {
	var b strings.Builder
	b.WriteString("Extract structured facts from this topic segment. ")
	b.WriteString("Respond with JSON: {\"facts\": [{\"content\", \"fact_type\", \"certainty\"}]}.\n\n")
	b.WriteString("Topic: ")
	b.WriteString(seg.Topic)
	b.WriteString("\nSummary: ")
	b.WriteString(seg.Summary)
	return b.String()
}

type rawFact struct {
	Content   string  `json:"content"`
	FactType  string  `json:"fact_type"`
	Certainty float64 `json:"certainty"`
}

func parseFacts(raw string) ([]rawFact, error) {
	var out struct {
		Facts []json.RawMessage `json:"facts"`
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		items = out.Facts
	} else if err2 := json.Unmarshal([]byte(raw), &items); err2 != nil {
		return nil, err
	}
	facts := make([]rawFact, 0, len(items))
	for _, item := range items {
		var f rawFact
		if json.Unmarshal(item, &f) != nil {
			continue // malformed entry: skip it, keep the rest
		}
		facts = append(facts, f)
	}
	return facts, nil
}

var factResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"facts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":   map[string]any{"type": "string"},
					"fact_type": map[string]any{"type": "string"},
					"certainty": map[string]any{"type": "number"},
				},
			},
		},
	},
}

// Lexicon weights term hits toward a FactType, BM25-style: each cue word
// contributes a fixed weight and the type with the highest total over a
// threshold wins.
type Lexicon struct {
	cues      map[string]ciar.FactType
	threshold float64
}

// DefaultLexicon returns the recommended small preference/constraint cue
// word table.
func DefaultLexicon() Lexicon {
	return Lexicon{
		threshold: 1.0,
		cues: map[string]ciar.FactType{
			"prefer": ciar.FactTypePreference, "prefers": ciar.FactTypePreference,
			"like": ciar.FactTypePreference, "likes": ciar.FactTypePreference,
			"favorite": ciar.FactTypePreference, "want": ciar.FactTypePreference,
			"must": ciar.FactTypeConstraint, "require": ciar.FactTypeConstraint,
			"requires": ciar.FactTypeConstraint, "cannot": ciar.FactTypeConstraint,
			"never": ciar.FactTypeConstraint, "always": ciar.FactTypeConstraint,
			"deadline": ciar.FactTypeConstraint, "need": ciar.FactTypeConstraint,
		},
	}
}

// Classify returns the highest-scoring fact type among the given tokens,
// or false if no cue word's weight clears the threshold. On a tie, the type
// whose first cue word appears earliest in terms wins.
func (l Lexicon) Classify(terms []string) (ciar.FactType, bool) {
	scores := make(map[ciar.FactType]float64)
	var order []ciar.FactType
	for _, t := range terms {
		if ft, ok := l.cues[t]; ok {
			if _, seen := scores[ft]; !seen {
				order = append(order, ft)
			}
			scores[ft]++
		}
	}
	var best ciar.FactType
	var bestScore float64
	for _, ft := range order {
		if score := scores[ft]; score > bestScore {
			best, bestScore = ft, score
		}
	}
	if bestScore < l.threshold {
		return "", false
	}
	return best, true
}

var entityRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)*)\b|\b(\d+(?:\.\d+)?\s?(?:am|pm|%|days?|hours?|minutes?))\b`)

// extractEntities pulls capitalized proper-noun-like spans and numeric
// quantities out of text via a fixed regex, as a last-resort entity signal
// when no LLM call is available.
func extractEntities(text string) []string {
	matches := entityRe.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
