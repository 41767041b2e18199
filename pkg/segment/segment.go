// Package segment implements batch topic compression of L1 turns: one LLM
// call per batch of turns, producing a short list of topic segments for
// CIAR filtering and fact extraction.
package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentmem/memcore/pkg/llm"
)

const (
	BatchMinTurns = 10
	BatchMaxTurns = 20

	fallbackCertainty = 0.3
	fallbackImpact    = 0.3

	topicMinLen   = 3
	topicMaxLen   = 200
	summaryMinLen = 10
	summaryMaxLen = 2000
	keyPointsMin  = 3
	keyPointsMax  = 10
)

// Turn is one L1 conversational turn, the unit TopicSegmenter consumes.
type Turn struct {
	Index     int
	SessionID string
	Role      string
	Content   string
	Timestamp time.Time
}

// Segment is a compressed topic produced from a batch of turns. It is
// transient: not persisted as a first-class record, but its ID is carried
// into every Fact extracted from it.
type Segment struct {
	ID               string    `json:"segment_id"`
	Topic            string    `json:"topic"`
	Summary          string    `json:"summary"`
	KeyPoints        []string  `json:"key_points"`
	TurnIndices      []int     `json:"turn_indices"`
	Certainty        float64   `json:"certainty"`
	Impact           float64   `json:"impact"`
	ParticipantCount int       `json:"participant_count"`
	MessageCount     int       `json:"message_count"`
	TemporalContext  string    `json:"temporal_context"`
	Fallback         bool      `json:"-"` // true when produced by the degraded path
	CreatedAt        time.Time `json:"-"`
}

// Segmenter converts a batch of turns into topic segments via one LLM call.
type Segmenter struct {
	client llm.Client
	idGen  func() string
}

// New builds a Segmenter backed by an llm.Client. idGen defaults to a
// timestamp-derived counter if nil; pass a real ID generator (e.g.
// uuid.NewString) in production.
func New(client llm.Client, idGen func() string) *Segmenter {
	if idGen == nil {
		idGen = defaultIDGen()
	}
	return &Segmenter{client: client, idGen: idGen}
}

// Segment formats the batch into a prompt, requests structured JSON output,
// validates each returned segment, and drops invalid ones. Batches shorter
// than BatchMinTurns return an empty slice (callers should skip the cycle).
// Batches longer than BatchMaxTurns are truncated to the most recent turns.
// LLM failure or invalid JSON falls back to a single low-confidence segment
// covering every turn, so no turns are silently lost to the engine's view.
func (s *Segmenter) Segment(ctx context.Context, turns []Turn) ([]Segment, error) {
	if len(turns) < BatchMinTurns {
		return nil, nil
	}
	if len(turns) > BatchMaxTurns {
		turns = turns[len(turns)-BatchMaxTurns:]
	}

	prompt := buildPrompt(turns)
	raw, err := s.client.Generate(ctx, prompt, segmentResponseSchema)
	if err != nil {
		return []Segment{s.fallback(turns)}, fmt.Errorf("segment: llm generate failed, using fallback: %w", err)
	}

	segments, err := parseSegments(raw)
	if err != nil {
		return []Segment{s.fallback(turns)}, fmt.Errorf("segment: invalid llm output, using fallback: %w", err)
	}

	valid := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		seg.ID = s.idGen()
		seg.CreatedAt = time.Now().UTC()
		if validate(seg) {
			valid = append(valid, seg)
		}
	}
	return valid, nil
}

func (s *Segmenter) fallback(turns []Turn) Segment {
	var b strings.Builder
	for _, t := range turns {
		if t.Role != "user" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(t.Content)
	}
	summary := b.String()
	if len(summary) > summaryMaxLen {
		summary = summary[:summaryMaxLen]
	}
	if summary == "" {
		summary = "conversation turns could not be summarized"
	}

	indices := make([]int, len(turns))
	for i, t := range turns {
		indices[i] = t.Index
	}

	return Segment{
		ID:          s.idGen(),
		Topic:       "unclassified",
		Summary:     summary,
		KeyPoints:   []string{"fallback segment: topic segmentation unavailable this cycle"},
		TurnIndices: indices,
		Certainty:   fallbackCertainty,
		Impact:      fallbackImpact,
		Fallback:    true,
		CreatedAt:   time.Now().UTC(),
	}
}

func validate(s Segment) bool {
	if len(s.Topic) < topicMinLen || len(s.Topic) > topicMaxLen {
		return false
	}
	if len(s.Summary) < summaryMinLen || len(s.Summary) > summaryMaxLen {
		return false
	}
	if len(s.KeyPoints) < keyPointsMin || len(s.KeyPoints) > keyPointsMax {
		return false
	}
	if len(s.TurnIndices) == 0 {
		return false
	}
	if s.Certainty < 0 || s.Certainty > 1 || s.Impact < 0 || s.Impact > 1 {
		return false
	}
	return true
}

func parseSegments(raw string) ([]Segment, error) {
	var out struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// Some implementations return a bare array.
		var arr []Segment
		if err2 := json.Unmarshal([]byte(raw), &arr); err2 != nil {
			return nil, err
		}
		return arr, nil
	}
	return out.Segments, nil
}

func buildPrompt(turns []Turn) string {
	var b strings.Builder
	b.WriteString("Identify topic segments in the following conversation. ")
	b.WriteString("Respond with JSON: {\"segments\": [{\"topic\", \"summary\", \"key_points\", \"turn_indices\", \"certainty\", \"impact\", \"participant_count\", \"message_count\", \"temporal_context\"}]}.\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "[%d] %s: %s\n", t.Index, t.Role, t.Content)
	}
	return b.String()
}

var segmentResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"segments": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic":             map[string]any{"type": "string"},
					"summary":           map[string]any{"type": "string"},
					"key_points":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"turn_indices":      map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
					"certainty":         map[string]any{"type": "number"},
					"impact":            map[string]any{"type": "number"},
					"participant_count": map[string]any{"type": "integer"},
					"message_count":     map[string]any{"type": "integer"},
					"temporal_context":  map[string]any{"type": "string"},
				},
			},
		},
	},
}

func defaultIDGen() func() string {
	var n int64
	return func() string {
		n++
		return fmt.Sprintf("seg-%d-%d", time.Now().UnixNano(), n)
	}
}

// Tokenize splits text into lowercased terms, dropping a small stop-word
// list. Shared with the extract package's rule-based fallback so both
// heuristic paths use the same lexical basis.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.Fields(text)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if w == "" || len(w) <= 1 || stopWords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"this": true, "that": true, "these": true, "those": true,
	"my": true, "it": true, "i": true, "you": true,
}
