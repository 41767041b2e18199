package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentmem/memcore/pkg/breaker"
	"github.com/agentmem/memcore/pkg/ciar"
	"github.com/agentmem/memcore/pkg/segment"
)

type stubClient struct {
	response string
	err      error
}

func (s stubClient) Generate(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	return s.response, s.err
}

func TestExtractParsesLLMFacts(t *testing.T) {
	resp := `{"facts":[{"content":"Alice prefers dark mode","fact_type":"preference","certainty":0.9}]}`
	e := New(stubClient{response: resp}, breaker.New(5, time.Minute))
	seg := segment.Segment{ID: "seg-1", Topic: "preferences", Summary: "Alice likes dark mode", Certainty: 0.8, Impact: 0.8}

	facts, err := e.Extract(context.Background(), seg, []int64{4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Type != ciar.FactTypePreference {
		t.Fatalf("fact type = %v, want preference", facts[0].Type)
	}
	if facts[0].TopicSegmentID != "seg-1" {
		t.Fatalf("topic_segment_id not inherited")
	}
}

func TestExtractFallsBackToHeuristicWhenBreakerOpen(t *testing.T) {
	br := breaker.New(1, time.Minute)
	e := New(stubClient{err: errors.New("boom")}, br)
	seg := segment.Segment{ID: "seg-2", Topic: "preferences", Summary: "I prefer dark mode always", Certainty: 0.8, Impact: 0.8}

	facts, err := e.Extract(context.Background(), seg, []int64{4})
	if err != nil {
		t.Fatalf("Extract should not surface breaker errors: %v", err)
	}
	if len(facts) == 0 {
		t.Fatal("expected heuristic facts after breaker opened")
	}
	found := false
	for _, f := range facts {
		if f.Heuristic && f.Type == ciar.FactTypePreference {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a heuristic preference fact from cue word 'prefer'")
	}
	if br.State() != breaker.Open {
		t.Fatalf("breaker state = %v, want Open after failure", br.State())
	}
}

func TestLexiconClassifyBelowThresholdReturnsFalse(t *testing.T) {
	l := DefaultLexicon()
	if _, ok := l.Classify([]string{"hello", "world"}); ok {
		t.Fatal("expected no classification for terms with no cue words")
	}
}

func TestExtractEntitiesFindsCapitalizedSpansAndQuantities(t *testing.T) {
	got := extractEntities("Standup is Monday at 10am with Alice Smith")
	want := map[string]bool{"Standup": true, "Monday": true, "Alice Smith": true, "10am": true}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected entity %q", g)
		}
	}
}
