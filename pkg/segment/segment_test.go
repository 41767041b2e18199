package segment

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubClient struct {
	response string
	err      error
}

func (s stubClient) Generate(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	return s.response, s.err
}

func makeTurns(n int) []Turn {
	turns := make([]Turn, n)
	for i := range turns {
		turns[i] = Turn{Index: i + 1, SessionID: "s1", Role: "user", Content: "hello there", Timestamp: time.Now()}
	}
	return turns
}

func TestSegmentBelowMinTurnsReturnsEmpty(t *testing.T) {
	s := New(stubClient{}, nil)
	got, err := s.Segment(context.Background(), makeTurns(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d segments, want 0", len(got))
	}
}

func TestSegmentTruncatesToMaxBatch(t *testing.T) {
	resp := `{"segments":[{"topic":"general chat","summary":"a reasonably long summary of the conversation content","key_points":["a","b","c"],"turn_indices":[1,2,3],"certainty":0.8,"impact":0.7}]}`
	s := New(stubClient{response: resp}, func() string { return "seg-1" })
	turns := makeTurns(30)
	got, err := s.Segment(context.Background(), turns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
}

func TestSegmentFallsBackOnLLMFailure(t *testing.T) {
	s := New(stubClient{err: errors.New("boom")}, func() string { return "seg-fallback" })
	got, err := s.Segment(context.Background(), makeTurns(12))
	if err == nil {
		t.Fatal("expected a reported fallback error")
	}
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1 fallback segment", len(got))
	}
	if !got[0].Fallback {
		t.Fatal("expected Fallback=true")
	}
	if got[0].Certainty != fallbackCertainty || got[0].Impact != fallbackImpact {
		t.Fatalf("fallback priors = (%v,%v), want (%v,%v)", got[0].Certainty, got[0].Impact, fallbackCertainty, fallbackImpact)
	}
	if len(got[0].TurnIndices) != 12 {
		t.Fatalf("fallback covers %d turns, want 12 (no turns lost)", len(got[0].TurnIndices))
	}
}

func TestSegmentFallsBackOnInvalidJSON(t *testing.T) {
	s := New(stubClient{response: "not json"}, func() string { return "seg-x" })
	got, err := s.Segment(context.Background(), makeTurns(10))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if len(got) != 1 || !got[0].Fallback {
		t.Fatal("expected single fallback segment")
	}
}

func TestSegmentDropsInvalidSegments(t *testing.T) {
	// topic too short, should be dropped, leaving zero valid segments.
	resp := `{"segments":[{"topic":"ab","summary":"a reasonably long summary of the conversation content","key_points":["a","b","c"],"turn_indices":[1],"certainty":0.8,"impact":0.7}]}`
	s := New(stubClient{response: resp}, func() string { return "seg-1" })
	got, err := s.Segment(context.Background(), makeTurns(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d segments, want 0 (invalid topic should be dropped)", len(got))
	}
}

func TestTokenizeDropsStopWordsAndShortTokens(t *testing.T) {
	got := Tokenize("I prefer the dark mode, it is great!")
	want := map[string]bool{"prefer": true, "dark": true, "mode": true, "great": true}
	for _, term := range got {
		if !want[term] {
			t.Errorf("unexpected term %q in tokenized output", term)
		}
	}
}
