package ciar

import (
	"math"
	"testing"
	"time"
)

func TestScoreClipsToUnitInterval(t *testing.T) {
	s := NewDefault()

	tests := []struct {
		name string
		c    Components
		want float64
	}{
		{"all ones", Components{Certainty: 1, Impact: 1, AgeDecay: 1, RecencyBoost: 1}, 1},
		{"over one clips", Components{Certainty: 1, Impact: 1, AgeDecay: 1, RecencyBoost: 2}, 1},
		{"zero certainty", Components{Certainty: 0, Impact: 1, AgeDecay: 1, RecencyBoost: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(tt.c)
			if got != tt.want {
				t.Fatalf("Score(%+v) = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestAgeDecayMonotonicallyNonIncreasing(t *testing.T) {
	s := NewDefault()
	prev := s.AgeDecay(0)
	if prev != 1.0 {
		t.Fatalf("AgeDecay(0) = %v, want 1.0", prev)
	}
	for _, days := range []float64{1, 5, 30, 60, 365} {
		cur := s.AgeDecay(days)
		if cur > prev {
			t.Fatalf("AgeDecay(%v)=%v > AgeDecay(prev)=%v, expected non-increasing", days, cur, prev)
		}
		prev = cur
	}
}

func TestRecencyBoostMonotonicallyNonDecreasingAndBounded(t *testing.T) {
	s := NewDefault()
	prev := s.RecencyBoost(0)
	if prev != 1.0 {
		t.Fatalf("RecencyBoost(0) = %v, want 1.0", prev)
	}
	for _, n := range []int{1, 5, 10, 50, 1000} {
		cur := s.RecencyBoost(n)
		if cur < prev {
			t.Fatalf("RecencyBoost(%d)=%v < RecencyBoost(prev)=%v, expected non-decreasing", n, cur, prev)
		}
		if cur > s.RecencyMaxBoost {
			t.Fatalf("RecencyBoost(%d)=%v exceeds RB_max=%v", n, cur, s.RecencyMaxBoost)
		}
		prev = cur
	}
}

func TestImpactFallsBackToOtherForUnknownType(t *testing.T) {
	s := NewDefault()
	if got, want := s.Impact(FactType("unknown")), s.ImpactByType[FactTypeOther]; got != want {
		t.Fatalf("Impact(unknown) = %v, want fallback %v", got, want)
	}
}

func TestScoreFactDeterministic(t *testing.T) {
	s := NewDefault()
	extracted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := extracted.Add(10 * 24 * time.Hour)

	score1, _ := s.ScoreFact(FactTypePreference, 0.9, extracted, now, 2)
	score2, _ := s.ScoreFact(FactTypePreference, 0.9, extracted, now, 2)
	if score1 != score2 {
		t.Fatalf("ScoreFact not deterministic: %v != %v", score1, score2)
	}
}

func TestScoreFactZeroAgeDaysGivesFullDecay(t *testing.T) {
	s := NewDefault()
	now := time.Now()
	_, comp := s.ScoreFact(FactTypeEntity, 0.8, now, now, 0)
	if math.Abs(comp.AgeDecay-1.0) > 1e-9 {
		t.Fatalf("AgeDecay at age_days=0 = %v, want 1.0", comp.AgeDecay)
	}
}

func TestHeuristicCertainty(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"I prefer dark mode", DefaultCertaintyDeclarative},
		{"What time is the meeting?", DefaultCertaintyQuestion},
		{"Maybe we should meet on Monday", DefaultCertaintyHedge},
		{"", DefaultCertaintyDeclarative},
	}
	for _, tt := range tests {
		if got := HeuristicCertainty(tt.text); got != tt.want {
			t.Errorf("HeuristicCertainty(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
