// Package ciar computes the Certainty-Impact-AgeDecay-RecencyBoost
// significance score that governs L1->L2 promotion and L2 retention.
package ciar

import (
	"math"
	"strings"
	"time"
)

// Defaults match the documented recommended configuration.
const (
	DefaultDecayLambda    = 0.0231
	DefaultRecencyAlpha   = 0.1
	DefaultRecencyMaxBoost = 2.0
	DefaultThreshold      = 0.6

	DefaultCertaintyDeclarative = 0.8
	DefaultCertaintyQuestion    = 0.3
	DefaultCertaintyHedge       = 0.4
)

// FactType enumerates the kinds of facts a Fact record can carry.
type FactType string

const (
	FactTypePreference   FactType = "preference"
	FactTypeConstraint   FactType = "constraint"
	FactTypeEntity       FactType = "entity"
	FactTypeEvent        FactType = "event"
	FactTypeRelationship FactType = "relationship"
	FactTypeMention      FactType = "mention"
	FactTypeOther        FactType = "other"
)

// DefaultImpactByType is the recommended domain-weighted type score table.
var DefaultImpactByType = map[FactType]float64{
	FactTypePreference:   0.9,
	FactTypeConstraint:   0.8,
	FactTypeEntity:       0.6,
	FactTypeEvent:        0.6,
	FactTypeRelationship: 0.6,
	FactTypeMention:      0.3,
	FactTypeOther:        0.3,
}

// Components are the four CIAR inputs. Certainty and Impact are priors
// carried from the topic segment / fact type; AgeDecay and RecencyBoost are
// derived from Scorer.AgeDecay / Scorer.RecencyBoost at score time.
type Components struct {
	Certainty    float64
	Impact       float64
	AgeDecay     float64
	RecencyBoost float64
}

// Scorer computes and recomputes CIAR scores with configurable constants.
// The zero value is not usable; construct with New or NewDefault.
type Scorer struct {
	DecayLambda     float64
	RecencyAlpha    float64
	RecencyMaxBoost float64
	Threshold       float64
	ImpactByType    map[FactType]float64
}

// NewDefault returns a Scorer configured with the spec's recommended
// defaults.
func NewDefault() *Scorer {
	impact := make(map[FactType]float64, len(DefaultImpactByType))
	for k, v := range DefaultImpactByType {
		impact[k] = v
	}
	return &Scorer{
		DecayLambda:     DefaultDecayLambda,
		RecencyAlpha:    DefaultRecencyAlpha,
		RecencyMaxBoost: DefaultRecencyMaxBoost,
		Threshold:       DefaultThreshold,
		ImpactByType:    impact,
	}
}

// Impact returns the domain-weighted impact score for a fact type, falling
// back to the "other" default rather than zero so unknown types are never
// silently suppressed.
func (s *Scorer) Impact(t FactType) float64 {
	if v, ok := s.ImpactByType[t]; ok {
		return v
	}
	return s.ImpactByType[FactTypeOther]
}

// AgeDecay implements AD = exp(-lambda * age_days).
func (s *Scorer) AgeDecay(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-s.DecayLambda * ageDays)
}

// RecencyBoost implements RB = min(1 + alpha*access_count, RB_max).
func (s *Scorer) RecencyBoost(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	boost := 1 + s.RecencyAlpha*float64(accessCount)
	if boost > s.RecencyMaxBoost {
		return s.RecencyMaxBoost
	}
	return boost
}

// Score implements score = clip01((C*I) * AD * RB).
//
// NaN or infinite components are not sanitized here: callers must validate
// them as a ValidationError before scoring (see pkg/tiers), per the spec's
// edge-case rule that such inputs are a validation failure, not a silent
// zero.
func (s *Scorer) Score(c Components) float64 {
	score := (c.Certainty * c.Impact) * c.AgeDecay * c.RecencyBoost
	return clip01(score)
}

// ScoreFact computes the full CIAR score for a fact given its type, its
// certainty prior, the extraction time, the current time, and the access
// count, applying AgeDecay and RecencyBoost internally.
func (s *Scorer) ScoreFact(t FactType, certainty float64, extractedAt, now time.Time, accessCount int) (float64, Components) {
	ageDays := now.Sub(extractedAt).Hours() / 24
	comp := Components{
		Certainty:    certainty,
		Impact:       s.Impact(t),
		AgeDecay:     s.AgeDecay(ageDays),
		RecencyBoost: s.RecencyBoost(accessCount),
	}
	return s.Score(comp), comp
}

// HeuristicCertainty classifies free text into the recommended certainty
// priors when no LLM structured output is available: declarative statements
// score highest, hedged statements in the middle, questions lowest.
func HeuristicCertainty(text string) float64 {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return DefaultCertaintyDeclarative
	}
	if strings.HasSuffix(t, "?") {
		return DefaultCertaintyQuestion
	}
	for _, hedge := range hedgeWords {
		if strings.Contains(t, hedge) {
			return DefaultCertaintyHedge
		}
	}
	return DefaultCertaintyDeclarative
}

var hedgeWords = []string{"maybe", "perhaps", "i think", "probably", "might", "not sure", "i guess", "possibly"}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
