package domain

import (
	"math"
	"sort"
)

// SensitivityPoint is one sample of a sensitivity curve.
type SensitivityPoint struct {
	Value float64 `json:"value"`
	Score float64 `json:"score"`
}

// ContinuousFactorAnalysis holds the sensitivity curve of a numeric feature.
type ContinuousFactorAnalysis struct {
	Name         string             `json:"name"`
	CurrentValue float64            `json:"currentValue"`
	Impact       float64            `json:"impact"`
	Sensitivity  []SensitivityPoint `json:"sensitivity"`
}

// CategoricalFactorAnalysis holds the impact of every value of a
// categorical feature, including the applicant's own value.
type CategoricalFactorAnalysis struct {
	Name         string             `json:"name"`
	CurrentValue string             `json:"currentValue"`
	Impact       float64            `json:"impact"`
	ValueImpacts map[string]float64 `json:"valueImpacts"`
	ValidValue   bool               `json:"validValue"`
}

// SortedValues returns the keys of ValueImpacts in lexical order.
func (c *CategoricalFactorAnalysis) SortedValues() []string {
	keys := make([]string, 0, len(c.ValueImpacts))
	for k := range c.ValueImpacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FactorAnalysis decomposes one score into per-feature contributions.
// Factors are kept in feature declaration order.
type FactorAnalysis struct {
	AnalysisID         string                                `json:"analysisId,omitempty"`
	AssessmentID       string                                `json:"assessmentId,omitempty"`
	ModelID            string                                `json:"modelId"`
	Score              float64                               `json:"score"`
	ScoreRange         Range                                 `json:"scoreRange"`
	BaselineScore      float64                               `json:"baselineScore"`
	Factors            []Factor                              `json:"factors"`
	Baseline           InputVector                           `json:"baseline"`
	ImpactValues       map[string]float64                    `json:"impactValues"`
	CategoricalFactors map[string]*CategoricalFactorAnalysis `json:"categoricalFactors"`
	ContinuousFactors  map[string]*ContinuousFactorAnalysis  `json:"continuousFactors"`
}

// TopFactors returns the n factors with the greatest absolute impact, ties
// broken by declaration order. It never returns more than n entries.
func (a *FactorAnalysis) TopFactors(n int) []Factor {
	return RankFactors(a.Factors, n)
}

// Factor returns the named factor.
func (a *FactorAnalysis) Factor(name string) (Factor, bool) {
	for _, f := range a.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return Factor{}, false
}

// TotalImpact is the sum of absolute factor impacts.
func (a *FactorAnalysis) TotalImpact() float64 {
	total := 0.0
	for _, f := range a.Factors {
		total += math.Abs(f.Impact)
	}
	return total
}

// CategoryImportance aggregates absolute impact by category, normalized to
// sum to 1. When the total impact is zero every category maps to 0.
func (a *FactorAnalysis) CategoryImportance() map[string]float64 {
	out := make(map[string]float64)
	for _, f := range a.Factors {
		out[f.Category] += math.Abs(f.Impact)
	}
	total := a.TotalImpact()
	for c, v := range out {
		if total > 0 {
			out[c] = v / total
		} else {
			out[c] = 0
		}
	}
	return out
}
