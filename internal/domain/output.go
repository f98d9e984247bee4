package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskTier is a discrete risk category derived from a score.
type RiskTier string

const (
	TierVeryLow  RiskTier = "Very Low"
	TierLow      RiskTier = "Low"
	TierModerate RiskTier = "Moderate"
	TierHigh     RiskTier = "High"
	TierVeryHigh RiskTier = "Very High"
)

// tierBounds are the lower bounds, in normalized score space, of every tier
// above VeryLow. A value equal to a bound belongs to the higher tier.
var tierBounds = [...]float64{0.2, 0.4, 0.6, 0.8}

var tierOrder = [...]RiskTier{TierVeryLow, TierLow, TierModerate, TierHigh, TierVeryHigh}

// Rank returns the ordinal position of the tier, 0 for VeryLow through 4
// for VeryHigh, or -1 for an unknown label.
func (t RiskTier) Rank() int {
	for i, v := range tierOrder {
		if v == t {
			return i
		}
	}
	return -1
}

// NormalizeScore maps score into [0,1] using r, clamping values outside it.
// A degenerate range maps scores at or above Max to 1 and everything else to 0.
func NormalizeScore(score float64, r Range) float64 {
	span := r.Span()
	if !(span > 0) {
		if score >= r.Max {
			return 1
		}
		return 0
	}
	n := (score - r.Min) / span
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// ClassifyTier maps a score within the model's score range to a tier.
func ClassifyTier(score float64, r Range) RiskTier {
	n := NormalizeScore(score, r)
	for i, bound := range tierBounds {
		if n < bound {
			return tierOrder[i]
		}
	}
	return TierVeryHigh
}

// TierBand is the score interval, in model units, that maps to one tier.
type TierBand struct {
	Tier RiskTier `json:"tier"`
	Min  float64  `json:"min"`
	Max  float64  `json:"max"`
}

// TierBands splits r into the tier intervals, VeryLow first. Each band's
// Min is the first score of that tier.
func TierBands(r Range) []TierBand {
	bands := make([]TierBand, len(tierOrder))
	lo := 0.0
	for i, tier := range tierOrder {
		hi := 1.0
		if i < len(tierBounds) {
			hi = tierBounds[i]
		}
		bands[i] = TierBand{Tier: tier, Min: r.Min + lo*r.Span(), Max: r.Min + hi*r.Span()}
		lo = hi
	}
	return bands
}

// TierMargin returns the distance, in normalized space, from score to the
// nearest tier boundary.
func TierMargin(score float64, r Range) float64 {
	n := NormalizeScore(score, r)
	margin := 1.0
	for _, bound := range tierBounds {
		d := n - bound
		if d < 0 {
			d = -d
		}
		if d < margin {
			margin = d
		}
	}
	return margin
}

// ModelOutput is the result of one model evaluation.
type ModelOutput struct {
	ModelID       string           `json:"modelId"`
	ModelVersion  string           `json:"modelVersion"`
	Score         float64          `json:"score"`
	Tier          RiskTier         `json:"tier"`
	Confidence    float64          `json:"confidence"`
	RawOutputs    map[string]Value `json:"rawOutputs"`
	ExecutionTime time.Duration    `json:"-"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// AddWarning records a non-fatal issue.
func (o *ModelOutput) AddWarning(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// HasWarnings reports whether any warning was recorded.
func (o *ModelOutput) HasWarnings() bool { return len(o.Warnings) > 0 }

// SetExecutionTime stamps the measured evaluation time.
func (o *ModelOutput) SetExecutionTime(d time.Duration) { o.ExecutionTime = d }

type modelOutputJSON ModelOutput

// MarshalJSON adds executionMs to the encoded output.
func (o ModelOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		modelOutputJSON
		ExecutionMs float64 `json:"executionMs"`
	}{modelOutputJSON(o), float64(o.ExecutionTime.Microseconds()) / 1000})
}

// UnmarshalJSON restores ExecutionTime from executionMs.
func (o *ModelOutput) UnmarshalJSON(data []byte) error {
	var aux struct {
		modelOutputJSON
		ExecutionMs float64 `json:"executionMs"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*o = ModelOutput(aux.modelOutputJSON)
	o.ExecutionTime = time.Duration(aux.ExecutionMs * float64(time.Millisecond))
	return nil
}
