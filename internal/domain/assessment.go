package domain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ImpactDirection labels whether a factor helps or hurts the applicant.
type ImpactDirection string

const (
	// DirectionNegative means the factor increases risk.
	DirectionNegative ImpactDirection = "negative"
	// DirectionPositive means the factor decreases risk.
	DirectionPositive ImpactDirection = "positive"
	DirectionNeutral  ImpactDirection = "neutral"
)

// NeutralEpsilon is the dead zone, as a fraction of the score range, inside
// which a score delta is treated as zero.
const NeutralEpsilon = 1e-6

// DirectionOf labels a raw score delta (actual minus counterfactual).
func DirectionOf(delta, span float64) ImpactDirection {
	if math.Abs(delta) < NeutralEpsilon*span {
		return DirectionNeutral
	}
	if delta > 0 {
		return DirectionNegative
	}
	return DirectionPositive
}

// Factor is one feature's contribution to a specific score.
type Factor struct {
	Name        string          `json:"name"`
	Value       Value           `json:"value"`
	Impact      float64         `json:"impact"`
	Direction   ImpactDirection `json:"direction"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

// RankFactors returns the n factors with the greatest absolute impact.
// Equal impacts keep their input order. The input slice is not modified.
func RankFactors(factors []Factor, n int) []Factor {
	if n <= 0 {
		return []Factor{}
	}
	ranked := make([]Factor, len(factors))
	copy(ranked, factors)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Impact) > math.Abs(ranked[j].Impact)
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// AssessmentScale is the upper bound of RiskAssessment.RiskScore.
const AssessmentScale = 1000.0

// RiskAssessment is the persisted result of scoring one applicant.
type RiskAssessment struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	ApplicantID    string         `json:"applicantId"`
	ModelID        string         `json:"modelId"`
	ModelVersion   string         `json:"modelVersion"`
	RiskScore      float64        `json:"riskScore"`
	RiskTier       RiskTier       `json:"riskTier"`
	Confidence     float64        `json:"confidence"`
	KeyFactors     []Factor       `json:"keyFactors"`
	Warnings       []string       `json:"warnings,omitempty"`
	AssessmentDate time.Time      `json:"assessmentDate"`
	ExpiresDate    time.Time      `json:"expiresDate"`
	Metadata       Values         `json:"metadata,omitempty"`
}

// NewRiskAssessment assembles an assessment from a model output. The model
// score is rescaled from the model's range onto 0..AssessmentScale and kept
// in metadata as model_score.
func NewRiskAssessment(applicantID string, model *RiskModel, out *ModelOutput, factors []Factor, validity time.Duration, now time.Time) *RiskAssessment {
	now = now.UTC()
	return &RiskAssessment{
		ID:             uuid.New().String(),
		ApplicantID:    applicantID,
		ModelID:        model.ID,
		ModelVersion:   model.Version,
		RiskScore:      NormalizeScore(out.Score, model.ScoreRange) * AssessmentScale,
		RiskTier:       out.Tier,
		Confidence:     out.Confidence,
		KeyFactors:     factors,
		Warnings:       out.Warnings,
		AssessmentDate: now,
		ExpiresDate:    now.Add(validity),
		Metadata: Values{
			"model_score":       Number(out.Score),
			"execution_time_ms": Number(float64(out.ExecutionTime.Microseconds()) / 1000),
		},
	}
}

// Validate checks the assessment contract.
func (a *RiskAssessment) Validate() error {
	if a.RiskScore < 0 || a.RiskScore > AssessmentScale {
		return fmt.Errorf("risk score %g outside 0..%g", a.RiskScore, AssessmentScale)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence %g outside 0..1", a.Confidence)
	}
	if !a.ExpiresDate.After(a.AssessmentDate) {
		return fmt.Errorf("expires date must be after assessment date")
	}
	return nil
}

// IsExpired reports whether the assessment is past its validity window.
func (a *RiskAssessment) IsExpired(now time.Time) bool {
	return !now.Before(a.ExpiresDate)
}

// TopFactors returns the n key factors with the greatest absolute impact.
func (a *RiskAssessment) TopFactors(n int) []Factor {
	return RankFactors(a.KeyFactors, n)
}

// PositiveFactors returns the factors that lower risk.
func (a *RiskAssessment) PositiveFactors() []Factor {
	return filterDirection(a.KeyFactors, DirectionPositive)
}

// NegativeFactors returns the factors that raise risk.
func (a *RiskAssessment) NegativeFactors() []Factor {
	return filterDirection(a.KeyFactors, DirectionNegative)
}

func filterDirection(factors []Factor, d ImpactDirection) []Factor {
	var out []Factor
	for _, f := range factors {
		if f.Direction == d {
			out = append(out, f)
		}
	}
	return out
}
