package scoring

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Raw outputs every model can declare regardless of strategy.
const (
	OutputConfidence = "confidence"
	OutputRiskTier   = "risk_tier"
)

// Executor runs models through the strategy registered for their type.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor backed by registry. A nil registry means
// DefaultRegistry().
func NewExecutor(registry *Registry) *Executor {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Executor{registry: registry}
}

// Registry returns the strategy registry.
func (x *Executor) Registry() *Registry { return x.registry }

// Program is a model compiled for repeated evaluation.
type Program struct {
	model     *domain.RiskModel
	evaluator Evaluator
}

// Compile validates the model definition, selects its strategy and compiles
// its parameters. Every declared output must be producible.
func (x *Executor) Compile(model *domain.RiskModel) (*Program, error) {
	if model == nil {
		return nil, domain.InvalidDefinition("", "model is required")
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	strategy, ok := x.registry.Lookup(model.ModelType)
	if !ok {
		return nil, domain.UnsupportedModelType(model.ID, model.ModelType)
	}

	evaluator, err := strategy.Compile(model)
	if err != nil {
		return nil, err
	}

	produced := map[string]bool{
		domain.OutputRiskScore: true,
		OutputConfidence:       true,
		OutputRiskTier:         true,
	}
	for _, name := range evaluator.OutputNames() {
		produced[name] = true
	}
	for _, o := range model.Outputs {
		if !produced[o.Name] {
			return nil, domain.InvalidParameters(model.ID, "output %q is not produced by the %s strategy", o.Name, model.ModelType)
		}
	}

	return &Program{model: model, evaluator: evaluator}, nil
}

// Execute compiles the model and evaluates it once.
func (x *Executor) Execute(model *domain.RiskModel, input domain.InputVector) (*domain.ModelOutput, error) {
	program, err := x.Compile(model)
	if err != nil {
		return nil, err
	}
	return program.Run(input)
}

// Model returns the compiled model definition.
func (p *Program) Model() *domain.RiskModel { return p.model }

// Evaluate checks the input and evaluates the model.
func (p *Program) Evaluate(input domain.InputVector) (Evaluation, error) {
	for i := range p.model.Features {
		def := &p.model.Features[i]
		v, ok := input[def.Name]
		if !ok {
			return Evaluation{}, domain.MissingFeature(def.Name)
		}
		if !acceptsInput(def.DataType, v.Kind()) {
			return Evaluation{}, &domain.FeatureError{
				Feature: def.Name,
				Err:     domain.ErrFeatureTypeMismatch,
				Detail:  "expected " + string(def.DataType) + ", got " + v.Kind().String(),
			}
		}
	}

	eval, err := p.evaluator.Evaluate(input)
	if err != nil {
		return Evaluation{}, err
	}
	if math.IsNaN(eval.Score) || math.IsInf(eval.Score, 0) {
		return Evaluation{}, domain.InvalidParameters(p.model.ID, "model produced non-finite score")
	}
	eval.Confidence = clamp01(eval.Confidence)
	return eval, nil
}

// Score evaluates the model and returns only the score.
func (p *Program) Score(input domain.InputVector) (float64, error) {
	eval, err := p.Evaluate(input)
	if err != nil {
		return 0, err
	}
	return eval.Score, nil
}

// Run evaluates the model and assembles a ModelOutput with tier, raw
// outputs and the measured execution time.
func (p *Program) Run(input domain.InputVector) (*domain.ModelOutput, error) {
	start := time.Now()

	eval, err := p.Evaluate(input)
	if err != nil {
		return nil, err
	}

	tier := domain.ClassifyTier(eval.Score, p.model.ScoreRange)

	known := map[string]domain.Value{
		domain.OutputRiskScore: domain.Number(eval.Score),
		OutputConfidence:       domain.Number(eval.Confidence),
		OutputRiskTier:         domain.String(string(tier)),
	}
	raw := make(map[string]domain.Value, len(p.model.Outputs))
	for _, o := range p.model.Outputs {
		if v, ok := known[o.Name]; ok {
			raw[o.Name] = v
			continue
		}
		v, ok := eval.Outputs[o.Name]
		if !ok {
			return nil, domain.InvalidParameters(p.model.ID, "output %q missing from evaluation", o.Name)
		}
		raw[o.Name] = v
	}

	out := &domain.ModelOutput{
		ModelID:      p.model.ID,
		ModelVersion: p.model.Version,
		Score:        eval.Score,
		Tier:         tier,
		Confidence:   eval.Confidence,
		RawOutputs:   raw,
	}
	out.SetExecutionTime(time.Since(start))
	return out, nil
}

func acceptsInput(t domain.FeatureType, k domain.ValueKind) bool {
	if t == domain.FeatureDateTime {
		return k == domain.KindTime
	}
	return t.Accepts(k)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// marginConfidence grows from 0.5 at a tier boundary to 1 at a tenth of the
// score range away from the nearest boundary.
func marginConfidence(score float64, r domain.Range) float64 {
	return 0.5 + 0.5*math.Min(1, domain.TierMargin(score, r)/0.1)
}
