// Package analysis decomposes a model score into per-feature impacts by
// counterfactual re-evaluation.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Defaults for Analyzer options.
const (
	DefaultSamples = 10
	DefaultWorkers = 8
)

// BaselineParameter is the model parameter holding population baseline
// values, keyed by feature name.
const BaselineParameter = "baseline"

// Analyzer computes factor analyses. It holds no per-call state and is safe
// for concurrent use.
type Analyzer struct {
	executor *scoring.Executor
	workers  int
	samples  int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkers bounds the number of features analyzed concurrently. One
// worker analyzes features sequentially.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithSamples sets the number of points on each sensitivity curve. The
// curve always includes both ends of the feature range, so values below 2
// are raised to 2.
func WithSamples(n int) Option {
	return func(a *Analyzer) {
		if n < 2 {
			n = 2
		}
		a.samples = n
	}
}

// New creates an analyzer. A nil executor uses the default strategies.
func New(executor *scoring.Executor, opts ...Option) *Analyzer {
	if executor == nil {
		executor = scoring.NewExecutor(nil)
	}
	a := &Analyzer{
		executor: executor,
		workers:  DefaultWorkers,
		samples:  DefaultSamples,
	}
	if n := runtime.GOMAXPROCS(0); n < a.workers {
		a.workers = n
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// featureResult is the analysis of one feature, written into its own slot.
type featureResult struct {
	counterfactual float64
	continuous     *domain.ContinuousFactorAnalysis
	categorical    *domain.CategoricalFactorAnalysis
	err            error
}

// Analyze compares the score in output with the score obtained by replacing
// each feature, one at a time, with its baseline value. Impacts are score
// deltas divided by the score range span, so a positive impact means the
// applicant's actual value raised the risk score.
//
// The baseline may be nil or partial; missing entries come from the model's
// baseline parameter, then the declared default, then the neutral value. A
// required feature with none of those fails with domain.ErrAnalysis.
func (a *Analyzer) Analyze(model *domain.RiskModel, input domain.InputVector, output *domain.ModelOutput, baseline domain.InputVector) (*domain.FactorAnalysis, error) {
	program, err := a.executor.Compile(model)
	if err != nil {
		return nil, err
	}

	resolved, err := ResolveBaseline(model, baseline)
	if err != nil {
		return nil, err
	}

	var actual float64
	if output != nil {
		if output.ModelID != "" && output.ModelID != model.ID {
			return nil, fmt.Errorf("%w: output belongs to model %s, not %s", domain.ErrAnalysis, output.ModelID, model.ID)
		}
		actual = output.Score
	} else if actual, err = program.Score(input); err != nil {
		return nil, err
	}

	baselineScore, err := program.Score(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: baseline evaluation: %v", domain.ErrAnalysis, err)
	}

	results := a.analyzeFeatures(program, input, resolved)
	for i, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("analyze feature %q: %w", model.Features[i].Name, r.err)
		}
	}

	span := model.ScoreRange.Span()
	fa := &domain.FactorAnalysis{
		ModelID:            model.ID,
		Score:              actual,
		ScoreRange:         model.ScoreRange,
		BaselineScore:      baselineScore,
		Factors:            make([]domain.Factor, 0, len(model.Features)),
		Baseline:           resolved,
		ImpactValues:       make(map[string]float64, len(model.Features)),
		CategoricalFactors: make(map[string]*domain.CategoricalFactorAnalysis),
		ContinuousFactors:  make(map[string]*domain.ContinuousFactorAnalysis),
	}

	for i := range model.Features {
		def := &model.Features[i]
		r := results[i]

		delta := actual - r.counterfactual
		impact := clampImpact(delta / span)

		fa.Factors = append(fa.Factors, domain.Factor{
			Name:        def.Name,
			Value:       input[def.Name],
			Impact:      impact,
			Direction:   domain.DirectionOf(delta, span),
			Category:    def.ResolvedCategory(),
			Description: describe(def, input[def.Name], resolved[def.Name]),
		})
		fa.ImpactValues[def.Name] = impact

		if r.continuous != nil {
			r.continuous.Impact = impact
			fa.ContinuousFactors[def.Name] = r.continuous
		}
		if r.categorical != nil {
			r.categorical.Impact = impact
			fa.CategoricalFactors[def.Name] = r.categorical
		}
	}

	return fa, nil
}

// analyzeFeatures runs one task per feature on a bounded worker pool. Each
// result lands in the slot matching the feature's declaration index.
func (a *Analyzer) analyzeFeatures(program *scoring.Program, input, baseline domain.InputVector) []featureResult {
	defs := program.Model().Features
	results := make([]featureResult, len(defs))

	if a.workers <= 1 {
		for i := range defs {
			results[i] = a.analyzeFeature(program, &defs[i], input, baseline)
		}
		return results
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, a.workers)

	for i := range defs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = a.analyzeFeature(program, &defs[idx], input, baseline)
		}(i)
	}

	wg.Wait()
	return results
}

// analyzeFeature works on a private copy of the input and only ever changes
// the entry for def.
func (a *Analyzer) analyzeFeature(program *scoring.Program, def *domain.FeatureDefinition, input, baseline domain.InputVector) featureResult {
	vec := input.Clone()
	score := func(v domain.Value) (float64, error) {
		vec[def.Name] = v
		return program.Score(vec)
	}

	var r featureResult
	if r.counterfactual, r.err = score(baseline[def.Name]); r.err != nil {
		return r
	}

	switch def.DataType {
	case domain.FeatureNumeric:
		if def.Range == nil {
			return r
		}
		current, _ := input[def.Name].AsNumber()
		cfa := &domain.ContinuousFactorAnalysis{
			Name:         def.Name,
			CurrentValue: current,
			Sensitivity:  make([]domain.SensitivityPoint, 0, a.samples),
		}
		for _, x := range samplePoints(*def.Range, a.samples) {
			s, err := score(domain.Number(x))
			if err != nil {
				r.err = err
				return r
			}
			cfa.Sensitivity = append(cfa.Sensitivity, domain.SensitivityPoint{Value: x, Score: s})
		}
		r.continuous = cfa

	case domain.FeatureCategorical:
		current, _ := input[def.Name].AsString()
		span := program.Model().ScoreRange.Span()
		cfa := &domain.CategoricalFactorAnalysis{
			Name:         def.Name,
			CurrentValue: current,
			ValueImpacts: make(map[string]float64, len(def.ValidValues)+1),
			ValidValue:   def.IsValidValue(current),
		}
		values := def.ValidValues
		if !cfa.ValidValue || len(values) == 0 {
			values = append(append([]string{}, values...), current)
		}
		for _, v := range values {
			if _, done := cfa.ValueImpacts[v]; done {
				continue
			}
			s, err := score(domain.String(v))
			if err != nil {
				r.err = err
				return r
			}
			cfa.ValueImpacts[v] = clampImpact((s - r.counterfactual) / span)
		}
		r.categorical = cfa
	}

	return r
}

// samplePoints returns n evenly spaced points from r.Min to r.Max inclusive,
// in ascending order.
func samplePoints(r domain.Range, n int) []float64 {
	points := make([]float64, n)
	step := r.Span() / float64(n-1)
	for i := range points {
		points[i] = r.Min + float64(i)*step
	}
	points[n-1] = r.Max
	return points
}

func clampImpact(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}

// ResolveBaseline completes a caller-supplied baseline so it has a
// correctly typed value for every declared feature.
func ResolveBaseline(model *domain.RiskModel, supplied domain.InputVector) (domain.InputVector, error) {
	var population map[string]domain.Value
	if v, ok := model.Parameters[BaselineParameter]; ok && !v.IsNull() {
		m, ok := v.AsMap()
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q must be a map", domain.ErrAnalysis, BaselineParameter)
		}
		population = m
	}

	out := make(domain.InputVector, len(model.Features))
	for i := range model.Features {
		def := &model.Features[i]

		raw, ok := supplied[def.Name]
		if !ok || raw.IsNull() {
			raw, ok = population[def.Name]
		}
		if !ok || raw.IsNull() {
			switch {
			case def.DefaultValue != nil:
				raw = *def.DefaultValue
			case def.Required:
				return nil, fmt.Errorf("%w: baseline missing required feature %q", domain.ErrAnalysis, def.Name)
			default:
				out[def.Name] = features.Neutral(def.DataType)
				continue
			}
		}

		v, err := features.Coerce(def, raw)
		if err != nil {
			var fe *domain.FeatureError
			if errors.As(err, &fe) {
				return nil, fmt.Errorf("%w: baseline %s", domain.ErrAnalysis, fe.Error())
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrAnalysis, err)
		}
		out[def.Name] = v
	}
	return out, nil
}

func describe(def *domain.FeatureDefinition, actual, baseline domain.Value) string {
	label := def.Description
	if label == "" {
		label = def.Name
	}
	if actual.Equal(baseline) {
		return fmt.Sprintf("%s of %s matches the baseline", label, actual)
	}
	return fmt.Sprintf("%s of %s compared with baseline %s", label, actual, baseline)
}
