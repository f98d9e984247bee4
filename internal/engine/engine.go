// Package engine is the scoring and explainability core: feature
// extraction, model execution, tier classification, factor analysis and
// explanation. An Engine holds only configuration; every call is a pure
// function of its arguments.
package engine

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Options configures an Engine. The zero value is usable.
type Options struct {
	// Now is the evaluation time for derived attributes. Defaults to time.Now.
	Now func() time.Time
	// Registry holds the model strategies. Defaults to the built-in set.
	Registry *scoring.Registry
	// Workers bounds concurrent feature analysis.
	Workers int
	// Samples is the number of points on each sensitivity curve.
	Samples int
}

// Engine wires the core components together.
type Engine struct {
	extractor *features.Extractor
	executor  *scoring.Executor
	analyzer  *analysis.Analyzer
}

// New creates an engine.
func New(opts Options) *Engine {
	executor := scoring.NewExecutor(opts.Registry)

	var analysisOpts []analysis.Option
	if opts.Workers > 0 {
		analysisOpts = append(analysisOpts, analysis.WithWorkers(opts.Workers))
	}
	if opts.Samples > 0 {
		analysisOpts = append(analysisOpts, analysis.WithSamples(opts.Samples))
	}

	return &Engine{
		extractor: features.New(opts.Now),
		executor:  executor,
		analyzer:  analysis.New(executor, analysisOpts...),
	}
}

// Result is an extraction followed by an execution.
type Result struct {
	Input  domain.InputVector
	Output *domain.ModelOutput
}

// Extract maps an applicant onto the model's input vector.
func (e *Engine) Extract(applicant *domain.ApplicantData, model *domain.RiskModel) (*features.Extraction, error) {
	return e.extractor.Extract(applicant, model)
}

// Execute evaluates the model against an input vector.
func (e *Engine) Execute(model *domain.RiskModel, input domain.InputVector) (*domain.ModelOutput, error) {
	return e.executor.Execute(model, input)
}

// Compile validates and compiles a model without evaluating it.
func (e *Engine) Compile(model *domain.RiskModel) (*scoring.Program, error) {
	return e.executor.Compile(model)
}

// ClassifyTier maps a score onto a risk tier relative to the score range.
func (e *Engine) ClassifyTier(score float64, r domain.Range) domain.RiskTier {
	return domain.ClassifyTier(score, r)
}

// Analyze computes the factor analysis of an output.
func (e *Engine) Analyze(model *domain.RiskModel, input domain.InputVector, output *domain.ModelOutput, baseline domain.InputVector) (*domain.FactorAnalysis, error) {
	return e.analyzer.Analyze(model, input, output, baseline)
}

// Explain builds explanations for an analysis.
func (e *Engine) Explain(a *domain.FactorAnalysis) domain.Explanations {
	return explain.Explain(a)
}

// Visualize builds chart data for an analysis.
func (e *Engine) Visualize(a *domain.FactorAnalysis) domain.Visualization {
	return explain.Visualize(a)
}

// Score extracts and executes in one step. Extraction warnings come first
// in the output's warnings.
func (e *Engine) Score(applicant *domain.ApplicantData, model *domain.RiskModel) (*Result, error) {
	extraction, err := e.Extract(applicant, model)
	if err != nil {
		return nil, err
	}
	out, err := e.Execute(model, extraction.Input)
	if err != nil {
		return nil, err
	}
	if len(extraction.Warnings) > 0 {
		out.Warnings = append(append([]string{}, extraction.Warnings...), out.Warnings...)
	}
	return &Result{Input: extraction.Input, Output: out}, nil
}
