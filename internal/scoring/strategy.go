// Package scoring evaluates risk models against input vectors.
package scoring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Model types with a built-in strategy.
const (
	TypeLinear       = "linear"
	TypeLogistic     = "logistic"
	TypeTreeEnsemble = "tree_ensemble"
	TypeExpression   = "expression"
)

// Evaluation is the result of evaluating a compiled model once.
type Evaluation struct {
	Score      float64
	Confidence float64
	// Outputs holds strategy-specific raw outputs keyed by output name.
	Outputs map[string]domain.Value
}

// Evaluator is a model compiled by a Strategy. Implementations must be safe
// for concurrent use and must be pure functions of their input.
type Evaluator interface {
	Evaluate(input domain.InputVector) (Evaluation, error)
	// OutputNames lists the strategy-specific outputs Evaluate fills.
	OutputNames() []string
}

// Strategy compiles the parameters of one model type.
type Strategy interface {
	Compile(model *domain.RiskModel) (Evaluator, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(model *domain.RiskModel) (Evaluator, error)

// Compile calls f(model).
func (f StrategyFunc) Compile(model *domain.RiskModel) (Evaluator, error) {
	return f(model)
}

// Registry maps model_type strings to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// DefaultRegistry creates a registry with every built-in strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(TypeLinear, StrategyFunc(compileLinear))
	r.MustRegister(TypeLogistic, StrategyFunc(compileLogistic))
	r.MustRegister(TypeTreeEnsemble, StrategyFunc(compileTreeEnsemble))
	r.MustRegister(TypeExpression, StrategyFunc(compileExpression))
	return r
}

// Register adds a strategy. Registering a type twice is an error.
func (r *Registry) Register(modelType string, s Strategy) error {
	if modelType == "" {
		return fmt.Errorf("model type is required")
	}
	if s == nil {
		return fmt.Errorf("strategy for %q is nil", modelType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[modelType]; exists {
		return fmt.Errorf("strategy for %q already registered", modelType)
	}
	r.strategies[modelType] = s
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(modelType string, s Strategy) {
	if err := r.Register(modelType, s); err != nil {
		panic(err)
	}
}

// Lookup returns the strategy for a model type.
func (r *Registry) Lookup(modelType string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[modelType]
	return s, ok
}

// Types returns the registered model types in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
