package scoring

import (
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// expressionModel scores with a CEL program over the declared features.
//
// Parameters:
//
//	expression             CEL returning int or double, the score
//	confidence_expression  optional CEL returning int or double in [0,1]
//
// Each feature whose name is a valid identifier is bound as a typed
// variable; all features are also available through the "features" map.
type expressionModel struct {
	modelID    string
	scoreRange domain.Range
	features   []domain.FeatureDefinition
	score      cel.Program
	confidence cel.Program
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var celReserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true, "as": true,
	"break": true, "const": true, "continue": true, "else": true, "for": true,
	"function": true, "if": true, "import": true, "let": true, "loop": true,
	"package": true, "namespace": true, "return": true, "var": true, "void": true,
	"while": true, "features": true,
}

func bindable(name string) bool {
	return identPattern.MatchString(name) && !celReserved[name]
}

func compileExpression(model *domain.RiskModel) (Evaluator, error) {
	p := params{model: model}

	source, err := p.requiredText("expression")
	if err != nil {
		return nil, err
	}
	confidenceSource, err := p.text("confidence_expression", "")
	if err != nil {
		return nil, err
	}

	opts := []cel.EnvOption{
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
	}
	for _, def := range model.Features {
		if !bindable(def.Name) {
			continue
		}
		opts = append(opts, cel.Variable(def.Name, celType(def.DataType)))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, domain.InvalidParameters(model.ID, "failed to create CEL environment: %v", err)
	}

	em := &expressionModel{
		modelID:    model.ID,
		scoreRange: model.ScoreRange,
		features:   model.Features,
	}
	if em.score, err = compileProgram(env, source); err != nil {
		return nil, domain.InvalidParameters(model.ID, "expression: %v", err)
	}
	if confidenceSource != "" {
		if em.confidence, err = compileProgram(env, confidenceSource); err != nil {
			return nil, domain.InvalidParameters(model.ID, "confidence_expression: %v", err)
		}
	}
	return em, nil
}

func celType(t domain.FeatureType) *cel.Type {
	switch t {
	case domain.FeatureNumeric:
		return cel.DoubleType
	case domain.FeatureBoolean:
		return cel.BoolType
	case domain.FeatureDateTime:
		return cel.TimestampType
	default:
		return cel.StringType
	}
}

func compileProgram(env *cel.Env, source string) (cel.Program, error) {
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	outputType := ast.OutputType()
	if outputType != cel.DoubleType && outputType != cel.IntType && outputType != cel.DynType {
		return nil, fmt.Errorf("must return int or double, got %s", outputType)
	}

	return env.Program(ast)
}

func (em *expressionModel) activation(input domain.InputVector) map[string]any {
	all := make(map[string]any, len(em.features))
	act := make(map[string]any, len(em.features)+1)
	for _, def := range em.features {
		v := input[def.Name].Interface()
		all[def.Name] = v
		if bindable(def.Name) {
			act[def.Name] = v
		}
	}
	act["features"] = all
	return act
}

func (em *expressionModel) Evaluate(input domain.InputVector) (Evaluation, error) {
	act := em.activation(input)

	out, _, err := em.score.Eval(act)
	if err != nil {
		return Evaluation{}, domain.InvalidParameters(em.modelID, "expression evaluation failed: %v", err)
	}
	score, ok := toNumber(out)
	if !ok {
		return Evaluation{}, domain.InvalidParameters(em.modelID, "expression returned %s, want a number", out.Type().TypeName())
	}

	confidence := marginConfidence(score, em.scoreRange)
	if em.confidence != nil {
		cout, _, err := em.confidence.Eval(act)
		if err != nil {
			return Evaluation{}, domain.InvalidParameters(em.modelID, "confidence_expression evaluation failed: %v", err)
		}
		c, ok := toNumber(cout)
		if !ok {
			return Evaluation{}, domain.InvalidParameters(em.modelID, "confidence_expression returned %s, want a number", cout.Type().TypeName())
		}
		confidence = c
	}

	return Evaluation{Score: score, Confidence: confidence}, nil
}

func (em *expressionModel) OutputNames() []string { return nil }

// toNumber converts a CEL value to a float.
func toNumber(val ref.Val) (float64, bool) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), true
	case types.Int:
		return float64(v), true
	case types.Uint:
		return float64(v), true
	default:
		return 0, false
	}
}
