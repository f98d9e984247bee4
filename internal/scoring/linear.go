package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// scorecard is a compiled linear or logistic scorecard.
//
// Parameters:
//
//	intercept         number, default 0
//	weights           feature -> number; numeric features contribute
//	                  weight*(x-center)/scale, booleans contribute weight when true
//	centers, scales   feature -> number, optional standardization
//	category_weights  feature -> category -> number; "*" matches unseen categories
type scorecard struct {
	modelID         string
	scoreRange      domain.Range
	logistic        bool
	intercept       float64
	terms           []term
	categoryWeights []categoryTerm
}

type term struct {
	feature string
	kind    domain.FeatureType
	weight  float64
	center  float64
	scale   float64
}

type categoryTerm struct {
	feature string
	weights map[string]float64
}

func compileLinear(model *domain.RiskModel) (Evaluator, error) {
	return compileScorecard(model, false)
}

func compileLogistic(model *domain.RiskModel) (Evaluator, error) {
	return compileScorecard(model, true)
}

func compileScorecard(model *domain.RiskModel, logistic bool) (Evaluator, error) {
	p := params{model: model}

	intercept, err := p.number("intercept", 0)
	if err != nil {
		return nil, err
	}
	weights, err := p.numberMap("weights")
	if err != nil {
		return nil, err
	}
	centers, err := p.numberMap("centers")
	if err != nil {
		return nil, err
	}
	scales, err := p.numberMap("scales")
	if err != nil {
		return nil, err
	}
	categoryWeights, err := compileCategoryWeights(p)
	if err != nil {
		return nil, err
	}
	if len(weights) == 0 && len(categoryWeights) == 0 {
		return nil, domain.InvalidParameters(model.ID, "parameter %q is required", "weights")
	}

	sc := &scorecard{
		modelID:         model.ID,
		scoreRange:      model.ScoreRange,
		logistic:        logistic,
		intercept:       intercept,
		categoryWeights: categoryWeights,
	}

	// Terms follow feature declaration order so the sum is reproducible.
	for _, def := range model.Features {
		w, ok := weights[def.Name]
		if !ok {
			continue
		}
		if def.DataType != domain.FeatureNumeric && def.DataType != domain.FeatureBoolean {
			return nil, domain.InvalidParameters(model.ID, "weight on %s feature %q; use category_weights", def.DataType, def.Name)
		}
		t := term{feature: def.Name, kind: def.DataType, weight: w, center: centers[def.Name], scale: 1}
		if s, ok := scales[def.Name]; ok {
			if s <= 0 {
				return nil, domain.InvalidParameters(model.ID, "scale of %q must be positive", def.Name)
			}
			t.scale = s
		}
		sc.terms = append(sc.terms, t)
	}

	return sc, nil
}

func compileCategoryWeights(p params) ([]categoryTerm, error) {
	v, ok := p.get("category_weights")
	if !ok {
		return nil, nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, domain.InvalidParameters(p.model.ID, "parameter %q must be a map", "category_weights")
	}

	var out []categoryTerm
	for _, def := range p.model.Features {
		entry, ok := m[def.Name]
		if !ok {
			continue
		}
		if def.DataType != domain.FeatureCategorical && def.DataType != domain.FeatureText {
			return nil, domain.InvalidParameters(p.model.ID, "category_weights on %s feature %q", def.DataType, def.Name)
		}
		table, ok := entry.AsMap()
		if !ok {
			return nil, domain.InvalidParameters(p.model.ID, "category_weights of %q must be a map", def.Name)
		}
		ct := categoryTerm{feature: def.Name, weights: make(map[string]float64, len(table))}
		for category, w := range table {
			f, ok := w.AsNumber()
			if !ok {
				return nil, domain.InvalidParameters(p.model.ID, "category weight %q of %q must be a number", category, def.Name)
			}
			ct.weights[category] = f
		}
		out = append(out, ct)
	}
	for name := range m {
		if _, declared := p.model.Feature(name); !declared {
			return nil, domain.InvalidParameters(p.model.ID, "category_weights references undeclared feature %q", name)
		}
	}
	return out, nil
}

// predictor returns the weighted sum for input.
func (sc *scorecard) predictor(input domain.InputVector) float64 {
	z := sc.intercept
	for _, t := range sc.terms {
		v := input[t.feature]
		switch t.kind {
		case domain.FeatureNumeric:
			x, _ := v.AsNumber()
			z += t.weight * (x - t.center) / t.scale
		case domain.FeatureBoolean:
			if b, _ := v.AsBool(); b {
				z += t.weight
			}
		}
	}
	for _, ct := range sc.categoryWeights {
		s, _ := input[ct.feature].AsString()
		if w, ok := ct.weights[s]; ok {
			z += w
		} else if w, ok := ct.weights["*"]; ok {
			z += w
		}
	}
	return z
}

func (sc *scorecard) Evaluate(input domain.InputVector) (Evaluation, error) {
	z := sc.predictor(input)

	if !sc.logistic {
		return Evaluation{
			Score:      z,
			Confidence: marginConfidence(z, sc.scoreRange),
			Outputs: map[string]domain.Value{
				"linear_predictor": domain.Number(z),
			},
		}, nil
	}

	p := sigmoid(z)
	score := sc.scoreRange.Min + p*sc.scoreRange.Span()
	confidence := p
	if 1-p > confidence {
		confidence = 1 - p
	}
	return Evaluation{
		Score:      score,
		Confidence: confidence,
		Outputs: map[string]domain.Value{
			"linear_predictor":       domain.Number(z),
			"probability_of_default": domain.Number(p),
		},
	}, nil
}

func (sc *scorecard) OutputNames() []string {
	if sc.logistic {
		return []string{"linear_predictor", "probability_of_default"}
	}
	return []string{"linear_predictor"}
}
