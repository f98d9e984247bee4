package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const maxTreeDepth = 64

// treeEnsemble evaluates a list of decision trees.
//
// Parameters:
//
//	trees        list of nodes; a leaf is {value}, a split is
//	             {feature, threshold | categories, left, right}
//	aggregation  "mean" (leaves are probabilities) or "sum" (leaves are
//	             log-odds added to base_score)
//	base_score   number, default 0, used with "sum"
type treeEnsemble struct {
	scoreRange domain.Range
	trees      []*node
	sum        bool
	baseScore  float64
}

type node struct {
	leaf       bool
	value      float64
	feature    string
	kind       domain.FeatureType
	threshold  float64
	categories map[string]bool
	left       *node
	right      *node
}

func compileTreeEnsemble(model *domain.RiskModel) (Evaluator, error) {
	p := params{model: model}

	aggregation, err := p.text("aggregation", "mean")
	if err != nil {
		return nil, err
	}
	if aggregation != "mean" && aggregation != "sum" {
		return nil, domain.InvalidParameters(model.ID, "aggregation must be mean or sum, got %q", aggregation)
	}
	baseScore, err := p.number("base_score", 0)
	if err != nil {
		return nil, err
	}
	items, err := p.list("trees")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.InvalidParameters(model.ID, "parameter %q must not be empty", "trees")
	}

	te := &treeEnsemble{
		scoreRange: model.ScoreRange,
		sum:        aggregation == "sum",
		baseScore:  baseScore,
	}
	for i, item := range items {
		n, err := compileNode(model, item, 0)
		if err != nil {
			return nil, domain.InvalidParameters(model.ID, "tree %d: %v", i, err)
		}
		te.trees = append(te.trees, n)
	}
	return te, nil
}

type treeError string

func (e treeError) Error() string { return string(e) }

func compileNode(model *domain.RiskModel, v domain.Value, depth int) (*node, error) {
	if depth > maxTreeDepth {
		return nil, treeError("tree exceeds maximum depth")
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, treeError("node must be a map")
	}

	if leaf, ok := m["value"]; ok {
		f, ok := leaf.AsNumber()
		if !ok {
			return nil, treeError("leaf value must be a number")
		}
		return &node{leaf: true, value: f}, nil
	}

	name, ok := m["feature"].AsString()
	if !ok || name == "" {
		return nil, treeError("split node requires a feature")
	}
	def, declared := model.Feature(name)
	if !declared {
		return nil, treeError("split on undeclared feature " + name)
	}

	n := &node{feature: name, kind: def.DataType}
	switch def.DataType {
	case domain.FeatureNumeric:
		t, ok := m["threshold"].AsNumber()
		if !ok {
			return nil, treeError("numeric split on " + name + " requires a threshold")
		}
		n.threshold = t
	case domain.FeatureCategorical, domain.FeatureText:
		list, ok := m["categories"].AsList()
		if !ok {
			return nil, treeError("categorical split on " + name + " requires categories")
		}
		n.categories = make(map[string]bool, len(list))
		for _, c := range list {
			s, ok := c.AsString()
			if !ok {
				return nil, treeError("categories of " + name + " must be strings")
			}
			n.categories[s] = true
		}
	case domain.FeatureBoolean:
	default:
		return nil, treeError("cannot split on " + string(def.DataType) + " feature " + name)
	}

	left, err := compileNode(model, m["left"], depth+1)
	if err != nil {
		return nil, err
	}
	right, err := compileNode(model, m["right"], depth+1)
	if err != nil {
		return nil, err
	}
	n.left, n.right = left, right
	return n, nil
}

// goLeft: numeric x < threshold, category in set, boolean true.
func (n *node) goLeft(input domain.InputVector) bool {
	v := input[n.feature]
	switch n.kind {
	case domain.FeatureNumeric:
		x, _ := v.AsNumber()
		return x < n.threshold
	case domain.FeatureBoolean:
		b, _ := v.AsBool()
		return b
	default:
		s, _ := v.AsString()
		return n.categories[s]
	}
}

func (n *node) predict(input domain.InputVector) float64 {
	for !n.leaf {
		if n.goLeft(input) {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func (te *treeEnsemble) Evaluate(input domain.InputVector) (Evaluation, error) {
	leaves := make([]float64, len(te.trees))
	total, absTotal := 0.0, 0.0
	for i, t := range te.trees {
		leaves[i] = t.predict(input)
		total += leaves[i]
		absTotal += math.Abs(leaves[i])
	}

	var p, confidence float64
	if te.sum {
		p = sigmoid(te.baseScore + total)
		// Share of leaf mass pointing the same way as the total.
		confidence = 0.5
		if absTotal > 0 {
			confidence = 0.5 + 0.5*math.Abs(total)/absTotal
		}
	} else {
		mean := total / float64(len(leaves))
		variance := 0.0
		for _, l := range leaves {
			variance += (l - mean) * (l - mean)
		}
		variance /= float64(len(leaves))
		p = clamp01(mean)
		confidence = clamp01(1 - 2*math.Sqrt(variance))
	}

	return Evaluation{
		Score:      te.scoreRange.Min + p*te.scoreRange.Span(),
		Confidence: confidence,
		Outputs: map[string]domain.Value{
			"probability_of_default": domain.Number(p),
			"tree_count":             domain.Number(float64(len(te.trees))),
		},
	}, nil
}

func (te *treeEnsemble) OutputNames() []string {
	return []string{"probability_of_default", "tree_count"}
}
