package domain

// Explanations is the natural-language view of a factor analysis.
type Explanations struct {
	Overall            string              `json:"overallExplanation"`
	FactorExplanations []FactorExplanation `json:"factorExplanations"`
	SuggestedActions   []SuggestedAction   `json:"suggestedActions"`
}

// FactorExplanation describes one factor. Importance values over all
// explanations sum to 1 unless every impact is zero.
type FactorExplanation struct {
	FactorName  string          `json:"factorName"`
	Explanation string          `json:"explanation"`
	Importance  float64         `json:"importance"`
	Direction   ImpactDirection `json:"direction"`
}

// SuggestedAction is a ranked improvement suggestion.
type SuggestedAction struct {
	Description     string   `json:"description"`
	EstimatedImpact float64  `json:"estimatedImpact"`
	Difficulty      int      `json:"difficulty"`
	RelatedFactors  []string `json:"relatedFactors"`
	TargetValue     float64  `json:"targetValue"`
}

// Chart types.
const (
	ChartBar  = "bar"
	ChartLine = "line"
)

// Visualization holds chartable series derived from a factor analysis.
type Visualization struct {
	FactorImpactChart      ChartData            `json:"factorImpactChart"`
	ScoreDistributionChart ChartData            `json:"scoreDistributionChart"`
	SensitivityCharts      map[string]ChartData `json:"sensitivityCharts"`
	CategoricalCharts      map[string]ChartData `json:"categoricalCharts"`
}

// ChartData is one chart.
type ChartData struct {
	ChartType string       `json:"chartType"`
	Title     string       `json:"title"`
	XLabel    string       `json:"xLabel"`
	YLabel    string       `json:"yLabel"`
	Series    []DataSeries `json:"series"`
}

// DataSeries is one named series of points.
type DataSeries struct {
	Name   string      `json:"name"`
	Points []DataPoint `json:"points"`
}

// DataPoint is an x/y pair. X may be numeric or categorical.
type DataPoint struct {
	X Value   `json:"x"`
	Y float64 `json:"y"`
}
