package explain

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Visualize reshapes a factor analysis into chart series. Points follow
// feature declaration order; categorical values are sorted.
func Visualize(a *domain.FactorAnalysis) domain.Visualization {
	v := domain.Visualization{
		FactorImpactChart: domain.ChartData{
			ChartType: domain.ChartBar,
			Title:     "Factor impact",
			XLabel:    "Factor",
			YLabel:    "Impact",
			Series:    []domain.DataSeries{{Name: "impact", Points: []domain.DataPoint{}}},
		},
		ScoreDistributionChart: domain.ChartData{
			ChartType: domain.ChartBar,
			Title:     "Score distribution",
			XLabel:    "Tier",
			YLabel:    "Score",
			Series:    []domain.DataSeries{},
		},
		SensitivityCharts: make(map[string]domain.ChartData),
		CategoricalCharts: make(map[string]domain.ChartData),
	}
	if a == nil {
		return v
	}

	v.ScoreDistributionChart.Series = scoreDistribution(a)

	impacts := &v.FactorImpactChart.Series[0]
	for _, f := range a.Factors {
		impacts.Points = append(impacts.Points, domain.DataPoint{X: domain.String(f.Name), Y: f.Impact})
	}

	for name, cfa := range a.ContinuousFactors {
		points := make([]domain.DataPoint, 0, len(cfa.Sensitivity))
		for _, p := range cfa.Sensitivity {
			points = append(points, domain.DataPoint{X: domain.Number(p.Value), Y: p.Score})
		}
		v.SensitivityCharts[name] = domain.ChartData{
			ChartType: domain.ChartLine,
			Title:     "Score sensitivity to " + name,
			XLabel:    name,
			YLabel:    "Score",
			Series:    []domain.DataSeries{{Name: "score", Points: points}},
		}
	}

	for name, cfa := range a.CategoricalFactors {
		values := cfa.SortedValues()
		points := make([]domain.DataPoint, 0, len(values))
		for _, value := range values {
			points = append(points, domain.DataPoint{X: domain.String(value), Y: cfa.ValueImpacts[value]})
		}
		v.CategoricalCharts[name] = domain.ChartData{
			ChartType: domain.ChartBar,
			Title:     "Impact by " + name,
			XLabel:    name,
			YLabel:    "Impact",
			Series:    []domain.DataSeries{{Name: "impact", Points: points}},
		}
	}

	return v
}

// scoreDistribution lays the tier bands over the score range and marks
// where the applicant and the baseline fall.
func scoreDistribution(a *domain.FactorAnalysis) []domain.DataSeries {
	bands := domain.TierBands(a.ScoreRange)
	lower := domain.DataSeries{Name: "band_min", Points: make([]domain.DataPoint, 0, len(bands))}
	upper := domain.DataSeries{Name: "band_max", Points: make([]domain.DataPoint, 0, len(bands))}
	for _, b := range bands {
		tier := domain.String(string(b.Tier))
		lower.Points = append(lower.Points, domain.DataPoint{X: tier, Y: b.Min})
		upper.Points = append(upper.Points, domain.DataPoint{X: tier, Y: b.Max})
	}

	mark := func(name string, score float64) domain.DataSeries {
		tier := domain.ClassifyTier(score, a.ScoreRange)
		return domain.DataSeries{Name: name, Points: []domain.DataPoint{{X: domain.String(string(tier)), Y: score}}}
	}
	return []domain.DataSeries{lower, upper, mark("applicant", a.Score), mark("baseline", a.BaselineScore)}
}
