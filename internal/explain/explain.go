// Package explain turns a factor analysis into readable explanations,
// improvement suggestions and chart data.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaterialityThreshold is the smallest score improvement, as a fraction of
// the score range, worth suggesting an action for.
const MaterialityThreshold = 0.01

// maxDrivers bounds the factors named in the overall explanation.
const maxDrivers = 3

// difficulty is the effort scale of suggested actions, 1 easy to 5 hard.
var difficulty = map[string]int{
	domain.CategoryPersonal:   2,
	domain.CategoryCredit:     3,
	domain.CategoryFinancial:  4,
	domain.CategoryEmployment: 5,
}

const defaultDifficulty = 3

// immutable features never get suggested actions.
var immutable = map[string]bool{
	"age":           true,
	"date_of_birth": true,
}

// Explain builds the overall explanation, one explanation per factor and
// the suggested actions for a factor analysis.
func Explain(a *domain.FactorAnalysis) domain.Explanations {
	if a == nil {
		return domain.Explanations{
			FactorExplanations: []domain.FactorExplanation{},
			SuggestedActions:   []domain.SuggestedAction{},
		}
	}
	return domain.Explanations{
		Overall:            overall(a),
		FactorExplanations: factorExplanations(a),
		SuggestedActions:   suggestedActions(a),
	}
}

func overall(a *domain.FactorAnalysis) string {
	tier := domain.ClassifyTier(a.Score, a.ScoreRange)

	var b strings.Builder
	fmt.Fprintf(&b, "The score of %s falls in the %s risk tier.", formatScore(a.Score), tier)

	category, share := dominantCategory(a)
	if category == "" {
		b.WriteString(" No single factor moved the score away from the baseline.")
		return b.String()
	}
	fmt.Fprintf(&b, " %s factors had the greatest influence (%.0f%% of total impact).", capitalize(category), share*100)

	var drivers []string
	for _, f := range a.TopFactors(maxDrivers) {
		if f.Direction == domain.DirectionNeutral {
			continue
		}
		drivers = append(drivers, fmt.Sprintf("%s (%s)", f.Name, effect(f.Direction)))
	}
	if len(drivers) > 0 {
		fmt.Fprintf(&b, " Main drivers: %s.", joinList(drivers))
	}
	return b.String()
}

// dominantCategory returns the category with the largest share of total
// impact. Ties go to the category that appears first in the factor list.
func dominantCategory(a *domain.FactorAnalysis) (string, float64) {
	importance := a.CategoryImportance()
	best, bestShare := "", 0.0
	for _, f := range a.Factors {
		if share := importance[f.Category]; share > bestShare {
			best, bestShare = f.Category, share
		}
	}
	return best, bestShare
}

func factorExplanations(a *domain.FactorAnalysis) []domain.FactorExplanation {
	total := a.TotalImpact()
	ranked := a.TopFactors(len(a.Factors))

	out := make([]domain.FactorExplanation, 0, len(ranked))
	for _, f := range ranked {
		importance := 0.0
		if total > 0 {
			importance = math.Abs(f.Impact) / total
		}
		out = append(out, domain.FactorExplanation{
			FactorName:  f.Name,
			Explanation: describeFactor(f, a.Baseline[f.Name]),
			Importance:  importance,
			Direction:   f.Direction,
		})
	}
	return out
}

func describeFactor(f domain.Factor, baseline domain.Value) string {
	if f.Direction == domain.DirectionNeutral {
		return fmt.Sprintf("%s of %s had no measurable effect on the score.", f.Name, f.Value)
	}
	return fmt.Sprintf("%s of %s %s by %.1f%% of the score range compared with the baseline of %s.",
		f.Name, f.Value, effect(f.Direction), math.Abs(f.Impact)*100, baseline)
}

func suggestedActions(a *domain.FactorAnalysis) []domain.SuggestedAction {
	threshold := MaterialityThreshold * a.ScoreRange.Span()

	out := []domain.SuggestedAction{}
	for _, f := range a.Factors {
		if f.Direction != domain.DirectionNegative || immutable[f.Name] {
			continue
		}
		cfa, ok := a.ContinuousFactors[f.Name]
		if !ok || len(cfa.Sensitivity) == 0 {
			continue
		}

		best, ok := bestPoint(cfa)
		if !ok {
			continue
		}
		gain := a.Score - best.Score
		if gain < threshold {
			continue
		}

		out = append(out, domain.SuggestedAction{
			Description:     actionText(cfa.Name, cfa.CurrentValue, best.Value),
			EstimatedImpact: gain,
			Difficulty:      difficultyOf(f.Category),
			RelatedFactors:  []string{f.Name},
			TargetValue:     best.Value,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EstimatedImpact > out[j].EstimatedImpact
	})
	return out
}

// bestPoint returns the sampled point with the lowest score. Equal scores
// prefer the point closest to the current value.
func bestPoint(cfa *domain.ContinuousFactorAnalysis) (domain.SensitivityPoint, bool) {
	var best domain.SensitivityPoint
	found := false
	for _, p := range cfa.Sensitivity {
		if !found || p.Score < best.Score ||
			(p.Score == best.Score && math.Abs(p.Value-cfa.CurrentValue) < math.Abs(best.Value-cfa.CurrentValue)) {
			best, found = p, true
		}
	}
	return best, found
}

func actionText(name string, current, target float64) string {
	verb := "Increase"
	if target < current {
		verb = "Reduce"
	}
	return fmt.Sprintf("%s %s from %s to %s", verb, name, formatScore(current), formatScore(target))
}

func difficultyOf(category string) int {
	if d, ok := difficulty[category]; ok {
		return d
	}
	return defaultDifficulty
}

func effect(d domain.ImpactDirection) string {
	switch d {
	case domain.DirectionNegative:
		return "increased risk"
	case domain.DirectionPositive:
		return "reduced risk"
	default:
		return "no effect"
	}
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatScore(x float64) string {
	if x == math.Trunc(x) && math.Abs(x) < 1e15 {
		return fmt.Sprintf("%.0f", x)
	}
	return fmt.Sprintf("%.2f", x)
}
