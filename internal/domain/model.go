package domain

import "time"

// ModelStatus is the lifecycle state of a risk model.
type ModelStatus string

const (
	ModelDevelopment ModelStatus = "development"
	ModelTesting     ModelStatus = "testing"
	ModelActive      ModelStatus = "active"
	ModelChallenger  ModelStatus = "challenger"
	ModelDeprecated  ModelStatus = "deprecated"
	ModelArchived    ModelStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ModelStatus) Valid() bool {
	switch s {
	case ModelDevelopment, ModelTesting, ModelActive, ModelChallenger, ModelDeprecated, ModelArchived:
		return true
	}
	return false
}

// Scorable reports whether assessments may be produced with the model.
func (s ModelStatus) Scorable() bool {
	return s == ModelActive || s == ModelChallenger || s == ModelTesting
}

// FeatureType is the declared data type of a feature or output.
type FeatureType string

const (
	FeatureNumeric     FeatureType = "numeric"
	FeatureCategorical FeatureType = "categorical"
	FeatureBoolean     FeatureType = "boolean"
	FeatureDateTime    FeatureType = "datetime"
	FeatureText        FeatureType = "text"
)

// Valid reports whether t is a known data type.
func (t FeatureType) Valid() bool {
	switch t {
	case FeatureNumeric, FeatureCategorical, FeatureBoolean, FeatureDateTime, FeatureText:
		return true
	}
	return false
}

// Accepts reports whether a value of kind k is acceptable for t.
func (t FeatureType) Accepts(k ValueKind) bool {
	switch t {
	case FeatureNumeric:
		return k == KindNumber
	case FeatureCategorical, FeatureText:
		return k == KindString
	case FeatureBoolean:
		return k == KindBool
	case FeatureDateTime:
		return k == KindTime || k == KindString
	}
	return false
}

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Span returns Max - Min.
func (r Range) Span() float64 { return r.Max - r.Min }

// Clamp limits x to the interval.
func (r Range) Clamp(x float64) float64 {
	if x < r.Min {
		return r.Min
	}
	if x > r.Max {
		return r.Max
	}
	return x
}

// Contains reports whether x lies in the interval.
func (r Range) Contains(x float64) bool { return x >= r.Min && x <= r.Max }

// Feature categories used for factor grouping and action difficulty.
const (
	CategoryCredit     = "credit"
	CategoryFinancial  = "financial"
	CategoryEmployment = "employment"
	CategoryPersonal   = "personal"
	CategoryOther      = "other"
)

// FeatureDefinition declares one model input.
type FeatureDefinition struct {
	Name         string      `json:"name"`
	DataType     FeatureType `json:"dataType"`
	Required     bool        `json:"required"`
	DefaultValue *Value      `json:"defaultValue,omitempty"`
	Range        *Range      `json:"range,omitempty"`
	ValidValues  []string    `json:"validValues,omitempty"`
	Category     string      `json:"category,omitempty"`
	Description  string      `json:"description,omitempty"`
}

// IsValidValue reports whether s is in the declared valid-value set. A
// feature without a set accepts everything.
func (f *FeatureDefinition) IsValidValue(s string) bool {
	if len(f.ValidValues) == 0 {
		return true
	}
	for _, v := range f.ValidValues {
		if v == s {
			return true
		}
	}
	return false
}

// ResolvedCategory returns the declared category, or one inferred from the
// feature name.
func (f *FeatureDefinition) ResolvedCategory() string {
	if f.Category != "" {
		return f.Category
	}
	if c, ok := knownCategories[f.Name]; ok {
		return c
	}
	return CategoryOther
}

var knownCategories = map[string]string{
	"credit_score":              CategoryCredit,
	"open_accounts":             CategoryCredit,
	"delinquent_accounts":       CategoryCredit,
	"inquiries_last_6_months":   CategoryCredit,
	"inquiries":                 CategoryCredit,
	"oldest_account_age_months": CategoryCredit,
	"account_age":               CategoryCredit,
	"total_credit_limit":        CategoryCredit,
	"credit_limit":              CategoryCredit,
	"total_current_balance":     CategoryCredit,
	"credit_balance":            CategoryCredit,
	"credit_utilization":        CategoryCredit,
	"utilization":               CategoryCredit,
	"public_records":            CategoryCredit,
	"collections":               CategoryCredit,
	"available_credit":          CategoryCredit,
	"recent_assessments":        CategoryCredit,
	"annual_income":             CategoryFinancial,
	"monthly_housing_payment":   CategoryFinancial,
	"monthly_housing":           CategoryFinancial,
	"monthly_debt_payments":     CategoryFinancial,
	"monthly_debt":              CategoryFinancial,
	"total_assets":              CategoryFinancial,
	"liquid_assets":             CategoryFinancial,
	"monthly_free_cash_flow":    CategoryFinancial,
	"free_cash_flow":            CategoryFinancial,
	"debt_to_income_ratio":      CategoryFinancial,
	"dti":                       CategoryFinancial,
	"payment_to_income_ratio":   CategoryFinancial,
	"employment_status":         CategoryEmployment,
	"employer":                  CategoryEmployment,
	"job_title":                 CategoryEmployment,
	"years_at_employer":         CategoryEmployment,
	"years_in_profession":       CategoryEmployment,
	"industry":                  CategoryEmployment,
	"age":                       CategoryPersonal,
	"years_at_address":          CategoryPersonal,
	"address_years":             CategoryPersonal,
	"dependents":                CategoryPersonal,
	"postal_code":               CategoryPersonal,
	"state":                     CategoryPersonal,
	"country":                   CategoryPersonal,
}

// OutputDefinition declares one model output.
type OutputDefinition struct {
	Name        string      `json:"name"`
	DataType    FeatureType `json:"dataType"`
	Range       *Range      `json:"range,omitempty"`
	ValidValues []string    `json:"validValues,omitempty"`
	Description string      `json:"description,omitempty"`
}

// OutputRiskScore is the output every model must declare.
const OutputRiskScore = "risk_score"

// RiskModel is an immutable model definition.
type RiskModel struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Version           string              `json:"version"`
	ModelType         string              `json:"modelType"`
	TargetSegment     string              `json:"targetSegment,omitempty"`
	Description       string              `json:"description,omitempty"`
	Status            ModelStatus         `json:"status"`
	ScoreRange        Range               `json:"scoreRange"`
	Features          []FeatureDefinition `json:"features"`
	Outputs           []OutputDefinition  `json:"outputs"`
	Parameters        Values              `json:"parameters"`
	Metadata          Values              `json:"metadata,omitempty"`
	ValidationMetrics map[string]float64  `json:"validationMetrics,omitempty"`
	Owner             string              `json:"owner,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// Feature returns the definition of the named feature.
func (m *RiskModel) Feature(name string) (*FeatureDefinition, bool) {
	for i := range m.Features {
		if m.Features[i].Name == name {
			return &m.Features[i], true
		}
	}
	return nil, false
}

// HasOutput reports whether an output with the given name is declared.
func (m *RiskModel) HasOutput(name string) bool {
	for i := range m.Outputs {
		if m.Outputs[i].Name == name {
			return true
		}
	}
	return false
}

// Validate checks every structural invariant of the definition.
func (m *RiskModel) Validate() error {
	if m.ID == "" {
		return InvalidDefinition("", "model id is required")
	}
	if m.ModelType == "" {
		return InvalidDefinition(m.ID, "model type is required")
	}
	if m.Status != "" && !m.Status.Valid() {
		return InvalidDefinition(m.ID, "unknown status %q", m.Status)
	}
	if err := m.ValidateScoreRange(); err != nil {
		return err
	}
	if err := m.ValidateFeatures(); err != nil {
		return err
	}
	return m.ValidateOutputs()
}

// ValidateScoreRange requires min < max.
func (m *RiskModel) ValidateScoreRange() error {
	if !(m.ScoreRange.Min < m.ScoreRange.Max) {
		return InvalidDefinition(m.ID, "score range min %g must be below max %g", m.ScoreRange.Min, m.ScoreRange.Max)
	}
	return nil
}

// ValidateFeatures requires at least one feature, unique names, known
// types, well-formed ranges and defaults matching the declared type.
func (m *RiskModel) ValidateFeatures() error {
	if len(m.Features) == 0 {
		return InvalidDefinition(m.ID, "at least one feature is required")
	}
	seen := make(map[string]bool, len(m.Features))
	for _, f := range m.Features {
		if f.Name == "" {
			return InvalidDefinition(m.ID, "feature name is required")
		}
		if seen[f.Name] {
			return InvalidDefinition(m.ID, "duplicate feature %q", f.Name)
		}
		seen[f.Name] = true

		if !f.DataType.Valid() {
			return InvalidDefinition(m.ID, "feature %q has unknown data type %q", f.Name, f.DataType)
		}
		if f.Range != nil {
			if f.DataType != FeatureNumeric {
				return InvalidDefinition(m.ID, "feature %q: range is only allowed on numeric features", f.Name)
			}
			if !(f.Range.Min < f.Range.Max) {
				return InvalidDefinition(m.ID, "feature %q: range min %g must be below max %g", f.Name, f.Range.Min, f.Range.Max)
			}
		}
		if f.DefaultValue != nil && !f.DataType.Accepts(f.DefaultValue.Kind()) {
			return InvalidDefinition(m.ID, "feature %q: default of kind %s does not match %s", f.Name, f.DefaultValue.Kind(), f.DataType)
		}
	}
	return nil
}

// ValidateOutputs requires at least one output, unique names and a
// risk_score entry.
func (m *RiskModel) ValidateOutputs() error {
	if len(m.Outputs) == 0 {
		return InvalidDefinition(m.ID, "at least one output is required")
	}
	seen := make(map[string]bool, len(m.Outputs))
	for _, o := range m.Outputs {
		if o.Name == "" {
			return InvalidDefinition(m.ID, "output name is required")
		}
		if seen[o.Name] {
			return InvalidDefinition(m.ID, "duplicate output %q", o.Name)
		}
		seen[o.Name] = true
	}
	if !seen[OutputRiskScore] {
		return InvalidDefinition(m.ID, "output %q is required", OutputRiskScore)
	}
	return nil
}
