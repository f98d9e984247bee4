// Package features maps applicant records onto the typed input vector a
// risk model consumes.
package features

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Derived attribute names computed at extraction time.
const (
	AttrAge                  = "age"
	AttrPaymentToIncomeRatio = "payment_to_income_ratio"
	AttrAvailableCredit      = "available_credit"
)

// dateLayouts are accepted for DateTime features given as strings and for
// date_of_birth.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// Extraction is the result of mapping one applicant onto one model.
type Extraction struct {
	Input    domain.InputVector
	Warnings []string
}

// Extractor builds input vectors. The zero value uses the wall clock as the
// evaluation time.
type Extractor struct {
	// Now returns the evaluation time used for derived attributes.
	Now func() time.Time
}

// New returns an extractor whose evaluation time comes from now.
func New(now func() time.Time) *Extractor {
	return &Extractor{Now: now}
}

func (e *Extractor) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Extract produces exactly one entry per declared feature. A required
// feature that is absent and has no default fails with a FeatureError
// wrapping domain.ErrMissingRequiredFeature; a value whose kind does not
// match the declared type fails with domain.ErrFeatureTypeMismatch.
// Defaults, clamping and unknown categories are reported as warnings.
func (e *Extractor) Extract(applicant *domain.ApplicantData, model *domain.RiskModel) (*Extraction, error) {
	if applicant == nil {
		return nil, fmt.Errorf("applicant is required")
	}
	if err := model.ValidateFeatures(); err != nil {
		return nil, err
	}

	attrs := applicant.Attributes()
	e.derive(attrs)

	out := &Extraction{Input: make(domain.InputVector, len(model.Features))}
	warn := func(format string, args ...any) {
		out.Warnings = append(out.Warnings, fmt.Sprintf(format, args...))
	}

	for i := range model.Features {
		def := &model.Features[i]

		raw, ok := attrs[def.Name]
		if !ok || raw.IsNull() {
			switch {
			case def.DefaultValue != nil:
				v, err := Coerce(def, *def.DefaultValue)
				if err != nil {
					return nil, err
				}
				out.Input[def.Name] = v
				warn("feature %q missing, using declared default %s", def.Name, v)
			case def.Required:
				return nil, domain.MissingFeature(def.Name)
			default:
				v := Neutral(def.DataType)
				out.Input[def.Name] = v
				warn("feature %q missing and has no default, using neutral value %s", def.Name, v)
			}
			continue
		}

		v, err := Coerce(def, raw)
		if err != nil {
			return nil, err
		}

		switch def.DataType {
		case domain.FeatureNumeric:
			x, _ := v.AsNumber()
			if def.Range != nil && !def.Range.Contains(x) {
				clamped := def.Range.Clamp(x)
				warn("feature %q value %g outside [%g, %g], clamped to %g", def.Name, x, def.Range.Min, def.Range.Max, clamped)
				v = domain.Number(clamped)
			}
		case domain.FeatureCategorical:
			s, _ := v.AsString()
			if !def.IsValidValue(s) {
				warn("feature %q has unknown category %q", def.Name, s)
			}
		}

		out.Input[def.Name] = v
	}

	return out, nil
}

// derive adds attributes computed from other attributes. Values supplied by
// the caller are never overwritten.
func (e *Extractor) derive(attrs domain.Values) {
	if _, ok := attrs[AttrAge]; !ok {
		if dob, ok := attrs.Text("date_of_birth"); ok {
			if born, err := parseDate(dob); err == nil {
				attrs[AttrAge] = domain.Number(float64(yearsBetween(born, e.now())))
			}
		}
	}

	if _, ok := attrs[AttrPaymentToIncomeRatio]; !ok {
		income, _ := attrs.Number("annual_income")
		housing, _ := attrs.Number("monthly_housing_payment")
		debt, _ := attrs.Number("monthly_debt_payments")
		if income > 0 {
			attrs[AttrPaymentToIncomeRatio] = domain.Number((housing + debt) * 12 / income)
		}
	}

	if _, ok := attrs[AttrAvailableCredit]; !ok {
		limit, okLimit := attrs.Number("total_credit_limit")
		balance, okBalance := attrs.Number("total_current_balance")
		if okLimit && okBalance {
			attrs[AttrAvailableCredit] = domain.Number(limit - balance)
		}
	}
}

// Coerce checks v against the declared data type. DateTime features accept
// RFC 3339 or YYYY-MM-DD strings; every other mismatch is an error.
func Coerce(def *domain.FeatureDefinition, v domain.Value) (domain.Value, error) {
	if !def.DataType.Accepts(v.Kind()) {
		return domain.Value{}, &domain.FeatureError{
			Feature: def.Name,
			Err:     domain.ErrFeatureTypeMismatch,
			Detail:  fmt.Sprintf("expected %s, got %s", def.DataType, v.Kind()),
		}
	}
	if def.DataType == domain.FeatureDateTime {
		if s, ok := v.AsString(); ok {
			t, err := parseDate(s)
			if err != nil {
				return domain.Value{}, &domain.FeatureError{
					Feature: def.Name,
					Err:     domain.ErrFeatureTypeMismatch,
					Detail:  fmt.Sprintf("unparseable date %q", s),
				}
			}
			return domain.Time(t), nil
		}
	}
	return v, nil
}

// Neutral returns the type-appropriate neutral value.
func Neutral(t domain.FeatureType) domain.Value {
	switch t {
	case domain.FeatureNumeric:
		return domain.Number(0)
	case domain.FeatureBoolean:
		return domain.Bool(false)
	case domain.FeatureDateTime:
		return domain.Time(time.Time{})
	default:
		return domain.String("")
	}
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// yearsBetween returns whole years elapsed from born to at.
func yearsBetween(born, at time.Time) int {
	at = at.In(born.Location())
	years := at.Year() - born.Year()
	if at.Month() < born.Month() || (at.Month() == born.Month() && at.Day() < born.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
