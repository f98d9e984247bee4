package domain

import (
	"errors"
	"testing"
)

func validModel() *RiskModel {
	return &RiskModel{
		ID:         "model-1",
		Name:       "Test",
		Version:    "1.0",
		ModelType:  "linear",
		Status:     ModelActive,
		ScoreRange: Range{Min: 0, Max: 1000},
		Features: []FeatureDefinition{
			{Name: "credit_score", DataType: FeatureNumeric, Required: true, Range: &Range{Min: 300, Max: 850}},
			{Name: "employment_status", DataType: FeatureCategorical, ValidValues: []string{"employed", "unemployed"}},
		},
		Outputs: []OutputDefinition{{Name: OutputRiskScore, DataType: FeatureNumeric}},
	}
}

func TestModelValidate(t *testing.T) {
	if err := validModel().Validate(); err != nil {
		t.Fatalf("expected valid model, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(m *RiskModel)
	}{
		{"empty features", func(m *RiskModel) { m.Features = nil }},
		{"duplicate feature", func(m *RiskModel) { m.Features = append(m.Features, m.Features[0]) }},
		{"unknown data type", func(m *RiskModel) { m.Features[0].DataType = "complex" }},
		{"inverted feature range", func(m *RiskModel) { m.Features[0].Range = &Range{Min: 10, Max: 1} }},
		{"range on categorical", func(m *RiskModel) { m.Features[1].Range = &Range{Min: 0, Max: 1} }},
		{"default kind mismatch", func(m *RiskModel) {
			d := String("high")
			m.Features[0].DefaultValue = &d
		}},
		{"empty outputs", func(m *RiskModel) { m.Outputs = nil }},
		{"missing risk_score", func(m *RiskModel) { m.Outputs = []OutputDefinition{{Name: "probability"}} }},
		{"duplicate output", func(m *RiskModel) { m.Outputs = append(m.Outputs, m.Outputs[0]) }},
		{"min equals max", func(m *RiskModel) { m.ScoreRange = Range{Min: 5, Max: 5} }},
		{"min above max", func(m *RiskModel) { m.ScoreRange = Range{Min: 10, Max: 0} }},
		{"unknown status", func(m *RiskModel) { m.Status = "retired" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validModel()
			tt.mutate(m)

			err := m.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidModelDefinition) {
				t.Errorf("expected ErrInvalidModelDefinition, got %v", err)
			}
			var me *ModelError
			if !errors.As(err, &me) || me.ModelID != "model-1" {
				t.Errorf("expected ModelError for model-1, got %v", err)
			}
		})
	}
}

func TestFeatureTypeAccepts(t *testing.T) {
	if !FeatureDateTime.Accepts(KindString) || !FeatureDateTime.Accepts(KindTime) {
		t.Error("expected datetime to accept strings and times")
	}
	if FeatureNumeric.Accepts(KindString) {
		t.Error("expected numeric to reject strings")
	}
	if !FeatureText.Accepts(KindString) {
		t.Error("expected text to accept strings")
	}
}

func TestResolvedCategory(t *testing.T) {
	tests := []struct {
		def  FeatureDefinition
		want string
	}{
		{FeatureDefinition{Name: "credit_score"}, CategoryCredit},
		{FeatureDefinition{Name: "dti"}, CategoryFinancial},
		{FeatureDefinition{Name: "years_at_employer"}, CategoryEmployment},
		{FeatureDefinition{Name: "age"}, CategoryPersonal},
		{FeatureDefinition{Name: "mystery"}, CategoryOther},
		{FeatureDefinition{Name: "credit_score", Category: "custom"}, "custom"},
	}
	for _, tt := range tests {
		if got := tt.def.ResolvedCategory(); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.def.Name, tt.want, got)
		}
	}
}

func TestModelStatusScorable(t *testing.T) {
	if !ModelActive.Scorable() || !ModelChallenger.Scorable() {
		t.Error("expected active and challenger models to be scorable")
	}
	if ModelArchived.Scorable() {
		t.Error("expected archived models not to be scorable")
	}
}
