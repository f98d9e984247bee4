package domain

import (
	"errors"
	"fmt"
)

// Engine error kinds. Match with errors.Is; the typed wrappers below carry
// the offending feature or model.
var (
	ErrMissingRequiredFeature = errors.New("missing required feature")
	ErrFeatureTypeMismatch    = errors.New("feature type mismatch")
	ErrUnsupportedModelType   = errors.New("unsupported model type")
	ErrInvalidModelParameters = errors.New("invalid model parameters")
	ErrInvalidModelDefinition = errors.New("invalid model definition")
	ErrAnalysis               = errors.New("factor analysis failed")
)

// FeatureError reports a problem with a single feature.
type FeatureError struct {
	Feature string
	Err     error
	Detail  string
}

func (e *FeatureError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("feature %q: %v", e.Feature, e.Err)
	}
	return fmt.Sprintf("feature %q: %v: %s", e.Feature, e.Err, e.Detail)
}

func (e *FeatureError) Unwrap() error { return e.Err }

// MissingFeature builds the error returned when a required feature is absent.
func MissingFeature(name string) error {
	return &FeatureError{Feature: name, Err: ErrMissingRequiredFeature}
}

// ModelError reports a problem with a model definition or its parameters.
type ModelError struct {
	ModelID string
	Err     error
	Detail  string
}

func (e *ModelError) Error() string {
	if e.ModelID == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	}
	return fmt.Sprintf("model %s: %v: %s", e.ModelID, e.Err, e.Detail)
}

func (e *ModelError) Unwrap() error { return e.Err }

// InvalidDefinition builds an ErrInvalidModelDefinition error.
func InvalidDefinition(modelID, format string, args ...any) error {
	return &ModelError{ModelID: modelID, Err: ErrInvalidModelDefinition, Detail: fmt.Sprintf(format, args...)}
}

// InvalidParameters builds an ErrInvalidModelParameters error.
func InvalidParameters(modelID, format string, args ...any) error {
	return &ModelError{ModelID: modelID, Err: ErrInvalidModelParameters, Detail: fmt.Sprintf(format, args...)}
}

// UnsupportedModelType builds an ErrUnsupportedModelType error.
func UnsupportedModelType(modelID, modelType string) error {
	return &ModelError{ModelID: modelID, Err: ErrUnsupportedModelType, Detail: fmt.Sprintf("%q", modelType)}
}

// IsModelError reports whether err is a definition, parameter or model type error.
func IsModelError(err error) bool {
	return errors.Is(err, ErrInvalidModelDefinition) ||
		errors.Is(err, ErrInvalidModelParameters) ||
		errors.Is(err, ErrUnsupportedModelType)
}
