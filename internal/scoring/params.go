package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// params reads typed entries from a model's parameter map, reporting
// malformed entries as ErrInvalidModelParameters.
type params struct {
	model *domain.RiskModel
}

func (p params) get(key string) (domain.Value, bool) {
	v, ok := p.model.Parameters[key]
	if !ok || v.IsNull() {
		return domain.Value{}, false
	}
	return v, true
}

func (p params) number(key string, def float64) (float64, error) {
	v, ok := p.get(key)
	if !ok {
		return def, nil
	}
	f, ok := v.AsNumber()
	if !ok {
		return 0, domain.InvalidParameters(p.model.ID, "parameter %q must be a number, got %s", key, v.Kind())
	}
	return f, nil
}

func (p params) text(key string, def string) (string, error) {
	v, ok := p.get(key)
	if !ok {
		return def, nil
	}
	s, ok := v.AsString()
	if !ok {
		return "", domain.InvalidParameters(p.model.ID, "parameter %q must be a string, got %s", key, v.Kind())
	}
	return s, nil
}

func (p params) requiredText(key string) (string, error) {
	s, err := p.text(key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", domain.InvalidParameters(p.model.ID, "parameter %q is required", key)
	}
	return s, nil
}

// numberMap reads a map of feature name to number. Every key must name a
// declared feature.
func (p params) numberMap(key string) (map[string]float64, error) {
	v, ok := p.get(key)
	if !ok {
		return nil, nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, domain.InvalidParameters(p.model.ID, "parameter %q must be a map, got %s", key, v.Kind())
	}
	out := make(map[string]float64, len(m))
	for name, entry := range m {
		if _, declared := p.model.Feature(name); !declared {
			return nil, domain.InvalidParameters(p.model.ID, "parameter %q references undeclared feature %q", key, name)
		}
		f, ok := entry.AsNumber()
		if !ok {
			return nil, domain.InvalidParameters(p.model.ID, "parameter %q entry %q must be a number", key, name)
		}
		out[name] = f
	}
	return out, nil
}

// list reads a list parameter.
func (p params) list(key string) ([]domain.Value, error) {
	v, ok := p.get(key)
	if !ok {
		return nil, domain.InvalidParameters(p.model.ID, "parameter %q is required", key)
	}
	items, ok := v.AsList()
	if !ok {
		return nil, domain.InvalidParameters(p.model.ID, "parameter %q must be a list, got %s", key, v.Kind())
	}
	return items, nil
}
