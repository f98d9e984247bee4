// Package modelfile reads risk model definitions from YAML or JSON files.
//
// A file holds one model, a list of models, or (YAML only) several
// documents separated by "---". Field names match the JSON encoding of
// domain.RiskModel.
package modelfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// Format is a definition file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf returns the encoding implied by a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	}
	return "", false
}

// Parse decodes and validates every model in data. A model without a
// status is treated as active.
func Parse(data []byte, format Format) ([]*domain.RiskModel, error) {
	var docs []any
	switch format {
	case FormatJSON:
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse json: %w", err)
		}
		docs = append(docs, doc)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		for {
			var doc any
			err := dec.Decode(&doc)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to parse yaml: %w", err)
			}
			if doc != nil {
				docs = append(docs, normalize(doc))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	var models []*domain.RiskModel
	for _, doc := range docs {
		items, ok := doc.([]any)
		if !ok {
			items = []any{doc}
		}
		for _, item := range items {
			m, err := decodeModel(item)
			if err != nil {
				return nil, err
			}
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return nil, errors.New("no model definitions found")
	}
	return models, nil
}

func decodeModel(item any) (*domain.RiskModel, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}

	var m domain.RiskModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if m.Status == "" {
		m.Status = domain.ModelActive
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// normalize rewrites maps with non-string keys, which YAML allows and JSON
// does not.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	}
	return v
}

// LoadFile reads the models in one file.
func LoadFile(path string) ([]*domain.RiskModel, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported file extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	models, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return models, nil
}

// LoadDir reads every .yaml, .yml and .json file directly under dir, in
// name order. Model ids must be unique across the directory.
func LoadDir(dir string) ([]*domain.RiskModel, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatOf(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string)
	var models []*domain.RiskModel
	for _, name := range names {
		loaded, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		for _, m := range loaded {
			if prev, dup := seen[m.ID]; dup {
				return nil, fmt.Errorf("model %s defined in both %s and %s", m.ID, prev, name)
			}
			seen[m.ID] = name
			models = append(models, m)
		}
	}
	return models, nil
}
