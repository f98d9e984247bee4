package modelfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

const scorecardYAML = `
id: consumer-scorecard
name: Consumer Scorecard
version: "2.0"
modelType: linear
scoreRange: {min: 0, max: 1000}
features:
  - name: credit_score
    dataType: numeric
    required: true
    range: {min: 300, max: 850}
  - name: dti
    dataType: numeric
    defaultValue: 0.35
  - name: employment_status
    dataType: categorical
    validValues: [employed, self_employed, unemployed]
outputs:
  - name: risk_score
    dataType: numeric
parameters:
  intercept: 500
  weights:
    credit_score: -1
    dti: 400
  centers:
    credit_score: 700
  category_weights:
    employment_status:
      unemployed: 120
      "*": 0
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	models, err := Parse([]byte(scorecardYAML), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}

	m := models[0]
	if m.ID != "consumer-scorecard" || m.Version != "2.0" {
		t.Errorf("unexpected header %s %s", m.ID, m.Version)
	}
	if m.Status != domain.ModelActive {
		t.Errorf("expected default status active, got %s", m.Status)
	}
	if m.Features[0].Range == nil || m.Features[0].Range.Max != 850 {
		t.Errorf("expected credit_score range, got %+v", m.Features[0].Range)
	}
	if d := m.Features[1].DefaultValue; d == nil {
		t.Error("expected dti default")
	} else if n, _ := d.AsNumber(); n != 0.35 {
		t.Errorf("expected dti default 0.35, got %v", d)
	}

	if _, err := engine.New(engine.Options{}).Compile(m); err != nil {
		t.Errorf("expected parsed model to compile, got %v", err)
	}
}

func TestParseMultipleDocuments(t *testing.T) {
	doc := scorecardYAML + "\n---\n" + strings.Replace(scorecardYAML, "id: consumer-scorecard", "id: consumer-scorecard-v3", 1)

	models, err := Parse([]byte(doc), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(models) != 2 || models[1].ID != "consumer-scorecard-v3" {
		t.Errorf("expected two models, got %d", len(models))
	}
}

func TestParseJSONList(t *testing.T) {
	doc := `[{
		"id": "tiny",
		"modelType": "linear",
		"status": "testing",
		"scoreRange": {"min": 0, "max": 1},
		"features": [{"name": "credit_score", "dataType": "numeric"}],
		"outputs": [{"name": "risk_score", "dataType": "numeric"}],
		"parameters": {"weights": {"credit_score": 0.001}}
	}]`

	models, err := Parse([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if models[0].Status != domain.ModelTesting {
		t.Errorf("expected declared status kept, got %s", models[0].Status)
	}
}

func TestParseNonStringKeys(t *testing.T) {
	doc := strings.Replace(scorecardYAML, `"*": 0`, `"*": 0
    dependents:
      0: 0
      3: 40`, 1)

	models, err := Parse([]byte(doc), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cw, _ := models[0].Parameters["category_weights"].AsMap()
	deps, ok := cw["dependents"].AsMap()
	if !ok {
		t.Fatal("expected dependents weights map")
	}
	if n, _ := deps["3"].AsNumber(); n != 40 {
		t.Errorf("expected numeric key rewritten to \"3\", got %v", deps)
	}
}

func TestParseErrors(t *testing.T) {
	t.Run("Invalid", func(t *testing.T) {
		doc := strings.Replace(scorecardYAML, "modelType: linear\n", "", 1)
		_, err := Parse([]byte(doc), FormatYAML)
		if !errors.Is(err, domain.ErrInvalidModelDefinition) {
			t.Errorf("expected ErrInvalidModelDefinition, got %v", err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		if _, err := Parse([]byte("id: [unclosed"), FormatYAML); err == nil {
			t.Error("expected yaml error")
		}
		if _, err := Parse([]byte("{"), FormatJSON); err == nil {
			t.Error("expected json error")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := Parse([]byte("# nothing here\n"), FormatYAML); err == nil {
			t.Error("expected error for empty file")
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		if _, err := Parse([]byte("{}"), "toml"); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-scorecard.yaml", scorecardYAML)
	writeFile(t, dir, "a-tiny.json", `{
		"id": "tiny",
		"modelType": "linear",
		"scoreRange": {"min": 0, "max": 1},
		"features": [{"name": "credit_score", "dataType": "numeric"}],
		"outputs": [{"name": "risk_score", "dataType": "numeric"}],
		"parameters": {"weights": {"credit_score": 0.001}}
	}`)
	writeFile(t, dir, "README.md", "not a model")
	os.Mkdir(filepath.Join(dir, "archive"), 0o755)

	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].ID != "tiny" || models[1].ID != "consumer-scorecard" {
		t.Errorf("expected name order, got %s, %s", models[0].ID, models[1].ID)
	}

	t.Run("DuplicateIDs", func(t *testing.T) {
		writeFile(t, dir, "c-copy.yml", scorecardYAML)
		if _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "consumer-scorecard") {
			t.Errorf("expected duplicate id error, got %v", err)
		}
	})

	t.Run("BadFileNamed", func(t *testing.T) {
		bad := t.TempDir()
		writeFile(t, bad, "broken.yaml", "id: [")
		if _, err := LoadDir(bad); err == nil || !strings.Contains(err.Error(), "broken.yaml") {
			t.Errorf("expected error naming the file, got %v", err)
		}
	})

	t.Run("MissingDir", func(t *testing.T) {
		if _, err := LoadDir(filepath.Join(dir, "nope")); err == nil {
			t.Error("expected error for missing directory")
		}
	})
}

func TestLoadFileExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "model.txt", scorecardYAML)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unsupported extension")
	}
}
