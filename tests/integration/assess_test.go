//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running Kestrel server.
//
// These tests drive the complete assessment pipeline over HTTP:
//
//	Model → Applicant → Features → Score → Tier → Factors → Explanation
//
// Run with: KESTREL_TEST_URL=http://localhost:8080 go test -tags=integration -v ./tests/integration/...
//
// Each run registers its own model and applicants under a unique suffix, so
// the tests can be repeated against the same database.
//
// THE TEST MODEL:
//
//	score = 500 - (credit_score - 700), range 0..1000
//
// | Credit Score | Risk Score | Tier      |
// |--------------|------------|-----------|
// | 400          | 800        | Very High |
// | 550          | 650        | High      |
// | 780          | 420        | Moderate  |
// | 850          | 350        | Low       |
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
	Suffix   string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "integration-tenant",
		Suffix:   fmt.Sprintf("%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

type Factor struct {
	Name      string  `json:"name"`
	Impact    float64 `json:"impact"`
	Direction string  `json:"direction"`
}

type Assessment struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	ApplicantID string         `json:"applicantId"`
	ModelID     string         `json:"modelId"`
	RiskScore   float64        `json:"riskScore"`
	RiskTier    string         `json:"riskTier"`
	KeyFactors  []Factor       `json:"keyFactors"`
	Metadata    map[string]any `json:"metadata"`
}

type Explanations struct {
	Overall            string `json:"overallExplanation"`
	FactorExplanations []struct {
		FactorName  string `json:"factorName"`
		Explanation string `json:"explanation"`
	} `json:"factorExplanations"`
	SuggestedActions []struct {
		Description string `json:"description"`
	} `json:"suggestedActions"`
}

// AssessmentResponse is what POST /assessments returns
type AssessmentResponse struct {
	Assessment   Assessment    `json:"assessment"`
	Explanations *Explanations `json:"explanations"`
	Reasons      []string      `json:"reasons"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

func testModel(id string) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       "Integration Scorecard",
		"version":    "1.0",
		"modelType":  "linear",
		"status":     "active",
		"scoreRange": map[string]any{"min": 0, "max": 1000},
		"features": []map[string]any{{
			"name":     "credit_score",
			"dataType": "numeric",
			"required": true,
			"range":    map[string]any{"min": 300, "max": 850},
			"category": "credit",
		}},
		"outputs": []map[string]any{{"name": "risk_score", "dataType": "numeric"}},
		"parameters": map[string]any{
			"intercept": 500,
			"weights":   map[string]any{"credit_score": -1},
			"centers":   map[string]any{"credit_score": 700},
			"baseline":  map[string]any{"credit_score": 700},
		},
	}
}

func applicant(id string, creditScore float64) map[string]any {
	return map[string]any{
		"applicantId":    id,
		"creditInfo":     map[string]any{"creditScore": creditScore},
		"employmentInfo": map[string]any{"status": "employed"},
	}
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func do(t *testing.T, config TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if config.TenantID != "" {
		httpReq.Header.Set("X-Tenant-ID", config.TenantID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func mustDo(t *testing.T, config TestConfig, method, path string, body any, want int, out any) {
	t.Helper()

	status, respBody := do(t, config, method, path, body)
	if status != want {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, want, status, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

func setup(t *testing.T) (TestConfig, string) {
	t.Helper()

	config := getTestConfig()
	modelID := "integration-" + config.Suffix
	mustDo(t, config, http.MethodPost, "/models", testModel(modelID), http.StatusCreated, nil)
	return config, modelID
}

func assess(t *testing.T, config TestConfig, body map[string]any) AssessmentResponse {
	t.Helper()

	var result AssessmentResponse
	mustDo(t, config, http.MethodPost, "/assessments", body, http.StatusOK, &result)
	return result
}

// ============================================================================
// SCENARIO 1: Weak credit lands in the High tier with a reason
// ============================================================================

func TestWeakCredit_HighRisk(t *testing.T) {
	/*
	   SCENARIO: credit score 550, 150 points under the model's center

	   EXPECTED BEHAVIOR:
	   - risk score 500 + 150 = 650 → High tier
	   - credit_score is the top factor and pushes risk up (negative direction)
	   - the explanation mentions the factor and suggests an improvement
	*/
	config, modelID := setup(t)

	result := assess(t, config, map[string]any{
		"modelId":   modelID,
		"applicant": applicant("weak-"+config.Suffix, 550),
		"explain":   true,
	})

	if result.Assessment.RiskTier != "High" {
		t.Errorf("Expected tier High, got %s", result.Assessment.RiskTier)
	}
	if result.Assessment.RiskScore != 650 {
		t.Errorf("Expected risk score 650, got %.2f", result.Assessment.RiskScore)
	}
	if len(result.Assessment.KeyFactors) == 0 || result.Assessment.KeyFactors[0].Name != "credit_score" {
		t.Fatalf("Expected credit_score as top factor, got %+v", result.Assessment.KeyFactors)
	}
	if result.Assessment.KeyFactors[0].Direction != "negative" {
		t.Errorf("Expected negative direction, got %s", result.Assessment.KeyFactors[0].Direction)
	}
	if result.Explanations == nil || result.Explanations.Overall == "" {
		t.Fatal("Expected an overall explanation")
	}
	if len(result.Explanations.SuggestedActions) == 0 {
		t.Error("Expected at least one suggested action")
	}
	if len(result.Reasons) == 0 {
		t.Error("Expected reasons for a high-risk decision")
	}
	if result.Metadata.TraceID == "" {
		t.Error("Expected a trace ID")
	}

	t.Logf("✓ Weak credit: score=%.0f tier=%s reasons=%v", result.Assessment.RiskScore, result.Assessment.RiskTier, result.Reasons)
}

// ============================================================================
// SCENARIO 2: Strong credit lowers the score
// ============================================================================

func TestStrongCredit_LowerRisk(t *testing.T) {
	config, modelID := setup(t)

	tests := []struct {
		credit float64
		score  float64
		tier   string
	}{
		{400, 800, "Very High"},
		{780, 420, "Moderate"},
		{850, 350, "Low"},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("Credit%.0f", tc.credit), func(t *testing.T) {
			result := assess(t, config, map[string]any{
				"modelId":   modelID,
				"applicant": applicant(fmt.Sprintf("credit-%.0f-%s", tc.credit, config.Suffix), tc.credit),
			})
			if result.Assessment.RiskScore != tc.score {
				t.Errorf("Expected score %.0f, got %.2f", tc.score, result.Assessment.RiskScore)
			}
			if result.Assessment.RiskTier != tc.tier {
				t.Errorf("Expected tier %s, got %s", tc.tier, result.Assessment.RiskTier)
			}
		})
	}
}

// ============================================================================
// SCENARIO 3: Stored applicant, stored assessment and follow-up views
// ============================================================================

func TestStoredApplicant_Lifecycle(t *testing.T) {
	/*
	   SCENARIO: register an applicant, assess by ID, then read back every view

	   EXPECTED BEHAVIOR:
	   - POST /applicants returns 201
	   - the assessment is persisted and readable by ID
	   - analysis, explanation and visualization are derived from the stored record
	   - the applicant's history contains the assessment
	*/
	config, modelID := setup(t)
	applicantID := "stored-" + config.Suffix

	mustDo(t, config, http.MethodPost, "/applicants", applicant(applicantID, 700), http.StatusCreated, nil)

	result := assess(t, config, map[string]any{
		"modelId":     modelID,
		"applicantId": applicantID,
	})
	if result.Assessment.RiskScore != 500 {
		t.Errorf("Expected neutral score 500, got %.2f", result.Assessment.RiskScore)
	}

	id := result.Assessment.ID
	var stored Assessment
	mustDo(t, config, http.MethodGet, "/assessments/"+id, nil, http.StatusOK, &stored)
	if stored.ApplicantID != applicantID {
		t.Errorf("Expected applicant %s, got %s", applicantID, stored.ApplicantID)
	}

	mustDo(t, config, http.MethodGet, "/assessments/"+id+"/analysis", nil, http.StatusOK, nil)

	var explanations Explanations
	mustDo(t, config, http.MethodGet, "/assessments/"+id+"/explanation", nil, http.StatusOK, &explanations)
	if explanations.Overall == "" {
		t.Error("Expected an overall explanation")
	}

	mustDo(t, config, http.MethodGet, "/assessments/"+id+"/visualization", nil, http.StatusOK, nil)

	var history struct {
		Assessments []Assessment `json:"assessments"`
		Count       int          `json:"count"`
	}
	mustDo(t, config, http.MethodGet, "/applicants/"+applicantID+"/assessments", nil, http.StatusOK, &history)
	if history.Count == 0 || history.Assessments[0].ID != id {
		t.Errorf("Expected the assessment in the applicant history, got %+v", history)
	}

	t.Logf("✓ Lifecycle: assessment=%s history=%d", id, history.Count)
}

// ============================================================================
// SCENARIO 4: Raw feature scoring without persistence
// ============================================================================

func TestScoreEndpoint(t *testing.T) {
	config, modelID := setup(t)

	var result struct {
		Output struct {
			Score float64 `json:"score"`
			Tier  string  `json:"tier"`
		} `json:"output"`
		Analysis *struct {
			Factors []Factor `json:"factors"`
		} `json:"analysis"`
	}
	mustDo(t, config, http.MethodPost, "/models/"+modelID+"/score", map[string]any{
		"features": map[string]any{"credit_score": 550},
		"explain":  true,
	}, http.StatusOK, &result)

	if result.Output.Score != 650 || result.Output.Tier != "High" {
		t.Errorf("Expected 650/High, got %.2f/%s", result.Output.Score, result.Output.Tier)
	}
	if result.Analysis == nil {
		t.Error("Expected an analysis when explain is set")
	}
}

// ============================================================================
// SCENARIO 5: Rejected requests
// ============================================================================

func TestRejectedRequests(t *testing.T) {
	config, modelID := setup(t)

	tests := []struct {
		name   string
		config TestConfig
		method string
		path   string
		body   any
		want   int
	}{
		{"MissingTenant", TestConfig{BaseURL: config.BaseURL}, http.MethodPost, "/assessments", map[string]any{"modelId": modelID}, http.StatusBadRequest},
		{"MissingModelID", config, http.MethodPost, "/assessments", map[string]any{"applicant": applicant("x", 700)}, http.StatusBadRequest},
		{"UnknownModel", config, http.MethodPost, "/assessments", map[string]any{"modelId": "missing-" + config.Suffix, "applicant": applicant("x", 700)}, http.StatusNotFound},
		{"UnknownApplicant", config, http.MethodPost, "/assessments", map[string]any{"modelId": modelID, "applicantId": "ghost-" + config.Suffix}, http.StatusNotFound},
		{"UnknownAssessment", config, http.MethodGet, "/assessments/ghost-" + config.Suffix, nil, http.StatusNotFound},
		{"MissingFeature", config, http.MethodPost, "/models/" + modelID + "/score", map[string]any{"features": map[string]any{}}, http.StatusUnprocessableEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, tc.config, tc.method, tc.path, tc.body)
			if status != tc.want {
				t.Errorf("Expected status %d, got %d: %s", tc.want, status, string(body))
			}
		})
	}
}

// ============================================================================
// SCENARIO 6: Probes
// ============================================================================

func TestHealthEndpoints(t *testing.T) {
	config := getTestConfig()

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			status, body := do(t, config, http.MethodGet, path, nil)
			if status != http.StatusOK {
				t.Errorf("Expected status 200, got %d: %s", status, string(body))
			}
		})
	}
}
