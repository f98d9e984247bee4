package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/modelstore"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/prometheus/client_golang/prometheus"
)

const testTenant = "tenant-001"

// scorecard scores 500 at a credit score of 700, one point per credit
// score point below, on a 0..1000 range.
func scorecard(id string, status domain.ModelStatus) *domain.RiskModel {
	return &domain.RiskModel{
		ID:         id,
		Name:       "Scorecard",
		Version:    "1.0",
		ModelType:  "linear",
		Status:     status,
		ScoreRange: domain.Range{Min: 0, Max: 1000},
		Features: []domain.FeatureDefinition{
			{Name: "credit_score", DataType: domain.FeatureNumeric, Required: true, Range: &domain.Range{Min: 300, Max: 850}},
		},
		Outputs: []domain.OutputDefinition{{Name: domain.OutputRiskScore, DataType: domain.FeatureNumeric}},
		Parameters: domain.Values{
			"intercept": domain.Number(500),
			"weights":   domain.Map(map[string]domain.Value{"credit_score": domain.Number(-1)}),
			"centers":   domain.Map(map[string]domain.Value{"credit_score": domain.Number(700)}),
			"baseline":  domain.Map(map[string]domain.Value{"credit_score": domain.Number(700)}),
		},
	}
}

type testEnv struct {
	server *Server
	store  *modelstore.Store
}

// createTestServer wires a server over a temporary SQLite database.
func createTestServer(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	events := bus.NewChannelBus(100)
	t.Cleanup(func() { events.Close() })

	e := engine.New(engine.Options{})
	m := metrics.New(prometheus.NewRegistry())
	store := modelstore.New(repo, lru, events, e, 0)
	processor := assessment.NewProcessor(e, store, assessment.Config{},
		assessment.WithRepository(repo),
		assessment.WithEventBus(events),
		assessment.WithVelocity(velocity.NewService(repo, lru, 0)),
		assessment.WithMetrics(m),
	)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	handler := NewHandler(repo, lru, events, store, processor, "test-v1")

	return &testEnv{
		server: NewServer(cfg, handler, m),
		store:  store,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, testTenant)

	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response: %v: %s", err, rr.Body.String())
	}
}

func TestModelEndpoints(t *testing.T) {
	env := createTestServer(t)

	t.Run("CreateModel", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/models", scorecard("scorecard", ""))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var m domain.RiskModel
		decode(t, rr, &m)
		if m.Status != domain.ModelDevelopment {
			t.Errorf("expected new model in development, got %s", m.Status)
		}
	})

	t.Run("CreateInvalidModel", func(t *testing.T) {
		bad := scorecard("broken", "")
		bad.Parameters = domain.Values{}

		rr := env.do(t, http.MethodPost, "/models", bad)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}

		bad = scorecard("broken", "")
		bad.ModelType = "neural_net"
		rr = env.do(t, http.MethodPost, "/models", bad)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422 for unsupported type, got %d", rr.Code)
		}
	})

	t.Run("ListAndGet", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/models", nil)
		var list struct {
			Count int `json:"count"`
		}
		decode(t, rr, &list)
		if list.Count != 1 {
			t.Errorf("expected 1 model, got %d", list.Count)
		}

		rr = env.do(t, http.MethodGet, "/models/scorecard", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodGet, "/models/nope", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/models/scorecard/status", StatusRequest{Status: domain.ModelActive})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = env.do(t, http.MethodPut, "/models/scorecard/status", StatusRequest{Status: "retired"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for unknown status, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodPut, "/models/nope/status", StatusRequest{Status: domain.ModelActive})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for unknown model, got %d", rr.Code)
		}
	})

	t.Run("Score", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/models/scorecard/score", ScoreRequest{
			Features: map[string]domain.Value{"credit_score": domain.Number(550)},
			Explain:  true,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		decode(t, rr, &resp)
		if resp.Output.Score != 650 || resp.Output.Tier != domain.TierHigh {
			t.Errorf("expected 650 / High, got %g / %s", resp.Output.Score, resp.Output.Tier)
		}
		if resp.Explanations == nil || resp.Analysis == nil {
			t.Error("expected analysis and explanations")
		}
	})

	t.Run("ScoreMissingFeature", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/models/scorecard/score", ScoreRequest{Features: map[string]domain.Value{}})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodPost, "/models/scorecard/score", ScoreRequest{
			Features: map[string]domain.Value{"credit_score": domain.String("excellent")},
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422 for type mismatch, got %d", rr.Code)
		}
	})
}

func TestAssessmentEndpoints(t *testing.T) {
	env := createTestServer(t)
	ctx := context.Background()

	if err := env.store.Save(ctx, testTenant, scorecard("scorecard", domain.ModelActive)); err != nil {
		t.Fatalf("failed to save model: %v", err)
	}
	if err := env.store.Save(ctx, testTenant, scorecard("draft", domain.ModelDevelopment)); err != nil {
		t.Fatalf("failed to save model: %v", err)
	}

	var assessmentID string

	t.Run("CreateAssessment", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/assessments", map[string]any{
			"modelId": "scorecard",
			"explain": true,
			"applicant": map[string]any{
				"applicantId": "app-001",
				"creditInfo":  map[string]any{"creditScore": 550},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AssessmentResponse
		decode(t, rr, &resp)

		a := resp.Assessment
		if a.RiskTier != domain.TierHigh || a.RiskScore != 650 {
			t.Errorf("expected High / 650, got %s / %g", a.RiskTier, a.RiskScore)
		}
		if a.TenantID != testTenant {
			t.Errorf("expected tenant %s, got %s", testTenant, a.TenantID)
		}
		if resp.Explanations == nil {
			t.Error("expected explanations")
		}
		if len(resp.Reasons) == 0 {
			t.Error("expected reasons for a high risk assessment")
		}
		if resp.Metadata.Version != "test-v1" || resp.Metadata.TraceID == "" {
			t.Errorf("unexpected metadata %+v", resp.Metadata)
		}
		assessmentID = a.ID
	})

	t.Run("GetAssessment", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/assessments/"+assessmentID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var a domain.RiskAssessment
		decode(t, rr, &a)
		if a.ID != assessmentID {
			t.Errorf("expected id %s, got %s", assessmentID, a.ID)
		}

		rr = env.do(t, http.MethodGet, "/assessments/unknown", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Analysis", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/assessments/"+assessmentID+"/analysis", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var a domain.FactorAnalysis
		decode(t, rr, &a)
		if a.AssessmentID != assessmentID || len(a.Factors) != 1 {
			t.Errorf("unexpected analysis %+v", a)
		}
	})

	t.Run("Explanation", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/assessments/"+assessmentID+"/explanation", nil)
		var exp domain.Explanations
		decode(t, rr, &exp)
		if exp.Overall == "" || len(exp.FactorExplanations) != 1 {
			t.Errorf("unexpected explanations %+v", exp)
		}
	})

	t.Run("Visualization", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/assessments/"+assessmentID+"/visualization", nil)
		var v domain.Visualization
		decode(t, rr, &v)
		if _, ok := v.SensitivityCharts["credit_score"]; !ok {
			t.Errorf("expected a credit_score sensitivity chart, got %+v", v.SensitivityCharts)
		}
		if len(v.ScoreDistributionChart.Series) != 4 {
			t.Errorf("expected score distribution series, got %+v", v.ScoreDistributionChart)
		}
	})

	t.Run("ApplicantHistory", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/applicants/app-001/assessments?days=30", nil)
		var list struct {
			Count int `json:"count"`
		}
		decode(t, rr, &list)
		if list.Count != 1 {
			t.Errorf("expected 1 assessment, got %d", list.Count)
		}

		rr = env.do(t, http.MethodGet, "/applicants/app-001/assessments?days=soon", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad days, got %d", rr.Code)
		}
	})

	t.Run("StoredApplicant", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/applicants", domain.ApplicantData{
			CreditInfo: domain.CreditInfo{CreditScore: domain.Ptr(780.0)},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var applicant domain.ApplicantData
		decode(t, rr, &applicant)
		if applicant.ApplicantID == "" {
			t.Fatal("expected generated applicant id")
		}

		rr = env.do(t, http.MethodGet, "/applicants/"+applicant.ApplicantID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodPost, "/assessments", map[string]any{
			"modelId":     "scorecard",
			"applicantId": applicant.ApplicantID,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp AssessmentResponse
		decode(t, rr, &resp)
		if resp.Assessment.RiskTier != domain.TierModerate {
			t.Errorf("expected Moderate, got %s", resp.Assessment.RiskTier)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		tests := []struct {
			name string
			body any
			want int
		}{
			{"invalid json", "not-json", http.StatusBadRequest},
			{"missing model id", map[string]any{"applicantId": "app-001"}, http.StatusBadRequest},
			{"missing applicant", map[string]any{"modelId": "scorecard"}, http.StatusBadRequest},
			{"unknown applicant", map[string]any{"modelId": "scorecard", "applicantId": "ghost"}, http.StatusNotFound},
			{"unknown model", map[string]any{"modelId": "nope", "applicantId": "app-001"}, http.StatusNotFound},
			{"draft model", map[string]any{"modelId": "draft", "applicant": map[string]any{"applicantId": "a"}}, http.StatusUnprocessableEntity},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := env.do(t, http.MethodPost, "/assessments", tt.body)
				if rr.Code != tt.want {
					t.Errorf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
				}
			})
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/assessments", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/models", nil)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(t, http.MethodGet, "/models/scorecard", nil)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		body := rr.Body.String()
		if !strings.Contains(body, `route="/models/{id}"`) {
			t.Errorf("expected route pattern label in metrics, got:\n%s", body)
		}
	})
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{repository.ErrNotFound, http.StatusNotFound},
		{domain.MissingFeature("credit_score"), http.StatusUnprocessableEntity},
		{domain.InvalidParameters("m", "bad"), http.StatusUnprocessableEntity},
		{assessment.ErrModelNotScorable, http.StatusUnprocessableEntity},
		{assessment.ErrApplicantRequired, http.StatusBadRequest},
		{repository.ErrInvalidInput, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("expected %d for %v, got %d", tt.want, tt.err, got)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TenantMiddlewareRejectsInvalidIDs", func(t *testing.T) {
		called := false
		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		for _, tenantID := range []string{"acme.corp", "_global", "a b"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Tenant-ID", tenantID)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("%q: expected status 400, got %d", tenantID, rr.Code)
			}
		}
		if called {
			t.Error("handler should not run for invalid tenants")
		}
	})

	t.Run("TracingMiddlewareKeepsCallerTraceID", func(t *testing.T) {
		var captured string
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetTraceID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Trace-ID", "upstream-trace")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if captured != "upstream-trace" {
			t.Errorf("expected upstream-trace, got %s", captured)
		}
		if rr.Header().Get("X-Trace-ID") != "upstream-trace" {
			t.Errorf("expected X-Trace-ID header, got %s", rr.Header().Get("X-Trace-ID"))
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight should not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/assessments", nil)
		req.Header.Set("Origin", "https://console.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
			t.Errorf("expected origin echoed, got %s", got)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
