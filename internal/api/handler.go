package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/modelstore"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	models    *modelstore.Store
	processor *assessment.Processor
	version   string
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, models *modelstore.Store, processor *assessment.Processor, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		models:    models,
		processor: processor,
		version:   version,
	}
}

func (h *Handler) engine() *engine.Engine {
	return h.processor.Engine()
}

// AssessmentResponse is the response for POST /assessments.
type AssessmentResponse struct {
	Assessment   *domain.RiskAssessment `json:"assessment"`
	Explanations *domain.Explanations   `json:"explanations,omitempty"`
	Reasons      []string               `json:"reasons,omitempty"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// CreateAssessment handles POST /assessments.
func (h *Handler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req assessment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ModelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "modelId is required",
		})
		return
	}

	req.TenantID = GetTenantID(ctx)
	req.TraceID = GetTraceID(ctx)

	res, err := h.processor.Process(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := AssessmentResponse{
		Assessment:   res.Assessment,
		Explanations: res.Explanations,
		Reasons:      assessment.Reasons(res.Assessment),
	}
	resp.Metadata.TraceID = req.TraceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetAssessment handles GET /assessments/{id}.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	a, err := h.repo.GetAssessment(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetAnalysis handles GET /assessments/{id}/analysis.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAnalysis(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetExplanation handles GET /assessments/{id}/explanation.
func (h *Handler) GetExplanation(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAnalysis(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.engine().Explain(a))
}

// GetVisualization handles GET /assessments/{id}/visualization.
func (h *Handler) GetVisualization(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAnalysis(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.engine().Visualize(a))
}

func (h *Handler) loadAnalysis(w http.ResponseWriter, r *http.Request) (*domain.FactorAnalysis, bool) {
	if !h.requireRepo(w) {
		return nil, false
	}
	a, err := h.repo.GetFactorAnalysis(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return a, true
}

// CreateApplicant handles POST /applicants. A missing applicantId is
// generated.
func (h *Handler) CreateApplicant(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	var applicant domain.ApplicantData
	if err := json.NewDecoder(r.Body).Decode(&applicant); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if applicant.ApplicantID == "" {
		applicant.ApplicantID = uuid.New().String()
	}
	if applicant.CreatedAt.IsZero() {
		applicant.CreatedAt = time.Now().UTC()
	}

	if err := h.repo.SaveApplicant(r.Context(), GetTenantID(r.Context()), &applicant); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("applicant saved", "applicant_id", applicant.ApplicantID)
	writeJSON(w, http.StatusCreated, &applicant)
}

// GetApplicant handles GET /applicants/{id}.
func (h *Handler) GetApplicant(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	applicant, err := h.repo.GetApplicant(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applicant)
}

// ListApplicantAssessments handles GET /applicants/{id}/assessments. The
// optional days query parameter limits the look-back window.
func (h *Handler) ListApplicantAssessments(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "days must be a positive integer",
			})
			return
		}
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	list, err := h.repo.ListAssessmentsByApplicant(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"), since)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.RiskAssessment{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": list,
		"count":       len(list),
	})
}

// CreateModel handles POST /models. The definition is validated and
// compiled before it is stored. New models start in development unless a
// status is given.
func (h *Handler) CreateModel(w http.ResponseWriter, r *http.Request) {
	var model domain.RiskModel
	if err := json.NewDecoder(r.Body).Decode(&model); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if model.Status == "" {
		model.Status = domain.ModelDevelopment
	}

	if err := h.models.Save(r.Context(), GetTenantID(r.Context()), &model); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("model saved",
		"model_id", model.ID,
		"version", model.Version,
		"status", model.Status,
	)
	writeJSON(w, http.StatusCreated, &model)
}

// ListModels handles GET /models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.List(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if models == nil {
		models = []*domain.RiskModel{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

// GetModel handles GET /models/{id}.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.models.Get(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// StatusRequest is the request body for PUT /models/{id}/status.
type StatusRequest struct {
	Status domain.ModelStatus `json:"status"`
}

// UpdateModelStatus handles PUT /models/{id}/status.
func (h *Handler) UpdateModelStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	modelID := chi.URLParam(r, "id")
	if err := h.models.UpdateStatus(r.Context(), GetTenantID(r.Context()), modelID, req.Status); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("model status updated", "model_id", modelID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     modelID,
		"status": string(req.Status),
	})
}

// ScoreRequest is the request body for POST /models/{id}/score.
type ScoreRequest struct {
	Features map[string]domain.Value `json:"features"`
	Baseline domain.InputVector      `json:"baseline,omitempty"`
	Explain  bool                    `json:"explain,omitempty"`
}

// ScoreResponse is the response for POST /models/{id}/score.
type ScoreResponse struct {
	Output       *domain.ModelOutput    `json:"output"`
	Analysis     *domain.FactorAnalysis `json:"analysis,omitempty"`
	Explanations *domain.Explanations   `json:"explanations,omitempty"`
}

// ScoreModel handles POST /models/{id}/score: a raw feature map is scored
// without extraction defaults or persistence.
func (h *Handler) ScoreModel(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	model, err := h.models.Get(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	input := make(domain.InputVector, len(req.Features))
	for i := range model.Features {
		def := &model.Features[i]
		raw, ok := req.Features[def.Name]
		if !ok {
			continue
		}
		v, err := features.Coerce(def, raw)
		if err != nil {
			writeError(w, err)
			return
		}
		input[def.Name] = v
	}

	e := h.engine()
	output, err := e.Execute(model, input)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := ScoreResponse{Output: output}
	if req.Explain {
		a, err := e.Analyze(model, input, output, req.Baseline)
		if err != nil {
			writeError(w, err)
			return
		}
		exp := e.Explain(a)
		resp.Analysis = a
		resp.Explanations = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the repository and event bus accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if h.repo != nil {
		checks["repository"] = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			checks["repository"] = err.Error()
			ready = false
		}
	}
	if h.bus != nil {
		checks["eventBus"] = "ok"
		if err := h.bus.Ping(r.Context()); err != nil {
			checks["eventBus"] = err.Error()
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

// statusOf maps pipeline and store errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case domain.IsModelError(err),
		errors.Is(err, domain.ErrMissingRequiredFeature),
		errors.Is(err, domain.ErrFeatureTypeMismatch),
		errors.Is(err, domain.ErrAnalysis),
		errors.Is(err, assessment.ErrModelNotScorable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, assessment.ErrApplicantRequired),
		errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
