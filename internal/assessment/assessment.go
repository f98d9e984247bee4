// Package assessment runs the full scoring pipeline for one applicant and
// turns the result into a persisted, published RiskAssessment.
package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel-assessment")

var (
	// ErrApplicantRequired is returned when a request names no applicant.
	ErrApplicantRequired = errors.New("applicant or applicantId is required")

	// ErrModelNotScorable is returned for models whose status forbids scoring.
	ErrModelNotScorable = errors.New("model status does not allow scoring")
)

// ModelSource resolves model definitions. *modelstore.Store satisfies it.
type ModelSource interface {
	Get(ctx context.Context, tenantID, modelID string) (*domain.RiskModel, error)
}

// Config controls how assessments are assembled.
type Config struct {
	Validity      time.Duration
	TopFactors    int
	HighRiskTiers []domain.RiskTier
	Now           func() time.Time
}

// ConfigFrom converts the service configuration.
func ConfigFrom(c domain.AssessmentConfig) Config {
	return Config{
		Validity:      time.Duration(c.ValidityDays) * 24 * time.Hour,
		TopFactors:    c.TopFactors,
		HighRiskTiers: c.HighRiskTiers,
	}
}

// Request asks for one assessment. Applicant takes precedence over
// ApplicantID; a bare ApplicantID is loaded from the repository.
type Request struct {
	TenantID    string                `json:"tenantId,omitempty"`
	TraceID     string                `json:"traceId,omitempty"`
	ApplicantID string                `json:"applicantId,omitempty"`
	Applicant   *domain.ApplicantData `json:"applicant,omitempty"`
	ModelID     string                `json:"modelId"`
	Baseline    domain.InputVector    `json:"baseline,omitempty"`
	Explain     bool                  `json:"explain,omitempty"`
}

// Result is the outcome of Process.
type Result struct {
	Assessment   *domain.RiskAssessment `json:"assessment"`
	Analysis     *domain.FactorAnalysis `json:"-"`
	Explanations *domain.Explanations   `json:"explanations,omitempty"`
}

// Processor orchestrates extraction, execution, analysis, persistence and
// publication. Repository, bus, velocity and metrics are optional.
type Processor struct {
	engine   *engine.Engine
	models   ModelSource
	repo     domain.Repository
	bus      domain.EventBus
	velocity *velocity.Service
	metrics  *metrics.Metrics
	cfg      Config
}

// Option configures a Processor.
type Option func(*Processor)

// WithRepository persists assessments and resolves applicants by id.
func WithRepository(repo domain.Repository) Option {
	return func(p *Processor) { p.repo = repo }
}

// WithEventBus publishes completion and high-risk events.
func WithEventBus(bus domain.EventBus) Option {
	return func(p *Processor) { p.bus = bus }
}

// WithVelocity injects the recent assessment count into each applicant.
func WithVelocity(v *velocity.Service) Option {
	return func(p *Processor) { p.velocity = v }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor creates a processor.
func NewProcessor(e *engine.Engine, models ModelSource, cfg Config, opts ...Option) *Processor {
	if cfg.Validity <= 0 {
		cfg.Validity = 90 * 24 * time.Hour
	}
	if cfg.TopFactors <= 0 {
		cfg.TopFactors = 5
	}
	if cfg.HighRiskTiers == nil {
		cfg.HighRiskTiers = []domain.RiskTier{domain.TierHigh, domain.TierVeryHigh}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Processor{engine: e, models: models, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Engine returns the scoring engine.
func (p *Processor) Engine() *engine.Engine {
	return p.engine
}

// Process scores one applicant against one model.
func (p *Processor) Process(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "assessment.process",
		trace.WithAttributes(
			attribute.String("tenant.id", req.TenantID),
			attribute.String("model.id", req.ModelID),
		),
	)
	defer span.End()

	res, stage, err := p.process(ctx, req)
	if err != nil {
		p.metrics.ObserveFailure(stage)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		return nil, err
	}

	a := res.Assessment
	span.SetAttributes(
		attribute.String("assessment.id", a.ID),
		attribute.String("risk.tier", string(a.RiskTier)),
	)
	p.metrics.ObserveAssessment(a.ModelID, string(a.RiskTier), time.Since(start))

	slog.Info("assessment completed",
		"assessment_id", a.ID,
		"tenant_id", req.TenantID,
		"applicant_id", a.ApplicantID,
		"model_id", a.ModelID,
		"risk_score", a.RiskScore,
		"risk_tier", a.RiskTier,
		"warnings", len(a.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return res, nil
}

func (p *Processor) process(ctx context.Context, req *Request) (*Result, string, error) {
	model, err := p.models.Get(ctx, req.TenantID, req.ModelID)
	if err != nil {
		return nil, metrics.StageModel, fmt.Errorf("model %s: %w", req.ModelID, err)
	}
	if !model.Status.Scorable() {
		return nil, metrics.StageModel, fmt.Errorf("model %s is %s: %w", model.ID, model.Status, ErrModelNotScorable)
	}

	applicant, err := p.resolveApplicant(ctx, req)
	if err != nil {
		return nil, metrics.StageExtract, err
	}

	var recent *int64
	if p.velocity != nil {
		enriched, err := p.velocity.Enrich(ctx, req.TenantID, applicant)
		if err != nil {
			slog.Warn("velocity lookup failed",
				"tenant_id", req.TenantID,
				"applicant_id", applicant.ApplicantID,
				"error", err,
			)
		} else {
			if n, ok := enriched.AdditionalAttributes.Number(velocity.Attribute); ok && enriched != applicant {
				count := int64(n)
				recent = &count
			}
			applicant = enriched
		}
	}

	_, span := tracer.Start(ctx, "assessment.extract")
	extraction, err := p.engine.Extract(applicant, model)
	span.End()
	if err != nil {
		return nil, metrics.StageExtract, err
	}

	_, span = tracer.Start(ctx, "assessment.execute")
	output, err := p.engine.Execute(model, extraction.Input)
	span.End()
	if err != nil {
		return nil, metrics.StageExecute, err
	}
	if len(extraction.Warnings) > 0 {
		output.Warnings = append(append([]string{}, extraction.Warnings...), output.Warnings...)
	}
	p.metrics.ObserveExecution(model.ModelType, output.ExecutionTime)

	analyzeStart := time.Now()
	_, span = tracer.Start(ctx, "assessment.analyze")
	analysis, err := p.engine.Analyze(model, extraction.Input, output, req.Baseline)
	span.End()
	if err != nil {
		return nil, metrics.StageAnalyze, err
	}
	p.metrics.ObserveAnalysis(model.ModelType, time.Since(analyzeStart))

	a := domain.NewRiskAssessment(applicant.ApplicantID, model, output, analysis.TopFactors(p.cfg.TopFactors), p.cfg.Validity, p.cfg.Now())
	a.TenantID = req.TenantID
	if req.TraceID != "" {
		a.Metadata["trace_id"] = domain.String(req.TraceID)
	}
	if recent != nil {
		a.Metadata[velocity.Attribute] = domain.Number(float64(*recent))
	}
	if err := a.Validate(); err != nil {
		return nil, metrics.StageExecute, fmt.Errorf("invalid assessment: %w", err)
	}

	if p.velocity != nil {
		if n, err := p.velocity.Record(ctx, req.TenantID, a.ApplicantID); err == nil && n > 0 {
			a.Metadata["window_count"] = domain.Number(float64(n))
		}
	}

	if p.repo != nil {
		if err := p.repo.SaveAssessment(ctx, req.TenantID, a, analysis); err != nil {
			return nil, metrics.StagePersist, fmt.Errorf("failed to save assessment: %w", err)
		}
	}

	p.publish(ctx, req.TenantID, a)

	res := &Result{Assessment: a, Analysis: analysis}
	if req.Explain {
		exp := p.engine.Explain(analysis)
		res.Explanations = &exp
	}
	return res, "", nil
}

func (p *Processor) resolveApplicant(ctx context.Context, req *Request) (*domain.ApplicantData, error) {
	if req.Applicant != nil {
		if req.Applicant.ApplicantID == "" {
			req.Applicant.ApplicantID = req.ApplicantID
		}
		return req.Applicant, nil
	}
	if req.ApplicantID == "" {
		return nil, ErrApplicantRequired
	}
	if p.repo == nil {
		return nil, fmt.Errorf("applicant %s cannot be loaded without a repository: %w", req.ApplicantID, ErrApplicantRequired)
	}
	applicant, err := p.repo.GetApplicant(ctx, req.TenantID, req.ApplicantID)
	if err != nil {
		return nil, fmt.Errorf("applicant %s: %w", req.ApplicantID, err)
	}
	return applicant, nil
}

func (p *Processor) publish(ctx context.Context, tenantID string, a *domain.RiskAssessment) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return
	}

	if err := p.bus.Publish(ctx, tenantID, domain.TopicAssessmentCompleted, payload); err != nil {
		p.metrics.ObserveFailure(metrics.StagePublish)
		slog.Error("failed to publish assessment",
			"assessment_id", a.ID,
			"error", err,
		)
	}

	if p.IsHighRisk(a.RiskTier) {
		if err := p.bus.Publish(ctx, tenantID, domain.TopicHighRisk, payload); err != nil {
			p.metrics.ObserveFailure(metrics.StagePublish)
			slog.Error("failed to publish high risk alert",
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}
}

// IsHighRisk reports whether tier triggers a high-risk event.
func (p *Processor) IsHighRisk(tier domain.RiskTier) bool {
	return slices.Contains(p.cfg.HighRiskTiers, tier)
}

// Reasons returns the descriptions of the factors that raised risk, in
// ranked order.
func Reasons(a *domain.RiskAssessment) []string {
	var reasons []string
	for _, f := range a.TopFactors(len(a.KeyFactors)) {
		if f.Direction == domain.DirectionNegative && f.Description != "" {
			reasons = append(reasons, f.Description)
		}
	}
	return reasons
}
