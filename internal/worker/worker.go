// Package worker scores applicants asynchronously from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// GlobalTenant is the pseudo-tenant a worker subscribes under when no
// tenants are configured. Requests published there must carry a tenantId.
const GlobalTenant = "_global"

// Worker consumes assessment requests and runs them through the processor.
type Worker struct {
	bus       domain.EventBus
	processor *assessment.Processor
	metrics   *metrics.Metrics

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to serve (empty = GlobalTenant)
	TenantIDs []string
}

// Response is the reply sent to requesters that set a reply topic.
type Response struct {
	Assessment   *domain.RiskAssessment `json:"assessment,omitempty"`
	Explanations *domain.Explanations   `json:"explanations,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// FailureEvent is published on TopicAssessmentFailed.
type FailureEvent struct {
	MessageID   string `json:"messageId"`
	TenantID    string `json:"tenantId"`
	TraceID     string `json:"traceId,omitempty"`
	ApplicantID string `json:"applicantId,omitempty"`
	ModelID     string `json:"modelId,omitempty"`
	Error       string `json:"error"`
}

// NewWorker creates a new async worker. m may be nil.
func NewWorker(eventBus domain.EventBus, processor *assessment.Processor, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		processor: processor,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to assessment requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		if err := w.subscribe(GlobalTenant); err != nil {
			return err
		}
		slog.Info("global worker started")
		return nil
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAssessmentRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.handle(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicAssessmentRequested,
	)
	return nil
}

// handle scores one request message. The subscription tenant wins over the
// payload tenant unless the subscription is global.
func (w *Worker) handle(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req assessment.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.metrics.ObserveFailure(metrics.StageDecode)
		slog.Error("failed to parse assessment request",
			"message_id", msg.ID,
			"error", err,
		)
		w.fail(ctx, msg, tenantID, &req, err)
		return err
	}

	if tenantID != GlobalTenant || req.TenantID == "" {
		req.TenantID = tenantID
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	slog.Debug("processing assessment request",
		"message_id", msg.ID,
		"tenant_id", req.TenantID,
		"trace_id", req.TraceID,
		"model_id", req.ModelID,
	)

	res, err := w.processor.Process(ctx, &req)
	if err != nil {
		slog.Error("assessment failed",
			"message_id", msg.ID,
			"tenant_id", req.TenantID,
			"model_id", req.ModelID,
			"error", err,
		)
		w.fail(ctx, msg, req.TenantID, &req, err)
		return err
	}

	w.reply(ctx, msg, Response{Assessment: res.Assessment, Explanations: res.Explanations})

	slog.Debug("assessment request processed",
		"message_id", msg.ID,
		"assessment_id", res.Assessment.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) fail(ctx context.Context, msg *domain.Message, tenantID string, req *assessment.Request, cause error) {
	ev := FailureEvent{
		MessageID:   msg.ID,
		TenantID:    tenantID,
		TraceID:     req.TraceID,
		ApplicantID: req.ApplicantID,
		ModelID:     req.ModelID,
		Error:       cause.Error(),
	}
	if ev.ApplicantID == "" && req.Applicant != nil {
		ev.ApplicantID = req.Applicant.ApplicantID
	}

	payload, _ := json.Marshal(ev)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAssessmentFailed, payload); err != nil {
		w.metrics.ObserveFailure(metrics.StagePublish)
		slog.Error("failed to publish failure event",
			"message_id", msg.ID,
			"error", err,
		)
	}

	w.reply(ctx, msg, Response{Error: cause.Error()})
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, resp Response) {
	payload, _ := json.Marshal(resp)
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		slog.Error("failed to send reply",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
