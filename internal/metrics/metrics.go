// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

// Failure stages reported on AssessmentFailures.
const (
	StageModel   = "model"
	StageExtract = "extract"
	StageExecute = "execute"
	StageAnalyze = "analyze"
	StagePersist = "persist"
	StagePublish = "publish"
	StageDecode  = "decode"
)

// Metrics is a set of collectors registered on one registry. A nil
// *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	AssessmentsTotal   *prometheus.CounterVec
	AssessmentFailures *prometheus.CounterVec
	AssessmentDuration *prometheus.HistogramVec
	ModelExecution     *prometheus.HistogramVec
	AnalysisDuration   *prometheus.HistogramVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests and the service binary.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		AssessmentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessments_total",
				Help:      "Total number of completed assessments",
			},
			[]string{"model_id", "tier"},
		),

		AssessmentFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessment_failures_total",
				Help:      "Total number of failed assessments by pipeline stage",
			},
			[]string{"stage"},
		),

		AssessmentDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assessment_duration_seconds",
				Help:      "End-to-end duration of an assessment in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"model_id"},
		),

		ModelExecution: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_execution_seconds",
				Help:      "Duration of a single model execution in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
			},
			[]string{"model_type"},
		),

		AnalysisDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "factor_analysis_duration_seconds",
				Help:      "Duration of a factor analysis in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"model_type"},
		),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveAssessment records a completed assessment.
func (m *Metrics) ObserveAssessment(modelID, tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.AssessmentsTotal.WithLabelValues(modelID, tier).Inc()
	m.AssessmentDuration.WithLabelValues(modelID).Observe(d.Seconds())
}

// ObserveFailure records a failed assessment.
func (m *Metrics) ObserveFailure(stage string) {
	if m == nil {
		return
	}
	m.AssessmentFailures.WithLabelValues(stage).Inc()
}

// ObserveExecution records one model execution.
func (m *Metrics) ObserveExecution(modelType string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelExecution.WithLabelValues(modelType).Observe(d.Seconds())
}

// ObserveAnalysis records one factor analysis.
func (m *Metrics) ObserveAnalysis(modelType string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisDuration.WithLabelValues(modelType).Observe(d.Seconds())
}

// ObserveRequest records one HTTP request. route is the chi route pattern.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
