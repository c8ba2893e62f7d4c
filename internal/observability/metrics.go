package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	opDurationBuckets   = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for the workflow core.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflow metrics
	WorkflowInitializationsTotal *prometheus.CounterVec
	WorkflowTransitionsTotal     *prometheus.CounterVec
	WorkflowCompletionsTotal     *prometheus.CounterVec
	WorkflowOperationDuration    *prometheus.HistogramVec
	WorkflowSLABreachesTotal     *prometheus.CounterVec

	// Event bus metrics
	EventsPublishedTotal      *prometheus.CounterVec
	EventsDeliveredTotal      *prometheus.CounterVec
	EventHandlerFailuresTotal *prometheus.CounterVec
	EventPersistFailuresTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowcore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		WorkflowInitializationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_workflow_initializations_total",
			Help: "Total number of workflow initializations.",
		}, []string{"entity_kind", "outcome"}),
		WorkflowTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_workflow_transitions_total",
			Help: "Total number of workflow transition attempts.",
		}, []string{"entity_kind", "action", "outcome"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_workflow_completions_total",
			Help: "Total number of workflows completed at their terminal step.",
		}, []string{"entity_kind"}),
		WorkflowOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowcore_workflow_operation_duration_seconds",
			Help:    "Workflow operation duration in seconds.",
			Buckets: opDurationBuckets,
		}, []string{"entity_kind", "action"}),
		WorkflowSLABreachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_workflow_sla_breaches_total",
			Help: "Transitions that left a step after its SLA deadline had passed.",
		}, []string{"entity_kind"}),

		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_events_published_total",
			Help: "Total number of domain events published.",
		}, []string{"event_type"}),
		EventsDeliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_events_delivered_total",
			Help: "Total number of successful handler deliveries.",
		}, []string{"event_type"}),
		EventHandlerFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_event_handler_failures_total",
			Help: "Total number of handler errors and panics during delivery.",
		}, []string{"event_type"}),
		EventPersistFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowcore_event_persist_failures_total",
			Help: "Domain events that could not be persisted before broadcast.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WorkflowInitializationsTotal,
		m.WorkflowTransitionsTotal,
		m.WorkflowCompletionsTotal,
		m.WorkflowOperationDuration,
		m.WorkflowSLABreachesTotal,
		m.EventsPublishedTotal,
		m.EventsDeliveredTotal,
		m.EventHandlerFailuresTotal,
		m.EventPersistFailuresTotal,
	)

	return m
}

// RecordWorkflowOperation records a workflow operation attempt.
func (m *Metrics) RecordWorkflowOperation(kind, action string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.WorkflowTransitionsTotal.WithLabelValues(kind, action, outcome).Inc()
	m.WorkflowOperationDuration.WithLabelValues(kind, action).Observe(duration.Seconds())
}

// MetricsMiddleware returns HTTP middleware that records request metrics
// using chi's route pattern (not the actual URL path) to avoid label
// cardinality explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		pattern := routePattern(r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
