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

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	providerDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

// Metrics holds all Prometheus metric instruments for the survey client.
// Every recording method is safe to call on a nil *Metrics.
type Metrics struct {
	// Ops listener
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Navigation
	NavigationTransitionsTotal *prometheus.CounterVec
	NavigationRejectedTotal    *prometheus.CounterVec

	// Authentication
	OTPRequestsTotal        *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderCircuitState    prometheus.Gauge

	// Surveys
	SubmissionsTotal    *prometheus.CounterVec
	DraftSavesTotal     *prometheus.CounterVec
	ValidationFailures  *prometheus.CounterVec
	StaleResponsesTotal *prometheus.CounterVec
	BusyRejectionsTotal *prometheus.CounterVec
	SurveysLoaded       prometheus.Gauge
	CatalogReloadTotal  *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_http_requests_total",
			Help: "Total number of requests served by the ops listener.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sarvekshan_http_request_duration_seconds",
			Help:    "Ops listener request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		NavigationTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_navigation_transitions_total",
			Help: "Total number of accepted navigation transitions.",
		}, []string{"from", "to"}),
		NavigationRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_navigation_rejected_total",
			Help: "Total number of navigation events rejected as invalid.",
		}, []string{"state", "event"}),

		OTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_otp_requests_total",
			Help: "Total number of OTP provider calls.",
		}, []string{"operation", "outcome"}),
		ProviderRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sarvekshan_provider_request_duration_seconds",
			Help:    "Identity provider call duration in seconds.",
			Buckets: providerDurationBuckets,
		}, []string{"operation"}),
		ProviderCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sarvekshan_provider_circuit_breaker_state",
			Help: "Identity provider circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_submissions_total",
			Help: "Total number of survey submission attempts.",
		}, []string{"survey_id", "outcome"}),
		DraftSavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_draft_saves_total",
			Help: "Total number of draft snapshot saves.",
		}, []string{"survey_id", "outcome"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_validation_failures_total",
			Help: "Total number of rejected field inputs.",
		}, []string{"field"}),
		StaleResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_stale_responses_total",
			Help: "Total number of collaborator responses dropped because the flow moved on.",
		}, []string{"flow"}),
		BusyRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_busy_rejections_total",
			Help: "Total number of operations rejected because one was already in flight.",
		}, []string{"operation"}),
		SurveysLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sarvekshan_surveys_loaded",
			Help: "Number of surveys in the loaded catalog.",
		}),
		CatalogReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sarvekshan_catalog_reload_total",
			Help: "Total catalog reloads.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.NavigationTransitionsTotal,
		m.NavigationRejectedTotal,
		m.OTPRequestsTotal,
		m.ProviderRequestDuration,
		m.ProviderCircuitState,
		m.SubmissionsTotal,
		m.DraftSavesTotal,
		m.ValidationFailures,
		m.StaleResponsesTotal,
		m.BusyRejectionsTotal,
		m.SurveysLoaded,
		m.CatalogReloadTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records ops listener request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordTransition records an accepted navigation transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.NavigationTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordRejectedTransition records a navigation event that was not allowed.
func (m *Metrics) RecordRejectedTransition(state, event string) {
	if m == nil {
		return
	}
	m.NavigationRejectedTotal.WithLabelValues(state, event).Inc()
}

// RecordOTPRequest records one identity provider call and its latency.
func (m *Metrics) RecordOTPRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OTPRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.ProviderRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetProviderCircuitState sets the identity provider breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetProviderCircuitState(state float64) {
	if m == nil {
		return
	}
	m.ProviderCircuitState.Set(state)
}

// RecordSubmission records a survey submission attempt.
func (m *Metrics) RecordSubmission(surveyID, outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(surveyID, outcome).Inc()
}

// RecordDraftSave records a draft snapshot save.
func (m *Metrics) RecordDraftSave(surveyID, outcome string) {
	if m == nil {
		return
	}
	m.DraftSavesTotal.WithLabelValues(surveyID, outcome).Inc()
}

// RecordValidationFailure records a rejected input field.
func (m *Metrics) RecordValidationFailure(field string) {
	if m == nil {
		return
	}
	m.ValidationFailures.WithLabelValues(field).Inc()
}

// RecordStaleResponse records a collaborator response that arrived after
// its flow was superseded.
func (m *Metrics) RecordStaleResponse(flow string) {
	if m == nil {
		return
	}
	m.StaleResponsesTotal.WithLabelValues(flow).Inc()
}

// RecordBusy records an operation rejected because another was in flight.
func (m *Metrics) RecordBusy(operation string) {
	if m == nil {
		return
	}
	m.BusyRejectionsTotal.WithLabelValues(operation).Inc()
}

// SetSurveysLoaded sets the number of surveys in the catalog.
func (m *Metrics) SetSurveysLoaded(count float64) {
	if m == nil {
		return
	}
	m.SurveysLoaded.Set(count)
}

// RecordCatalogReload records a catalog reload.
func (m *Metrics) RecordCatalogReload(status string) {
	if m == nil {
		return
	}
	m.CatalogReloadTotal.WithLabelValues(status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
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

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
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
