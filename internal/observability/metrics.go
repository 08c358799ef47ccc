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
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	saveDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the console.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Rig channel metrics
	RigEventsReceivedTotal *prometheus.CounterVec
	RigEventsEmittedTotal  *prometheus.CounterVec
	RigReconnectsTotal     prometheus.Counter
	RigConnected           prometheus.Gauge

	// Session metrics
	SessionsActive    prometheus.Gauge
	FieldEditsTotal   *prometheus.CounterVec
	StalePushesTotal  *prometheus.CounterVec

	// Save metrics
	SavesTotal   *prometheus.CounterVec
	SaveDuration *prometheus.HistogramVec

	// Registry metrics
	ModulesKnown prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "console_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "console_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "console_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Rig channel
		RigEventsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_rig_events_received_total",
			Help: "Total rig channel events received, by event name.",
		}, []string{"event"}),
		RigEventsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_rig_events_emitted_total",
			Help: "Total rig channel events emitted, by event name.",
		}, []string{"event"}),
		RigReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "console_rig_reconnects_total",
			Help: "Total rig channel reconnect attempts.",
		}),
		RigConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "console_rig_connected",
			Help: "Whether the rig channel is connected (0 or 1).",
		}),

		// Sessions
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "console_edit_sessions_active",
			Help: "Number of open configuration edit sessions.",
		}),
		FieldEditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_field_edits_total",
			Help: "Total configuration field edits, by outcome.",
		}, []string{"status"}),
		StalePushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_stale_pushes_total",
			Help: "Total configuration pushes rejected as stale.",
		}, []string{"module_id"}),

		// Saves
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_config_saves_total",
			Help: "Total configuration save attempts, by outcome.",
		}, []string{"status"}),
		SaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "console_config_save_duration_seconds",
			Help:    "Configuration save round-trip duration in seconds.",
			Buckets: saveDurationBuckets,
		}, []string{"status"}),

		// Registry
		ModulesKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "console_modules_known",
			Help: "Number of modules currently known to the console.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.RigEventsReceivedTotal,
		m.RigEventsEmittedTotal,
		m.RigReconnectsTotal,
		m.RigConnected,
		m.SessionsActive,
		m.FieldEditsTotal,
		m.StalePushesTotal,
		m.SavesTotal,
		m.SaveDuration,
		m.ModulesKnown,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRigEventReceived records an inbound rig channel event.
func (m *Metrics) RecordRigEventReceived(event string) {
	m.RigEventsReceivedTotal.WithLabelValues(event).Inc()
}

// RecordRigEventEmitted records an outbound rig channel event.
func (m *Metrics) RecordRigEventEmitted(event string) {
	m.RigEventsEmittedTotal.WithLabelValues(event).Inc()
}

// RecordRigReconnect records a reconnect attempt.
func (m *Metrics) RecordRigReconnect() {
	m.RigReconnectsTotal.Inc()
}

// SetRigConnected records the current channel state.
func (m *Metrics) SetRigConnected(connected bool) {
	if connected {
		m.RigConnected.Set(1)
	} else {
		m.RigConnected.Set(0)
	}
}

// RecordFieldEdit records a field edit outcome ("ok" or "rejected").
func (m *Metrics) RecordFieldEdit(status string) {
	m.FieldEditsTotal.WithLabelValues(status).Inc()
}

// RecordStalePush records a rejected stale configuration push.
func (m *Metrics) RecordStalePush(moduleID string) {
	m.StalePushesTotal.WithLabelValues(moduleID).Inc()
}

// RecordSave records a save attempt outcome and its round-trip duration.
func (m *Metrics) RecordSave(status string, duration time.Duration) {
	m.SavesTotal.WithLabelValues(status).Inc()
	m.SaveDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of open edit sessions.
func (m *Metrics) SetSessionsActive(count float64) {
	m.SessionsActive.Set(count)
}

// SetModulesKnown sets the number of known modules.
func (m *Metrics) SetModulesKnown(count float64) {
	m.ModulesKnown.Set(count)
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

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
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
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
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
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
