package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	incidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidents_created_total",
			Help: "Total number of incidents created",
		},
		[]string{"emergency"},
	)

	incidentStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_status_changed_total",
			Help: "Total number of incident status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	transitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_transitions_rejected_total",
			Help: "Status transitions refused by the transition table",
		},
		[]string{"from_status", "to_status"},
	)

	escalationSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_steps_total",
			Help: "Escalation step executions by outcome",
		},
		[]string{"outcome"},
	)

	escalationEventsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalation_events_resolved_total",
			Help: "Escalation events resolved because the incident became active",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification hand-offs by channel and result",
		},
		[]string{"channel", "result"},
	)

	schedulerJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_total",
			Help: "Escalation jobs processed by result",
		},
		[]string{"result"},
	)

	schedulerJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Time spent running a single escalation job",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	schedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_lag_seconds",
			Help:    "Delay between a job's run_at and the moment a worker picked it up",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by their chi route template instead of the
// raw path so incident IDs do not explode cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// --- Business metric helpers ---

func RecordIncidentCreated(emergency bool) {
	incidentsCreated.WithLabelValues(strconv.FormatBool(emergency)).Inc()
}

func RecordStatusChange(fromStatus, toStatus string) {
	incidentStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

func RecordTransitionRejected(fromStatus, toStatus string) {
	transitionsRejected.WithLabelValues(fromStatus, toStatus).Inc()
}

func RecordEscalationStep(outcome string) {
	escalationSteps.WithLabelValues(outcome).Inc()
}

func RecordEscalationsResolved(n int) {
	escalationEventsResolved.Add(float64(n))
}

// RecordNotification records one hand-off to the transport
func RecordNotification(channel string, accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// RecordSchedulerJob records a processed job: succeeded, retried or dead_lettered
func RecordSchedulerJob(result string, duration time.Duration, lag time.Duration) {
	schedulerJobs.WithLabelValues(result).Inc()
	schedulerJobDuration.Observe(duration.Seconds())
	if lag > 0 {
		schedulerLag.Observe(lag.Seconds())
	}
}
