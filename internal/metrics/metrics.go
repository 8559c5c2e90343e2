package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/df-notifier/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dfnotifier"

var (
	// Remote API client

	APIAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_attempts_total",
		Help:      "HTTP attempts against the remote API, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	APIAttemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_attempt_duration_seconds",
		Help:      "Latency of a single remote API attempt.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint"})

	APIFailoversTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_failovers_total",
		Help:      "Endpoints abandoned after exhausting their retry budget.",
	}, []string{"endpoint"})

	APIExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_exhausted_total",
		Help:      "Requests that failed on every endpoint.",
	})

	// Place task engine

	SyncCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "place_sync_cycle_duration_seconds",
		Help:      "Time taken for one place-task sync cycle.",
		Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	SyncUsersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "place_sync_users_total",
		Help:      "Per-user sync results.",
	}, []string{"result"})

	TrackedTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "place_tracked_tasks",
		Help:      "Crafting tasks currently waiting to fire.",
	})

	LoopRestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_restarts_total",
		Help:      "Background loops restarted after a panic.",
	}, []string{"loop"})

	// Notifications

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Outbound notifications, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// Cron scheduler

	CronRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cron_runs_total",
		Help:      "Cron job runs, by job id and outcome.",
	}, []string{"job", "outcome"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "Control API requests currently being served.",
	})
)

func Register() {
	prometheus.MustRegister(
		APIAttemptsTotal,
		APIAttemptDuration,
		APIFailoversTotal,
		APIExhaustedTotal,
		SyncCycleDuration,
		SyncUsersTotal,
		TrackedTasks,
		LoopRestartsTotal,
		NotificationsTotal,
		CronRunsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPRequestsInFlight,
	)
}

// NewServer serves /metrics plus liveness and readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status == health.StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
