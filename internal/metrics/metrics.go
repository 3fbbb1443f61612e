// Package metrics exposes the same HistogramVec/CounterVec/GaugeVec shapes
// the teacher registers in internal/metrics/metrics.go, renamed from the
// teacher's job-centric names to the endpoint/run/session vocabulary this
// repo schedules over, plus a planner section the teacher has no
// analogue for.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/cronicorn/cronicorn/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler worker metrics

	ClaimLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "endpoint_claim_latency_seconds",
		Help:      "Time from an endpoint's nextRunAt to the worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of endpoint HTTP dispatch.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"})

	EndpointsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cronicorn",
		Name:      "scheduler_endpoints_in_flight",
		Help:      "Number of endpoints currently being dispatched by the worker.",
	})

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "runs_completed_total",
		Help:      "Total runs finished, by outcome.",
	}, []string{"outcome"})

	// Zombie-run cleanup metrics

	ZombieRunsReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "zombie_runs_reaped_total",
		Help:      "Total runs reclaimed after exceeding the zombie threshold.",
	})

	CleanupCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "cleanup_cycle_duration_seconds",
		Help:      "Time taken for one zombie-run cleanup cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cronicorn",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times a worker process has shut down.",
	})

	// AI planner metrics — no analogue in the teacher, added for spec.md §4.4.

	PlannerSessionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "planner_session_duration_seconds",
		Help:      "Duration of one AI analysis session.",
		Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	PlannerTokensUsedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "planner_tokens_used_total",
		Help:      "Total LLM tokens consumed by planner analysis sessions.",
	}, []string{"tier"})

	PlannerSessionsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "planner_sessions_skipped_total",
		Help:      "Total planner sessions skipped, by reason.",
	}, []string{"reason"})

	PlannerToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "planner_tool_calls_total",
		Help:      "Total tool invocations made by the planner, by tool name.",
	}, []string{"tool"})

	// HTTP metrics (health/metrics server itself)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		ClaimLatency,
		DispatchDuration,
		EndpointsInFlight,
		RunsCompletedTotal,
		ZombieRunsReapedTotal,
		CleanupCycleDuration,
		WorkerStartTime,
		WorkerShutdownsTotal,
		PlannerSessionDuration,
		PlannerTokensUsedTotal,
		PlannerSessionsSkippedTotal,
		PlannerToolCallsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer wires /metrics alongside /healthz (liveness) and /readyz
// (readiness) on the same port — the teacher split these across two
// servers, but a single process here only ever needs one internal port.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
