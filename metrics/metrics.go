/*
Package metrics exposes Prometheus collectors for the commission engine.

PURPOSE:
  Recorder counts calculation outcomes, sync persistence failures, run
  durations, allocation outcomes and HTTP traffic. It implements
  commission.Observer and allocation.Observer so the engines report
  through it without importing Prometheus.

  Each Recorder owns its registry, so tests and multiple servers in one
  process never collide on registration.

METRICS:
  commission_calculations_total{status}
  commission_degraded_total
  commission_sync_persist_failures_total
  commission_run_duration_seconds{operation}
  allocation_outcomes_total{outcome}
  allocation_applied_total
  http_requests_total{method,route,status}
  http_request_duration_seconds{method,route}
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/commission-engine/commission"
)

// Recorder holds every collector.
type Recorder struct {
	registry *prometheus.Registry

	calculations    *prometheus.CounterVec
	degraded        prometheus.Counter
	persistFailures prometheus.Counter
	runDuration     *prometheus.HistogramVec
	allocations     *prometheus.CounterVec
	applied         prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_calculations_total",
			Help: "Policy calculations by result status.",
		}, []string{"status"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_degraded_total",
			Help: "Calculations that fell back after a lookup failure.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_sync_persist_failures_total",
			Help: "Results that could not be upserted during sync.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "commission_run_duration_seconds",
			Help:    "Duration of calculate and sync runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_outcomes_total",
			Help: "Allocation previews and applies by outcome.",
		}, []string{"outcome"}),
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocation_applied_total",
			Help: "Allocations committed to the ledger.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.calculations, r.degraded, r.persistFailures, r.runDuration,
		r.allocations, r.applied, r.httpRequests, r.httpDuration,
	)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// =============================================================================
// ENGINE OBSERVERS
// =============================================================================

// ObserveResult implements commission.Observer.
func (r *Recorder) ObserveResult(status commission.Status, degraded bool) {
	r.calculations.WithLabelValues(string(status)).Inc()
	if degraded {
		r.degraded.Inc()
	}
}

// ObservePersistFailure implements commission.Observer.
func (r *Recorder) ObservePersistFailure() {
	r.persistFailures.Inc()
}

// ObserveRun implements commission.Observer.
func (r *Recorder) ObserveRun(operation string, d time.Duration) {
	r.runDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveAllocation implements allocation.Observer.
func (r *Recorder) ObserveAllocation(outcome string) {
	r.allocations.WithLabelValues(outcome).Inc()
	if outcome == "applied" {
		r.applied.Inc()
	}
}

// =============================================================================
// HTTP
// =============================================================================

// Middleware records request counts and durations labelled by chi route
// pattern, so path parameters do not explode cardinality.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
