package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
)

var (
	_ commission.Observer = (*Recorder)(nil)
	_ allocation.Observer = (*Recorder)(nil)
)

func TestRecorder_CommissionOutcomes(t *testing.T) {
	r := New()

	r.ObserveResult(commission.StatusCalculated, false)
	r.ObserveResult(commission.StatusCalculated, true)
	r.ObserveResult(commission.StatusNoGridMatch, false)
	r.ObservePersistFailure()
	r.ObserveRun("sync", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.calculations.WithLabelValues("calculated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.calculations.WithLabelValues("no_grid_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.degraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.persistFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runDuration))
}

func TestRecorder_AllocationOutcomes(t *testing.T) {
	r := New()

	r.ObserveAllocation("previewed")
	r.ObserveAllocation("applied")
	r.ObserveAllocation("stale")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.applied))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.allocations.WithLabelValues("stale")))
}

func TestRecorder_HTTPMiddlewareUsesRoutePattern(t *testing.T) {
	r := New()

	router := chi.NewRouter()
	router.Use(r.Middleware)
	router.Get("/api/earnings/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"e1", "e2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/earnings/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("GET", "/api/earnings/{id}", "204")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.ObserveResult(commission.StatusCalculated, false)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `commission_calculations_total{status="calculated"} 1`)
}
