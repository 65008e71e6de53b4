package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/plinko-engine/internal/physics"
)

func TestSimulationObserverCountsLandings(t *testing.T) {
	landed := DropsTotal.WithLabelValues("3", "false")
	before := testutil.ToFloat64(landed)
	faultsBefore := testutil.ToFloat64(BallFaults)
	correctionsBefore := testutil.ToFloat64(Corrections)

	obs := SimulationObserver{}
	obs.BallLanded(physics.Landing{Sink: 3, Ticks: 120})
	obs.BallLanded(physics.Landing{Sink: 3, Ticks: 140, Corrected: true})
	obs.BallFaulted(&physics.BallFault{Ball: 1, Ticks: 9, Reason: "test"})

	assert.Equal(t, before+2, testutil.ToFloat64(landed))
	assert.Equal(t, faultsBefore+1, testutil.ToFloat64(BallFaults))
	assert.Equal(t, correctionsBefore+1, testutil.ToFloat64(Corrections))
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/drops/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/drops/{id}", "404")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/drops/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
	assert.Equal(t, 0.0, testutil.ToFloat64(HTTPRequestsInFlight))
}
