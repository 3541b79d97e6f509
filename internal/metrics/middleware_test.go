package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func routeSamples(t *testing.T, method, route string) uint64 {
	t.Helper()
	hist, ok := httpRequestDurationSeconds.WithLabelValues(method, route).(prometheus.Histogram)
	if !ok {
		t.Fatalf("observer for %s %s is not a histogram", method, route)
	}
	m := &dto.Metric{}
	if err := hist.Write(m); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func get(t *testing.T, url string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Log(err)
	}
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/harvests/{harvest_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/harvests", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	get(t, ts.URL+"/v1/harvests/harvest-1")
	get(t, ts.URL+"/v1/harvests/harvest-2")
	resp, err := http.Post(ts.URL+"/v1/harvests", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	// both IDs collapse into the pattern's series
	if got := routeSamples(t, "GET", "/v1/harvests/{harvest_id}"); got != 2 {
		t.Errorf("expected 2 samples for the harvest route pattern, got %d", got)
	}
	if got := routeSamples(t, "GET", "/v1/harvests/harvest-1"); got != 0 {
		t.Errorf("raw paths must not become labels, got %d samples", got)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202")); val != 1 {
		t.Errorf("expected one POST 202, got %f", val)
	}
}

func TestMiddlewareWithoutRouterUsesUnknownRoute(t *testing.T) {
	Init()
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/anything", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rec.Code)
	}
	if got := routeSamples(t, "DELETE", "unknown"); got != 1 {
		t.Errorf("expected 1 sample for the unknown route, got %d", got)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "418")); val != 1 {
		t.Errorf("expected one DELETE 418, got %f", val)
	}
}
