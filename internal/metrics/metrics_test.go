package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, itemsTotal)
	require.NotNil(t, jobsTotal)
	require.NotNil(t, httpRequestsTotal)

	before := testutil.ToFloat64(itemsTotal.WithLabelValues("test.com", "completed"))
	ObserveItem("https://test.com/page", "completed", 120*time.Millisecond)
	after := testutil.ToFloat64(itemsTotal.WithLabelValues("test.com", "completed"))
	require.Equal(t, before+1, after)
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	resp, err := http.Get(ts.URL + "/v1/jobs/abc")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	require.Equal(t, before+1, after)
}
