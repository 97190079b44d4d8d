package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRPCCall("GetTransaction", "success", "mainnet", 0.1)
		m.RecordValidation("credited", 0.2)
		m.RecordCredit(6, 1_000_000_000)
		m.RecordDuplicateClaim("guard")
		m.SetActiveSignatureClaims(3)
		m.RecordHTTPRequest("/health", "GET", 200, 0.01)
	})
}

func TestRecordCredit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCredit(6, 1_000_000_000)
	m.RecordCredit(3, 500_000_000)

	assert.Equal(t, float64(9), testutil.ToFloat64(m.creditsAwardedTotal))
	assert.Equal(t, float64(1_500_000_000), testutil.ToFloat64(m.lamportsCreditedTotal))
}

func TestRecordSplitMismatchByPolicy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSplitMismatch("strict")
	m.RecordSplitMismatch("lenient")
	m.RecordSplitMismatch("lenient")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.splitMismatchesTotal.WithLabelValues("strict")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.splitMismatchesTotal.WithLabelValues("lenient")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := HTTPMetricsMiddleware(m, "/api/v1/payments/rate")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/rate", nil))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/payments/rate", "GET", "422")))
}

func TestMiddlewarePreservesFlusher(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	var flushed bool
	h := HTTPMetricsMiddleware(m, "/stream")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		f.Flush()
		flushed = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.True(t, flushed)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "409", statusCodeToString(409))
	assert.Equal(t, "418", statusCodeToString(418))
}
