package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}

func TestRecordIngestUpdatesCounters(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.ingestChunksTotal.WithLabelValues("test-kind"))

	RecordIngest("test-kind", 3, 10*time.Millisecond)

	after := testutil.ToFloat64(m.ingestChunksTotal.WithLabelValues("test-kind"))
	assert.Equal(t, before+3, after)
}

func TestRecordSearchFailure(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.searchFailuresTotal.WithLabelValues("failing"))

	RecordSearch("failing", time.Millisecond, false)
	RecordSearch("failing", time.Millisecond, true)

	assert.Equal(t, before+1, testutil.ToFloat64(m.searchFailuresTotal.WithLabelValues("failing")))
}

func TestMetricsHandlerServesWorkflowMetrics(t *testing.T) {
	RecordWorkflowRun(true)
	RecordModelCall("mock", false)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workflow_runs_total")
	assert.Contains(t, rec.Body.String(), "model_calls_total")
}
