package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.ObserveBranch("faq")
	m.ObserveBranch("faq")
	m.ObserveRetrievalTier("semantic")
	m.ObserveChurn("CRITICAL")
	m.ObserveRetention("CRITICAL", "appended")
	m.ObserveStoreError("conversation")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Branches.WithLabelValues("faq")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalTiers.WithLabelValues("semantic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChurnLevels.WithLabelValues("CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retention.WithLabelValues("CRITICAL", "appended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("conversation")))
}

func TestMetricsBackendOutcome(t *testing.T) {
	m := New()
	start := time.Now()

	m.ObserveBackend("llm", start, nil)
	m.ObserveBackend("llm", start, errors.New("timeout"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.BackendLatency))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBranch("faq")
		m.ObserveBackend("llm", time.Now(), nil)
		m.ObserveHTTP("/x", 200, time.Millisecond)
	})
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveHTTP("/api/v1/chat/messages", 200, 50*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fitcoach_http_requests_total{code="200",route="/api/v1/chat/messages"} 1`)
}
