package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BurnDetected("scheduled")
	m.BurnDetected("scheduled")
	m.BurnDetected("awaiting_approval")
	m.BurnExecuted()
	m.BurnFailed()
	m.PollFailed()
	m.SetQueues(2, 3)
	m.PayoutItem("raid", "paid", 500)
	m.PayoutItem("raid", "failed", 100)
	m.PayoutRun("completed")
	m.PostPublished(true)
	m.TickCompleted(time.Unix(1772366400, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.burnsDetected.WithLabelValues("scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.burnsExecuted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingGauge))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.scheduledGauge))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.payoutTokens), "failed items add no tokens")
	assert.Equal(t, 1772366400.0, testutil.ToFloat64(m.lastTick))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BurnDetected("scheduled")
		m.BurnExecuted()
		m.SetQueues(1, 1)
		m.PayoutItem("raid", "paid", 1)
		m.PostPublished(false)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.BurnExecuted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "listburn_burns_executed_total 1")
}
