package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Offered("character", 3)
	m.Offered("character", 0)
	m.Skipped(SkipNotApplicable)
	m.Skipped(SkipNotApplicable)
	m.Dispatched("succeeded", 20*time.Millisecond)
	m.Reloaded(true)
	m.Reloaded(false)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.offered.WithLabelValues("character")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skipped.WithLabelValues(SkipNotApplicable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatched.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("error")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.Offered("x", 1)
	m.Skipped("y")
	m.Dispatched("failed", time.Second)
	m.Reloaded(true)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Offered("story", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `plotline_suggestions_offered_total{topic="story"} 1`)
}
