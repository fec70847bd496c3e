package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ScanFinished("success", time.Second)
		m.TierProduced("scraped", 3)
		m.ListingPageFailed("timeout")
		m.AuthorityBatchFailed()
		m.WhoisLookup("error")
		m.NotificationSent("telegram", true)
		m.ReconcileFailed()
		m.Persisted(1, 2)
	})
}

func TestRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")

	m.TierProduced("fallback_generated", 8)
	m.TierProduced("fallback_generated", 2)
	m.ScanFinished("empty", 3*time.Second)
	m.Persisted(4, 1)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.TierCandidates.WithLabelValues("fallback_generated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("empty")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DomainsPersisted.WithLabelValues("insert")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_scan_tier_candidates_total"))
}
