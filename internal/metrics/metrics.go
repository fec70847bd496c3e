// Package metrics provides Prometheus instrumentation for the scan pipeline.
// Every recording method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ScansTotal          *prometheus.CounterVec
	ScanDuration        prometheus.Histogram
	TierCandidates      *prometheus.CounterVec
	ListingPageFailures *prometheus.CounterVec
	AuthorityFailures   prometheus.Counter
	WhoisLookups        *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	PersistFailures     prometheus.Counter
	DomainsPersisted    *prometheus.CounterVec
}

// New registers all metrics on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "dropradar"
	}
	f := promauto.With(reg)

	return &Metrics{
		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Completed scans by outcome",
		}, []string{"outcome"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall time of a scan from first tier to ranking",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		TierCandidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "tier_candidates_total",
			Help:      "Candidates produced per source tier",
		}, []string{"tier"}),
		ListingPageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "page_failures_total",
			Help:      "Listing page fetches abandoned, by reason",
		}, []string{"reason"}),
		AuthorityFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "batch_failures_total",
			Help:      "Authority API batches that failed and defaulted to 0",
		}),
		WhoisLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "lookups_total",
			Help:      "Registry lookups by result",
		}, []string{"result"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notifications by sink and result",
		}, []string{"sink", "result"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "reconcile_failures_total",
			Help:      "Reconciliation transactions rolled back",
		}),
		DomainsPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "domains_total",
			Help:      "Domains written by reconciliation, by operation",
		}, []string{"op"}),
	}
}

func (m *Metrics) ScanFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
	m.ScanDuration.Observe(d.Seconds())
}

func (m *Metrics) TierProduced(tier string, n int) {
	if m == nil {
		return
	}
	m.TierCandidates.WithLabelValues(tier).Add(float64(n))
}

func (m *Metrics) ListingPageFailed(reason string) {
	if m == nil {
		return
	}
	m.ListingPageFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) AuthorityBatchFailed() {
	if m == nil {
		return
	}
	m.AuthorityFailures.Inc()
}

func (m *Metrics) WhoisLookup(result string) {
	if m == nil {
		return
	}
	m.WhoisLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) NotificationSent(sink string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.NotificationsSent.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) ReconcileFailed() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) Persisted(inserted, updated int) {
	if m == nil {
		return
	}
	m.DomainsPersisted.WithLabelValues("insert").Add(float64(inserted))
	m.DomainsPersisted.WithLabelValues("update").Add(float64(updated))
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
