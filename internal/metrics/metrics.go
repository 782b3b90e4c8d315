// file: internal/metrics/metrics.go
// version: 2.0.0
// guid: 9f8e7d6c-5b4a-3210-9fed-cba876543210

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ebook_organizer"

var (
	registerOnce sync.Once

	operationStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_started_total",
		Help:      "Total number of queued operations started by type",
	}, []string{"type"})
	operationCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_completed_total",
		Help:      "Total number of queued operations successfully completed by type",
	}, []string{"type"})
	operationFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_failed_total",
		Help:      "Total number of queued operations failed by type",
	}, []string{"type"})
	operationCanceled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_canceled_total",
		Help:      "Total number of queued operations canceled by type",
	}, []string{"type"})
	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Histogram of operation durations in seconds by type",
		Buckets:   prometheus.ExponentialBuckets(0.05, 1.6, 10),
	}, []string{"type"})

	syncPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_passes_total",
		Help:      "Sync passes by provider and stop reason",
	}, []string{"provider", "reason"})
	syncItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_items_total",
		Help:      "Reconciled delta items by provider and sync log operation",
	}, []string{"provider", "operation"})
	syncRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_retries_total",
		Help:      "Transient provider failures retried with backoff",
	}, []string{"provider"})
	pageCommitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_page_commit_seconds",
		Help:      "Time to reconcile and commit one delta page",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"provider"})
	providerPaused = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "provider_paused",
		Help:      "1 when a provider is paused pending operator action",
	}, []string{"provider"})
	providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "HTTP requests to cloud providers by outcome",
	}, []string{"provider", "outcome"})
	enrichmentLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_lookups_total",
		Help:      "Metadata lookups by outcome (accepted, rejected, error, cached)",
	}, []string{"outcome"})

	recordsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Current number of live ebook records in the cache",
	})
	indexDocumentsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "search_index_documents",
		Help:      "Documents currently held by the search index",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(operationStarted, operationCompleted, operationFailed, operationCanceled, operationDuration,
			syncPasses, syncItems, syncRetries, pageCommitDuration, providerPaused, providerRequests, enrichmentLookups,
			recordsGauge, indexDocumentsGauge)
	})
}

// Operation lifecycle helpers
func IncOperationStarted(opType string)   { operationStarted.WithLabelValues(opType).Inc() }
func IncOperationCompleted(opType string) { operationCompleted.WithLabelValues(opType).Inc() }
func IncOperationFailed(opType string)    { operationFailed.WithLabelValues(opType).Inc() }
func IncOperationCanceled(opType string)  { operationCanceled.WithLabelValues(opType).Inc() }
func ObserveOperationDuration(opType string, d time.Duration) {
	operationDuration.WithLabelValues(opType).Observe(d.Seconds())
}

// Sync helpers
func IncSyncPass(provider, reason string) { syncPasses.WithLabelValues(provider, reason).Inc() }
func AddSyncItems(provider, operation string, n int) {
	if n > 0 {
		syncItems.WithLabelValues(provider, operation).Add(float64(n))
	}
}
func IncSyncRetry(provider string) { syncRetries.WithLabelValues(provider).Inc() }
func ObservePageCommit(provider string, d time.Duration) {
	pageCommitDuration.WithLabelValues(provider).Observe(d.Seconds())
}
func SetProviderPaused(provider string, paused bool) {
	v := 0.0
	if paused {
		v = 1
	}
	providerPaused.WithLabelValues(provider).Set(v)
}
func IncProviderRequest(provider, outcome string) {
	providerRequests.WithLabelValues(provider, outcome).Inc()
}
func IncEnrichmentLookup(outcome string) { enrichmentLookups.WithLabelValues(outcome).Inc() }

// Gauges
func SetRecords(n int)        { recordsGauge.Set(float64(n)) }
func SetIndexDocuments(n int) { indexDocumentsGauge.Set(float64(n)) }
