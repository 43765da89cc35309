package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wholesum/bazaar/module"
)

var _ module.StorageMetrics = (*StorageCollector)(nil)

type StorageCollector struct {
	fetchDuration  prometheus.Histogram
	uploadDuration prometheus.Histogram
	bytesFetched   prometheus.Counter
	bytesUploaded  prometheus.Counter
	fetchRetries   prometheus.Counter
	fetchFailures  prometheus.Counter
}

func NewStorageCollector(registerer prometheus.Registerer) *StorageCollector {
	factory := promauto.With(registerer)
	return &StorageCollector{
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemStorage,
			Name:      "fetch_duration_seconds",
			Help:      "time spent fetching content by cid",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		uploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemStorage,
			Name:      "upload_duration_seconds",
			Help:      "time spent uploading content",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		bytesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemStorage,
			Name:      "fetched_bytes_total",
			Help:      "number of bytes fetched",
		}),
		bytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemStorage,
			Name:      "uploaded_bytes_total",
			Help:      "number of bytes uploaded",
		}),
		fetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemStorage,
			Name:      "fetch_retries_total",
			Help:      "number of fetch attempts retried",
		}),
		fetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemStorage,
			Name:      "fetch_failures_total",
			Help:      "number of fetches that failed after all retries",
		}),
	}
}

func (sc *StorageCollector) ContentFetched(sizeBytes int, duration time.Duration) {
	sc.fetchDuration.Observe(duration.Seconds())
	sc.bytesFetched.Add(float64(sizeBytes))
}

func (sc *StorageCollector) ContentUploaded(sizeBytes int, duration time.Duration) {
	sc.uploadDuration.Observe(duration.Seconds())
	sc.bytesUploaded.Add(float64(sizeBytes))
}

func (sc *StorageCollector) ContentFetchRetried() {
	sc.fetchRetries.Inc()
}

func (sc *StorageCollector) ContentFetchFailed() {
	sc.fetchFailures.Inc()
}
