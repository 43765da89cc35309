package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wholesum/bazaar/module"
)

var _ module.ServerMetrics = (*WorkerCollector)(nil)

// WorkerCollector collects the metrics of the server role.
type WorkerCollector struct {
	needsReceived     *prometheus.CounterVec
	bidsSkipped       *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	inFlight          *prometheus.GaugeVec
	cancelled         *prometheus.CounterVec
	updatesSent       prometheus.Counter
	queueSize         prometheus.Gauge
}

func NewWorkerCollector(registerer prometheus.Registerer) *WorkerCollector {
	factory := promauto.With(registerer)
	return &WorkerCollector{
		needsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemServer,
			Name:      "needs_received_total",
			Help:      "number of compute needs received",
		}, []string{LabelComputeType}),
		bidsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemServer,
			Name:      "bids_skipped_total",
			Help:      "number of needs ignored by reason",
		}, []string{LabelReason}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemServer,
			Name:      "executions_total",
			Help:      "number of finished executions by result",
		}, []string{LabelComputeType, LabelResult}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemServer,
			Name:      "execution_duration_seconds",
			Help:      "time spent executing an item",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{LabelComputeType}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemServer,
			Name:      "executions_in_flight",
			Help:      "number of items currently executing",
		}, []string{LabelComputeType}),
		cancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemServer,
			Name:      "executions_cancelled_total",
			Help:      "number of executions abandoned after another server won the item",
		}, []string{LabelComputeType}),
		updatesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemServer,
			Name:      "updates_sent_total",
			Help:      "number of job updates delivered to clients",
		}),
		queueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemServer,
			Name:      "queue_size",
			Help:      "number of items waiting for a prover worker",
		}),
	}
}

func (wc *WorkerCollector) NeedReceived(computeType string) {
	wc.needsReceived.WithLabelValues(computeType).Inc()
}

func (wc *WorkerCollector) BidSkipped(reason string) {
	wc.bidsSkipped.WithLabelValues(reason).Inc()
}

func (wc *WorkerCollector) ExecutionStarted(computeType string) {
	wc.inFlight.WithLabelValues(computeType).Inc()
}

func (wc *WorkerCollector) ExecutionFinished(computeType string, success bool, duration time.Duration) {
	wc.inFlight.WithLabelValues(computeType).Dec()
	wc.executions.WithLabelValues(computeType, resultLabel(success)).Inc()
	wc.executionDuration.WithLabelValues(computeType).Observe(duration.Seconds())
}

func (wc *WorkerCollector) ExecutionCancelled(computeType string) {
	wc.cancelled.WithLabelValues(computeType).Inc()
}

func (wc *WorkerCollector) UpdatesSent(count int) {
	wc.updatesSent.Add(float64(count))
}

func (wc *WorkerCollector) QueueSize(size int) {
	wc.queueSize.Set(float64(size))
}
