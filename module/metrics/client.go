package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wholesum/bazaar/module"
)

var _ module.ClientMetrics = (*ClientCollector)(nil)

type ClientCollector struct {
	needsPublished     *prometheus.CounterVec
	proofsReceived     *prometheus.CounterVec
	verifications      *prometheus.CounterVec
	verifyDuration     prometheus.Histogram
	requeued           *prometheus.CounterVec
	itemsDone          *prometheus.GaugeVec
	itemsTotal         *prometheus.GaugeVec
	jobCompletionTimes prometheus.Histogram
}

func NewClientCollector(registerer prometheus.Registerer) *ClientCollector {
	factory := promauto.With(registerer)
	return &ClientCollector{
		needsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemClient,
			Name:      "needs_published_total",
			Help:      "number of compute needs published",
		}, []string{LabelComputeType}),
		proofsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemClient,
			Name:      "proofs_received_total",
			Help:      "number of proofs received by outcome",
		}, []string{LabelOutcome}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemClient,
			Name:      "verifications_total",
			Help:      "number of proof verifications by result",
		}, []string{LabelResult}),
		verifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemClient,
			Name:      "verification_duration_seconds",
			Help:      "time spent fetching and verifying a proof",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		requeued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemClient,
			Name:      "items_requeued_total",
			Help:      "number of items put back to pending",
		}, []string{LabelReason}),
		itemsDone: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemClient,
			Name:      "items_done",
			Help:      "number of verified items per layer",
		}, []string{LabelComputeType}),
		itemsTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemClient,
			Name:      "items_total",
			Help:      "number of known items per layer",
		}, []string{LabelComputeType}),
		jobCompletionTimes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemClient,
			Name:      "job_duration_seconds",
			Help:      "time from first announcement to verified final proof",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}),
	}
}

func (cc *ClientCollector) NeedPublished(computeType string) {
	cc.needsPublished.WithLabelValues(computeType).Inc()
}

func (cc *ClientCollector) ProofReceived(outcome string) {
	cc.proofsReceived.WithLabelValues(outcome).Inc()
}

func (cc *ClientCollector) ProofVerified(ok bool, duration time.Duration) {
	cc.verifications.WithLabelValues(resultLabel(ok)).Inc()
	cc.verifyDuration.Observe(duration.Seconds())
}

func (cc *ClientCollector) ItemRequeued(reason string) {
	cc.requeued.WithLabelValues(reason).Inc()
}

func (cc *ClientCollector) JobProgress(computeType string, done int, total int) {
	cc.itemsDone.WithLabelValues(computeType).Set(float64(done))
	cc.itemsTotal.WithLabelValues(computeType).Set(float64(total))
}

func (cc *ClientCollector) JobCompleted(duration time.Duration) {
	cc.jobCompletionTimes.Observe(duration.Seconds())
}
