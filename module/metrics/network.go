package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wholesum/bazaar/module"
)

var _ module.NetworkMetrics = (*NetworkCollector)(nil)

type NetworkCollector struct {
	inboundMessageSize  *prometheus.HistogramVec
	outboundMessageSize *prometheus.HistogramVec
	droppedMessages     *prometheus.CounterVec
	penalties           *prometheus.CounterVec
	disallowListed      prometheus.Counter
	connectedPeers      prometheus.Gauge
}

func NewNetworkCollector(registerer prometheus.Registerer) *NetworkCollector {
	factory := promauto.With(registerer)
	nc := &NetworkCollector{
		inboundMessageSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemNetwork,
			Name:      "inbound_message_size_bytes",
			Help:      "size of the inbound network message",
			Buckets:   []float64{64, 256, 1024, 4096, 16384, 65536},
		}, []string{LabelMessage}),
		outboundMessageSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemNetwork,
			Name:      "outbound_message_size_bytes",
			Help:      "size of the outbound network message",
			Buckets:   []float64{64, 256, 1024, 4096, 16384, 65536},
		}, []string{LabelMessage}),
		droppedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemNetwork,
			Name:      "dropped_messages_total",
			Help:      "number of inbound messages dropped",
		}, []string{LabelMessage, LabelReason}),
		penalties: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemAlsp,
			Name:      "misbehavior_reports_total",
			Help:      "number of misbehavior reports applied to peers",
		}, []string{LabelMisbehavior}),
		disallowListed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemAlsp,
			Name:      "disallow_listed_total",
			Help:      "number of times a peer crossed the disallow-listing threshold",
		}),
		connectedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceBazaar,
			Subsystem: subsystemNetwork,
			Name:      "connected_peers",
			Help:      "number of currently connected peers",
		}),
	}
	return nc
}

func (nc *NetworkCollector) MessageReceived(messageType string, sizeBytes int) {
	nc.inboundMessageSize.WithLabelValues(messageType).Observe(float64(sizeBytes))
}

func (nc *NetworkCollector) MessageSent(messageType string, sizeBytes int) {
	nc.outboundMessageSize.WithLabelValues(messageType).Observe(float64(sizeBytes))
}

func (nc *NetworkCollector) MessageDropped(messageType string, reason string) {
	nc.droppedMessages.WithLabelValues(messageType, reason).Inc()
}

func (nc *NetworkCollector) PeerPenalized(misbehavior string) {
	nc.penalties.WithLabelValues(misbehavior).Inc()
}

func (nc *NetworkCollector) PeerDisallowListed() {
	nc.disallowListed.Inc()
}

func (nc *NetworkCollector) ConnectedPeers(count int) {
	nc.connectedPeers.Set(float64(count))
}
