package metrics

import (
	"time"

	"github.com/wholesum/bazaar/module"
)

var (
	_ module.NetworkMetrics = (*NoopCollector)(nil)
	_ module.StorageMetrics = (*NoopCollector)(nil)
	_ module.ClientMetrics  = (*NoopCollector)(nil)
	_ module.ServerMetrics  = (*NoopCollector)(nil)
)

type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	nc := &NoopCollector{}
	return nc
}

func (nc *NoopCollector) MessageReceived(string, int)                           {}
func (nc *NoopCollector) MessageSent(string, int)                               {}
func (nc *NoopCollector) MessageDropped(string, string)                         {}
func (nc *NoopCollector) PeerPenalized(string)                                  {}
func (nc *NoopCollector) PeerDisallowListed()                                   {}
func (nc *NoopCollector) ConnectedPeers(int)                                    {}
func (nc *NoopCollector) ContentFetched(int, time.Duration)                     {}
func (nc *NoopCollector) ContentUploaded(int, time.Duration)                    {}
func (nc *NoopCollector) ContentFetchRetried()                                  {}
func (nc *NoopCollector) ContentFetchFailed()                                   {}
func (nc *NoopCollector) NeedPublished(string)                                  {}
func (nc *NoopCollector) ProofReceived(string)                                  {}
func (nc *NoopCollector) ProofVerified(bool, time.Duration)                     {}
func (nc *NoopCollector) ItemRequeued(string)                                   {}
func (nc *NoopCollector) JobProgress(string, int, int)                          {}
func (nc *NoopCollector) JobCompleted(time.Duration)                            {}
func (nc *NoopCollector) NeedReceived(string)                                   {}
func (nc *NoopCollector) BidSkipped(string)                                     {}
func (nc *NoopCollector) ExecutionStarted(string)                               {}
func (nc *NoopCollector) ExecutionFinished(string, bool, time.Duration)         {}
func (nc *NoopCollector) ExecutionCancelled(string)                             {}
func (nc *NoopCollector) UpdatesSent(int)                                       {}
func (nc *NoopCollector) QueueSize(int)                                         {}
