package module

import (
	"time"
)

// NetworkMetrics tracks the networking substrate.
type NetworkMetrics interface {
	// MessageReceived is called for every inbound message accepted by the codec.
	MessageReceived(messageType string, sizeBytes int)
	// MessageSent is called for every outbound message.
	MessageSent(messageType string, sizeBytes int)
	// MessageDropped is called for every inbound message dropped, with the reason.
	MessageDropped(messageType string, reason string)
	// PeerPenalized is called for every misbehavior report applied to a peer.
	PeerPenalized(misbehavior string)
	// PeerDisallowListed is called when a peer crosses the disallow-listing threshold.
	PeerDisallowListed()
	// ConnectedPeers tracks the number of connected peers.
	ConnectedPeers(count int)
}

// StorageMetrics tracks the content store.
type StorageMetrics interface {
	ContentFetched(sizeBytes int, duration time.Duration)
	ContentUploaded(sizeBytes int, duration time.Duration)
	ContentFetchRetried()
	ContentFetchFailed()
}

// ClientMetrics tracks the client orchestrator.
type ClientMetrics interface {
	// NeedPublished is called each time a need is announced for a layer.
	NeedPublished(computeType string)
	// ProofReceived is called for every proof, labelled accepted, duplicate or violation.
	ProofReceived(outcome string)
	// ProofVerified is called when verification of a proof finishes.
	ProofVerified(ok bool, duration time.Duration)
	// ItemRequeued is called when an item goes back to pending.
	ItemRequeued(reason string)
	// JobProgress tracks completed and total items of a layer.
	JobProgress(computeType string, done int, total int)
	// JobCompleted is called once the final proof is verified.
	JobCompleted(duration time.Duration)
}

// ServerMetrics tracks the server worker.
type ServerMetrics interface {
	// NeedReceived is called for every compute need seen on the topic.
	NeedReceived(computeType string)
	// BidSkipped is called when a need is ignored, with the reason.
	BidSkipped(reason string)
	// ExecutionStarted is called when an item starts executing.
	ExecutionStarted(computeType string)
	// ExecutionFinished is called when an item finishes, successfully or not.
	ExecutionFinished(computeType string, success bool, duration time.Duration)
	// ExecutionCancelled is called when an item is abandoned.
	ExecutionCancelled(computeType string)
	// UpdatesSent is called for every update batch delivered to a client.
	UpdatesSent(count int)
	// QueueSize tracks the number of items waiting for a worker.
	QueueSize(size int)
}
