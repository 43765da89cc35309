package network

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

const (
	// ProtocolPrefix namespaces every protocol of the marketplace.
	ProtocolPrefix protocol.ID = "/wholesum"

	// IdentifyProtocolVersion is advertised by the identify handshake.
	IdentifyProtocolVersion = "/wholesum/identify/1.0"

	// DHTProtocolID is the Kademlia protocol of the marketplace network.
	DHTProtocolID protocol.ID = "/wholesum/kad/1.0"

	// ReqRespProtocolID is the request/response protocol used for job updates.
	ReqRespProtocolID protocol.ID = "/wholesum/req_resp/1.0"

	// MarketplaceTopic is the single gossip topic carrying needs.
	MarketplaceTopic = "<-- Compute Bazaar -->"

	// RendezvousNamespace is advertised on the DHT by full nodes so that peers
	// without a local network can still find each other.
	RendezvousNamespace = "wholesum/bazaar"
)

// Codec encodes and decodes wire messages.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// MisbehaviorReporter receives reports about peers whose messages were
// dropped by the job layer or the codec.
type MisbehaviorReporter interface {
	ReportMisbehavior(peer.ID, *MisbehaviorReport)
}

// NoopMisbehaviorReporter drops all reports.
type NoopMisbehaviorReporter struct{}

func (NoopMisbehaviorReporter) ReportMisbehavior(peer.ID, *MisbehaviorReport) {}

// DisallowListNotificationConsumer is notified when a peer crosses the
// disallow-listing threshold and again when its penalty has fully decayed.
type DisallowListNotificationConsumer interface {
	// OnDisallowListNotification is called once when the peer is disallow-listed.
	// Implementations must not block.
	OnDisallowListNotification(peer.ID)

	// OnAllowListNotification is called once when the peer is allowed again.
	OnAllowListNotification(peer.ID)
}
