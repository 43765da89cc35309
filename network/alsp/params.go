package alsp

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/network"
)

// DefaultSpamRecordCacheSize is the number of peers whose penalties are
// tracked. The marketplace is open, so the least recently penalized peers are
// evicted once the cache is full.
const DefaultSpamRecordCacheSize = 10_000

// ProtocolSpamRecord is the penalty state of a single peer.
type ProtocolSpamRecord struct {
	// PeerID is the peer the record belongs to.
	PeerID peer.ID

	// Decay is added back to a negative penalty at each decay interval.
	Decay float64

	// CutoffCounter counts how many times the peer crossed the disallow-listing threshold.
	CutoffCounter uint64

	// Penalty is zero for well-behaved peers and negative otherwise.
	Penalty float64

	// DisallowListed is true while the peer is refused.
	DisallowListed bool
}

// RecordAdjustFunc mutates a spam record. An error aborts the adjustment.
type RecordAdjustFunc func(*ProtocolSpamRecord) (*ProtocolSpamRecord, error)

// SpamRecordFactoryFunc creates the initial record of a peer.
type SpamRecordFactoryFunc func(peer.ID) *ProtocolSpamRecord

// SpamRecordFactory returns a factory creating records with no penalty and
// the default decay.
func SpamRecordFactory() SpamRecordFactoryFunc {
	return func(id peer.ID) *ProtocolSpamRecord {
		return &ProtocolSpamRecord{
			PeerID:  id,
			Decay:   network.DefaultDecayValue,
			Penalty: 0,
		}
	}
}

// SpamRecordCache stores spam records by peer.
type SpamRecordCache interface {
	// AdjustWithInit applies adjust to the record of the peer, creating it first
	// if needed, and returns the penalty after the adjustment.
	AdjustWithInit(peer.ID, RecordAdjustFunc) (float64, error)

	// Get returns a copy of the record of the peer.
	Get(peer.ID) (*ProtocolSpamRecord, bool)

	// Peers returns the peers with a record.
	Peers() []peer.ID

	// Remove drops the record of the peer.
	Remove(peer.ID) bool

	// Size returns the number of records.
	Size() uint
}
