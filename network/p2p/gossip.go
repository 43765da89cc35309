package p2p

import (
	"context"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/rs/zerolog"

	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/network/codec"
)

const (
	// GossipHeartbeatInterval is the gossipsub mesh maintenance interval.
	GossipHeartbeatInterval = 10 * time.Second

	// DefaultSeenMessagesTTL is how long a message id is remembered at least.
	// Entries are swept lazily, so identical bytes may be dropped for longer;
	// re-announcements carry a new round and never collide.
	DefaultSeenMessagesTTL = 20 * time.Second
)

// MessageID identifies gossip messages by content: the sha2-256 multihash of
// their data. Identical needs published by the same client collapse into one.
func MessageID(pmsg *pb.Message) string {
	mh, err := multihash.Sum(pmsg.Data, multihash.SHA2_256, -1)
	if err != nil {
		// sha2-256 is always available
		panic(err)
	}
	return string(mh)
}

// PubsubOption generates a pubsub.Option from the host it is created for.
type PubsubOption func(host host.Host) (pubsub.Option, error)

func PubSubOptionWrapper(option pubsub.Option) PubsubOption {
	return func(host.Host) (pubsub.Option, error) {
		return option, nil
	}
}

// DefaultPubsubOptions returns the gossipsub configuration of the marketplace:
// every message is signed and signatures are required, ids are content
// hashes, the heartbeat runs every ten seconds.
func DefaultPubsubOptions(maxMessageSize int, seenTTL time.Duration) []PubsubOption {
	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInterval = GossipHeartbeatInterval

	return []PubsubOption{
		PubSubOptionWrapper(pubsub.WithMessageSignaturePolicy(pubsub.StrictSign)),
		PubSubOptionWrapper(pubsub.WithMessageIdFn(MessageID)),
		PubSubOptionWrapper(pubsub.WithSeenMessagesTTL(seenTTL)),
		PubSubOptionWrapper(pubsub.WithGossipSubParams(params)),
		PubSubOptionWrapper(pubsub.WithMaxMessageSize(maxMessageSize)),
	}
}

func withDiscovery(d discovery.Discovery) PubsubOption {
	return func(host.Host) (pubsub.Option, error) {
		return pubsub.WithDiscovery(d), nil
	}
}

// NeedValidator decodes gossip messages before they are delivered or
// forwarded. Messages that do not decode into a Need are rejected and the
// peer that relayed them is penalized.
type NeedValidator struct {
	log      zerolog.Logger
	codec    network.Codec
	reporter network.MisbehaviorReporter
	metrics  module.NetworkMetrics
}

func NewNeedValidator(log zerolog.Logger, c network.Codec, reporter network.MisbehaviorReporter, metrics module.NetworkMetrics) *NeedValidator {
	return &NeedValidator{
		log:      log.With().Str("component", "need_validator").Logger(),
		codec:    c,
		reporter: reporter,
		metrics:  metrics,
	}
}

// Validate implements pubsub.ValidatorEx. The decoded need is kept in the
// message ValidatorData for the subscriber.
func (v *NeedValidator) Validate(_ context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	decoded, err := v.codec.Decode(msg.Data)
	if err != nil {
		v.log.Debug().
			Err(err).
			Str("peer_id", from.String()).
			Str("kind", codec.DecodeErrorLabel(err)).
			Msg("rejected undecodable gossip message")
		v.metrics.MessageDropped(codec.CodeName(firstByte(msg.Data)), codec.DecodeErrorLabel(err))
		v.penalize(from, network.DecodeFailure)
		return pubsub.ValidationReject
	}

	need, ok := decoded.(messages.Need)
	if !ok {
		v.log.Warn().
			Str("peer_id", from.String()).
			Str("type", fmt.Sprintf("%T", decoded)).
			Msg("rejected non-need message on gossip topic")
		v.metrics.MessageDropped(codec.CodeName(firstByte(msg.Data)), "wrong_topic")
		v.penalize(from, network.ProtocolViolation)
		return pubsub.ValidationReject
	}

	v.metrics.MessageReceived(codec.CodeName(codec.CodeNeed), len(msg.Data))
	msg.ValidatorData = need
	return pubsub.ValidationAccept
}

func (v *NeedValidator) penalize(id peer.ID, reason network.Misbehavior) {
	report, err := network.NewMisbehaviorReport(reason)
	if err != nil {
		v.log.Error().Err(err).Msg("could not create misbehavior report")
		return
	}
	v.reporter.ReportMisbehavior(id, report)
}

func firstByte(data []byte) uint8 {
	if len(data) == 0 {
		return 0
	}
	return data[0]
}
