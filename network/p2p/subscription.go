package p2p

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/model/messages"
)

// GossipMessage is a need received on the marketplace topic.
type GossipMessage struct {
	// From is the peer that signed and published the need.
	From peer.ID
	// ReceivedFrom is the peer that relayed it to us.
	ReceivedFrom peer.ID
	Need         messages.Need
}

// Subscription delivers the validated needs published by other peers.
type Subscription struct {
	self peer.ID
	sub  *pubsub.Subscription
}

// Next blocks until the next need published by another peer arrives, the
// context is done or the subscription is cancelled.
func (s *Subscription) Next(ctx context.Context) (*GossipMessage, error) {
	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.GetFrom() == s.self {
			continue
		}
		need, ok := msg.ValidatorData.(messages.Need)
		if !ok {
			return nil, fmt.Errorf("gossip message from %s was not validated", msg.GetFrom())
		}
		return &GossipMessage{
			From:         msg.GetFrom(),
			ReceivedFrom: msg.ReceivedFrom,
			Need:         need,
		}, nil
	}
}

// Topic returns the topic the subscription belongs to.
func (s *Subscription) Topic() string {
	return s.sub.Topic()
}
