// Package p2p encapsulates the libp2p library.
package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/network"
)

// Node is a wrapper around the libp2p host. Full nodes run gossip and the
// request/response protocol; bootnodes only run identify and Kademlia.
type Node struct {
	component.Component

	mu        sync.Mutex
	host      host.Host
	dht       *dht.IpfsDHT
	pubSub    *pubsub.PubSub
	mdns      mdns.Service
	codec     network.Codec
	validator *NeedValidator
	logger    zerolog.Logger
	metrics   module.NetworkMetrics
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	events    map[string][]*pubsub.TopicEventHandler
	bootnodes []peer.AddrInfo

	idleTimeout time.Duration

	// cancel stops the background routines of pubsub and the dht.
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

var _ network.DisallowListNotificationConsumer = (*Node)(nil)

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host {
	return n.host
}

// ID returns the peer id of the node.
func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// IsBootnode returns true for nodes without gossip.
func (n *Node) IsBootnode() bool {
	return n.pubSub == nil
}

// bootstrapWorker connects to the bootnodes, bootstraps the routing table and
// starts local discovery. The node shuts down when the context is cancelled.
func (n *Node) bootstrapWorker(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	if err := n.Bootstrap(ctx); err != nil {
		// a node alone on the network keeps waiting for peers
		n.logger.Warn().Err(err).Msg("bootstrap incomplete")
	}
	if n.mdns != nil {
		if err := n.mdns.Start(); err != nil {
			ctx.Throw(network.NewSubstrateError(network.BehaviourInitFailed, fmt.Errorf("could not start mdns: %w", err)))
		}
	}
	ready()

	<-ctx.Done()
	if err := n.Stop(); err != nil {
		n.logger.Error().Err(err).Msg("error while stopping libp2p node")
	}
}

// Bootstrap dials the configured bootnodes, retrying with backoff, and then
// refreshes the Kademlia routing table.
func (n *Node) Bootstrap(ctx context.Context) error {
	var result error
	for _, info := range n.bootnodes {
		info := info
		backoff := retry.WithMaxRetries(5, retry.WithCappedDuration(DHTQueryTimeout, retry.NewExponential(bootstrapBackoff)))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := n.Connect(ctx, info); err != nil {
				n.logger.Debug().Err(err).Str("peer_id", info.ID.String()).Msg("bootnode dial failed, retrying")
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("could not connect to bootnode %s: %w", info.ID, err))
			continue
		}
		n.host.ConnManager().Protect(info.ID, bootnodeProtectionTag)
		n.logger.Info().Str("peer_id", info.ID.String()).Msg("connected to bootnode")
	}

	if n.dht != nil {
		qctx, cancel := context.WithTimeout(ctx, DHTQueryTimeout)
		defer cancel()
		if err := n.dht.Bootstrap(qctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not bootstrap dht: %w", err))
		}
	}
	return result
}

// Connect dials the peer if not connected already.
func (n *Node) Connect(ctx context.Context, info peer.AddrInfo) error {
	if err := n.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("could not connect to %s: %w", info.ID, err)
	}
	return nil
}

// Subscribe joins the topic and subscribes to it. Inbound messages are
// validated as needs before delivery.
func (n *Node) Subscribe(topic string) (*Subscription, error) {
	if n.pubSub == nil {
		return nil, network.NewSubstrateError(network.SubscribeFailed, fmt.Errorf("bootnodes do not run gossip"))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[topic]; ok {
		return nil, network.NewSubstrateError(network.SubscribeFailed, fmt.Errorf("already subscribed to topic %q", topic))
	}

	tp, err := n.joinLocked(topic)
	if err != nil {
		return nil, err
	}

	s, err := tp.Subscribe()
	if err != nil {
		return nil, network.NewSubstrateError(network.SubscribeFailed, fmt.Errorf("could not subscribe to topic %q: %w", topic, err))
	}
	n.subs[topic] = s

	n.logger.Debug().Str("topic", topic).Msg("subscribed to topic")
	return &Subscription{self: n.host.ID(), sub: s}, nil
}

func (n *Node) joinLocked(topic string) (*pubsub.Topic, error) {
	if tp, ok := n.topics[topic]; ok {
		return tp, nil
	}
	if err := n.pubSub.RegisterTopicValidator(topic, n.validator.Validate); err != nil {
		return nil, network.NewSubstrateError(network.SubscribeFailed, fmt.Errorf("could not register validator for topic %q: %w", topic, err))
	}
	tp, err := n.pubSub.Join(topic)
	if err != nil {
		return nil, network.NewSubstrateError(network.SubscribeFailed, fmt.Errorf("could not join topic %q: %w", topic, err))
	}
	n.topics[topic] = tp
	return tp, nil
}

// PeerJoins delivers the peers subscribed to the topic, starting with those
// already known. The channel is closed once ctx is done. Joins arriving while
// the consumer lags are dropped.
func (n *Node) PeerJoins(ctx context.Context, topic string) (<-chan peer.ID, error) {
	if n.pubSub == nil {
		return nil, network.NewSubstrateError(network.SubscribeFailed, fmt.Errorf("bootnodes do not run gossip"))
	}

	n.mu.Lock()
	tp, err := n.joinLocked(topic)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	h, err := tp.EventHandler()
	if err != nil {
		n.mu.Unlock()
		return nil, network.NewSubstrateError(network.SubscribeFailed, fmt.Errorf("could not watch peers of topic %q: %w", topic, err))
	}
	n.events[topic] = append(n.events[topic], h)
	n.mu.Unlock()

	joins := make(chan peer.ID, 16)
	go func() {
		defer close(joins)
		for {
			ev, err := h.NextPeerEvent(ctx)
			if err != nil {
				h.Cancel()
				return
			}
			if ev.Type != pubsub.PeerJoin {
				continue
			}
			select {
			case joins <- ev.Peer:
			default:
			}
		}
	}()
	return joins, nil
}

// Unsubscribe cancels the subscription and leaves the topic.
func (n *Node) Unsubscribe(topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unsubscribeLocked(topic)
}

func (n *Node) unsubscribeLocked(topic string) error {
	if s, ok := n.subs[topic]; ok {
		s.Cancel()
		delete(n.subs, topic)
	}
	// a topic with live event handlers cannot be closed
	for _, h := range n.events[topic] {
		h.Cancel()
	}
	delete(n.events, topic)

	tp, ok := n.topics[topic]
	if !ok {
		return fmt.Errorf("could not find topic %q", topic)
	}
	if err := tp.Close(); err != nil {
		return fmt.Errorf("could not close topic %q: %w", topic, err)
	}
	delete(n.topics, topic)
	if err := n.pubSub.UnregisterTopicValidator(topic); err != nil {
		return fmt.Errorf("could not unregister validator of topic %q: %w", topic, err)
	}

	n.logger.Debug().Str("topic", topic).Msg("unsubscribed from topic")
	return nil
}

// Publish encodes the message and publishes it on the topic, joining the
// topic first if needed.
func (n *Node) Publish(ctx context.Context, topic string, msg interface{}) error {
	if n.pubSub == nil {
		return fmt.Errorf("bootnodes do not run gossip")
	}
	data, err := n.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("could not encode message for topic %q: %w", topic, err)
	}

	n.mu.Lock()
	tp, err := n.joinLocked(topic)
	n.mu.Unlock()
	if err != nil {
		return err
	}

	if err := tp.Publish(ctx, data); err != nil {
		return fmt.Errorf("could not publish to topic %q: %w", topic, err)
	}
	n.metrics.MessageSent(fmt.Sprintf("%T", msg), len(data))
	return nil
}

// SetStreamHandler registers the handler of a stream protocol.
func (n *Node) SetStreamHandler(pid protocol.ID, handler libp2pnet.StreamHandler) {
	n.host.SetStreamHandler(pid, handler)
}

// OpenStream opens a stream to the peer, dialing it first if needed.
func (n *Node) OpenStream(ctx context.Context, id peer.ID, pid protocol.ID) (libp2pnet.Stream, error) {
	s, err := n.host.NewStream(ctx, id, pid)
	if err != nil {
		return nil, fmt.Errorf("could not open stream to %s: %w", id, err)
	}
	return s, nil
}

// OnDisallowListNotification closes all connections with the peer. The
// connection gater refuses new ones until the peer is allowed again.
func (n *Node) OnDisallowListNotification(id peer.ID) {
	go func() {
		if err := n.host.Network().ClosePeer(id); err != nil {
			n.logger.Error().Err(err).Str("peer_id", id.String()).Msg("could not disconnect disallow-listed peer")
			return
		}
		n.logger.Info().Str("peer_id", id.String()).Msg("disconnected disallow-listed peer")
	}()
}

func (n *Node) OnAllowListNotification(id peer.ID) {
	n.logger.Info().Str("peer_id", id.String()).Msg("peer allowed to connect again")
}

// Stop leaves all topics and closes the routing table and the host. It is
// idempotent.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		n.stopErr = n.stop()
	})
	return n.stopErr
}

func (n *Node) stop() error {
	var result error

	n.mu.Lock()
	for t := range n.topics {
		if err := n.unsubscribeLocked(t); err != nil {
			result = multierror.Append(result, err)
		}
	}
	n.mu.Unlock()

	if n.mdns != nil {
		if err := n.mdns.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not close mdns: %w", err))
		}
	}
	if n.dht != nil {
		if err := n.dht.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not close dht: %w", err))
		}
	}
	n.cancel()

	if err := n.host.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not close host: %w", err))
	}

	n.logger.Debug().Msg("libp2p node stopped")
	return result
}

func (n *Node) trackConnections() {
	update := func(net libp2pnet.Network, _ libp2pnet.Conn) {
		n.metrics.ConnectedPeers(len(net.Peers()))
	}
	n.host.Network().Notify(&libp2pnet.NotifyBundle{
		ConnectedF:    update,
		DisconnectedF: update,
	})
}
