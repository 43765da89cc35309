package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/config"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/network/codec/cbor"
)

const (
	// ConnectionGracePeriod keeps new connections from being pruned by the
	// connection manager. Idle connections are closed by the node itself.
	ConnectionGracePeriod = 60 * time.Second

	connManagerLowWater  = 100
	connManagerHighWater = 400

	bootstrapBackoff = time.Second
)

// DefaultListenAddrs listens on QUIC and falls back to TCP on all interfaces.
var DefaultListenAddrs = []string{
	"/ip4/0.0.0.0/udp/0/quic-v1",
	"/ip4/0.0.0.0/tcp/0",
}

// Personality selects the behaviours a node runs.
type Personality int

const (
	// FullNode runs identify, mdns, Kademlia and gossip.
	FullNode Personality = iota
	// Bootnode runs identify and a Kademlia server only.
	Bootnode
)

func (p Personality) String() string {
	switch p {
	case FullNode:
		return "full_node"
	case Bootnode:
		return "bootnode"
	default:
		return "invalid"
	}
}

// NodeBuilder configures and creates a Node.
type NodeBuilder struct {
	logger      zerolog.Logger
	key         crypto.PrivKey
	personality Personality
	listenAddrs []multiaddr.Multiaddr
	bootnodes   []peer.AddrInfo
	metrics     module.NetworkMetrics
	reporter    network.MisbehaviorReporter
	oracle      DisallowListOracle
	seenTTL     time.Duration
	idleTimeout time.Duration
	dhtServer   bool
	mdns        bool
	pubSubOpts  []PubsubOption
	dhtOpts     []dht.Option
}

// NewNodeBuilder returns a builder for a full node with mdns enabled.
func NewNodeBuilder(logger zerolog.Logger, key crypto.PrivKey) *NodeBuilder {
	return &NodeBuilder{
		logger:      logger,
		key:         key,
		personality: FullNode,
		metrics:     metrics.NewNoopCollector(),
		reporter:    network.NoopMisbehaviorReporter{},
		seenTTL:     DefaultSeenMessagesTTL,
		idleTimeout: IdleConnectionTimeout,
		mdns:        true,
	}
}

// NewBootnodeBuilder returns a builder for a bootnode: a Kademlia server
// without gossip or local discovery.
func NewBootnodeBuilder(logger zerolog.Logger, key crypto.PrivKey) *NodeBuilder {
	b := NewNodeBuilder(logger, key)
	b.personality = Bootnode
	b.dhtServer = true
	b.mdns = false
	return b
}

func (b *NodeBuilder) SetListenAddrs(addrs ...multiaddr.Multiaddr) *NodeBuilder {
	b.listenAddrs = addrs
	return b
}

func (b *NodeBuilder) SetBootnodes(peers ...peer.AddrInfo) *NodeBuilder {
	b.bootnodes = peers
	return b
}

func (b *NodeBuilder) SetMetrics(m module.NetworkMetrics) *NodeBuilder {
	b.metrics = m
	return b
}

// SetMisbehaviorReporter sets where undecodable gossip is reported.
func (b *NodeBuilder) SetMisbehaviorReporter(r network.MisbehaviorReporter) *NodeBuilder {
	b.reporter = r
	return b
}

// SetDisallowListOracle makes the connection gater refuse disallow-listed peers.
func (b *NodeBuilder) SetDisallowListOracle(o DisallowListOracle) *NodeBuilder {
	b.oracle = o
	return b
}

func (b *NodeBuilder) SetSeenMessagesTTL(ttl time.Duration) *NodeBuilder {
	b.seenTTL = ttl
	return b
}

// SetIdleConnectionTimeout sets how long a connection without streams is kept.
func (b *NodeBuilder) SetIdleConnectionTimeout(timeout time.Duration) *NodeBuilder {
	b.idleTimeout = timeout
	return b
}

// SetDHTServerMode forces the DHT into server mode.
func (b *NodeBuilder) SetDHTServerMode(enabled bool) *NodeBuilder {
	b.dhtServer = enabled
	return b
}

func (b *NodeBuilder) SetMDNS(enabled bool) *NodeBuilder {
	b.mdns = enabled
	return b
}

func (b *NodeBuilder) SetPubsubOptions(opts ...PubsubOption) *NodeBuilder {
	b.pubSubOpts = opts
	return b
}

func (b *NodeBuilder) SetDHTOptions(opts ...dht.Option) *NodeBuilder {
	b.dhtOpts = opts
	return b
}

// Build creates the host and its behaviours. Failures are SubstrateErrors.
func (b *NodeBuilder) Build() (*Node, error) {
	log := b.logger.With().Str("component", "libp2p").Str("personality", b.personality.String()).Logger()

	if b.idleTimeout <= 0 {
		return nil, network.NewSubstrateError(network.BehaviourInitFailed, fmt.Errorf("idle connection timeout must be positive, got %s", b.idleTimeout))
	}

	listenAddrs := b.listenAddrs
	if len(listenAddrs) == 0 {
		for _, s := range DefaultListenAddrs {
			listenAddrs = append(listenAddrs, multiaddr.StringCast(s))
		}
	}

	cm, err := connmgr.NewConnManager(connManagerLowWater, connManagerHighWater, connmgr.WithGracePeriod(ConnectionGracePeriod))
	if err != nil {
		return nil, network.NewSubstrateError(network.BehaviourInitFailed, fmt.Errorf("could not create connection manager: %w", err))
	}

	filter := AllowAll
	if b.oracle != nil {
		filter = NotDisallowListed(b.oracle)
	}

	opts := []config.Option{
		libp2p.Identity(b.key),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ProtocolVersion(network.IdentifyProtocolVersion),
		libp2p.ConnectionManager(cm),
		libp2p.ConnectionGater(NewConnGater(log, filter)),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, network.NewSubstrateError(network.TransportFailed, fmt.Errorf("could not create libp2p host: %w", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	node := &Node{
		host:      h,
		codec:     cbor.NewCodec(),
		logger:    log,
		metrics:   b.metrics,
		topics:    make(map[string]*pubsub.Topic),
		subs:      make(map[string]*pubsub.Subscription),
		events:    make(map[string][]*pubsub.TopicEventHandler),
		bootnodes: b.bootnodes,
		cancel:    cancel,

		idleTimeout: b.idleTimeout,
	}
	fail := func(kind network.SubstrateErrorKind, err error) (*Node, error) {
		cancel()
		_ = h.Close()
		return nil, network.NewSubstrateError(kind, err)
	}

	dhtOpts := append([]dht.Option{AsServer(b.dhtServer)}, b.dhtOpts...)
	if len(b.bootnodes) > 0 {
		dhtOpts = append(dhtOpts, WithBootstrapPeers(b.bootnodes))
	}
	node.dht, err = NewDHT(ctx, h, dhtOpts...)
	if err != nil {
		return fail(network.BehaviourInitFailed, err)
	}

	if b.personality == FullNode {
		node.validator = NewNeedValidator(log, node.codec, b.reporter, b.metrics)

		psOpts := append(DefaultPubsubOptions(cbor.MaxMessageSize, b.seenTTL), withDiscovery(drouting.NewRoutingDiscovery(newTimeoutRouting(node.dht, DHTQueryTimeout))))
		psOpts = append(psOpts, b.pubSubOpts...)
		var libp2pPSOptions []pubsub.Option
		for _, generate := range psOpts {
			option, err := generate(h)
			if err != nil {
				return fail(network.BehaviourInitFailed, fmt.Errorf("could not create pubsub option: %w", err))
			}
			libp2pPSOptions = append(libp2pPSOptions, option)
		}

		node.pubSub, err = pubsub.NewGossipSub(ctx, h, libp2pPSOptions...)
		if err != nil {
			return fail(network.BehaviourInitFailed, fmt.Errorf("could not create gossipsub: %w", err))
		}

		if b.mdns {
			node.mdns = newMDNSService(ctx, h, log)
		}
	}

	node.trackConnections()
	node.Component = component.NewComponentManagerBuilder().
		AddWorker(node.bootstrapWorker).
		AddWorker(node.idleConnectionWorker).
		Build()

	log.Info().
		Str("peer_id", h.ID().String()).
		Interface("addresses", h.Addrs()).
		Msg("libp2p node created")

	return node, nil
}
