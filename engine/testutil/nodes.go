// Package testutil runs marketplace participants in process, connected over
// loopback libp2p hosts.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/engine/client"
	"github.com/wholesum/bazaar/engine/server"
	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/network/alsp/manager"
	"github.com/wholesum/bazaar/network/p2p"
	"github.com/wholesum/bazaar/network/p2p/unicast"
	"github.com/wholesum/bazaar/storage/content"
	"github.com/wholesum/bazaar/utils/unittest"
)

type startable interface {
	module.Startable
	module.ReadyDoneAware
}

// start runs c until the test ends.
func start(t *testing.T, c startable) {
	ctx, cancel := context.WithCancel(context.Background())
	signalerCtx, _ := irrecoverable.WithSignaler(ctx)
	c.Start(signalerCtx)
	unittest.RequireCloseBefore(t, c.Ready(), 5*time.Second, "component did not start")
	t.Cleanup(func() {
		cancel()
		unittest.RequireCloseBefore(t, c.Done(), 10*time.Second, "component did not stop")
	})
}

// AddrInfo returns the dialable address of n.
func AddrInfo(n *p2p.Node) peer.AddrInfo {
	return peer.AddrInfo{ID: n.ID(), Addrs: n.Host().Addrs()}
}

// NetworkNode is a started libp2p node with its peer scorer.
type NetworkNode struct {
	Node   *p2p.Node
	Scorer *manager.MisbehaviorReportManager
}

// StartNetworkNode starts a full node, or a bootnode, listening on loopback.
func StartNetworkNode(t *testing.T, bootnode bool, bootnodes ...peer.AddrInfo) *NetworkNode {
	scorer, err := manager.NewMisbehaviorReportManager(&manager.MisbehaviorReportManagerConfig{
		Logger:  unittest.Logger(),
		Metrics: metrics.NewNoopCollector(),
	})
	require.NoError(t, err)

	b := p2p.NewNodeBuilder(unittest.Logger(), unittest.NetworkingKeyFixture(t))
	if bootnode {
		b = p2p.NewBootnodeBuilder(unittest.Logger(), unittest.NetworkingKeyFixture(t))
	}
	node, err := b.
		SetListenAddrs(multiaddr.StringCast("/ip4/127.0.0.1/tcp/0")).
		SetDHTServerMode(true).
		SetMDNS(false).
		SetBootnodes(bootnodes...).
		SetMisbehaviorReporter(scorer).
		SetDisallowListOracle(scorer).
		Build()
	require.NoError(t, err)
	scorer.Subscribe(node)

	start(t, scorer)
	start(t, node)
	return &NetworkNode{Node: node, Scorer: scorer}
}

// ClientNode is a started client engine on its own network node.
type ClientNode struct {
	*NetworkNode
	Engine *client.Engine
}

// StartClient runs spec from a new node connected to bootnodes.
func StartClient(t *testing.T, spec job.Spec, cfg client.Config, store content.Store, verifier prover.Engine, bootnodes ...peer.AddrInfo) *ClientNode {
	n := StartNetworkNode(t, false, bootnodes...)
	e, err := client.New(unittest.Logger(), cfg, spec, n.Node, n.Scorer, store, verifier, metrics.NewNoopCollector())
	require.NoError(t, err)
	svc := unicast.NewService(unittest.Logger(), n.Node.Host(), unicast.WithHandler(e.HandleRequest), unicast.WithMisbehaviorReporter(n.Scorer))
	t.Cleanup(svc.Close)
	start(t, e)
	return &ClientNode{NetworkNode: n, Engine: e}
}

// ServerNode is a started server engine on its own network node.
type ServerNode struct {
	*NetworkNode
	Engine *server.Engine
}

// StartServer serves the marketplace from a new node connected to bootnodes.
func StartServer(t *testing.T, cfg server.Config, store content.Store, executor prover.Engine, bootnodes ...peer.AddrInfo) *ServerNode {
	n := StartNetworkNode(t, false, bootnodes...)
	sub, err := n.Node.Subscribe(network.MarketplaceTopic)
	require.NoError(t, err)
	svc := unicast.NewService(unittest.Logger(), n.Node.Host(), unicast.WithMisbehaviorReporter(n.Scorer))
	t.Cleanup(svc.Close)
	e, err := server.New(unittest.Logger(), cfg, svc, store, executor, metrics.NewNoopCollector(), server.WithNeedSource(sub))
	require.NoError(t, err)
	start(t, e)
	return &ServerNode{NetworkNode: n, Engine: e}
}
