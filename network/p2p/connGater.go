package p2p

import (
	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
)

var _ connmgr.ConnectionGater = (*ConnGater)(nil)

// PeerFilter returns true when connections with the peer are allowed.
type PeerFilter func(peer.ID) bool

// DisallowListOracle tells whether a peer is currently refused.
type DisallowListOracle interface {
	IsDisallowListed(peer.ID) bool
}

// AllowAll is a PeerFilter accepting every peer.
func AllowAll(peer.ID) bool { return true }

// NotDisallowListed returns a PeerFilter refusing the peers the oracle disallow-lists.
func NotDisallowListed(oracle DisallowListOracle) PeerFilter {
	return func(id peer.ID) bool {
		return !oracle.IsDisallowListed(id)
	}
}

// ConnGater implements the libp2p connmgr.ConnectionGater interface. It gates
// connections by peer id only; addresses are never filtered.
type ConnGater struct {
	peerFilter PeerFilter
	log        zerolog.Logger
}

func NewConnGater(log zerolog.Logger, peerFilter PeerFilter) *ConnGater {
	return &ConnGater{
		log:        log.With().Str("component", "conn_gater").Logger(),
		peerFilter: peerFilter,
	}
}

// InterceptPeerDial allows or disallows outbound connections.
func (c *ConnGater) InterceptPeerDial(p peer.ID) bool {
	allowed := c.peerFilter(p)
	if !allowed {
		c.log.Debug().Str("peer_id", p.String()).Msg("refused to dial disallow-listed peer")
	}
	return allowed
}

func (c *ConnGater) InterceptAddrDial(peer.ID, multiaddr.Multiaddr) bool {
	return true
}

func (c *ConnGater) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured is called after the security handshake, once the remote
// peer id is known, and rejects inbound connections of refused peers.
func (c *ConnGater) InterceptSecured(dir network.Direction, p peer.ID, addr network.ConnMultiaddrs) bool {
	if dir != network.DirInbound {
		// outbound connections were gated by InterceptPeerDial
		return true
	}
	allowed := c.peerFilter(p)
	if !allowed {
		c.log.Info().
			Str("peer_id", p.String()).
			Str("local_address", addr.LocalMultiaddr().String()).
			Str("remote_address", addr.RemoteMultiaddr().String()).
			Msg("rejected inbound connection")
	}
	return allowed
}

func (c *ConnGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
