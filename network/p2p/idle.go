package p2p

import (
	"time"

	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
)

// IdleConnectionTimeout is how long a connection may stay without any open
// stream before it is closed.
const IdleConnectionTimeout = 60 * time.Second

// bootnodeProtectionTag keeps bootnode connections open while idle.
const bootnodeProtectionTag = "bootnode"

// idleTracker remembers since when each connection has had no open stream.
type idleTracker struct {
	timeout time.Duration
	since   map[string]time.Time
}

func newIdleTracker(timeout time.Duration) *idleTracker {
	return &idleTracker{
		timeout: timeout,
		since:   make(map[string]time.Time),
	}
}

// sweep returns the connections idle for at least the timeout. Connections
// with an open stream or to a protected peer are never idle.
func (t *idleTracker) sweep(now time.Time, conns []libp2pnet.Conn, protected func(peer.ID) bool) []libp2pnet.Conn {
	live := make(map[string]time.Time, len(conns))
	var idle []libp2pnet.Conn
	for _, c := range conns {
		if len(c.GetStreams()) > 0 || protected(c.RemotePeer()) {
			continue
		}
		since, ok := t.since[c.ID()]
		if !ok {
			since = now
		}
		live[c.ID()] = since
		if now.Sub(since) >= t.timeout {
			idle = append(idle, c)
		}
	}
	t.since = live
	return idle
}

// idleConnectionWorker closes connections that stayed without streams for the
// idle timeout. Gossip keeps a stream open to every full node peer, so these
// are mostly finished Kademlia and request/response exchanges.
func (n *Node) idleConnectionWorker(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	tracker := newIdleTracker(n.idleTimeout)
	ticker := time.NewTicker(n.idleTimeout / 4)
	defer ticker.Stop()
	protected := func(p peer.ID) bool {
		return n.host.ConnManager().IsProtected(p, "")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, c := range tracker.sweep(now, n.host.Network().Conns(), protected) {
				lg := n.logger.With().Str("peer_id", c.RemotePeer().String()).Logger()
				if err := c.Close(); err != nil {
					lg.Debug().Err(err).Msg("could not close idle connection")
					continue
				}
				lg.Debug().Msg("closed idle connection")
			}
		}
	}
}
