package p2p

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/rs/zerolog"
)

const mdnsConnectTimeout = 10 * time.Second

// mdnsNotifee connects to every peer found on the local network.
type mdnsNotifee struct {
	ctx  context.Context
	host host.Host
	log  zerolog.Logger
}

var _ mdns.Notifee = (*mdnsNotifee)(nil)

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, mdnsConnectTimeout)
		defer cancel()
		if err := n.host.Connect(ctx, info); err != nil {
			n.log.Debug().Err(err).Str("peer_id", info.ID.String()).Msg("could not connect to mdns peer")
			return
		}
		n.log.Debug().Str("peer_id", info.ID.String()).Msg("connected to mdns peer")
	}()
}

func newMDNSService(ctx context.Context, h host.Host, log zerolog.Logger) mdns.Service {
	return mdns.NewMdnsService(h, mdns.ServiceName, &mdnsNotifee{
		ctx:  ctx,
		host: h,
		log:  log.With().Str("component", "mdns").Logger(),
	})
}
