package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"

	"github.com/wholesum/bazaar/network"
)

// DHTQueryTimeout bounds the bootstrap of the routing table and every
// provider record lookup or advertisement made for discovery.
const DHTQueryTimeout = 5 * time.Minute

// NewDHT creates the marketplace Kademlia DHT. Records are kept in an
// in-memory datastore.
func NewDHT(ctx context.Context, host host.Host, options ...dht.Option) (*dht.IpfsDHT, error) {
	allOptions := append(defaultDHTOptions(), options...)

	kdht, err := dht.New(ctx, host, allOptions...)
	if err != nil {
		return nil, fmt.Errorf("could not create kademlia dht: %w", err)
	}
	return kdht, nil
}

// AsServer forces the DHT mode. Left alone, the DHT switches between client
// and server depending on public reachability, which test networks and
// bootnodes never have.
func AsServer(enable bool) dht.Option {
	if enable {
		return dht.Mode(dht.ModeServer)
	}
	return dht.Mode(dht.ModeClient)
}

// WithBootstrapPeers seeds the routing table.
func WithBootstrapPeers(peers []peer.AddrInfo) dht.Option {
	return dht.BootstrapPeers(peers...)
}

func defaultDHTOptions() []dht.Option {
	return []dht.Option{
		dht.ProtocolPrefix(network.ProtocolPrefix),
		dht.V1ProtocolOverride(network.DHTProtocolID),
		dht.Datastore(dssync.MutexWrap(ds.NewMapDatastore())),
	}
}

// timeoutRouting bounds every content routing query with a timeout. Topic
// discovery looks up and advertises providers through it.
type timeoutRouting struct {
	routing.ContentRouting
	timeout time.Duration
}

func newTimeoutRouting(r routing.ContentRouting, timeout time.Duration) *timeoutRouting {
	return &timeoutRouting{ContentRouting: r, timeout: timeout}
}

func (r *timeoutRouting) Provide(ctx context.Context, c cid.Cid, announce bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.ContentRouting.Provide(ctx, c, announce)
}

func (r *timeoutRouting) FindProvidersAsync(ctx context.Context, c cid.Cid, count int) <-chan peer.AddrInfo {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	found := r.ContentRouting.FindProvidersAsync(ctx, c, count)
	out := make(chan peer.AddrInfo)
	go func() {
		defer cancel()
		defer close(out)
		for info := range found {
			select {
			case out <- info:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
