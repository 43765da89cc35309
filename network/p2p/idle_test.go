package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/stretchr/testify/assert"

	"github.com/wholesum/bazaar/utils/unittest"
)

type fakeConn struct {
	libp2pnet.Conn
	id      string
	remote  peer.ID
	streams []libp2pnet.Stream
}

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) RemotePeer() peer.ID { return c.remote }
func (c *fakeConn) GetStreams() []libp2pnet.Stream { return c.streams }

func TestIdleTracker(t *testing.T) {
	tracker := newIdleTracker(time.Minute)
	never := func(peer.ID) bool { return false }

	quiet := &fakeConn{id: "quiet", remote: unittest.PeerIDFixture(t)}
	busy := &fakeConn{id: "busy", remote: unittest.PeerIDFixture(t), streams: []libp2pnet.Stream{nil}}
	boot := &fakeConn{id: "boot", remote: unittest.PeerIDFixture(t)}
	protected := func(p peer.ID) bool { return p == boot.remote }
	conns := []libp2pnet.Conn{quiet, busy, boot}

	start := time.Now()
	assert.Empty(t, tracker.sweep(start, conns, protected))
	assert.Empty(t, tracker.sweep(start.Add(59*time.Second), conns, protected))
	assert.Equal(t, []libp2pnet.Conn{quiet}, tracker.sweep(start.Add(time.Minute), conns, protected))

	// a stream resets the idle period
	quiet.streams = []libp2pnet.Stream{nil}
	assert.Empty(t, tracker.sweep(start.Add(61*time.Second), conns, never))
	quiet.streams = nil
	assert.Empty(t, tracker.sweep(start.Add(62*time.Second), conns, never))
	idle := tracker.sweep(start.Add(122*time.Second), conns, never)
	assert.ElementsMatch(t, []libp2pnet.Conn{quiet, boot}, idle)

	// closed connections are forgotten
	assert.Empty(t, tracker.sweep(start.Add(200*time.Second), nil, never))
	assert.Empty(t, tracker.since)
}

// blockingRouting answers nothing until the query context ends.
type blockingRouting struct {
	routing.ContentRouting
}

func (blockingRouting) Provide(ctx context.Context, _ cid.Cid, _ bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingRouting) FindProvidersAsync(ctx context.Context, _ cid.Cid, _ int) <-chan peer.AddrInfo {
	found := make(chan peer.AddrInfo)
	go func() {
		defer close(found)
		<-ctx.Done()
	}()
	return found
}

func TestTimeoutRouting(t *testing.T) {
	r := newTimeoutRouting(blockingRouting{}, 50*time.Millisecond)
	c := unittest.CIDOf([]byte("topic"))

	unittest.RequireReturnsBefore(t, func() {
		err := r.Provide(context.Background(), c, true)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}, time.Second, "provide not bounded")

	found := r.FindProvidersAsync(context.Background(), c, 0)
	unittest.RequireReturnsBefore(t, func() {
		for range found {
		}
	}, time.Second, "provider lookup not bounded")
}
