package unicast

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/model/messages"
)

const (
	// DefaultRequestTimeout bounds a whole request/response exchange.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultSendAttempts is the number of times a request is retried on
	// transport failures.
	DefaultSendAttempts = 3
)

// RequestHandler processes an inbound request from a peer. The returned
// response is written back on the same stream.
type RequestHandler func(ctx context.Context, from peer.ID, req messages.Request) (messages.Response, error)

// Sender delivers requests to peers.
type Sender interface {
	Send(ctx context.Context, to peer.ID, req messages.Request) (messages.Response, error)
}
