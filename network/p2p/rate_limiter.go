package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// RateLimiter limits inbound traffic per peer.
type RateLimiter interface {
	// Allow returns true if a message of the given size from the peer should be processed.
	Allow(peerID peer.ID, msgSize int) bool

	// IsRateLimited returns true if the peer was rate limited recently.
	IsRateLimited(peerID peer.ID) bool
}

// GetTimeNow returns the current time. Tests override it to control the clock.
type GetTimeNow func() time.Time
