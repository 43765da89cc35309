package ratelimit

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/network/p2p"
)

var _ p2p.RateLimiter = (*NoopRateLimiter)(nil)

type NoopRateLimiter struct{}

func (n *NoopRateLimiter) Allow(peer.ID, int) bool {
	return true
}

func (n *NoopRateLimiter) IsRateLimited(peer.ID) bool {
	return false
}

func NewNoopRateLimiter() *NoopRateLimiter {
	return &NoopRateLimiter{}
}
