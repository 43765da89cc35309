package utils

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"

	"github.com/wholesum/bazaar/network/p2p"
)

// DefaultLimiterCacheSize bounds the number of peers with a limiter. The
// least recently seen peer loses its limiter, and with it its lockout, first.
const DefaultLimiterCacheSize = 4096

var _ p2p.RateLimiter = (*RateLimiter)(nil)

type limiterEntry struct {
	limiter       *rate.Limiter
	lastRateLimit time.Time
}

// RateLimiter is a token bucket rate limiter per peer.
type RateLimiter struct {
	limiters *lru.Cache[peer.ID, *limiterEntry]
	// limit amount of messages allowed per second.
	limit rate.Limit
	// burst amount of messages allowed at one time.
	burst int
	now   p2p.GetTimeNow
	// lockout is how long a peer is reported rate limited after being refused.
	lockout time.Duration
}

type RateLimiterOpt func(*RateLimiter)

func WithGetTimeNowFunc(now p2p.GetTimeNow) RateLimiterOpt {
	return func(r *RateLimiter) {
		r.now = now
	}
}

func WithCacheSize(size int) RateLimiterOpt {
	return func(r *RateLimiter) {
		cache, err := lru.New[peer.ID, *limiterEntry](size)
		if err == nil {
			r.limiters = cache
		}
	}
}

// NewRateLimiter returns a new RateLimiter.
func NewRateLimiter(limit rate.Limit, burst int, lockout time.Duration, opts ...RateLimiterOpt) (*RateLimiter, error) {
	cache, err := lru.New[peer.ID, *limiterEntry](DefaultLimiterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create limiter cache: %w", err)
	}
	l := &RateLimiter{
		limiters: cache,
		limit:    limit,
		burst:    burst,
		now:      time.Now,
		lockout:  lockout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow takes one token from the bucket of the peer. The message size is
// ignored; streams are limited by count.
func (r *RateLimiter) Allow(peerID peer.ID, _ int) bool {
	entry := r.entry(peerID)
	now := r.now()
	if !entry.limiter.AllowN(now, 1) {
		entry.lastRateLimit = now
		return false
	}
	return true
}

// IsRateLimited returns true if the peer was refused within the lockout duration.
func (r *RateLimiter) IsRateLimited(peerID peer.ID) bool {
	entry, ok := r.limiters.Peek(peerID)
	if !ok || entry.lastRateLimit.IsZero() {
		return false
	}
	return r.now().Sub(entry.lastRateLimit) < r.lockout
}

func (r *RateLimiter) entry(peerID peer.ID) *limiterEntry {
	if entry, ok := r.limiters.Get(peerID); ok {
		return entry
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
	// a concurrent caller may have raced us; keep whichever was stored first
	if prev, ok, _ := r.limiters.PeekOrAdd(peerID, entry); ok {
		return prev
	}
	return entry
}
