package server

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/atomic"

	"github.com/wholesum/bazaar/model/job"
)

// claimKey identifies an item of a client's job. Join items are identified by
// their position in the announced pair list, which only grows.
type claimKey struct {
	client peer.ID
	jobID  string
	kind   job.Kind
	index  uint32
}

// attempt is the local execution of a claimed item.
type attempt struct {
	key    claimKey
	cancel context.CancelFunc
	// doneSince is when another server was first seen to have completed the item.
	doneSince time.Time
	abandoned *atomic.Bool
}

// claims tracks the items executing or queued locally and the items recently
// finished, so that neither is selected again.
type claims struct {
	mu       sync.Mutex
	active   map[claimKey]*attempt
	finished *expirable.LRU[claimKey, struct{}]
}

func newClaims(size int, ttl time.Duration) *claims {
	return &claims{
		active:   make(map[claimKey]*attempt),
		finished: expirable.NewLRU[claimKey, struct{}](size, nil, ttl),
	}
}

// claimed returns whether the item is held locally or was recently finished.
func (c *claims) claimed(k claimKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[k]; ok {
		return true
	}
	return c.finished.Contains(k)
}

// claim records a new attempt unless the item is already claimed.
func (c *claims) claim(k claimKey, cancel context.CancelFunc) (*attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[k]; ok || c.finished.Contains(k) {
		return nil, false
	}
	a := &attempt{key: k, cancel: cancel, abandoned: atomic.NewBool(false)}
	c.active[k] = a
	return a, true
}

// release ends the attempt. A finished item is kept out of selection for the
// ttl of the cache.
func (c *claims) release(a *attempt, finished bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[a.key] == a {
		delete(c.active, a.key)
	}
	if finished {
		c.finished.Add(a.key, struct{}{})
	}
	a.cancel()
}

// observe looks at the progress of a client's job and cancels the attempts
// whose item has been seen completed for at least abandonAfter. It returns the
// cancelled attempts.
func (c *claims) observe(client peer.ID, jobID string, kind job.Kind, done func(uint32) bool, now time.Time, abandonAfter time.Duration) []*attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cancelled []*attempt
	for k, a := range c.active {
		if k.client != client || k.jobID != jobID || k.kind != kind || !done(k.index) {
			continue
		}
		if a.doneSince.IsZero() {
			a.doneSince = now
		}
		if now.Sub(a.doneSince) >= abandonAfter {
			a.abandoned.Store(true)
			a.cancel()
			delete(c.active, k)
			c.finished.Add(k, struct{}{})
			cancelled = append(cancelled, a)
		}
	}
	return cancelled
}

// size is the number of attempts queued or executing.
func (c *claims) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
