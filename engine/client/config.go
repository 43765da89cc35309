package client

import (
	"fmt"
	"time"
)

const (
	// MinHeartbeatInterval and MaxHeartbeatInterval bound how often needs are
	// re-announced on the marketplace topic.
	MinHeartbeatInterval = 30 * time.Second
	MaxHeartbeatInterval = 60 * time.Second
)

// Config configures the client engine.
type Config struct {
	// HeartbeatInterval is the period of need announcements, within
	// [MinHeartbeatInterval, MaxHeartbeatInterval].
	HeartbeatInterval time.Duration
	// AnnounceDelay is how long after a change of progress, or a new server on
	// the topic, the needs are announced ahead of the heartbeat. Changes within
	// the delay share one announcement.
	AnnounceDelay time.Duration
	// DeadlineCheckInterval is the period at which running items past their
	// deadline are re-offered.
	DeadlineCheckInterval time.Duration
	// UpdateQueueSize bounds the inbound updates waiting to be processed.
	UpdateQueueSize int
	// VerifyQueueSize bounds the proofs waiting to be verified.
	VerifyQueueSize int
	// VerifyWorkers is the number of proofs fetched and verified concurrently.
	VerifyWorkers int
	// ProofCacheSize bounds the cache used to process every reported proof once.
	ProofCacheSize int
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:     MinHeartbeatInterval,
		AnnounceDelay:         time.Second,
		DeadlineCheckInterval: 5 * time.Second,
		UpdateQueueSize:       1000,
		VerifyQueueSize:       1000,
		VerifyWorkers:         2,
		ProofCacheSize:        10_000,
	}
}

func (c Config) Validate() error {
	switch {
	case c.HeartbeatInterval < MinHeartbeatInterval || c.HeartbeatInterval > MaxHeartbeatInterval:
		return fmt.Errorf("heartbeat interval must be within [%s, %s], got %s", MinHeartbeatInterval, MaxHeartbeatInterval, c.HeartbeatInterval)
	case c.AnnounceDelay <= 0 || c.AnnounceDelay >= MinHeartbeatInterval:
		return fmt.Errorf("announce delay must be within (0, %s), got %s", MinHeartbeatInterval, c.AnnounceDelay)
	case c.DeadlineCheckInterval <= 0:
		return fmt.Errorf("deadline check interval must be positive")
	case c.UpdateQueueSize <= 0:
		return fmt.Errorf("update queue size must be positive")
	case c.VerifyQueueSize <= 0:
		return fmt.Errorf("verify queue size must be positive")
	case c.VerifyWorkers <= 0:
		return fmt.Errorf("verify workers must be positive")
	case c.ProofCacheSize <= 0:
		return fmt.Errorf("proof cache size must be positive")
	}
	return nil
}
