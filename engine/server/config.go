package server

import (
	"fmt"
	"time"

	"github.com/wholesum/bazaar/model/job"
)

const (
	// MaxBatchWindow bounds how long a finished item waits before it is
	// reported to its client.
	MaxBatchWindow = 2 * time.Second
	// MaxAbandonAfter bounds how long an item is kept executing once another
	// server is seen to have completed it.
	MaxAbandonAfter = 30 * time.Second
)

// Config configures the server engine.
type Config struct {
	// PriceFloor is the lowest budget a need must offer to be served.
	PriceFloor uint32
	// ComputeTypes are the layers this server executes.
	ComputeTypes []job.Kind
	// Workers is the number of items executed concurrently.
	Workers int
	// QueueSize bounds the items waiting for a worker. Needs arriving while
	// the queue is full are not bid on.
	QueueSize int
	// NeedQueueSize bounds the gossip needs waiting to be processed.
	NeedQueueSize int
	// BatchWindow is the period at which pending updates are sent.
	BatchWindow time.Duration
	// AbandonAfter is how long the bit of an executing item must be observed
	// set before the execution is cancelled.
	AbandonAfter time.Duration
	// RecentReportsClients bounds the number of clients whose latest reports are
	// kept for replay.
	RecentReportsClients int
	// RecentReportsPerClient bounds the reports kept per client.
	RecentReportsPerClient int
	// AttemptTTL is how long a finished item is not selected again, giving its
	// client time to verify it and publish its bit.
	AttemptTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		PriceFloor:             0,
		ComputeTypes:           []job.Kind{job.KindProveAndLift, job.KindJoin, job.KindGroth16},
		Workers:                1,
		QueueSize:              4,
		NeedQueueSize:          1000,
		BatchWindow:            MaxBatchWindow,
		AbandonAfter:           0,
		RecentReportsClients:   256,
		RecentReportsPerClient: 64,
		AttemptTTL:             5 * time.Minute,
	}
}

func (c Config) Validate() error {
	switch {
	case len(c.ComputeTypes) == 0:
		return fmt.Errorf("at least one compute type is required")
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive")
	case c.QueueSize < 0:
		return fmt.Errorf("queue size must not be negative")
	case c.NeedQueueSize <= 0:
		return fmt.Errorf("need queue size must be positive")
	case c.BatchWindow <= 0 || c.BatchWindow > MaxBatchWindow:
		return fmt.Errorf("batch window must be in (0, %s], got %s", MaxBatchWindow, c.BatchWindow)
	case c.AbandonAfter < 0 || c.AbandonAfter > MaxAbandonAfter:
		return fmt.Errorf("abandon-after must be in [0, %s], got %s", MaxAbandonAfter, c.AbandonAfter)
	case c.RecentReportsClients <= 0 || c.RecentReportsPerClient <= 0:
		return fmt.Errorf("recent report cache sizes must be positive")
	case c.AttemptTTL <= 0:
		return fmt.Errorf("attempt ttl must be positive")
	}
	return nil
}

func (c Config) supports(k job.Kind) bool {
	for _, t := range c.ComputeTypes {
		if t == k {
			return true
		}
	}
	return false
}
