package server

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
)

// task is an item selected for local execution.
type task struct {
	key     claimKey
	details messages.ComputeType
}

func kindOf(t messages.ComputeType) (job.Kind, bool) {
	switch t.(type) {
	case messages.ProveAndLiftDetails:
		return job.KindProveAndLift, true
	case messages.JoinDetails:
		return job.KindJoin, true
	case messages.Groth16Details:
		return job.KindGroth16, true
	}
	return 0, false
}

// progressOf returns the progress map of the need and the number of items it
// covers. Groth16 needs carry no progress.
func progressOf(t messages.ComputeType) (job.Bitmap, uint32, error) {
	var (
		progress job.Bitmap
		n        uint32
	)
	switch d := t.(type) {
	case messages.ProveAndLiftDetails:
		progress, n = d.ProgressMap, d.NumSegments
	case messages.JoinDetails:
		progress, n = d.ProgressMap, d.NumPairs
	default:
		return nil, 0, nil
	}
	if err := progress.Validate(n); err != nil {
		return nil, 0, err
	}
	return progress, n, nil
}

// handleCompute decides whether to bid on a need and, if so, claims and
// schedules the lowest item not yet done.
func (e *Engine) handleCompute(ctx context.Context, from peer.ID, need messages.ComputeJob) {
	kind, ok := kindOf(need.Type)
	if !ok {
		return
	}
	e.metrics.NeedReceived(kind.String())
	lg := e.log.With().
		Str("peer_id", from.String()).
		Str("job_id", need.JobID).
		Str("kind", kind.String()).
		Logger()

	if need.Budget < e.cfg.PriceFloor {
		e.metrics.BidSkipped("price_floor")
		lg.Debug().Uint32("budget", need.Budget).Msg("need below price floor")
		return
	}
	if !e.cfg.supports(kind) {
		e.metrics.BidSkipped("unsupported_type")
		return
	}

	progress, n, err := progressOf(need.Type)
	if err != nil {
		e.metrics.BidSkipped("invalid")
		lg.Debug().Err(err).Msg("dropped need with invalid progress map")
		return
	}
	if progress != nil {
		cancelled := e.claims.observe(from, need.JobID, kind, progress.IsSet, time.Now(), e.cfg.AbandonAfter)
		for _, a := range cancelled {
			e.metrics.ExecutionCancelled(kind.String())
			lg.Info().Uint32("index", a.key.index).Msg("item completed elsewhere, abandoning")
		}
	}

	if e.claims.size() >= e.cfg.Workers+e.cfg.QueueSize {
		e.metrics.BidSkipped("queue_full")
		return
	}

	key := claimKey{client: from, jobID: need.JobID, kind: kind}
	if progress != nil {
		index, ok := progress.FirstUnset(n, func(i uint32) bool {
			key.index = i
			return e.claims.claimed(key)
		})
		if !ok {
			e.metrics.BidSkipped("nothing_to_do")
			return
		}
		key.index = index
	}

	taskCtx, cancel := context.WithCancel(ctx)
	a, ok := e.claims.claim(key, cancel)
	if !ok {
		cancel()
		e.metrics.BidSkipped("nothing_to_do")
		return
	}
	lg.Info().Uint32("index", key.index).Msg("claimed item")
	t := task{key: key, details: need.Type}
	e.pool.Submit(func() {
		e.execute(taskCtx, a, t)
	})
	e.metrics.QueueSize(e.pool.WaitingQueueSize())
}
