package client

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/network"
)

// processUpdates drains the update queue.
func (e *Engine) processUpdates(ctx context.Context) {
	for {
		msg, ok := e.updates.Get()
		if !ok {
			return
		}
		update := msg.Payload.(messages.Update)
		for _, u := range update {
			e.processUpdate(ctx, msg.OriginID, u)
		}
	}
}

func (e *Engine) processUpdate(ctx context.Context, from peer.ID, u messages.JobUpdate) {
	lg := e.log.With().Str("peer_id", from.String()).Str("item", u.Item.String()).Logger()
	if u.JobID != e.job.ID() {
		// servers replay updates of jobs this peer ran before a restart
		lg.Debug().Str("update_job_id", u.JobID).Msg("ignoring update for another job")
		return
	}

	switch status := u.Status.(type) {
	case messages.Running:
		if _, err := e.job.MarkRunning(u.Item, from, time.Now()); err != nil {
			e.onViolation(from, err)
			return
		}
		lg.Debug().Msg("item running")

	case messages.ExecutionFailed:
		reason := "unknown"
		if status.Reason != nil {
			reason = *status.Reason
		}
		if _, err := e.job.RecordFailure(u.Item, from, reason); err != nil {
			e.onViolation(from, err)
			return
		}
		e.metrics.ItemRequeued("execution_failed")
		e.changed = true
		lg.Info().Str("reason", reason).Msg("item execution failed, re-offering")

	case messages.ExecutionSucceeded:
		key := proofKey{item: u.Item.String(), cid: status.CID}
		if ok, _ := e.seen.ContainsOrAdd(key, struct{}{}); ok {
			e.metrics.ProofReceived(job.Duplicate.String())
			return
		}
		outcome, c, err := e.job.RecordProof(u.Item, status.CID, from)
		if err != nil {
			e.metrics.ProofReceived("violation")
			e.onViolation(from, err)
			return
		}
		e.metrics.ProofReceived(outcome.String())
		lg.Debug().Str("cid", status.CID).Str("outcome", outcome.String()).Msg("proof received")
		if outcome == job.Accepted {
			e.enqueueVerification(c)
		}
	}
}

func (e *Engine) onViolation(from peer.ID, err error) {
	if !job.IsProtocolViolationError(err) {
		e.log.Error().Err(err).Msg("unexpected error processing update")
		return
	}
	e.log.Warn().Err(err).Str("peer_id", from.String()).Msg("dropped update violating the protocol")
	e.penalize(from, network.ProtocolViolation)
}

// expireDeadlines re-offers items whose server went silent.
func (e *Engine) expireDeadlines(now time.Time) {
	for _, it := range e.job.ExpireDeadlines(now) {
		e.log.Info().Str("item", it.String()).Str("peer_id", it.Runner.String()).Msg("item deadline expired, re-offering")
		e.metrics.ItemRequeued("deadline")
		e.penalize(it.Runner, network.Unresponsive)
		e.changed = true
	}
}
