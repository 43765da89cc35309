package client

import (
	"context"
	"errors"
	"time"

	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/storage/content"
)

// enqueueVerification queues the candidate, ahead of candidates from less
// trusted servers.
func (e *Engine) enqueueVerification(c job.Candidate) {
	d := VerifyDetails{
		JobID:      e.job.ID(),
		ImageID:    e.job.Spec().ImageID,
		ReceiptCID: c.CID,
		Kind:       e.job.Item(c.Item).Kind,
		Candidate:  c,
	}
	if !e.verifyQueue.Push(d, e.scorer.Priority(c.Prover)) {
		// the item stays verifying without a verification running; put it
		// back so it is offered again
		e.log.Warn().Str("cid", c.CID).Msg("verification queue full, dropping proof")
		if next, ok, err := e.job.RejectProof(c, "verification queue full"); err == nil && ok {
			e.enqueueVerification(next)
		}
	}
}

func (e *Engine) verificationWorker(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.verifyQueue.Channel():
			d, ok := e.verifyQueue.Pop()
			if !ok {
				continue
			}
			res := e.verify(ctx, d)
			select {
			case e.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// verify fetches the receipt, retrying while storage catches up, and checks it
// against the image of the job.
func (e *Engine) verify(ctx context.Context, d VerifyDetails) verifyResult {
	start := time.Now()
	data, err := e.store.Fetch(ctx, d.ReceiptCID)
	if err == nil {
		err = e.verifier.Verify(ctx, data, d.ImageID)
	}
	return verifyResult{details: d, err: err, duration: time.Since(start)}
}

func (e *Engine) onVerified(ctx context.Context, res verifyResult) {
	c := res.details.Candidate
	lg := e.log.With().
		Str("cid", c.CID).
		Str("kind", res.details.Kind.String()).
		Str("peer_id", c.Prover.String()).
		Logger()

	if res.err != nil && errors.Is(res.err, context.Canceled) {
		return
	}
	e.metrics.ProofVerified(res.err == nil, res.duration)

	if res.err == nil {
		err := e.job.ConfirmProof(c)
		if errors.Is(err, job.ErrStaleProof) {
			lg.Debug().Msg("verified proof is no longer a candidate")
			return
		}
		if err != nil {
			lg.Error().Err(err).Msg("could not confirm proof")
			return
		}
		lg.Info().Dur("duration", res.duration).Msg("proof verified")
		e.persist(ctx)
		// the denser progress map lets servers drop work already done
		e.changed = true
		return
	}

	switch {
	case prover.IsVerificationError(res.err), content.IsStorageError(res.err):
		lg.Warn().Err(res.err).Msg("proof rejected")
		e.penalize(c.Prover, network.VerificationFailure)
	default:
		lg.Error().Err(res.err).Msg("could not verify proof")
	}

	next, ok, err := e.job.RejectProof(c, res.err.Error())
	if err != nil {
		lg.Debug().Err(err).Msg("rejected proof is no longer a candidate")
		return
	}
	e.metrics.ItemRequeued("verification_failed")
	e.changed = true
	if ok {
		e.enqueueVerification(next)
	}
}
