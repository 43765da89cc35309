package server

import (
	"context"
	"fmt"
	"time"

	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/storage/content"
)

// execute runs a claimed item on the prover and reports the outcome to its
// client. Abandoned items are not reported.
func (e *Engine) execute(ctx context.Context, a *attempt, t task) {
	defer e.metrics.QueueSize(e.pool.WaitingQueueSize())
	lg := e.log.With().
		Str("peer_id", t.key.client.String()).
		Str("job_id", t.key.jobID).
		Str("kind", t.key.kind.String()).
		Uint32("index", t.key.index).
		Logger()

	if ctx.Err() != nil {
		e.claims.release(a, false)
		return
	}

	item, err := e.resolveItem(ctx, t)
	if err != nil {
		// without the item there is nothing the client could be told
		lg.Warn().Err(err).Msg("could not resolve item")
		e.claims.release(a, true)
		return
	}
	e.report(t, item, messages.Running{})

	start := time.Now()
	e.metrics.ExecutionStarted(t.key.kind.String())
	proofCID, err := e.run(ctx, t, item)
	duration := time.Since(start)

	switch {
	case a.abandoned.Load():
		lg.Info().Dur("duration", duration).Msg("execution abandoned")
		e.claims.release(a, true)
	case ctx.Err() != nil:
		lg.Debug().Msg("execution interrupted by shutdown")
		e.claims.release(a, false)
	case err != nil:
		lg.Warn().Err(err).Dur("duration", duration).Msg("execution failed")
		e.metrics.ExecutionFinished(t.key.kind.String(), false, duration)
		reason := truncate(err.Error(), messages.MaxReasonLength)
		e.report(t, item, messages.ExecutionFailed{Reason: &reason})
		e.claims.release(a, true)
	default:
		lg.Info().Str("cid", proofCID).Dur("duration", duration).Msg("execution succeeded")
		e.metrics.ExecutionFinished(t.key.kind.String(), true, duration)
		e.report(t, item, messages.ExecutionSucceeded{CID: proofCID})
		e.claims.release(a, true)
	}
}

func (e *Engine) report(t task, item messages.Item, status messages.JobStatus) {
	e.reporter.enqueue(t.key.client, messages.JobUpdate{JobID: t.key.jobID, Item: item, Status: status})
}

// resolveItem returns the item named in updates. Join items echo their pair,
// which may have to be fetched.
func (e *Engine) resolveItem(ctx context.Context, t task) (messages.Item, error) {
	switch d := t.details.(type) {
	case messages.ProveAndLiftDetails:
		return messages.ProveAndLiftItem(t.key.index), nil
	case messages.Groth16Details:
		return messages.Groth16Item{}, nil
	case messages.JoinDetails:
		pairs, err := content.ResolvePairs(ctx, e.store, d.Pairs)
		if err != nil {
			return nil, fmt.Errorf("could not resolve pairs: %w", err)
		}
		if int(t.key.index) >= len(pairs) {
			return nil, fmt.Errorf("pair %d announced but only %d pairs listed", t.key.index, len(pairs))
		}
		p := pairs[t.key.index]
		return messages.JoinItem{Left: p.Left, Right: p.Right}, nil
	}
	return nil, fmt.Errorf("unexpected compute type %T", t.details)
}

// run fetches the inputs of the item, proves it and uploads the proof.
func (e *Engine) run(ctx context.Context, t task, item messages.Item) (string, error) {
	var (
		proof []byte
		err   error
	)
	switch t.key.kind {
	case job.KindProveAndLift:
		d := t.details.(messages.ProveAndLiftDetails)
		var segment []byte
		segment, err = content.FetchPath(ctx, e.store, d.SegmentsBaseCID, d.SegmentPath(t.key.index))
		if err != nil {
			return "", fmt.Errorf("could not fetch segment: %w", err)
		}
		proof, err = e.prover.ProveAndLift(ctx, segment, d.Po2)

	case job.KindJoin:
		pair := item.(messages.JoinItem)
		left, ferr := e.store.Fetch(ctx, pair.Left)
		if ferr != nil {
			return "", fmt.Errorf("could not fetch left receipt: %w", ferr)
		}
		right, ferr := e.store.Fetch(ctx, pair.Right)
		if ferr != nil {
			return "", fmt.Errorf("could not fetch right receipt: %w", ferr)
		}
		proof, err = e.prover.Join(ctx, left, right)

	case job.KindGroth16:
		d := t.details.(messages.Groth16Details)
		succinct, ferr := e.store.Fetch(ctx, d.CID)
		if ferr != nil {
			return "", fmt.Errorf("could not fetch succinct receipt: %w", ferr)
		}
		proof, err = e.prover.Groth16(ctx, succinct)
	}
	if err != nil {
		return "", err
	}

	c, err := e.store.Upload(ctx, proof)
	if err != nil {
		return "", fmt.Errorf("could not upload proof: %w", err)
	}
	return c, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
