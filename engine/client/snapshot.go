package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-datastore"

	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
)

func (e *Engine) snapshotKey() datastore.Key {
	return datastore.NewKey("/snapshots").ChildString(e.job.ID())
}

// persist writes the verified proofs of the job to the snapshot store.
func (e *Engine) persist(ctx context.Context) {
	if e.snapshots == nil {
		return
	}
	data, err := messages.MarshalRequest(e.job.Snapshot())
	if err != nil {
		e.log.Error().Err(err).Msg("could not encode job snapshot")
		return
	}
	if err := e.snapshots.Put(ctx, e.snapshotKey(), data); err != nil {
		e.log.Warn().Err(err).Msg("could not persist job snapshot")
	}
}

// restore replays a snapshot written by a previous run of the same job.
func (e *Engine) restore(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}
	data, err := e.snapshots.Get(ctx, e.snapshotKey())
	if errors.Is(err, datastore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read snapshot: %w", err)
	}
	req, err := messages.UnmarshalRequest(data)
	if err != nil {
		return fmt.Errorf("could not decode snapshot: %w", err)
	}
	proofs, ok := req.(messages.Update)
	if !ok {
		return fmt.Errorf("unexpected snapshot type %T", req)
	}
	if err := e.job.Restore(proofs); err != nil {
		return err
	}
	for _, p := range proofs {
		if s, ok := p.Status.(messages.ExecutionSucceeded); ok {
			e.seen.Add(proofKey{item: p.Item.String(), cid: s.CID}, struct{}{})
		}
	}
	done, total := e.job.Progress(job.KindProveAndLift)
	e.log.Info().Int("proofs", len(proofs)).Int("segments_done", done).Int("segments", total).Msg("restored job snapshot")
	return nil
}
