package client

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/storage/content"
)

// announce publishes a need for every layer with work left. Each call is a
// new round, so its needs never repeat the bytes of an earlier announcement.
func (e *Engine) announce(ctx context.Context) {
	if e.job.Done() {
		return
	}
	e.round++

	if details, ok := e.job.ProveNeed(); ok {
		e.publish(ctx, job.KindProveAndLift, details)
	}

	if pairs, progress, ok := e.job.JoinNeed(); ok {
		packed, err := e.packPairs(ctx, pairs)
		if err != nil {
			// the join layer is announced on the next heartbeat
			e.log.Warn().Err(err).Int("pairs", len(pairs)).Msg("could not upload pairs")
		} else {
			e.publish(ctx, job.KindJoin, messages.JoinDetails{
				NumPairs:    uint32(len(pairs)),
				Pairs:       packed,
				ProgressMap: progress,
			})
		}
	}

	if details, ok := e.job.Groth16Need(); ok {
		e.publish(ctx, job.KindGroth16, details)
	}

	for _, kind := range []job.Kind{job.KindProveAndLift, job.KindJoin, job.KindGroth16} {
		done, total := e.job.Progress(kind)
		e.metrics.JobProgress(kind.String(), done, total)
	}
}

func (e *Engine) publish(ctx context.Context, kind job.Kind, details messages.ComputeType) {
	need := messages.ComputeJob{
		JobID:  e.job.ID(),
		Type:   details,
		Budget: e.job.Spec().Budget,
		Round:  e.round,
	}
	if err := e.net.Publish(ctx, network.MarketplaceTopic, need); err != nil {
		e.log.Warn().Err(err).Str("compute_type", kind.String()).Msg("could not publish need")
		return
	}
	e.metrics.NeedPublished(kind.String())
	e.log.Debug().Str("compute_type", kind.String()).Msg("published need")
}

// packPairs ships small pair lists inline and uploads larger ones. The
// upload of a given list is reused by later heartbeats.
func (e *Engine) packPairs(ctx context.Context, pairs []messages.Pair) (messages.Pairs, error) {
	if e.packed != nil && e.packedLen == len(pairs) {
		return e.packed, nil
	}
	packed, err := content.PackPairs(ctx, e.store, pairs)
	if err != nil {
		return nil, err
	}
	e.packed = packed
	e.packedLen = len(pairs)
	return packed, nil
}

// requestReplay asks servers to resend the updates they hold for this
// client, which matters after a restart.
func (e *Engine) requestReplay(ctx context.Context) {
	if e.replayNonce == 0 {
		e.replayNonce = uint8(e.started.UnixNano())
	}
	e.replayNonce++
	if err := e.net.Publish(ctx, network.MarketplaceTopic, messages.UpdateMe(e.replayNonce)); err != nil {
		e.log.Warn().Err(err).Msg("could not publish update request")
	}
}

// onPeerJoined announces the needs to a server that just joined the topic.
// The replay request sent at startup usually precedes the mesh, so it is
// repeated once for the first server seen.
func (e *Engine) onPeerJoined(ctx context.Context, id peer.ID) {
	e.log.Debug().Str("peer_id", id.String()).Msg("server joined the marketplace")
	if !e.replayed {
		e.replayed = true
		e.requestReplay(ctx)
	}
	e.changed = true
}
