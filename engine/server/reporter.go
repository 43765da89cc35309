package server

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/network/p2p/unicast"
)

// reporter batches the updates of each client and delivers them once per
// window. A batch carries every status an item went through within the
// window in order. The latest report per item is kept for replay on UpdateMe.
type reporter struct {
	log       zerolog.Logger
	sender    unicast.Sender
	metrics   module.ServerMetrics
	window    time.Duration
	perClient int

	mu      sync.Mutex
	pending map[peer.ID][]messages.JobUpdate
	recent  *lru.Cache[peer.ID, []messages.JobUpdate]
}

func newReporter(log zerolog.Logger, sender unicast.Sender, metrics module.ServerMetrics, cfg Config) (*reporter, error) {
	recent, err := lru.New[peer.ID, []messages.JobUpdate](cfg.RecentReportsClients)
	if err != nil {
		return nil, err
	}
	return &reporter{
		log:       log.With().Str("module", "reporter").Logger(),
		sender:    sender,
		metrics:   metrics,
		window:    cfg.BatchWindow,
		perClient: cfg.RecentReportsPerClient,
		pending:   make(map[peer.ID][]messages.JobUpdate),
		recent:    recent,
	}, nil
}

// enqueue schedules u for delivery to client in the next batch.
func (r *reporter) enqueue(client peer.ID, u messages.JobUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[client] = appendTransition(r.pending[client], u)

	recent, _ := r.recent.Get(client)
	r.recent.Add(client, latest(recent, u, r.perClient))
}

// replay schedules the latest reports held for client again. It returns the
// number of reports scheduled.
func (r *reporter) replay(client peer.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	recent, ok := r.recent.Get(client)
	if !ok {
		return 0
	}
	for _, u := range recent {
		r.pending[client] = appendTransition(r.pending[client], u)
	}
	return len(recent)
}

func sameItem(a, b messages.JobUpdate) bool {
	return a.JobID == b.JobID && a.Item.String() == b.Item.String()
}

// appendTransition appends u to a pending batch unless the last update about
// the same item already has the status of u, which u then replaces.
func appendTransition(updates []messages.JobUpdate, u messages.JobUpdate) []messages.JobUpdate {
	for i := len(updates) - 1; i >= 0; i-- {
		if !sameItem(updates[i], u) {
			continue
		}
		if messages.SameStatusKind(updates[i].Status, u.Status) {
			updates[i] = u
			return updates
		}
		break
	}
	return append(updates, u)
}

// latest replaces the update about the same item or appends u, dropping the
// oldest entries beyond limit when limit is positive.
func latest(updates []messages.JobUpdate, u messages.JobUpdate, limit int) []messages.JobUpdate {
	out := make([]messages.JobUpdate, 0, len(updates)+1)
	for _, existing := range updates {
		if sameItem(existing, u) {
			continue
		}
		out = append(out, existing)
	}
	out = append(out, u)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (r *reporter) loop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush sends every pending batch, one request per client.
func (r *reporter) flush(ctx context.Context) {
	r.mu.Lock()
	batches := r.pending
	r.pending = make(map[peer.ID][]messages.JobUpdate)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for client, updates := range batches {
		wg.Add(1)
		go func(client peer.ID, updates messages.Update) {
			defer wg.Done()
			lg := r.log.With().Str("peer_id", client.String()).Int("updates", len(updates)).Logger()
			resp, err := r.sender.Send(ctx, client, updates)
			if err != nil {
				// the client re-offers items it does not hear about
				lg.Warn().Err(err).Msg("could not deliver updates")
				return
			}
			if _, ok := resp.(messages.Unknown); !ok {
				lg.Debug().Msgf("unexpected response %T", resp)
			}
			r.metrics.UpdatesSent(len(updates))
			lg.Debug().Msg("updates delivered")
		}(client, updates)
	}
	wg.Wait()
}
