// Package server implements the server side of the marketplace: it watches
// the needs published by clients, bids on items it can execute, runs the
// prover on them and reports the results back to their clients.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammazero/workerpool"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/wholesum/bazaar/engine"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/network/p2p"
	"github.com/wholesum/bazaar/network/p2p/unicast"
	"github.com/wholesum/bazaar/storage/content"
)

// NeedSource delivers the needs received on the marketplace topic.
type NeedSource interface {
	Next(ctx context.Context) (*p2p.GossipMessage, error)
}

var _ NeedSource = (*p2p.Subscription)(nil)

// Engine serves the needs of every client on the marketplace.
type Engine struct {
	component.Component

	log     zerolog.Logger
	cfg     Config
	sender  unicast.Sender
	store   content.Store
	prover  prover.Engine
	metrics module.ServerMetrics
	source  NeedSource

	handler  *engine.MessageHandler
	needs    *engine.FifoMessageStore
	pool     *workerpool.WorkerPool
	claims   *claims
	reporter *reporter
}

// Option configures optional features of the engine.
type Option func(*Engine)

// WithNeedSource makes the engine consume needs from src in addition to the
// ones passed to HandleNeed.
func WithNeedSource(src NeedSource) Option {
	return func(e *Engine) {
		e.source = src
	}
}

func New(
	log zerolog.Logger,
	cfg Config,
	sender unicast.Sender,
	store content.Store,
	executor prover.Engine,
	metrics module.ServerMetrics,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	needs, err := engine.NewFifoMessageStore(cfg.NeedQueueSize)
	if err != nil {
		return nil, fmt.Errorf("could not create need queue: %w", err)
	}

	e := &Engine{
		log:     log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		sender:  sender,
		store:   store,
		prover:  executor,
		metrics: metrics,
		needs:   needs,
		claims:  newClaims(cfg.RecentReportsClients*cfg.RecentReportsPerClient, cfg.AttemptTTL),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.reporter, err = newReporter(e.log, sender, metrics, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create reporter: %w", err)
	}
	e.handler = engine.NewMessageHandler(e.log, engine.NewNotifier(), engine.Pattern{
		Match: func(msg *engine.Message) bool {
			switch msg.Payload.(type) {
			case messages.ComputeJob, messages.UpdateMe:
				return true
			}
			return false
		},
		Store: needs,
	})

	builder := component.NewComponentManagerBuilder().
		AddWorker(e.processingLoop).
		AddWorker(e.reporter.loop)
	if e.source != nil {
		builder.AddWorker(e.gossipLoop)
	}
	e.Component = builder.Build()
	return e, nil
}

// HandleNeed queues a need published by a client.
func (e *Engine) HandleNeed(from peer.ID, need messages.Need) error {
	return e.handler.Process(from, need)
}

func (e *Engine) gossipLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for {
		msg, err := e.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ctx.Throw(fmt.Errorf("marketplace subscription failed: %w", err))
			return
		}
		if err := e.HandleNeed(msg.From, msg.Need); err != nil {
			if errors.Is(err, engine.ErrQueueFull) {
				e.metrics.BidSkipped("need_queue_full")
			}
			e.log.Debug().Err(err).Str("peer_id", msg.From.String()).Msg("dropped need")
		}
	}
}

func (e *Engine) processingLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	e.pool = workerpool.New(e.cfg.Workers)
	defer e.pool.Stop()
	ready()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.handler.GetNotifier():
			e.processNeeds(ctx)
		}
	}
}

// processNeeds drains the need queue.
func (e *Engine) processNeeds(ctx context.Context) {
	for {
		msg, ok := e.needs.Get()
		if !ok {
			return
		}
		switch need := msg.Payload.(type) {
		case messages.UpdateMe:
			if n := e.reporter.replay(msg.OriginID); n > 0 {
				e.log.Info().Str("peer_id", msg.OriginID.String()).Int("reports", n).Msg("replaying reports")
			}
		case messages.ComputeJob:
			e.handleCompute(ctx, msg.OriginID, need)
		}
	}
}
