// Package client implements the client side of the marketplace: it announces
// the needs of a job, collects proofs reported by servers, verifies them and
// drives the job to its final Groth16 proof.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/wholesum/bazaar/engine"
	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/module/queue"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/network/p2p/unicast"
	"github.com/wholesum/bazaar/storage/content"
)

// Network publishes needs on the marketplace topic.
type Network interface {
	Publish(ctx context.Context, topic string, msg interface{}) error
	Unsubscribe(topic string) error
	// PeerJoins delivers the peers subscribed to the topic until ctx is done.
	PeerJoins(ctx context.Context, topic string) (<-chan peer.ID, error)
}

// PeerScorer records misbehavior of servers and ranks them.
type PeerScorer interface {
	network.MisbehaviorReporter
	// Priority is higher for more trusted peers.
	Priority(peer.ID) float64
}

// VerifyDetails is a proof waiting to be fetched and verified.
type VerifyDetails struct {
	JobID      string
	ImageID    []byte
	ReceiptCID string
	Kind       job.Kind
	Candidate  job.Candidate
}

type verifyResult struct {
	details  VerifyDetails
	err      error
	duration time.Duration
}

type proofKey struct {
	item string
	cid  string
}

var _ unicast.RequestHandler = (*Engine)(nil).HandleRequest

// Engine runs one job. All job state is owned by the processing loop;
// verification runs on separate workers that report back to it.
type Engine struct {
	component.Component

	log       zerolog.Logger
	cfg       Config
	job       *job.Job
	net       Network
	scorer    PeerScorer
	store     content.Store
	verifier  prover.Engine
	metrics   module.ClientMetrics
	snapshots datastore.Datastore

	handler     *engine.MessageHandler
	updates     *engine.FifoMessageStore
	verifyQueue *queue.ConcurrentPriorityQueue[VerifyDetails]
	results     chan verifyResult
	seen        *lru.Cache[proofKey, struct{}]

	// pairs upload cache, the pair list is append-only so its length identifies it
	packedLen int
	packed    messages.Pairs

	// announcement state, owned by the processing loop
	round       uint32
	replayNonce uint8
	changed     bool
	replayed    bool

	started    time.Time
	finishOnce sync.Once
	finished   chan struct{}
	resultMu   sync.RWMutex
	result     string
}

// Option configures optional features of the engine.
type Option func(*Engine)

// WithSnapshotStore persists job progress to ds after every verified proof
// and restores it at startup.
func WithSnapshotStore(ds datastore.Datastore) Option {
	return func(e *Engine) {
		e.snapshots = ds
	}
}

func New(
	log zerolog.Logger,
	cfg Config,
	spec job.Spec,
	net Network,
	scorer PeerScorer,
	store content.Store,
	verifier prover.Engine,
	metrics module.ClientMetrics,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	j, err := job.New(spec)
	if err != nil {
		return nil, err
	}

	updates, err := engine.NewFifoMessageStore(cfg.UpdateQueueSize)
	if err != nil {
		return nil, fmt.Errorf("could not create update queue: %w", err)
	}
	seen, err := lru.New[proofKey, struct{}](cfg.ProofCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create proof cache: %w", err)
	}

	e := &Engine{
		log:         log.With().Str("component", "client").Str("job_id", spec.ID).Logger(),
		cfg:         cfg,
		job:         j,
		net:         net,
		scorer:      scorer,
		store:       store,
		verifier:    verifier,
		metrics:     metrics,
		updates:     updates,
		verifyQueue: queue.NewConcurrentPriorityQueue[VerifyDetails](cfg.VerifyQueueSize),
		results:     make(chan verifyResult, cfg.VerifyWorkers),
		seen:        seen,
		finished:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.handler = engine.NewMessageHandler(e.log, engine.NewNotifier(), engine.Pattern{
		Match: func(msg *engine.Message) bool {
			_, ok := msg.Payload.(messages.Update)
			return ok
		},
		Store: updates,
	})

	builder := component.NewComponentManagerBuilder().AddWorker(e.processingLoop)
	for i := 0; i < cfg.VerifyWorkers; i++ {
		builder.AddWorker(e.verificationWorker)
	}
	e.Component = builder.Build()
	return e, nil
}

// HandleRequest queues the updates reported by a server. It is registered as
// the request handler of the request/response protocol.
func (e *Engine) HandleRequest(_ context.Context, from peer.ID, req messages.Request) (messages.Response, error) {
	update, ok := req.(messages.Update)
	if !ok {
		return nil, fmt.Errorf("unexpected request type %T", req)
	}
	select {
	case <-e.finished:
		return messages.Unknown{}, nil
	default:
	}
	if err := e.handler.Process(from, update); err != nil {
		e.log.Warn().Err(err).Str("peer_id", from.String()).Int("updates", len(update)).Msg("dropped inbound updates")
	}
	return messages.Unknown{}, nil
}

// Finished is closed once the Groth16 proof of the job is verified.
func (e *Engine) Finished() <-chan struct{} {
	return e.finished
}

// Result returns the CID of the verified Groth16 proof once the job finished.
func (e *Engine) Result() (string, bool) {
	e.resultMu.RLock()
	defer e.resultMu.RUnlock()
	return e.result, e.result != ""
}

func (e *Engine) processingLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	e.started = time.Now()
	if err := e.restore(ctx); err != nil {
		ctx.Throw(fmt.Errorf("could not restore job snapshot: %w", err))
		return
	}
	ready()

	if e.job.Done() {
		e.finish(ctx)
		return
	}

	joinCtx, stopJoins := context.WithCancel(ctx)
	defer stopJoins()
	joins, err := e.net.PeerJoins(joinCtx, network.MarketplaceTopic)
	if err != nil {
		// announcements still go out on every heartbeat
		e.log.Warn().Err(err).Msg("could not watch servers joining the marketplace")
	}

	e.requestReplay(ctx)
	e.announce(ctx)

	heartbeat := time.NewTicker(e.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(e.cfg.DeadlineCheckInterval)
	defer sweep.Stop()

	// pending fires AnnounceDelay after the first unannounced change
	var pending *time.Timer
	var announceSoon <-chan time.Time
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	announceNow := func() {
		if pending != nil {
			pending.Stop()
			pending, announceSoon = nil, nil
		}
		e.changed = false
		e.announce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.handler.GetNotifier():
			e.processUpdates(ctx)
		case res := <-e.results:
			e.onVerified(ctx, res)
		case <-heartbeat.C:
			announceNow()
		case <-announceSoon:
			announceNow()
		case id, ok := <-joins:
			if !ok {
				joins = nil
				continue
			}
			e.onPeerJoined(ctx, id)
		case now := <-sweep.C:
			e.expireDeadlines(now)
		}
		if e.job.Done() {
			e.finish(ctx)
			return
		}
		if e.changed && pending == nil {
			pending = time.NewTimer(e.cfg.AnnounceDelay)
			announceSoon = pending.C
		}
	}
}

// finish stops announcing, leaves the topic and publishes the result.
func (e *Engine) finish(ctx context.Context) {
	e.finishOnce.Do(func() {
		result, _ := e.job.Result()
		e.resultMu.Lock()
		e.result = result
		e.resultMu.Unlock()

		if err := e.net.Unsubscribe(network.MarketplaceTopic); err != nil {
			e.log.Debug().Err(err).Msg("could not leave marketplace topic")
		}
		e.metrics.JobCompleted(time.Since(e.started))
		e.log.Info().Str("result_cid", result).Dur("duration", time.Since(e.started)).Msg("job completed")
		close(e.finished)
	})
}

func (e *Engine) penalize(id peer.ID, reason network.Misbehavior) {
	if id == "" {
		return
	}
	report, err := network.NewMisbehaviorReport(reason)
	if err != nil {
		e.log.Error().Err(err).Msg("could not create misbehavior report")
		return
	}
	e.scorer.ReportMisbehavior(id, report)
}
