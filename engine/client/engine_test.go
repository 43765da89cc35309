package client_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/engine/client"
	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/storage/content"
	"github.com/wholesum/bazaar/utils/unittest"
)

type fakeNetwork struct {
	mu           sync.Mutex
	published    []messages.Need
	unsubscribed bool
	joins        chan peer.ID
}

func (n *fakeNetwork) PeerJoins(context.Context, string) (<-chan peer.ID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.joins == nil {
		n.joins = make(chan peer.ID, 4)
	}
	return n.joins, nil
}

func (n *fakeNetwork) join(id peer.ID) {
	n.mu.Lock()
	joins := n.joins
	n.mu.Unlock()
	joins <- id
}

func (n *fakeNetwork) Publish(_ context.Context, topic string, msg interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if topic != network.MarketplaceTopic {
		panic("unexpected topic " + topic)
	}
	n.published = append(n.published, msg.(messages.Need))
	return nil
}

func (n *fakeNetwork) Unsubscribe(string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unsubscribed = true
	return nil
}

// lastNeed returns the most recent compute need of the given layer.
func (n *fakeNetwork) lastNeed(match func(messages.ComputeType) bool) (messages.ComputeJob, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.published) - 1; i >= 0; i-- {
		if c, ok := n.published[i].(messages.ComputeJob); ok && match(c.Type) {
			return c, true
		}
	}
	return messages.ComputeJob{}, false
}

func (n *fakeNetwork) count(match func(messages.Need) bool) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, need := range n.published {
		if match(need) {
			count++
		}
	}
	return count
}

type fakeScorer struct {
	mu      sync.Mutex
	reports map[peer.ID][]network.Misbehavior
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{reports: make(map[peer.ID][]network.Misbehavior)}
}

func (s *fakeScorer) ReportMisbehavior(id peer.ID, report *network.MisbehaviorReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[id] = append(s.reports[id], report.Reason())
}

func (s *fakeScorer) Priority(peer.ID) float64 { return 0 }

func (s *fakeScorer) reported(id peer.ID) []network.Misbehavior {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]network.Misbehavior(nil), s.reports[id]...)
}

func isProve(t messages.ComputeType) bool {
	_, ok := t.(messages.ProveAndLiftDetails)
	return ok
}

func isJoin(t messages.ComputeType) bool {
	_, ok := t.(messages.JoinDetails)
	return ok
}

func isGroth16(t messages.ComputeType) bool {
	_, ok := t.(messages.Groth16Details)
	return ok
}

type harness struct {
	t       *testing.T
	spec    job.Spec
	net     *fakeNetwork
	scorer  *fakeScorer
	store   *content.BlobStore
	prover  *unittest.ProverEngine
	engine  *client.Engine
	cancel  context.CancelFunc
	servers []peer.ID
}

func newHarness(t *testing.T, numSegments uint32, ds datastore.Datastore) *harness {
	spec := unittest.JobSpecFixture(numSegments)
	h := &harness{
		t:       t,
		spec:    spec,
		net:     &fakeNetwork{},
		scorer:  newFakeScorer(),
		store:   content.NewDatastoreStore(dssync.MutexWrap(datastore.NewMapDatastore())),
		prover:  unittest.NewProverEngine(spec.ImageID),
		servers: []peer.ID{unittest.PeerIDFixture(t), unittest.PeerIDFixture(t)},
	}
	h.start(ds)
	return h
}

func (h *harness) start(ds datastore.Datastore) {
	// the heartbeat never fires during a test, announcements follow changes
	cfg := client.DefaultConfig()
	cfg.AnnounceDelay = 10 * time.Millisecond
	cfg.DeadlineCheckInterval = 10 * time.Millisecond

	var opts []client.Option
	if ds != nil {
		opts = append(opts, client.WithSnapshotStore(ds))
	}
	e, err := client.New(unittest.Logger(), cfg, h.spec, h.net, h.scorer, h.store, h.prover, metrics.NewNoopCollector(), opts...)
	require.NoError(h.t, err)

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(h.t, context.Background())
	e.Start(ctx)
	unittest.RequireCloseBefore(h.t, e.Ready(), time.Second, "client did not start")

	h.engine = e
	h.cancel = cancel
}

func (h *harness) stop() {
	h.cancel()
	unittest.RequireCloseBefore(h.t, h.engine.Done(), time.Second, "client did not stop")
}

// prove produces and uploads a receipt the way a server would.
func (h *harness) prove(input string) string {
	receipt, err := h.prover.ProveAndLift(context.Background(), []byte(input), h.spec.Po2)
	require.NoError(h.t, err)
	c, err := h.store.Upload(context.Background(), receipt)
	require.NoError(h.t, err)
	return c
}

func (h *harness) report(from peer.ID, item messages.Item, status messages.JobStatus) {
	resp, err := h.engine.HandleRequest(context.Background(), from, messages.Update{
		{JobID: h.spec.ID, Item: item, Status: status},
	})
	require.NoError(h.t, err)
	assert.Equal(h.t, messages.Unknown{}, resp)
}

func (h *harness) requireProveMap(check func(job.Bitmap) bool) {
	require.Eventually(h.t, func() bool {
		need, ok := h.net.lastNeed(isProve)
		return ok && check(job.Bitmap(need.Type.(messages.ProveAndLiftDetails).ProgressMap))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_CompletesJob(t *testing.T) {
	h := newHarness(t, 2, nil)
	defer h.stop()

	// replay request and the first announcement go out at startup
	require.Eventually(t, func() bool {
		return h.net.count(func(n messages.Need) bool { _, ok := n.(messages.UpdateMe); return ok }) == 1
	}, time.Second, 10*time.Millisecond)
	need, ok := h.net.lastNeed(isProve)
	require.True(t, ok)
	assert.Equal(t, h.spec.ID, need.JobID)
	assert.Equal(t, h.spec.Budget, need.Budget)
	details := need.Type.(messages.ProveAndLiftDetails)
	assert.Equal(t, h.spec.SegmentsBaseCID, details.SegmentsBaseCID)
	assert.Equal(t, uint32(2), details.NumSegments)

	server := h.servers[0]
	h.report(server, messages.ProveAndLiftItem(0), messages.Running{})
	left := h.prove("segment-0")
	right := h.prove("segment-1")
	h.report(server, messages.ProveAndLiftItem(0), messages.ExecutionSucceeded{CID: left})
	h.report(server, messages.ProveAndLiftItem(1), messages.ExecutionSucceeded{CID: right})

	var join messages.ComputeJob
	require.Eventually(t, func() bool {
		join, ok = h.net.lastNeed(isJoin)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	jd := join.Type.(messages.JoinDetails)
	assert.Equal(t, uint32(1), jd.NumPairs)
	assert.Equal(t, messages.InlinePairs{{Left: left, Right: right}}, jd.Pairs)

	joined := h.prove("join")
	h.report(server, messages.JoinItem{Left: left, Right: right}, messages.ExecutionSucceeded{CID: joined})

	var g messages.ComputeJob
	require.Eventually(t, func() bool {
		g, ok = h.net.lastNeed(isGroth16)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, joined, g.Type.(messages.Groth16Details).CID)

	snark := h.prove("snark")
	h.report(h.servers[1], messages.Groth16Item{}, messages.ExecutionSucceeded{CID: snark})

	unittest.RequireCloseBefore(t, h.engine.Finished(), 2*time.Second, "job did not finish")
	result, ok := h.engine.Result()
	require.True(t, ok)
	assert.Equal(t, snark, result)
	h.net.mu.Lock()
	assert.True(t, h.net.unsubscribed)
	h.net.mu.Unlock()
	assert.Empty(t, h.scorer.reported(server))

	// terminal: no announcements after the result
	published := h.net.count(func(messages.Need) bool { return true })
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, published, h.net.count(func(messages.Need) bool { return true }))
}

func TestClient_RejectsInvalidProof(t *testing.T) {
	h := newHarness(t, 2, nil)
	defer h.stop()

	forger := unittest.NewProverEngine(unittest.RandomBytes(32))
	receipt, err := forger.ProveAndLift(context.Background(), []byte("segment-0"), h.spec.Po2)
	require.NoError(t, err)
	forged, err := h.store.Upload(context.Background(), receipt)
	require.NoError(t, err)

	evil := h.servers[0]
	h.report(evil, messages.ProveAndLiftItem(0), messages.ExecutionSucceeded{CID: forged})

	require.Eventually(t, func() bool {
		reports := h.scorer.reported(evil)
		return len(reports) == 1 && reports[0] == network.VerificationFailure
	}, 2*time.Second, 10*time.Millisecond)

	// the item is still offered, and an honest proof completes it
	h.requireProveMap(func(b job.Bitmap) bool { return !b.IsSet(0) })
	honest := h.prove("segment-0")
	h.report(h.servers[1], messages.ProveAndLiftItem(0), messages.ExecutionSucceeded{CID: honest})
	h.requireProveMap(func(b job.Bitmap) bool { return b.IsSet(0) })
	assert.Empty(t, h.scorer.reported(h.servers[1]))
}

func TestClient_ProtocolViolations(t *testing.T) {
	h := newHarness(t, 2, nil)
	defer h.stop()
	server := h.servers[0]

	// segment out of range
	h.report(server, messages.ProveAndLiftItem(7), messages.ExecutionSucceeded{CID: unittest.CIDFixture()})
	// pair never announced
	h.report(server, messages.JoinItem{Left: unittest.CIDFixture(), Right: unittest.CIDFixture()}, messages.Running{})

	require.Eventually(t, func() bool {
		return len(h.scorer.reported(server)) == 2
	}, time.Second, 10*time.Millisecond)
	for _, r := range h.scorer.reported(server) {
		assert.Equal(t, network.ProtocolViolation, r)
	}

	// updates for other jobs are ignored without penalty
	other := h.servers[1]
	_, err := h.engine.HandleRequest(context.Background(), other, messages.Update{
		{JobID: "another-job", Item: messages.ProveAndLiftItem(0), Status: messages.Running{}},
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.scorer.reported(other))
}

func TestClient_DuplicateProofProcessedOnce(t *testing.T) {
	h := newHarness(t, 2, nil)
	defer h.stop()

	c := h.prove("segment-0")
	for i := 0; i < 5; i++ {
		h.report(h.servers[i%2], messages.ProveAndLiftItem(0), messages.ExecutionSucceeded{CID: c})
	}
	h.requireProveMap(func(b job.Bitmap) bool { return b.IsSet(0) })
	assert.Equal(t, 1, h.prover.Calls(prover.OpVerify))
}

func TestClient_ExecutionFailureReoffers(t *testing.T) {
	h := newHarness(t, 1, nil)
	defer h.stop()

	reason := "out of memory"
	h.report(h.servers[0], messages.ProveAndLiftItem(0), messages.Running{})
	h.report(h.servers[0], messages.ProveAndLiftItem(0), messages.ExecutionFailed{Reason: &reason})

	before := h.net.count(func(messages.Need) bool { return true })
	require.Eventually(t, func() bool {
		return h.net.count(func(messages.Need) bool { return true }) > before
	}, time.Second, 10*time.Millisecond)
	h.requireProveMap(func(b job.Bitmap) bool { return !b.IsSet(0) })
	assert.Empty(t, h.scorer.reported(h.servers[0]))
}

func TestClient_SnapshotRestore(t *testing.T) {
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	h := newHarness(t, 3, ds)

	c := h.prove("segment-1")
	h.report(h.servers[0], messages.ProveAndLiftItem(1), messages.ExecutionSucceeded{CID: c})
	h.requireProveMap(func(b job.Bitmap) bool { return b.IsSet(1) })
	h.stop()

	// a new run of the same job resumes with segment 1 done
	h.net = &fakeNetwork{}
	h.start(ds)
	defer h.stop()

	h.requireProveMap(func(b job.Bitmap) bool { return b.IsSet(1) && b.Count() == 1 })
}

func TestClient_LargePairListsByCID(t *testing.T) {
	h := newHarness(t, 80, nil)
	defer h.stop()

	for s := uint32(0); s < 80; s++ {
		h.report(h.servers[0], messages.ProveAndLiftItem(s), messages.ExecutionSucceeded{CID: h.prove(fmt.Sprintf("segment-%d", s))})
	}

	var join messages.ComputeJob
	require.Eventually(t, func() bool {
		var ok bool
		join, ok = h.net.lastNeed(isJoin)
		return ok && join.Type.(messages.JoinDetails).NumPairs == 40
	}, 5*time.Second, 10*time.Millisecond)

	ref, ok := join.Type.(messages.JoinDetails).Pairs.(messages.PairsCID)
	require.True(t, ok, "40 pairs must travel by reference")
	pairs, err := content.ResolvePairs(context.Background(), h.store, ref)
	require.NoError(t, err)
	assert.Len(t, pairs, 40)
}

func TestClient_AnnouncesToJoiningServers(t *testing.T) {
	h := newHarness(t, 2, nil)
	defer h.stop()

	isReplay := func(n messages.Need) bool { _, ok := n.(messages.UpdateMe); return ok }
	isCompute := func(n messages.Need) bool { _, ok := n.(messages.ComputeJob); return ok }
	require.Eventually(t, func() bool { return h.net.count(isCompute) == 1 }, time.Second, 10*time.Millisecond)
	first, _ := h.net.lastNeed(isProve)

	h.net.join(h.servers[0])
	require.Eventually(t, func() bool { return h.net.count(isCompute) == 2 }, time.Second, 10*time.Millisecond)
	second, _ := h.net.lastNeed(isProve)

	// same content, but a new round so gossip does not drop it as a duplicate
	assert.Equal(t, first.Type, second.Type)
	assert.Greater(t, second.Round, first.Round)
	assert.Equal(t, 2, h.net.count(isReplay), "replay requested again for the first server")

	h.net.join(h.servers[1])
	require.Eventually(t, func() bool { return h.net.count(isCompute) == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, h.net.count(isReplay))

	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	var replays []messages.UpdateMe
	for _, n := range h.net.published {
		if u, ok := n.(messages.UpdateMe); ok {
			replays = append(replays, u)
		}
	}
	assert.NotEqual(t, replays[0], replays[1])
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, client.DefaultConfig().Validate())

	for name, mutate := range map[string]func(*client.Config){
		"heartbeat below range": func(c *client.Config) { c.HeartbeatInterval = time.Second },
		"heartbeat above range": func(c *client.Config) { c.HeartbeatInterval = 2 * time.Minute },
		"no announce delay":     func(c *client.Config) { c.AnnounceDelay = 0 },
		"announce delay too long": func(c *client.Config) {
			c.AnnounceDelay = client.MinHeartbeatInterval
		},
		"no verify workers": func(c *client.Config) { c.VerifyWorkers = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := client.DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := client.DefaultConfig()
	cfg.HeartbeatInterval = client.MaxHeartbeatInterval
	assert.NoError(t, cfg.Validate())
}
