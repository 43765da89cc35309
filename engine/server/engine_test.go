package server_test

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

	"github.com/wholesum/bazaar/engine/server"
	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/storage/content"
	"github.com/wholesum/bazaar/utils/unittest"
)

type sentUpdate struct {
	to     peer.ID
	update messages.JobUpdate
}

type fakeSender struct {
	mu      sync.Mutex
	batches int
	sent    []sentUpdate
}

func (s *fakeSender) Send(_ context.Context, to peer.ID, req messages.Request) (messages.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	for _, u := range req.(messages.Update) {
		s.sent = append(s.sent, sentUpdate{to: to, update: u})
	}
	return messages.Unknown{}, nil
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

// find returns the updates about item, in the order they were sent.
func (s *fakeSender) find(item messages.Item) []messages.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var statuses []messages.JobStatus
	for _, u := range s.sent {
		if u.update.Item.String() == item.String() {
			statuses = append(statuses, u.update.Status)
		}
	}
	return statuses
}

func (s *fakeSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type harness struct {
	t      *testing.T
	spec   job.Spec
	client peer.ID
	sender *fakeSender
	store  *content.BlobStore
	prover *unittest.ProverEngine
	engine *server.Engine
	cancel context.CancelFunc
}

func newHarness(t *testing.T, cfg server.Config, segments uint32) *harness {
	store := content.NewDatastoreStore(dssync.MutexWrap(datastore.NewMapDatastore()))
	spec := unittest.JobSpecFixture(segments)

	files := make(map[string][]byte)
	for i := uint32(0); i < segments; i++ {
		files[fmt.Sprintf("%s%d", spec.SegmentPrefix, i)] = []byte(fmt.Sprintf("segment data %d", i))
	}
	base, err := content.UploadDirectory(context.Background(), store, files)
	require.NoError(t, err)
	spec.SegmentsBaseCID = base

	h := &harness{
		t:      t,
		spec:   spec,
		client: unittest.PeerIDFixture(t),
		sender: &fakeSender{},
		store:  store,
		prover: unittest.NewProverEngine(spec.ImageID),
	}

	e, err := server.New(unittest.Logger(), cfg, h.sender, store, h.prover, metrics.NewNoopCollector())
	require.NoError(t, err)
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	e.Start(ctx)
	unittest.RequireCloseBefore(t, e.Ready(), time.Second, "server did not start")
	h.engine = e
	h.cancel = cancel
	return h
}

func (h *harness) stop() {
	h.cancel()
	unittest.RequireCloseBefore(h.t, h.engine.Done(), 2*time.Second, "server did not stop")
}

func testConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.BatchWindow = 20 * time.Millisecond
	return cfg
}

func (h *harness) proveNeed(progress job.Bitmap) messages.ComputeJob {
	if progress == nil {
		progress = job.NewBitmap(h.spec.NumSegments)
	}
	return messages.ComputeJob{
		JobID:  h.spec.ID,
		Budget: h.spec.Budget,
		Type: messages.ProveAndLiftDetails{
			SegmentsBaseCID: h.spec.SegmentsBaseCID,
			SegmentPrefix:   h.spec.SegmentPrefix,
			Po2:             h.spec.Po2,
			NumSegments:     h.spec.NumSegments,
			ProgressMap:     progress,
		},
	}
}

func (h *harness) publish(need messages.Need) {
	require.NoError(h.t, h.engine.HandleNeed(h.client, need))
}

// succeeded waits for the proof of item and returns its CID.
func (h *harness) succeeded(item messages.Item) string {
	var c string
	require.Eventually(h.t, func() bool {
		for _, s := range h.sender.find(item) {
			if ok, is := s.(messages.ExecutionSucceeded); is {
				c = ok.CID
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

// expectedReceipt proves input the way the server should have.
func (h *harness) expectedReceipt(op func(p *unittest.ProverEngine) ([]byte, error)) []byte {
	receipt, err := op(unittest.NewProverEngine(h.spec.ImageID))
	require.NoError(h.t, err)
	return receipt
}

func TestServer_ProvesLowestFreeSegment(t *testing.T) {
	h := newHarness(t, testConfig(), 3)
	defer h.stop()

	progress := job.NewBitmap(3)
	progress.Set(0)
	h.publish(h.proveNeed(progress))

	c := h.succeeded(messages.ProveAndLiftItem(1))
	statuses := h.sender.find(messages.ProveAndLiftItem(1))
	assert.Equal(t, messages.Running{}, statuses[0])

	receipt, err := h.store.Fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, h.expectedReceipt(func(p *unittest.ProverEngine) ([]byte, error) {
		return p.ProveAndLift(context.Background(), []byte("segment data 1"), h.spec.Po2)
	}), receipt)

	// the next need for the same progress selects the next free segment
	h.publish(h.proveNeed(progress))
	h.succeeded(messages.ProveAndLiftItem(2))
	assert.Empty(t, h.sender.find(messages.ProveAndLiftItem(0)))
	assert.Equal(t, 2, h.prover.Calls(prover.OpProveAndLift))
}

func TestServer_SkipsNeeds(t *testing.T) {
	cfg := testConfig()
	cfg.PriceFloor = 1000
	cfg.ComputeTypes = []job.Kind{job.KindProveAndLift, job.KindJoin}
	h := newHarness(t, cfg, 2)
	defer h.stop()

	// budget below the floor
	h.publish(h.proveNeed(nil))
	// unsupported type
	h.publish(messages.ComputeJob{JobID: h.spec.ID, Budget: 5000, Type: messages.Groth16Details{CID: unittest.CIDFixture()}})
	// progress map too short for the segment count
	invalid := h.proveNeed([]byte{})
	invalid.Budget = 5000
	h.publish(invalid)
	// every segment already proved
	full := h.proveNeed([]byte{0x03})
	full.Budget = 5000
	h.publish(full)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.sender.total())
	assert.Equal(t, 0, h.prover.Calls(prover.OpProveAndLift))
	assert.Equal(t, 0, h.prover.Calls(prover.OpGroth16))
}

func TestServer_FullQueueSkipsBid(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 0
	h := newHarness(t, cfg, 3)
	defer h.stop()
	h.prover.WithDelay(300 * time.Millisecond)

	h.publish(h.proveNeed(nil))
	h.publish(h.proveNeed(nil))

	h.succeeded(messages.ProveAndLiftItem(0))
	assert.Empty(t, h.sender.find(messages.ProveAndLiftItem(1)))
	assert.Equal(t, 1, h.prover.Calls(prover.OpProveAndLift))
}

func TestServer_ReportsFailure(t *testing.T) {
	h := newHarness(t, testConfig(), 1)
	defer h.stop()
	h.prover.FailNext(prover.OpProveAndLift, 1)

	h.publish(h.proveNeed(nil))
	require.Eventually(t, func() bool {
		statuses := h.sender.find(messages.ProveAndLiftItem(0))
		if len(statuses) == 0 {
			return false
		}
		failed, ok := statuses[len(statuses)-1].(messages.ExecutionFailed)
		return ok && failed.Reason != nil && *failed.Reason != ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_AbandonsItemCompletedElsewhere(t *testing.T) {
	h := newHarness(t, testConfig(), 2)
	defer h.stop()
	h.prover.WithDelay(10 * time.Second)

	h.publish(h.proveNeed(nil))
	require.Eventually(t, func() bool {
		return len(h.sender.find(messages.ProveAndLiftItem(0))) == 1
	}, time.Second, 10*time.Millisecond)

	// segment 0 proved by someone else
	progress := job.NewBitmap(2)
	progress.Set(0)
	h.prover.WithDelay(0)
	h.publish(h.proveNeed(progress))

	h.succeeded(messages.ProveAndLiftItem(1))
	time.Sleep(50 * time.Millisecond)
	statuses := h.sender.find(messages.ProveAndLiftItem(0))
	assert.Equal(t, []messages.JobStatus{messages.Running{}}, statuses, "abandoned item must not be reported")
}

func TestServer_AbandonAfterGracePeriod(t *testing.T) {
	cfg := testConfig()
	cfg.AbandonAfter = 200 * time.Millisecond
	cfg.Workers = 2
	h := newHarness(t, cfg, 2)
	defer h.stop()
	h.prover.WithDelay(500 * time.Millisecond)

	h.publish(h.proveNeed(nil))
	require.Eventually(t, func() bool {
		return len(h.sender.find(messages.ProveAndLiftItem(0))) == 1
	}, time.Second, 10*time.Millisecond)

	// the first observation only starts the grace period
	progress := job.NewBitmap(2)
	progress.Set(0)
	progress.Set(1)
	h.publish(h.proveNeed(progress))
	h.succeeded(messages.ProveAndLiftItem(0))
}

func TestServer_JoinsPairs(t *testing.T) {
	for _, byCID := range []bool{false, true} {
		t.Run(fmt.Sprintf("by_cid=%v", byCID), func(t *testing.T) {
			h := newHarness(t, testConfig(), 4)
			defer h.stop()
			ctx := context.Background()

			var receipts [][]byte
			var pairs []messages.Pair
			for i := 0; i < 4; i += 2 {
				left := []byte(fmt.Sprintf("left %d", i))
				right := []byte(fmt.Sprintf("right %d", i))
				lc, err := h.store.Upload(ctx, left)
				require.NoError(t, err)
				rc, err := h.store.Upload(ctx, right)
				require.NoError(t, err)
				receipts = append(receipts, left, right)
				pairs = append(pairs, messages.Pair{Left: lc, Right: rc})
			}
			var announced messages.Pairs = messages.InlinePairs(pairs)
			if byCID {
				data, err := content.EncodePairs(pairs)
				require.NoError(t, err)
				c, err := h.store.Upload(ctx, data)
				require.NoError(t, err)
				announced = messages.PairsCID(c)
			}

			progress := job.NewBitmap(2)
			progress.Set(0)
			h.publish(messages.ComputeJob{
				JobID:  h.spec.ID,
				Budget: h.spec.Budget,
				Type:   messages.JoinDetails{NumPairs: 2, Pairs: announced, ProgressMap: progress},
			})

			c := h.succeeded(messages.JoinItem{Left: pairs[1].Left, Right: pairs[1].Right})
			joined, err := h.store.Fetch(ctx, c)
			require.NoError(t, err)
			assert.Equal(t, h.expectedReceipt(func(p *unittest.ProverEngine) ([]byte, error) {
				return p.Join(ctx, receipts[2], receipts[3])
			}), joined)
		})
	}
}

func TestServer_Groth16(t *testing.T) {
	h := newHarness(t, testConfig(), 1)
	defer h.stop()
	ctx := context.Background()

	succinct := []byte("succinct receipt")
	c, err := h.store.Upload(ctx, succinct)
	require.NoError(t, err)
	need := messages.ComputeJob{JobID: h.spec.ID, Budget: h.spec.Budget, Type: messages.Groth16Details{CID: c}}
	h.publish(need)

	proof := h.succeeded(messages.Groth16Item{})
	snark, err := h.store.Fetch(ctx, proof)
	require.NoError(t, err)
	assert.Equal(t, h.expectedReceipt(func(p *unittest.ProverEngine) ([]byte, error) {
		return p.Groth16(ctx, succinct)
	}), snark)

	// the finished item is not executed again while its client verifies it
	h.publish(need)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.prover.Calls(prover.OpGroth16))
}

func TestServer_ReplaysLatestReports(t *testing.T) {
	h := newHarness(t, testConfig(), 2)
	defer h.stop()

	h.publish(h.proveNeed(nil))
	c := h.succeeded(messages.ProveAndLiftItem(0))
	h.sender.reset()

	h.publish(messages.UpdateMe(7))
	require.Eventually(t, func() bool {
		return h.sender.total() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []messages.JobStatus{messages.ExecutionSucceeded{CID: c}}, h.sender.find(messages.ProveAndLiftItem(0)))

	// an unknown client gets nothing
	require.NoError(t, h.engine.HandleNeed(unittest.PeerIDFixture(t), messages.UpdateMe(1)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.sender.total())
}

func TestServer_BatchesUpdates(t *testing.T) {
	cfg := testConfig()
	cfg.BatchWindow = 300 * time.Millisecond
	cfg.Workers = 3
	h := newHarness(t, cfg, 3)
	defer h.stop()

	for i := 0; i < 3; i++ {
		h.publish(h.proveNeed(nil))
	}
	for i := uint32(0); i < 3; i++ {
		h.succeeded(messages.ProveAndLiftItem(i))
	}
	h.sender.mu.Lock()
	defer h.sender.mu.Unlock()
	assert.Less(t, h.sender.batches, 6, "updates should share batches")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, server.DefaultConfig().Validate())

	cfg := server.DefaultConfig()
	cfg.AbandonAfter = server.MaxAbandonAfter + time.Second
	assert.Error(t, cfg.Validate())

	cfg = server.DefaultConfig()
	cfg.BatchWindow = 3 * time.Second
	assert.Error(t, cfg.Validate())

	cfg = server.DefaultConfig()
	cfg.ComputeTypes = nil
	assert.Error(t, cfg.Validate())
}
