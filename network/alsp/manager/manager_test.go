package manager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/network/alsp/manager"
	"github.com/wholesum/bazaar/utils/unittest"
)

type recordingConsumer struct {
	mu         sync.Mutex
	disallowed []peer.ID
	allowed    []peer.ID
}

func (c *recordingConsumer) OnDisallowListNotification(id peer.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disallowed = append(c.disallowed, id)
}

func (c *recordingConsumer) OnAllowListNotification(id peer.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed = append(c.allowed, id)
}

func (c *recordingConsumer) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.disallowed), len(c.allowed)
}

func newManager(t *testing.T, interval time.Duration) *manager.MisbehaviorReportManager {
	m, err := manager.NewMisbehaviorReportManager(&manager.MisbehaviorReportManagerConfig{
		Logger:            unittest.Logger(),
		Metrics:           metrics.NewNoopCollector(),
		HeartBeatInterval: interval,
	})
	require.NoError(t, err)
	return m
}

func report(t *testing.T, reason network.Misbehavior, opts ...network.MisbehaviorReportOpt) *network.MisbehaviorReport {
	r, err := network.NewMisbehaviorReport(reason, opts...)
	require.NoError(t, err)
	return r
}

func TestManager_PenaltiesAccumulate(t *testing.T) {
	m := newManager(t, time.Hour)
	id := unittest.PeerIDFixture(t)

	assert.Zero(t, m.Priority(id))
	m.ReportMisbehavior(id, report(t, network.DecodeFailure))
	m.ReportMisbehavior(id, report(t, network.ProtocolViolation))

	penalty, ok := m.Penalty(id)
	require.True(t, ok)
	assert.Equal(t, float64(-11), penalty)
	assert.Equal(t, float64(-11), m.Priority(id))
	assert.False(t, m.IsDisallowListed(id))
}

// TestManager_DisallowListing checks a peer crossing the threshold is
// disallow-listed once and the consumers are notified once.
func TestManager_DisallowListing(t *testing.T) {
	m := newManager(t, time.Hour)
	consumer := &recordingConsumer{}
	m.Subscribe(consumer)
	id := unittest.PeerIDFixture(t)

	for i := 0; i < 4; i++ {
		m.ReportMisbehavior(id, report(t, network.VerificationFailure))
	}
	assert.False(t, m.IsDisallowListed(id), "-100 is not below the threshold")

	m.ReportMisbehavior(id, report(t, network.DecodeFailure))
	assert.True(t, m.IsDisallowListed(id))

	m.ReportMisbehavior(id, report(t, network.VerificationFailure))
	disallowed, allowed := consumer.counts()
	assert.Equal(t, 1, disallowed)
	assert.Equal(t, 0, allowed)

	other := unittest.PeerIDFixture(t)
	assert.False(t, m.IsDisallowListed(other))
}

func TestManager_PenaltyAmplification(t *testing.T) {
	m := newManager(t, time.Hour)
	id := unittest.PeerIDFixture(t)

	m.ReportMisbehavior(id, report(t, network.ProtocolViolation, network.WithPenaltyAmplification(11)))
	assert.True(t, m.IsDisallowListed(id))

	_, err := network.NewMisbehaviorReport(network.ProtocolViolation, network.WithPenaltyAmplification(0.5))
	assert.Error(t, err)
}

// TestManager_Decay checks penalties decay back to zero and disallow-listed
// peers are allowed again once they do.
func TestManager_Decay(t *testing.T) {
	m := newManager(t, 10*time.Millisecond)
	consumer := &recordingConsumer{}
	m.Subscribe(consumer)

	ctx, cancel := context.WithCancel(context.Background())
	signalerCtx, _ := irrecoverable.WithSignaler(ctx)
	m.Start(signalerCtx)
	unittest.RequireCloseBefore(t, m.Ready(), time.Second, "manager did not start")
	defer func() {
		cancel()
		unittest.RequireCloseBefore(t, m.Done(), time.Second, "manager did not stop")
	}()

	mild := unittest.PeerIDFixture(t)
	m.ReportMisbehavior(mild, report(t, network.DecodeFailure))
	require.Eventually(t, func() bool {
		penalty, _ := m.Penalty(mild)
		return penalty == 0
	}, time.Second, 10*time.Millisecond)

	// a disallow-listed peer decays at a tenth of the speed: 0.1 per tick
	banned := unittest.PeerIDFixture(t)
	m.ReportMisbehavior(banned, report(t, network.VerificationFailure, network.WithPenaltyAmplification(4.02)))
	require.True(t, m.IsDisallowListed(banned))
	require.Eventually(t, func() bool {
		return !m.IsDisallowListed(banned)
	}, 30*time.Second, 50*time.Millisecond)

	disallowed, allowed := consumer.counts()
	assert.Equal(t, 1, disallowed)
	assert.Equal(t, 1, allowed)
}
