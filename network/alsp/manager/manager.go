package manager

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/network/alsp"
	"github.com/wholesum/bazaar/network/alsp/internal"
)

// MisbehaviorReportManager applies misbehavior reports to per-peer penalties,
// decays them over time and disallow-lists peers whose penalty drops below
// the threshold.
type MisbehaviorReportManager struct {
	component.Component

	logger   zerolog.Logger
	metrics  module.NetworkMetrics
	cache    alsp.SpamRecordCache
	interval time.Duration

	mu        sync.RWMutex
	consumers []network.DisallowListNotificationConsumer
}

var _ network.MisbehaviorReporter = (*MisbehaviorReportManager)(nil)

type MisbehaviorReportManagerConfig struct {
	Logger zerolog.Logger
	// SpamRecordCacheSize bounds the number of peers tracked.
	SpamRecordCacheSize uint32
	Metrics             module.NetworkMetrics
	// HeartBeatInterval is the decay interval, network.MisbehaviorDecayHeartBeatInterval when zero.
	HeartBeatInterval time.Duration
}

// NewMisbehaviorReportManager creates a manager. It must be started for
// penalties to decay.
func NewMisbehaviorReportManager(cfg *MisbehaviorReportManagerConfig) (*MisbehaviorReportManager, error) {
	size := cfg.SpamRecordCacheSize
	if size == 0 {
		size = alsp.DefaultSpamRecordCacheSize
	}
	cache, err := internal.NewSpamRecordCache(size, cfg.Logger, alsp.SpamRecordFactory())
	if err != nil {
		return nil, fmt.Errorf("could not create misbehavior report manager: %w", err)
	}

	m := &MisbehaviorReportManager{
		logger:   cfg.Logger.With().Str("module", "misbehavior_report_manager").Logger(),
		metrics:  cfg.Metrics,
		cache:    cache,
		interval: cfg.HeartBeatInterval,
	}
	if m.interval == 0 {
		m.interval = network.MisbehaviorDecayHeartBeatInterval
	}

	m.Component = component.NewComponentManagerBuilder().
		AddWorker(m.decayLoop).
		Build()
	return m, nil
}

// Subscribe registers a consumer of disallow-list notifications.
func (m *MisbehaviorReportManager) Subscribe(consumer network.DisallowListNotificationConsumer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers = append(m.consumers, consumer)
}

// ReportMisbehavior applies the penalty of the report to the peer. It is safe
// for concurrent use and does not block.
func (m *MisbehaviorReportManager) ReportMisbehavior(id peer.ID, report *network.MisbehaviorReport) {
	m.metrics.PeerPenalized(string(report.Reason()))

	crossed := false
	penalty, err := m.cache.AdjustWithInit(id, func(record *alsp.ProtocolSpamRecord) (*alsp.ProtocolSpamRecord, error) {
		if report.Penalty() > 0 {
			return nil, fmt.Errorf("penalty value is positive: %f", report.Penalty())
		}
		record.Penalty += report.Penalty()
		if record.Penalty < network.MisbehaviorDisallowListingThreshold && !record.DisallowListed {
			record.DisallowListed = true
			record.CutoffCounter++
			// repeat offenders recover slower
			record.Decay = math.Max(record.Decay*network.DecayValueSpeedPenalty, network.MinimumDecayValue)
			crossed = true
		}
		return record, nil
	})
	if err != nil {
		m.logger.Error().Err(err).Str("peer_id", id.String()).Msg("could not apply misbehavior report")
		return
	}

	m.logger.Debug().
		Str("peer_id", id.String()).
		Str("reason", string(report.Reason())).
		Float64("penalty", penalty).
		Msg("misbehavior report applied")

	if crossed {
		m.logger.Warn().
			Str("peer_id", id.String()).
			Float64("penalty", penalty).
			Msg("peer disallow-listed")
		m.metrics.PeerDisallowListed()
		m.notify(id, true)
	}
}

// IsDisallowListed returns whether connections with the peer are refused.
func (m *MisbehaviorReportManager) IsDisallowListed(id peer.ID) bool {
	record, ok := m.cache.Get(id)
	return ok && record.DisallowListed
}

// Priority returns the current penalty of the peer, zero for peers in good
// standing. Higher values should be served first.
func (m *MisbehaviorReportManager) Priority(id peer.ID) float64 {
	record, ok := m.cache.Get(id)
	if !ok {
		return 0
	}
	return record.Penalty
}

// Penalty returns the current penalty of the peer and whether it has a record.
func (m *MisbehaviorReportManager) Penalty(id peer.ID) (float64, bool) {
	record, ok := m.cache.Get(id)
	if !ok {
		return 0, false
	}
	return record.Penalty, true
}

func (m *MisbehaviorReportManager) decayLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	ready()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.decay()
		}
	}
}

// decay moves every negative penalty towards zero by the decay value of its
// record, and allows disallow-listed peers again once they reach zero.
func (m *MisbehaviorReportManager) decay() {
	for _, id := range m.cache.Peers() {
		allowed := false
		_, err := m.cache.AdjustWithInit(id, func(record *alsp.ProtocolSpamRecord) (*alsp.ProtocolSpamRecord, error) {
			if record.Penalty < 0 {
				record.Penalty = math.Min(record.Penalty+record.Decay, 0)
			}
			if record.DisallowListed && record.Penalty == 0 {
				record.DisallowListed = false
				allowed = true
			}
			return record, nil
		})
		if err != nil {
			m.logger.Error().Err(err).Str("peer_id", id.String()).Msg("could not decay penalty")
			continue
		}
		if allowed {
			m.logger.Info().Str("peer_id", id.String()).Msg("peer allow-listed after penalty decay")
			m.notify(id, false)
		}
	}
}

func (m *MisbehaviorReportManager) notify(id peer.ID, disallowed bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.consumers {
		if disallowed {
			c.OnDisallowListNotification(id)
		} else {
			c.OnAllowListNotification(id)
		}
	}
}
