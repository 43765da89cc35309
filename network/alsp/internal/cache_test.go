package internal_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/network/alsp"
	"github.com/wholesum/bazaar/network/alsp/internal"
	"github.com/wholesum/bazaar/utils/unittest"
)

func newCache(t *testing.T, size uint32) *internal.SpamRecordCache {
	cache, err := internal.NewSpamRecordCache(size, zerolog.Nop(), alsp.SpamRecordFactory())
	require.NoError(t, err)
	require.Zero(t, cache.Size())
	return cache
}

func penalize(v float64) alsp.RecordAdjustFunc {
	return func(record *alsp.ProtocolSpamRecord) (*alsp.ProtocolSpamRecord, error) {
		record.Penalty += v
		return record, nil
	}
}

// TestSpamRecordCache_AdjustWithInit checks a missing record is initialized
// before the adjustment is applied and later adjustments accumulate.
func TestSpamRecordCache_AdjustWithInit(t *testing.T) {
	cache := newCache(t, 100)
	id := unittest.PeerIDFixture(t)

	penalty, err := cache.AdjustWithInit(id, penalize(-10))
	require.NoError(t, err)
	require.Equal(t, float64(-10), penalty)

	penalty, err = cache.AdjustWithInit(id, penalize(-5))
	require.NoError(t, err)
	require.Equal(t, float64(-15), penalty)

	record, ok := cache.Get(id)
	require.True(t, ok)
	require.Equal(t, id, record.PeerID)
	require.Equal(t, float64(-15), record.Penalty)
	require.Equal(t, uint(1), cache.Size())
}

// TestSpamRecordCache_AdjustError checks a failing adjustment leaves the record untouched.
func TestSpamRecordCache_AdjustError(t *testing.T) {
	cache := newCache(t, 100)
	id := unittest.PeerIDFixture(t)

	_, err := cache.AdjustWithInit(id, penalize(-10))
	require.NoError(t, err)

	_, err = cache.AdjustWithInit(id, func(record *alsp.ProtocolSpamRecord) (*alsp.ProtocolSpamRecord, error) {
		record.Penalty = -1000
		return record, errors.New("boom")
	})
	require.Error(t, err)

	record, ok := cache.Get(id)
	require.True(t, ok)
	require.Equal(t, float64(-10), record.Penalty)
}

// TestSpamRecordCache_GetReturnsCopy checks callers cannot mutate cached records.
func TestSpamRecordCache_GetReturnsCopy(t *testing.T) {
	cache := newCache(t, 100)
	id := unittest.PeerIDFixture(t)

	_, err := cache.AdjustWithInit(id, penalize(-1))
	require.NoError(t, err)

	record, ok := cache.Get(id)
	require.True(t, ok)
	record.Penalty = -500

	record, ok = cache.Get(id)
	require.True(t, ok)
	require.Equal(t, float64(-1), record.Penalty)
}

func TestSpamRecordCache_EvictsOldest(t *testing.T) {
	cache := newCache(t, 2)
	ids := []peer.ID{unittest.PeerIDFixture(t), unittest.PeerIDFixture(t), unittest.PeerIDFixture(t)}
	for _, id := range ids {
		_, err := cache.AdjustWithInit(id, penalize(-1))
		require.NoError(t, err)
	}

	require.Equal(t, uint(2), cache.Size())
	_, ok := cache.Get(ids[0])
	require.False(t, ok)
	require.ElementsMatch(t, ids[1:], cache.Peers())

	require.True(t, cache.Remove(ids[1]))
	require.False(t, cache.Remove(ids[1]))
	require.Equal(t, uint(1), cache.Size())
}

// TestSpamRecordCache_ConcurrentAdjust checks concurrent adjustments of the
// same record are not lost.
func TestSpamRecordCache_ConcurrentAdjust(t *testing.T) {
	cache := newCache(t, 100)
	id := unittest.PeerIDFixture(t)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := cache.AdjustWithInit(id, penalize(-1))
			require.NoError(t, err)
		}()
	}
	unittest.RequireReturnsBefore(t, wg.Wait, time.Second, "adjustments did not finish")

	record, ok := cache.Get(id)
	require.True(t, ok)
	require.Equal(t, float64(-workers), record.Penalty)
}
