package internal

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/wholesum/bazaar/network/alsp"
)

// SpamRecordCache is a bounded LRU of protocol spam records keyed by peer.
type SpamRecordCache struct {
	mu            sync.Mutex
	c             *lru.Cache[peer.ID, *alsp.ProtocolSpamRecord]
	recordFactory alsp.SpamRecordFactoryFunc
}

var _ alsp.SpamRecordCache = (*SpamRecordCache)(nil)

// NewSpamRecordCache creates a cache holding at most sizeLimit records.
// Evicting a disallow-listed record lifts the ban on that peer, which is logged.
func NewSpamRecordCache(sizeLimit uint32, logger zerolog.Logger, recordFactory alsp.SpamRecordFactoryFunc) (*SpamRecordCache, error) {
	log := logger.With().Str("cache", "alsp-spam-records").Logger()
	c, err := lru.NewWithEvict[peer.ID, *alsp.ProtocolSpamRecord](int(sizeLimit), func(id peer.ID, record *alsp.ProtocolSpamRecord) {
		if record.DisallowListed {
			log.Warn().Str("peer_id", id.String()).Msg("evicted spam record of a disallow-listed peer")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("could not create spam record cache: %w", err)
	}
	return &SpamRecordCache{
		c:             c,
		recordFactory: recordFactory,
	}, nil
}

// AdjustWithInit applies adjustFunc to the record of the peer, initializing the
// record first if it does not exist. The record is left untouched when
// adjustFunc fails.
func (s *SpamRecordCache) AdjustWithInit(id peer.ID, adjustFunc alsp.RecordAdjustFunc) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.c.Get(id)
	if !ok {
		record = s.recordFactory(id)
	}

	cp := *record
	adjusted, err := adjustFunc(&cp)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust record of %s: %w", id, err)
	}
	s.c.Add(id, adjusted)
	return adjusted.Penalty, nil
}

// Get returns a copy of the record of the peer.
func (s *SpamRecordCache) Get(id peer.ID) (*alsp.ProtocolSpamRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.c.Peek(id)
	if !ok {
		return nil, false
	}
	cp := *record
	return &cp, true
}

// Peers returns the peers with a record, oldest first.
func (s *SpamRecordCache) Peers() []peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Keys()
}

func (s *SpamRecordCache) Remove(id peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Remove(id)
}

func (s *SpamRecordCache) Size() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint(s.c.Len())
}
