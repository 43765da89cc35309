package unittest

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/model/job"
)

// CIDOf returns the raw CIDv1 of data, as computed by the content stores.
func CIDOf(data []byte) cid.Cid {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}

// CIDFixture returns a random CID string.
func CIDFixture() string {
	return CIDOf(RandomBytes(32)).String()
}

// RandomBytes returns n random bytes.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// NetworkingKeyFixture returns a fresh Ed25519 libp2p key.
func NetworkingKeyFixture(t testing.TB) crypto.PrivKey {
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	return key
}

// PeerIDFixture returns the peer id of a fresh Ed25519 key.
func PeerIDFixture(t testing.TB) peer.ID {
	id, err := peer.IDFromPrivateKey(NetworkingKeyFixture(t))
	require.NoError(t, err)
	return id
}

// JobSpecFixture returns a valid job spec over n segments.
func JobSpecFixture(n uint32, opts ...func(*job.Spec)) job.Spec {
	spec := job.Spec{
		ID:              fmt.Sprintf("job-%x", RandomBytes(4)),
		SegmentsBaseCID: CIDFixture(),
		SegmentPrefix:   "segment-",
		Po2:             19,
		NumSegments:     n,
		ImageID:         RandomBytes(32),
		Budget:          100,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}
