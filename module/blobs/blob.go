package blobs

import (
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Blob is an immutable piece of content addressed by its CID.
type Blob = blocks.Block

// CidBuilder computes the CIDs of all blobs: CIDv1, raw codec, sha2-256.
var CidBuilder = cid.V1Builder{Codec: cid.Raw, MhType: multihash.SHA2_256}

// CidLength is the length in bytes of a blob CID.
const CidLength = 36

// NewBlob wraps data into a blob with its CID computed.
func NewBlob(data []byte) Blob {
	c, err := ComputeCID(data)
	if err != nil {
		// sha2-256 and the raw codec are always available
		panic(err)
	}
	b, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		panic(err)
	}
	return b
}

// ComputeCID returns the CID of data.
func ComputeCID(data []byte) (cid.Cid, error) {
	return CidBuilder.Sum(data)
}

// Matches returns whether data hashes to c. Only the multihash is compared so
// that any CID version and codec pointing at the same bytes matches.
func Matches(c cid.Cid, data []byte) (bool, error) {
	prefix := c.Prefix()
	other, err := prefix.Sum(data)
	if err != nil {
		return false, err
	}
	return other.Hash().HexString() == c.Hash().HexString(), nil
}
