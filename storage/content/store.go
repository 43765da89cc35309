// Package content stores the content addressed artifacts exchanged by clients
// and servers: segments, succinct receipts, Groth16 receipts and pair lists.
// Only CIDs travel over the network, the bytes live in a Store.
package content

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Fetcher retrieves content by CID.
type Fetcher interface {
	// Fetch returns the bytes stored under c.
	// Expected errors:
	//   - StorageError of any kind
	Fetch(ctx context.Context, c string) ([]byte, error)
}

// Uploader stores content and returns its CID.
type Uploader interface {
	// Upload stores data and returns its CID. Uploading the same bytes twice
	// returns the same CID.
	Upload(ctx context.Context, data []byte) (string, error)
}

// Store is a content addressed store.
type Store interface {
	Fetcher
	Uploader
}

func parseCID(c string) (cid.Cid, error) {
	parsed, err := cid.Decode(c)
	if err != nil {
		return cid.Undef, NewStorageError(InvalidCID, c, err)
	}
	return parsed, nil
}
