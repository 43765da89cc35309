package content

import (
	"context"
	"errors"

	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"

	"github.com/wholesum/bazaar/module/blobs"
)

var _ Store = (*BlobStore)(nil)

// BlobStore keeps content in a blobstore over a local datastore. Nodes sharing
// a process, or a directory on a shared filesystem, see each other's content.
type BlobStore struct {
	blobs blobs.Blobstore
}

// NewBlobStore returns a store on top of bs.
func NewBlobStore(bs blobs.Blobstore) *BlobStore {
	return &BlobStore{blobs: bs}
}

// NewDatastoreStore returns a store persisting to ds.
func NewDatastoreStore(ds datastore.Batching) *BlobStore {
	return NewBlobStore(blobs.NewBlobstore(ds))
}

func (s *BlobStore) Fetch(ctx context.Context, c string) ([]byte, error) {
	parsed, err := parseCID(c)
	if err != nil {
		return nil, err
	}

	blob, err := s.blobs.Get(ctx, parsed)
	switch {
	case errors.Is(err, blobs.ErrNotFound):
		return nil, NewStorageError(NotFound, c, err)
	case errors.Is(err, blockstore.ErrHashMismatch):
		return nil, NewStorageError(Corrupted, c, err)
	case err != nil:
		return nil, NewStorageError(Unavailable, c, err)
	}
	return blob.RawData(), nil
}

func (s *BlobStore) Upload(ctx context.Context, data []byte) (string, error) {
	blob := blobs.NewBlob(data)
	if err := s.blobs.Put(ctx, blob); err != nil {
		return "", NewStorageError(Unavailable, blob.Cid().String(), err)
	}
	return blob.Cid().String(), nil
}
