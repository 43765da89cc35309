package blobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
)

// Blobstore persists blobs keyed by CID.
type Blobstore interface {
	Has(context.Context, cid.Cid) (bool, error)
	// Get returns ErrNotFound for unknown CIDs and blockstore.ErrHashMismatch
	// when the stored bytes no longer hash to c.
	Get(context.Context, cid.Cid) (Blob, error)
	// Put is a no-op for blobs already present.
	Put(context.Context, Blob) error
}

var ErrNotFound = errors.New("blob not found")

type store struct {
	bs blockstore.Blockstore
}

var _ Blobstore = (*store)(nil)

// NewBlobstore returns a blobstore over ds which verifies every blob it reads.
func NewBlobstore(ds datastore.Batching) Blobstore {
	bs := blockstore.NewBlockstore(ds)
	bs.HashOnRead(true)
	return &store{bs: bs}
}

func (s *store) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return s.bs.Has(ctx, c)
}

func (s *store) Get(ctx context.Context, c cid.Cid) (Blob, error) {
	blob, err := s.bs.Get(ctx, c)
	if ipld.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	return blob, err
}

func (s *store) Put(ctx context.Context, blob Blob) error {
	ok, err := s.bs.Has(ctx, blob.Cid())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.bs.Put(ctx, blob)
}
