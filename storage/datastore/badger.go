package datastore

import (
	"context"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	badgerds "github.com/ipfs/go-ds-badger2"
)

var _ Manager = (*BadgerManager)(nil)

// BadgerManager wraps a badger v2 datastore.
type BadgerManager struct {
	ds *badgerds.Datastore
}

// NewBadgerManager opens (or creates) the badger database at path. A nil
// options uses badgerds.DefaultOptions.
func NewBadgerManager(path string, options *badgerds.Options) (*BadgerManager, error) {
	if options == nil {
		opts := badgerds.DefaultOptions
		options = &opts
	}
	d, err := badgerds.NewDatastore(path, options)
	if err != nil {
		return nil, fmt.Errorf("could not open badger datastore at %s: %w", path, err)
	}
	return &BadgerManager{ds: d}, nil
}

func (b *BadgerManager) Datastore() ds.Batching {
	return b.ds
}

func (b *BadgerManager) Close() error {
	return b.ds.Close()
}

func (b *BadgerManager) CollectGarbage(ctx context.Context) error {
	return b.ds.CollectGarbage(ctx)
}
