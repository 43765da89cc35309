package datastore

import (
	"context"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
)

var _ Manager = (*MemoryManager)(nil)

// MemoryManager holds a thread-safe map datastore.
type MemoryManager struct {
	ds ds.Batching
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{ds: dssync.MutexWrap(ds.NewMapDatastore())}
}

func (m *MemoryManager) Datastore() ds.Batching {
	return m.ds
}

func (m *MemoryManager) Close() error {
	return m.ds.Close()
}

// CollectGarbage is a no-op, deleted keys are dropped from the map immediately.
func (m *MemoryManager) CollectGarbage(context.Context) error {
	return nil
}
