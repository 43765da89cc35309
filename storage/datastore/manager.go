package datastore

import (
	"context"
	"fmt"

	ds "github.com/ipfs/go-datastore"
)

// Kind selects the backing implementation of a datastore.
type Kind string

const (
	// Memory keeps everything in a map and loses it on exit.
	Memory Kind = "memory"
	// Badger persists to a badger v2 database under a directory.
	Badger Kind = "badger"
)

// Manager owns a datastore and the resources behind it.
type Manager interface {
	// Datastore provides access to the datastore for batched reads and writes.
	Datastore() ds.Batching
	// Close releases the datastore. It must be called once the datastore is no longer used.
	Close() error
	// CollectGarbage reclaims space no longer referenced by the datastore.
	CollectGarbage(ctx context.Context) error
}

// Open returns a manager of the given kind. path is ignored for Memory.
func Open(kind Kind, path string) (Manager, error) {
	switch kind {
	case Memory, "":
		return NewMemoryManager(), nil
	case Badger:
		if path == "" {
			return nil, fmt.Errorf("badger datastore requires a directory")
		}
		return NewBadgerManager(path, nil)
	default:
		return nil, fmt.Errorf("unknown datastore kind %q", kind)
	}
}
