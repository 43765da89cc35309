package content

import (
	"errors"
	"fmt"
)

// StorageErrorKind classifies content store failures.
type StorageErrorKind int

const (
	// NotFound means no content is stored under the CID yet. Stores are
	// eventually consistent so this is retried.
	NotFound StorageErrorKind = iota
	// Unavailable means the backend could not be reached or failed transiently.
	Unavailable
	// InvalidCID means the CID string does not parse.
	InvalidCID
	// Corrupted means the content does not hash to its CID or a manifest
	// could not be decoded.
	Corrupted
	// MissingEntry means a directory manifest has no entry for a path.
	MissingEntry
)

func (k StorageErrorKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	case InvalidCID:
		return "invalid_cid"
	case Corrupted:
		return "corrupted"
	case MissingEntry:
		return "missing_entry"
	default:
		return "invalid"
	}
}

// StorageError is returned by all content stores.
type StorageError struct {
	Kind StorageErrorKind
	CID  string
	err  error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage error (%s) for %s: %v", e.Kind, e.CID, e.err)
}

func (e StorageError) Unwrap() error {
	return e.err
}

// NewStorageError returns a new StorageError.
func NewStorageError(kind StorageErrorKind, cid string, err error) StorageError {
	return StorageError{Kind: kind, CID: cid, err: err}
}

// NewStorageErrorf returns a new StorageError with a formatted cause.
func NewStorageErrorf(kind StorageErrorKind, cid string, msg string, args ...interface{}) StorageError {
	return StorageError{Kind: kind, CID: cid, err: fmt.Errorf(msg, args...)}
}

// IsStorageError returns whether err is a StorageError.
func IsStorageError(err error) bool {
	var e StorageError
	return errors.As(err, &e)
}

// IsStorageErrorKind returns whether err is a StorageError of the given kind.
func IsStorageErrorKind(err error, kind StorageErrorKind) bool {
	var e StorageError
	return errors.As(err, &e) && e.Kind == kind
}

// IsRetryable returns whether the operation that returned err may succeed if
// attempted again.
func IsRetryable(err error) bool {
	var e StorageError
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == NotFound || e.Kind == Unavailable
}
