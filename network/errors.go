package network

import (
	"errors"
	"fmt"
)

// SubstrateErrorKind classifies failures of the networking substrate.
type SubstrateErrorKind int

const (
	// TransportFailed means listening or dialing on a transport failed.
	TransportFailed SubstrateErrorKind = iota
	// BehaviourInitFailed means one of the sub-protocols (identify, mdns,
	// kademlia, gossip, request/response) could not be initialized.
	BehaviourInitFailed
	// SubscribeFailed means joining or subscribing to the gossip topic failed.
	SubscribeFailed
)

func (k SubstrateErrorKind) String() string {
	switch k {
	case TransportFailed:
		return "transport_failed"
	case BehaviourInitFailed:
		return "behaviour_init_failed"
	case SubscribeFailed:
		return "subscribe_failed"
	default:
		return "invalid"
	}
}

// SubstrateError is fatal when returned during node setup.
type SubstrateError struct {
	Kind SubstrateErrorKind
	err  error
}

func (e SubstrateError) Error() string {
	return fmt.Sprintf("substrate error (%s): %v", e.Kind, e.err)
}

func (e SubstrateError) Unwrap() error {
	return e.err
}

// NewSubstrateError returns a new SubstrateError.
func NewSubstrateError(kind SubstrateErrorKind, err error) SubstrateError {
	return SubstrateError{Kind: kind, err: err}
}

// IsSubstrateError returns whether err is a SubstrateError.
func IsSubstrateError(err error) bool {
	var e SubstrateError
	return errors.As(err, &e)
}

// IsSubstrateErrorKind returns whether err is a SubstrateError of the given kind.
func IsSubstrateErrorKind(err error, kind SubstrateErrorKind) bool {
	var e SubstrateError
	return errors.As(err, &e) && e.Kind == kind
}
