package engine

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrQueueFull is returned when a message is dropped because its queue is full.
var ErrQueueFull = errors.New("queue is full")

// IncompatibleInputTypeError is returned when an engine receives a payload it
// does not handle.
type IncompatibleInputTypeError struct {
	OriginID peer.ID
	Type     string
}

func (e IncompatibleInputTypeError) Error() string {
	return fmt.Sprintf("unexpected input of type %s from %s", e.Type, e.OriginID)
}

func NewIncompatibleInputTypeError(originID peer.ID, payload interface{}) IncompatibleInputTypeError {
	return IncompatibleInputTypeError{OriginID: originID, Type: fmt.Sprintf("%T", payload)}
}

// IsIncompatibleInputTypeError returns whether err is an IncompatibleInputTypeError.
func IsIncompatibleInputTypeError(err error) bool {
	var e IncompatibleInputTypeError
	return errors.As(err, &e)
}
