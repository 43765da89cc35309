package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/wholesum/bazaar/model/encoding"
)

// DecodeErrorKind classifies why an inbound message could not be decoded.
type DecodeErrorKind int

const (
	// Malformed means the bytes are not a valid encoding of any message.
	Malformed DecodeErrorKind = iota
	// UnknownVariant means a message code or sum type tag is not known.
	UnknownVariant
	// OversizedField means the message or one of its fields exceeds a limit.
	OversizedField
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnknownVariant:
		return "unknown_variant"
	case OversizedField:
		return "oversized_field"
	default:
		return "invalid"
	}
}

// DecodeError is returned for every inbound message that is dropped by the codec.
type DecodeError struct {
	Kind DecodeErrorKind
	Code uint8
	err  error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("failed to decode message with code %s (%s): %v", CodeName(e.Code), e.Kind, e.err)
}

func (e DecodeError) Unwrap() error {
	return e.err
}

// NewDecodeError returns a new DecodeError.
func NewDecodeError(kind DecodeErrorKind, code uint8, err error) DecodeError {
	return DecodeError{Kind: kind, Code: code, err: err}
}

// IsDecodeError returns true if err is a DecodeError.
func IsDecodeError(err error) bool {
	var e DecodeError
	return errors.As(err, &e)
}

// DecodeErrorKindOf returns the kind of a DecodeError wrapped in err.
func DecodeErrorKindOf(err error) (DecodeErrorKind, bool) {
	var e DecodeError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// DecodeErrorLabel names the kind of a DecodeError wrapped in err, for logs and metrics.
func DecodeErrorLabel(err error) string {
	kind, ok := DecodeErrorKindOf(err)
	if !ok {
		return "unclassified"
	}
	return kind.String()
}

// ClassifyDecodeError wraps an error returned while decoding the payload of a
// message with the given code into a DecodeError of the right kind.
func ClassifyDecodeError(code uint8, err error) DecodeError {
	var (
		nested   *cbor.MaxNestedLevelError
		array    *cbor.MaxArrayElementsError
		mapPairs *cbor.MaxMapPairsError
	)
	switch {
	case encoding.IsUnknownVariantError(err):
		return NewDecodeError(UnknownVariant, code, err)
	case encoding.IsFieldTooLargeError(err),
		errors.As(err, &nested),
		errors.As(err, &array),
		errors.As(err, &mapPairs):
		return NewDecodeError(OversizedField, code, err)
	default:
		return NewDecodeError(Malformed, code, err)
	}
}
