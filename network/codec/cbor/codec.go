package cbor

import (
	"errors"
	"fmt"

	"github.com/wholesum/bazaar/model/encoding"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/network/codec"
)

// MaxMessageSize bounds the size of any encoded message, matching the
// default pubsub limit.
const MaxMessageSize = 1 << 20

var _ network.Codec = (*Codec)(nil)

// Codec encodes messages as a one byte message code followed by the
// deterministic CBOR encoding of the message.
type Codec struct{}

// NewCodec creates a new CBOR codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode encodes a Need, Request or Response.
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	code, what, err := codec.MessageCodeFromInterface(v)
	if err != nil {
		return nil, fmt.Errorf("could not determine envelope code: %w", err)
	}

	var payload []byte
	switch m := v.(type) {
	case messages.Need:
		payload, err = messages.MarshalNeed(m)
	case messages.Request:
		payload, err = messages.MarshalRequest(m)
	case messages.Response:
		payload, err = messages.MarshalResponse(m)
	}
	if err != nil {
		return nil, fmt.Errorf("could not encode cbor payload with envelope code %d AKA %s: %w", code, what, err)
	}

	data := make([]byte, 0, len(payload)+1)
	data = append(data, code)
	data = append(data, payload...)
	return data, nil
}

// Decode decodes a message encoded by Encode. Any failure is a codec.DecodeError.
func (c *Codec) Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, codec.NewDecodeError(codec.Malformed, 0, errors.New("empty message"))
	}
	code := data[0]
	if len(data) > MaxMessageSize {
		return nil, codec.NewDecodeError(codec.OversizedField, code, encoding.NewFieldTooLargeError("message", len(data), MaxMessageSize))
	}

	var (
		v   interface{}
		err error
	)
	switch code {
	case codec.CodeNeed:
		v, err = messages.UnmarshalNeed(data[1:])
	case codec.CodeRequest:
		v, err = messages.UnmarshalRequest(data[1:])
	case codec.CodeResponse:
		v, err = messages.UnmarshalResponse(data[1:])
	default:
		return nil, codec.NewDecodeError(codec.UnknownVariant, code, fmt.Errorf("unknown message code %d", code))
	}
	if err != nil {
		return nil, codec.ClassifyDecodeError(code, err)
	}

	if b, ok := v.(encoding.Bounded); ok {
		if err := b.CheckBounds(); err != nil {
			return nil, codec.ClassifyDecodeError(code, err)
		}
	}
	return v, nil
}
