package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Variant is the wire shape of every sum type: a two element array holding a
// stable tag and the encoded payload of the selected variant. Unit variants
// carry a CBOR null payload.
type Variant struct {
	_       struct{} `cbor:",toarray"`
	Tag     uint64
	Payload cbor.RawMessage
}

// MarshalVariant encodes payload under tag. A nil payload encodes as null.
func MarshalVariant(tag uint64, payload interface{}) ([]byte, error) {
	var raw cbor.RawMessage
	if payload != nil {
		b, err := EncMode.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("could not encode payload of variant %d: %w", tag, err)
		}
		raw = b
	}
	return EncMode.Marshal(Variant{Tag: tag, Payload: raw})
}

// UnmarshalVariant decodes the tag and the still encoded payload.
func UnmarshalVariant(data []byte) (Variant, error) {
	var v Variant
	err := DecMode.Unmarshal(data, &v)
	if err != nil {
		return Variant{}, err
	}
	return v, nil
}

// DecodePayload decodes the payload of a variant into val.
func (v Variant) DecodePayload(val interface{}) error {
	if len(v.Payload) == 0 {
		return fmt.Errorf("variant %d has no payload", v.Tag)
	}
	return DecMode.Unmarshal(v.Payload, val)
}
