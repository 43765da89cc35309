package cbor

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/wholesum/bazaar/model/encoding"
)

const (
	// MaxNestedLevels bounds the nesting of arrays and maps in a message.
	MaxNestedLevels = 16
	// MaxArrayElements bounds the length of any array in a message.
	MaxArrayElements = 65536
	// MaxMapPairs bounds the number of pairs in any map in a message.
	MaxMapPairs = 1024
)

// EncMode is the deterministic encoding mode used for all wire messages.
// Identical values always produce identical bytes.
var EncMode = func() cbor.EncMode {
	options := cbor.CoreDetEncOptions()
	encMode, err := options.EncMode()
	if err != nil {
		panic(fmt.Errorf("could not build cbor encoding mode: %w", err))
	}
	return encMode
}()

// DecMode is the size limited decoding mode used for all wire messages.
var DecMode = func() cbor.DecMode {
	decMode, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  MaxNestedLevels,
		MaxArrayElements: MaxArrayElements,
		MaxMapPairs:      MaxMapPairs,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("could not build cbor decoding mode: %w", err))
	}
	return decMode
}()

var _ encoding.Encoder = (*Encoder)(nil)

// Encoder implements encoding.Encoder with the deterministic CBOR modes.
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Encode(val interface{}) ([]byte, error) {
	return EncMode.Marshal(val)
}

func (e *Encoder) Decode(b []byte, val interface{}) error {
	return DecMode.Unmarshal(b, val)
}

func (e *Encoder) MustEncode(val interface{}) []byte {
	b, err := e.Encode(val)
	if err != nil {
		panic(err)
	}
	return b
}

func (e *Encoder) MustDecode(b []byte, val interface{}) {
	err := e.Decode(b, val)
	if err != nil {
		panic(err)
	}
}

// NewStreamEncoder returns a CBOR encoder writing deterministic values to w.
func NewStreamEncoder(w io.Writer) *cbor.Encoder {
	return EncMode.NewEncoder(w)
}

// NewStreamDecoder returns a size limited CBOR decoder reading from r.
func NewStreamDecoder(r io.Reader) *cbor.Decoder {
	return DecMode.NewDecoder(r)
}

// RawMessage is an encoded CBOR value kept undecoded, used to defer decoding of sum types.
type RawMessage = cbor.RawMessage
