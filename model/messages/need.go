package messages

import (
	"encoding/json"
	"fmt"

	"github.com/wholesum/bazaar/model/encoding"
	"github.com/wholesum/bazaar/model/encoding/cbor"
)

// Need is a gossip announcement published by a client on the marketplace
// topic. It is one of ComputeJob or UpdateMe.
type Need interface {
	needTag() uint64
}

const (
	needTagCompute uint64 = iota
	needTagUpdateMe
)

// ComputeJob announces work a client needs done.
type ComputeJob struct {
	JobID  string
	Type   ComputeType
	Budget uint32
	// Round numbers the announcements of a job. Gossip drops repeated
	// message bodies, so every re-announcement must differ from the last.
	Round uint32
}

func (ComputeJob) needTag() uint64 { return needTagCompute }

// UpdateMe asks servers to resend the latest updates they hold for the
// publishing client. The value only differentiates otherwise identical
// requests, since gossip drops repeated message bodies.
type UpdateMe uint8

func (UpdateMe) needTag() uint64 { return needTagUpdateMe }

// ComputeType selects the layer of the proving pipeline a ComputeJob is for.
// It is one of ProveAndLiftDetails, JoinDetails or Groth16Details.
type ComputeType interface {
	computeTag() uint64
}

const (
	computeTagProveAndLift uint64 = iota
	computeTagJoin
	computeTagGroth16
)

// ProveAndLiftDetails describes the leaf layer of a job.
type ProveAndLiftDetails struct {
	// SegmentsBaseCID is the directory holding all segments.
	SegmentsBaseCID string `cbor:"1,keyasint"`
	// SegmentPrefix is prepended to the segment index to form a file name, e.g. "segment-".
	SegmentPrefix string `cbor:"2,keyasint"`
	Po2           uint8  `cbor:"3,keyasint"`
	NumSegments   uint32 `cbor:"4,keyasint"`
	// ProgressMap has bit N set once segment N is proved.
	ProgressMap []byte `cbor:"5,keyasint"`
}

func (ProveAndLiftDetails) computeTag() uint64 { return computeTagProveAndLift }

// SegmentPath returns the path of segment index relative to SegmentsBaseCID.
func (d ProveAndLiftDetails) SegmentPath(index uint32) string {
	return fmt.Sprintf("%s%d", d.SegmentPrefix, index)
}

// Pair is an ordered couple of succinct receipt CIDs to be joined. Both
// encodings are two element arrays, [left, right].
type Pair struct {
	_     struct{} `cbor:",toarray"`
	Left  string
	Right string
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Left, p.Right})
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var couple []string
	if err := json.Unmarshal(data, &couple); err != nil {
		return err
	}
	if len(couple) != 2 {
		return fmt.Errorf("pair must have 2 elements, got %d", len(couple))
	}
	p.Left, p.Right = couple[0], couple[1]
	return nil
}

// Pairs carries the join frontier either inline or by reference to a JSON
// file holding []Pair.
type Pairs interface {
	pairsTag() uint64
}

const (
	pairsTagInline uint64 = iota
	pairsTagCID
)

// InlinePairs ships the pair list inside the announcement.
type InlinePairs []Pair

func (InlinePairs) pairsTag() uint64 { return pairsTagInline }

// PairsCID is the CID of a JSON encoded pair list.
type PairsCID string

func (PairsCID) pairsTag() uint64 { return pairsTagCID }

// JoinDetails describes the join layer of a job.
type JoinDetails struct {
	NumPairs uint32
	Pairs    Pairs
	// ProgressMap has bit N set once pair N is joined.
	ProgressMap []byte
}

func (JoinDetails) computeTag() uint64 { return computeTagJoin }

// Groth16Details names the final succinct receipt to compress.
type Groth16Details struct {
	CID string `cbor:"1,keyasint"`
}

func (Groth16Details) computeTag() uint64 { return computeTagGroth16 }

// wire shapes for structs holding sum types

type computeJobWire struct {
	JobID  string          `cbor:"1,keyasint"`
	Type   cbor.RawMessage `cbor:"2,keyasint"`
	Budget uint32          `cbor:"3,keyasint"`
	Round  uint32          `cbor:"4,keyasint,omitempty"`
}

type joinDetailsWire struct {
	NumPairs    uint32          `cbor:"1,keyasint"`
	Pairs       cbor.RawMessage `cbor:"2,keyasint"`
	ProgressMap []byte          `cbor:"3,keyasint"`
}

func (j ComputeJob) MarshalCBOR() ([]byte, error) {
	typ, err := MarshalComputeType(j.Type)
	if err != nil {
		return nil, err
	}
	return cbor.EncMode.Marshal(computeJobWire{JobID: j.JobID, Type: typ, Budget: j.Budget, Round: j.Round})
}

func (j *ComputeJob) UnmarshalCBOR(data []byte) error {
	var w computeJobWire
	if err := cbor.DecMode.Unmarshal(data, &w); err != nil {
		return err
	}
	typ, err := UnmarshalComputeType(w.Type)
	if err != nil {
		return err
	}
	*j = ComputeJob{JobID: w.JobID, Type: typ, Budget: w.Budget, Round: w.Round}
	return nil
}

func (d JoinDetails) MarshalCBOR() ([]byte, error) {
	pairs, err := marshalPairs(d.Pairs)
	if err != nil {
		return nil, err
	}
	return cbor.EncMode.Marshal(joinDetailsWire{NumPairs: d.NumPairs, Pairs: pairs, ProgressMap: d.ProgressMap})
}

func (d *JoinDetails) UnmarshalCBOR(data []byte) error {
	var w joinDetailsWire
	if err := cbor.DecMode.Unmarshal(data, &w); err != nil {
		return err
	}
	pairs, err := unmarshalPairs(w.Pairs)
	if err != nil {
		return err
	}
	*d = JoinDetails{NumPairs: w.NumPairs, Pairs: pairs, ProgressMap: w.ProgressMap}
	return nil
}

// MarshalNeed encodes a Need as a tagged variant.
func MarshalNeed(n Need) ([]byte, error) {
	switch v := n.(type) {
	case ComputeJob:
		return cbor.MarshalVariant(needTagCompute, v)
	case UpdateMe:
		return cbor.MarshalVariant(needTagUpdateMe, uint8(v))
	default:
		return nil, fmt.Errorf("invalid need type %T", n)
	}
}

// UnmarshalNeed decodes a Need encoded by MarshalNeed.
func UnmarshalNeed(data []byte) (Need, error) {
	v, err := cbor.UnmarshalVariant(data)
	if err != nil {
		return nil, err
	}
	switch v.Tag {
	case needTagCompute:
		var job ComputeJob
		if err := v.DecodePayload(&job); err != nil {
			return nil, fmt.Errorf("could not decode compute need: %w", err)
		}
		return job, nil
	case needTagUpdateMe:
		var u uint8
		if err := v.DecodePayload(&u); err != nil {
			return nil, fmt.Errorf("could not decode update-me need: %w", err)
		}
		return UpdateMe(u), nil
	default:
		return nil, encoding.NewUnknownVariantError("need", v.Tag)
	}
}

// MarshalComputeType encodes a ComputeType as a tagged variant.
func MarshalComputeType(t ComputeType) ([]byte, error) {
	switch v := t.(type) {
	case ProveAndLiftDetails:
		return cbor.MarshalVariant(computeTagProveAndLift, v)
	case JoinDetails:
		return cbor.MarshalVariant(computeTagJoin, v)
	case Groth16Details:
		return cbor.MarshalVariant(computeTagGroth16, v)
	default:
		return nil, fmt.Errorf("invalid compute type %T", t)
	}
}

// UnmarshalComputeType decodes a ComputeType encoded by MarshalComputeType.
func UnmarshalComputeType(data []byte) (ComputeType, error) {
	v, err := cbor.UnmarshalVariant(data)
	if err != nil {
		return nil, err
	}
	switch v.Tag {
	case computeTagProveAndLift:
		var d ProveAndLiftDetails
		if err := v.DecodePayload(&d); err != nil {
			return nil, fmt.Errorf("could not decode prove and lift details: %w", err)
		}
		return d, nil
	case computeTagJoin:
		var d JoinDetails
		if err := v.DecodePayload(&d); err != nil {
			return nil, fmt.Errorf("could not decode join details: %w", err)
		}
		return d, nil
	case computeTagGroth16:
		var d Groth16Details
		if err := v.DecodePayload(&d); err != nil {
			return nil, fmt.Errorf("could not decode groth16 details: %w", err)
		}
		return d, nil
	default:
		return nil, encoding.NewUnknownVariantError("compute type", v.Tag)
	}
}

func marshalPairs(p Pairs) ([]byte, error) {
	switch v := p.(type) {
	case InlinePairs:
		list := []Pair(v)
		if list == nil {
			list = []Pair{}
		}
		return cbor.MarshalVariant(pairsTagInline, list)
	case PairsCID:
		return cbor.MarshalVariant(pairsTagCID, string(v))
	default:
		return nil, fmt.Errorf("invalid pairs type %T", p)
	}
}

func unmarshalPairs(data []byte) (Pairs, error) {
	v, err := cbor.UnmarshalVariant(data)
	if err != nil {
		return nil, err
	}
	switch v.Tag {
	case pairsTagInline:
		var list []Pair
		if err := v.DecodePayload(&list); err != nil {
			return nil, fmt.Errorf("could not decode inline pairs: %w", err)
		}
		return InlinePairs(list), nil
	case pairsTagCID:
		var c string
		if err := v.DecodePayload(&c); err != nil {
			return nil, fmt.Errorf("could not decode pairs cid: %w", err)
		}
		return PairsCID(c), nil
	default:
		return nil, encoding.NewUnknownVariantError("pairs", v.Tag)
	}
}
