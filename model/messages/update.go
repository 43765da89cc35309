package messages

import (
	"fmt"

	"github.com/wholesum/bazaar/model/encoding"
	"github.com/wholesum/bazaar/model/encoding/cbor"
)

// Item identifies one unit of work within a job. It is one of
// ProveAndLiftItem, JoinItem or Groth16Item.
type Item interface {
	itemTag() uint64
	String() string
}

const (
	itemTagProveAndLift uint64 = iota
	itemTagJoin
	itemTagGroth16
)

// ProveAndLiftItem is the index of a segment.
type ProveAndLiftItem uint32

func (ProveAndLiftItem) itemTag() uint64 { return itemTagProveAndLift }

func (i ProveAndLiftItem) String() string { return fmt.Sprintf("prove_and_lift(%d)", uint32(i)) }

// JoinItem names the two receipts being joined, echoing the announced pair.
type JoinItem struct {
	_     struct{} `cbor:",toarray"`
	Left  string
	Right string
}

func (JoinItem) itemTag() uint64 { return itemTagJoin }

func (i JoinItem) String() string { return fmt.Sprintf("join(%s, %s)", i.Left, i.Right) }

// Groth16Item is the single SNARK extraction of a job.
type Groth16Item struct{}

func (Groth16Item) itemTag() uint64 { return itemTagGroth16 }

func (Groth16Item) String() string { return "groth16" }

// JobStatus is the state of an item as reported by a server. It is one of
// Running, ExecutionFailed or ExecutionSucceeded.
type JobStatus interface {
	statusTag() uint64
}

const (
	statusTagRunning uint64 = iota
	statusTagExecutionFailed
	statusTagExecutionSucceeded
)

// Running reports that execution of the item has started.
type Running struct{}

func (Running) statusTag() uint64 { return statusTagRunning }

// ExecutionFailed reports a prover failure with an optional reason.
type ExecutionFailed struct {
	Reason *string
}

func (ExecutionFailed) statusTag() uint64 { return statusTagExecutionFailed }

// ExecutionSucceeded carries the CID of the produced proof.
type ExecutionSucceeded struct {
	CID string
}

func (ExecutionSucceeded) statusTag() uint64 { return statusTagExecutionSucceeded }

// SameStatusKind reports whether a and b are the same variant of JobStatus.
func SameStatusKind(a, b JobStatus) bool {
	return a.statusTag() == b.statusTag()
}

// JobUpdate is a server report about one item of a job. An update whose
// status is ExecutionSucceeded is a proof.
type JobUpdate struct {
	JobID  string
	Item   Item
	Status JobStatus
}

// Request is sent over the request/response protocol. The only variant is Update.
type Request interface {
	requestTag() uint64
}

const requestTagUpdate uint64 = 0

// Update is a batch of job updates from a server to a client.
type Update []JobUpdate

func (Update) requestTag() uint64 { return requestTagUpdate }

// Response acknowledges a Request. The only variant is Unknown.
type Response interface {
	responseTag() uint64
}

const responseTagUnknown uint64 = 0

// Unknown is a placeholder acknowledgement.
type Unknown struct{}

func (Unknown) responseTag() uint64 { return responseTagUnknown }

type jobUpdateWire struct {
	JobID  string          `cbor:"1,keyasint"`
	Item   cbor.RawMessage `cbor:"2,keyasint"`
	Status cbor.RawMessage `cbor:"3,keyasint"`
}

func (u JobUpdate) MarshalCBOR() ([]byte, error) {
	item, err := MarshalItem(u.Item)
	if err != nil {
		return nil, err
	}
	status, err := marshalStatus(u.Status)
	if err != nil {
		return nil, err
	}
	return cbor.EncMode.Marshal(jobUpdateWire{JobID: u.JobID, Item: item, Status: status})
}

func (u *JobUpdate) UnmarshalCBOR(data []byte) error {
	var w jobUpdateWire
	if err := cbor.DecMode.Unmarshal(data, &w); err != nil {
		return err
	}
	item, err := UnmarshalItem(w.Item)
	if err != nil {
		return err
	}
	status, err := unmarshalStatus(w.Status)
	if err != nil {
		return err
	}
	*u = JobUpdate{JobID: w.JobID, Item: item, Status: status}
	return nil
}

// MarshalItem encodes an Item as a tagged variant.
func MarshalItem(i Item) ([]byte, error) {
	switch v := i.(type) {
	case ProveAndLiftItem:
		return cbor.MarshalVariant(itemTagProveAndLift, uint32(v))
	case JoinItem:
		return cbor.MarshalVariant(itemTagJoin, v)
	case Groth16Item:
		return cbor.MarshalVariant(itemTagGroth16, nil)
	default:
		return nil, fmt.Errorf("invalid item type %T", i)
	}
}

// UnmarshalItem decodes an Item encoded by MarshalItem.
func UnmarshalItem(data []byte) (Item, error) {
	v, err := cbor.UnmarshalVariant(data)
	if err != nil {
		return nil, err
	}
	switch v.Tag {
	case itemTagProveAndLift:
		var idx uint32
		if err := v.DecodePayload(&idx); err != nil {
			return nil, fmt.Errorf("could not decode segment index: %w", err)
		}
		return ProveAndLiftItem(idx), nil
	case itemTagJoin:
		var j JoinItem
		if err := v.DecodePayload(&j); err != nil {
			return nil, fmt.Errorf("could not decode join item: %w", err)
		}
		return j, nil
	case itemTagGroth16:
		return Groth16Item{}, nil
	default:
		return nil, encoding.NewUnknownVariantError("item", v.Tag)
	}
}

func marshalStatus(s JobStatus) ([]byte, error) {
	switch v := s.(type) {
	case Running:
		return cbor.MarshalVariant(statusTagRunning, nil)
	case ExecutionFailed:
		// a nil reason is encoded as null
		return cbor.MarshalVariant(statusTagExecutionFailed, v.Reason)
	case ExecutionSucceeded:
		return cbor.MarshalVariant(statusTagExecutionSucceeded, v.CID)
	default:
		return nil, fmt.Errorf("invalid job status type %T", s)
	}
}

func unmarshalStatus(data []byte) (JobStatus, error) {
	v, err := cbor.UnmarshalVariant(data)
	if err != nil {
		return nil, err
	}
	switch v.Tag {
	case statusTagRunning:
		return Running{}, nil
	case statusTagExecutionFailed:
		var reason *string
		if err := v.DecodePayload(&reason); err != nil {
			return nil, fmt.Errorf("could not decode failure reason: %w", err)
		}
		return ExecutionFailed{Reason: reason}, nil
	case statusTagExecutionSucceeded:
		var c string
		if err := v.DecodePayload(&c); err != nil {
			return nil, fmt.Errorf("could not decode proof cid: %w", err)
		}
		return ExecutionSucceeded{CID: c}, nil
	default:
		return nil, encoding.NewUnknownVariantError("job status", v.Tag)
	}
}

// MarshalRequest encodes a Request as a tagged variant.
func MarshalRequest(r Request) ([]byte, error) {
	switch v := r.(type) {
	case Update:
		list := []JobUpdate(v)
		if list == nil {
			list = []JobUpdate{}
		}
		return cbor.MarshalVariant(requestTagUpdate, list)
	default:
		return nil, fmt.Errorf("invalid request type %T", r)
	}
}

// UnmarshalRequest decodes a Request encoded by MarshalRequest.
func UnmarshalRequest(data []byte) (Request, error) {
	v, err := cbor.UnmarshalVariant(data)
	if err != nil {
		return nil, err
	}
	switch v.Tag {
	case requestTagUpdate:
		var list []JobUpdate
		if err := v.DecodePayload(&list); err != nil {
			return nil, fmt.Errorf("could not decode update: %w", err)
		}
		return Update(list), nil
	default:
		return nil, encoding.NewUnknownVariantError("request", v.Tag)
	}
}

// MarshalResponse encodes a Response as a tagged variant.
func MarshalResponse(r Response) ([]byte, error) {
	switch r.(type) {
	case Unknown:
		return cbor.MarshalVariant(responseTagUnknown, nil)
	default:
		return nil, fmt.Errorf("invalid response type %T", r)
	}
}

// UnmarshalResponse decodes a Response encoded by MarshalResponse.
func UnmarshalResponse(data []byte) (Response, error) {
	v, err := cbor.UnmarshalVariant(data)
	if err != nil {
		return nil, err
	}
	switch v.Tag {
	case responseTagUnknown:
		return Unknown{}, nil
	default:
		return nil, encoding.NewUnknownVariantError("response", v.Tag)
	}
}
