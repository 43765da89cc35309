package job

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/model/messages"
)

// Kind is the layer of the proving pipeline an item belongs to.
type Kind int

const (
	KindProveAndLift Kind = iota
	KindJoin
	KindGroth16
)

func (k Kind) String() string {
	switch k {
	case KindProveAndLift:
		return "prove_and_lift"
	case KindJoin:
		return "join"
	case KindGroth16:
		return "groth16"
	default:
		return "invalid"
	}
}

// ParseKind returns the kind named s, as printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindProveAndLift, KindJoin, KindGroth16} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown compute type %q", s)
}

// Status is the client side state of an item.
type Status int

const (
	// Pending items wait to be announced.
	Pending Status = iota
	// Offered items were announced and nobody reported running them yet.
	Offered
	// Running items were reported running by a server.
	Running
	// Verifying items have a candidate proof being fetched and verified.
	Verifying
	// Succeeded items have a verified proof.
	Succeeded
	// Failed items had their execution fail; they are offered again on the next heartbeat.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Offered:
		return "offered"
	case Running:
		return "running"
	case Verifying:
		return "verifying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// announceable reports whether the item should be (re-)offered.
func (s Status) announceable() bool {
	return s == Pending || s == Failed || s == Offered
}

// Candidate is a proof reported for an item that still has to be verified.
type Candidate struct {
	Item   int
	CID    string
	Prover peer.ID
}

// Item is one unit of work. Items are owned by their job and refer to each
// other by index into the job's item list.
type Item struct {
	Index int
	Kind  Kind

	// Segment is the segment index of prove items.
	Segment uint32
	// Pair is the index into the job's pair list of join items.
	Pair int
	// Children are the indices of the input items of join (both) and
	// groth16 (first only) items; -1 when unused.
	Children [2]int
	// Parent is the index of the item consuming this item's proof, -1 if none yet.
	Parent int

	Status   Status
	ProofCID string

	candidate  *Candidate
	alternates []Candidate

	Runner    peer.ID
	Deadline  time.Time
	Attempts  int
	LastError string
}

func newItem(index int, kind Kind) *Item {
	return &Item{
		Index:    index,
		Kind:     kind,
		Children: [2]int{-1, -1},
		Parent:   -1,
	}
}

// Candidate returns the proof being verified for the item, if any.
func (it *Item) Candidate() (Candidate, bool) {
	if it.candidate == nil {
		return Candidate{}, false
	}
	return *it.candidate, true
}

func (it *Item) hasCandidate(cid string) bool {
	if it.candidate != nil && it.candidate.CID == cid {
		return true
	}
	for _, alt := range it.alternates {
		if alt.CID == cid {
			return true
		}
	}
	return false
}

// Identity returns the wire identity of the item.
func (it *Item) Identity(j *Job) messages.Item {
	switch it.Kind {
	case KindProveAndLift:
		return messages.ProveAndLiftItem(it.Segment)
	case KindJoin:
		p := j.pairs[it.Pair]
		return messages.JoinItem{Left: p.Left, Right: p.Right}
	default:
		return messages.Groth16Item{}
	}
}

func (it *Item) String() string {
	return fmt.Sprintf("%s#%d(%s)", it.Kind, it.Index, it.Status)
}
