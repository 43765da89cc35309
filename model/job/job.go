package job

import (
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wholesum/bazaar/model/messages"
)

// DeadlineFactor multiplies the expected runtime of an item to obtain the
// deadline after which a running item is offered again.
const DeadlineFactor = 10

// Spec describes a job as loaded by the client.
type Spec struct {
	ID              string
	SegmentsBaseCID string
	SegmentPrefix   string
	Po2             uint8
	NumSegments     uint32
	// ImageID is the identifier of the guest program every receipt is verified against.
	ImageID []byte
	Budget  uint32
}

// Validate checks the spec describes a job that can be announced.
func (s Spec) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("job id is empty")
	case len(s.ID) > messages.MaxIDLength:
		return fmt.Errorf("job id longer than %d bytes", messages.MaxIDLength)
	case s.NumSegments == 0:
		return fmt.Errorf("job has no segments")
	case len(s.ImageID) == 0:
		return fmt.Errorf("job has no image id")
	}
	if _, err := cid.Decode(s.SegmentsBaseCID); err != nil {
		return fmt.Errorf("invalid segments base cid %q: %w", s.SegmentsBaseCID, err)
	}
	return nil
}

// ExpectedRuntime returns how long an item of the given kind is expected to
// take on a single prover for segments of the given po2.
func ExpectedRuntime(kind Kind, po2 uint8) time.Duration {
	switch kind {
	case KindProveAndLift:
		// 30s for a 2^16 cycle segment, doubling with every po2 step
		shift := int(po2) - 16
		if shift < 0 {
			shift = 0
		}
		if shift > 10 {
			shift = 10
		}
		return 30 * time.Second << shift
	case KindJoin:
		return time.Minute
	default:
		return 3 * time.Minute
	}
}

// Outcome is the result of recording a proof.
type Outcome int

const (
	// Accepted proofs became the candidate of their item and must be verified.
	Accepted Outcome = iota
	// Queued proofs wait behind another candidate of the same item.
	Queued
	// Duplicate proofs were already known or their item is done.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Queued:
		return "queued"
	case Duplicate:
		return "duplicate"
	default:
		return "invalid"
	}
}

// Job is a client-scoped end-to-end proof task. Its items form a tree:
// segments are leaves, joins are inner nodes and the groth16 item is the root.
// A Job is not safe for concurrent use; it is owned by the client event loop.
type Job struct {
	spec Spec

	items []*Item

	// frontier lists, in segment order, the items whose proofs are not yet
	// consumed by a parent; it collapses to the root receipt.
	frontier []int

	pairs     []messages.Pair
	pairIndex map[messages.Pair]int
	pairItems []int

	groth16 int

	// confirmed maps verified proof CIDs to their item
	confirmed map[string]int
	// history lists items in the order their proofs were verified
	history []int

	proveMap Bitmap
	joinMap  Bitmap
}

// New creates a job with one pending prove item per segment.
func New(spec Spec) (*Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job spec: %w", err)
	}

	j := &Job{
		spec:      spec,
		items:     make([]*Item, 0, 2*int(spec.NumSegments)),
		frontier:  make([]int, 0, spec.NumSegments),
		pairIndex: make(map[messages.Pair]int),
		groth16:   -1,
		confirmed: make(map[string]int),
		proveMap:  NewBitmap(spec.NumSegments),
	}
	for s := uint32(0); s < spec.NumSegments; s++ {
		it := newItem(len(j.items), KindProveAndLift)
		it.Segment = s
		j.items = append(j.items, it)
		j.frontier = append(j.frontier, it.Index)
	}
	return j, nil
}

func (j *Job) ID() string {
	return j.spec.ID
}

func (j *Job) Spec() Spec {
	return j.spec
}

// Item returns the item at index i.
func (j *Job) Item(i int) *Item {
	return j.items[i]
}

// Items returns the number of items created so far.
func (j *Job) Items() int {
	return len(j.items)
}

// Pairs returns the ordered, append-only list of join pairs announced so far.
func (j *Job) Pairs() []messages.Pair {
	pairs := make([]messages.Pair, len(j.pairs))
	copy(pairs, j.pairs)
	return pairs
}

// ProveMap returns a copy of the prove layer progress map.
func (j *Job) ProveMap() Bitmap {
	return j.proveMap.Clone()
}

// JoinMap returns a copy of the join layer progress map, sized for all pairs.
func (j *Job) JoinMap() Bitmap {
	return j.joinMap.Grow(uint32(len(j.pairs))).Clone()
}

// Done returns whether the groth16 proof is verified.
func (j *Job) Done() bool {
	return j.groth16 >= 0 && j.items[j.groth16].Status == Succeeded
}

// Result returns the CID of the verified groth16 proof.
func (j *Job) Result() (string, bool) {
	if !j.Done() {
		return "", false
	}
	return j.items[j.groth16].ProofCID, true
}

// Progress returns done and total item counts of a layer.
func (j *Job) Progress(kind Kind) (int, int) {
	switch kind {
	case KindProveAndLift:
		return j.proveMap.Count(), int(j.spec.NumSegments)
	case KindJoin:
		// a job over n segments needs exactly n-1 joins
		return j.joinMap.Count(), int(j.spec.NumSegments) - 1
	default:
		if j.Done() {
			return 1, 1
		}
		return 0, 1
	}
}

// ProveNeed returns the prove layer announcement while segments remain, and
// marks the announced items as offered.
func (j *Job) ProveNeed() (messages.ProveAndLiftDetails, bool) {
	if j.proveMap.Count() == int(j.spec.NumSegments) {
		return messages.ProveAndLiftDetails{}, false
	}
	j.markOffered(KindProveAndLift)
	return messages.ProveAndLiftDetails{
		SegmentsBaseCID: j.spec.SegmentsBaseCID,
		SegmentPrefix:   j.spec.SegmentPrefix,
		Po2:             j.spec.Po2,
		NumSegments:     j.spec.NumSegments,
		ProgressMap:     j.proveMap.Clone(),
	}, true
}

// JoinNeed returns the join layer pairs and progress map while some announced
// pair is not joined yet, and marks the announced items as offered. The caller
// decides whether the pairs travel inline or by reference.
func (j *Job) JoinNeed() ([]messages.Pair, Bitmap, bool) {
	if len(j.pairs) == 0 || j.joinMap.Count() == len(j.pairs) {
		return nil, nil, false
	}
	j.markOffered(KindJoin)
	return j.Pairs(), j.JoinMap(), true
}

// Groth16Need returns the groth16 announcement once the frontier collapsed to
// a single verified receipt and until the groth16 proof is verified.
func (j *Job) Groth16Need() (messages.Groth16Details, bool) {
	if j.groth16 < 0 || j.Done() {
		return messages.Groth16Details{}, false
	}
	j.markOffered(KindGroth16)
	root := j.items[j.items[j.groth16].Children[0]]
	return messages.Groth16Details{CID: root.ProofCID}, true
}

func (j *Job) markOffered(kind Kind) {
	for _, it := range j.items {
		if it.Kind == kind && (it.Status == Pending || it.Status == Failed) {
			it.Status = Offered
		}
	}
}

// Resolve maps a reported item identity to the index of the item. Unknown
// identities are protocol violations.
func (j *Job) Resolve(item messages.Item) (int, error) {
	switch v := item.(type) {
	case messages.ProveAndLiftItem:
		if uint32(v) >= j.spec.NumSegments {
			return -1, NewProtocolViolationErrorf(j.spec.ID, "segment %d out of range [0, %d)", uint32(v), j.spec.NumSegments)
		}
		return int(v), nil
	case messages.JoinItem:
		pi, ok := j.pairIndex[messages.Pair{Left: v.Left, Right: v.Right}]
		if !ok {
			return -1, NewProtocolViolationErrorf(j.spec.ID, "pair (%s, %s) was never announced", v.Left, v.Right)
		}
		return j.pairItems[pi], nil
	case messages.Groth16Item:
		if j.groth16 < 0 {
			return -1, NewProtocolViolationErrorf(j.spec.ID, "groth16 item is not announced yet")
		}
		return j.groth16, nil
	default:
		return -1, NewProtocolViolationErrorf(j.spec.ID, "invalid item type %T", item)
	}
}

// MarkRunning records that prover started executing the item. It is a no-op
// for items that already have a proof.
func (j *Job) MarkRunning(item messages.Item, prover peer.ID, now time.Time) (int, error) {
	idx, err := j.Resolve(item)
	if err != nil {
		return -1, err
	}
	it := j.items[idx]
	if it.Status.announceable() || it.Status == Running {
		it.Status = Running
		it.Runner = prover
		it.Deadline = now.Add(DeadlineFactor * ExpectedRuntime(it.Kind, j.spec.Po2))
	}
	return idx, nil
}

// RecordFailure records that the item failed on prover. The item is offered
// again on the next announcement.
func (j *Job) RecordFailure(item messages.Item, prover peer.ID, reason string) (int, error) {
	idx, err := j.Resolve(item)
	if err != nil {
		return -1, err
	}
	it := j.items[idx]
	if it.Status == Running && it.Runner != prover {
		// another server still holds it
		return idx, nil
	}
	if it.Status.announceable() || it.Status == Running {
		it.Status = Failed
		it.Attempts++
		it.LastError = reason
		it.Runner = ""
		it.Deadline = time.Time{}
	}
	return idx, nil
}

// RecordProof records a proof reported by prover. The first proof of an item
// becomes its candidate and must be verified before the item succeeds; other
// distinct proofs queue behind it.
func (j *Job) RecordProof(item messages.Item, proofCID string, prover peer.ID) (Outcome, Candidate, error) {
	idx, err := j.Resolve(item)
	if err != nil {
		return Duplicate, Candidate{}, err
	}
	if _, err := cid.Decode(proofCID); err != nil {
		return Duplicate, Candidate{}, NewProtocolViolationErrorf(j.spec.ID, "invalid proof cid %q for %s: %v", proofCID, item, err)
	}

	if owner, ok := j.confirmed[proofCID]; ok && owner != idx {
		return Duplicate, Candidate{}, NewProtocolViolationErrorf(j.spec.ID, "proof %s of item %d reported for %s", proofCID, owner, item)
	}

	it := j.items[idx]
	c := Candidate{Item: idx, CID: proofCID, Prover: prover}
	switch {
	case it.Status == Succeeded:
		return Duplicate, c, nil
	case it.hasCandidate(proofCID):
		return Duplicate, c, nil
	case it.Status == Verifying:
		it.alternates = append(it.alternates, c)
		return Queued, c, nil
	default:
		it.Status = Verifying
		it.candidate = &c
		it.Runner = ""
		it.Deadline = time.Time{}
		return Accepted, c, nil
	}
}

// ConfirmProof marks the candidate as verified. The item succeeds, its bit is
// set and dependent work (pairs, groth16) is scheduled.
func (j *Job) ConfirmProof(c Candidate) error {
	if c.Item < 0 || c.Item >= len(j.items) {
		return fmt.Errorf("item %d out of range", c.Item)
	}
	it := j.items[c.Item]
	if it.Status != Verifying || it.candidate == nil || it.candidate.CID != c.CID {
		return ErrStaleProof
	}

	it.Status = Succeeded
	it.ProofCID = c.CID
	j.confirmed[c.CID] = c.Item
	j.history = append(j.history, c.Item)
	it.candidate = nil
	it.alternates = nil

	switch it.Kind {
	case KindProveAndLift:
		j.proveMap.Set(it.Segment)
	case KindJoin:
		j.joinMap = j.joinMap.Grow(uint32(len(j.pairs)))
		j.joinMap.Set(uint32(it.Pair))
	}

	j.advance()
	return nil
}

// RejectProof drops the candidate after a failed verification. If another
// proof is queued for the item it becomes the candidate and is returned;
// otherwise the item goes back to pending.
func (j *Job) RejectProof(c Candidate, reason string) (Candidate, bool, error) {
	if c.Item < 0 || c.Item >= len(j.items) {
		return Candidate{}, false, fmt.Errorf("item %d out of range", c.Item)
	}
	it := j.items[c.Item]
	if it.Status != Verifying || it.candidate == nil || it.candidate.CID != c.CID {
		return Candidate{}, false, ErrStaleProof
	}

	it.Attempts++
	it.LastError = reason
	if len(it.alternates) > 0 {
		next := it.alternates[0]
		it.alternates = it.alternates[1:]
		it.candidate = &next
		return next, true, nil
	}
	it.candidate = nil
	it.Status = Pending
	return Candidate{}, false, nil
}

// ExpireDeadlines puts running items whose deadline passed back to pending and
// returns them.
func (j *Job) ExpireDeadlines(now time.Time) []*Item {
	var expired []*Item
	for _, it := range j.items {
		if it.Status == Running && !it.Deadline.IsZero() && now.After(it.Deadline) {
			expired = append(expired, &Item{Index: it.Index, Kind: it.Kind, Runner: it.Runner})
			it.Status = Pending
			it.Runner = ""
			it.Deadline = time.Time{}
		}
	}
	return expired
}

// advance pairs adjacent verified receipts of the frontier, left to right, and
// activates the groth16 item once the frontier collapsed to one receipt.
func (j *Job) advance() {
	next := make([]int, 0, len(j.frontier))
	for i := 0; i < len(j.frontier); i++ {
		left := j.items[j.frontier[i]]
		if i+1 < len(j.frontier) {
			right := j.items[j.frontier[i+1]]
			if left.Status == Succeeded && right.Status == Succeeded {
				next = append(next, j.addJoin(left, right))
				i++
				continue
			}
		}
		next = append(next, left.Index)
	}
	j.frontier = next

	if len(j.frontier) == 1 && j.groth16 < 0 {
		root := j.items[j.frontier[0]]
		if root.Status == Succeeded {
			g := newItem(len(j.items), KindGroth16)
			g.Children[0] = root.Index
			root.Parent = g.Index
			j.items = append(j.items, g)
			j.groth16 = g.Index
		}
	}
}

func (j *Job) addJoin(left, right *Item) int {
	pair := messages.Pair{Left: left.ProofCID, Right: right.ProofCID}
	it := newItem(len(j.items), KindJoin)
	it.Pair = len(j.pairs)
	it.Children = [2]int{left.Index, right.Index}
	left.Parent = it.Index
	right.Parent = it.Index

	j.items = append(j.items, it)
	j.pairIndex[pair] = it.Pair
	j.pairs = append(j.pairs, pair)
	j.pairItems = append(j.pairItems, it.Index)
	j.joinMap = j.joinMap.Grow(uint32(len(j.pairs)))
	return it.Index
}
