package job_test

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/utils/unittest"
)

const (
	s1 = peer.ID("server-1")
	s2 = peer.ID("server-2")
)

// prove records and confirms a fresh proof for item, returning its cid.
func prove(t require.TestingT, j *job.Job, item messages.Item, prover peer.ID) string {
	proof := unittest.CIDFixture()
	outcome, c, err := j.RecordProof(item, proof, prover)
	require.NoError(t, err)
	require.Equal(t, job.Accepted, outcome)
	require.NoError(t, j.ConfirmProof(c))
	return proof
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := job.New(unittest.JobSpecFixture(0))
	require.Error(t, err)

	_, err = job.New(unittest.JobSpecFixture(4, func(s *job.Spec) { s.SegmentsBaseCID = "not-a-cid" }))
	require.Error(t, err)
}

// TestJob_HappyPath walks a four segment job through all layers.
func TestJob_HappyPath(t *testing.T) {
	j, err := job.New(unittest.JobSpecFixture(4))
	require.NoError(t, err)

	details, ok := j.ProveNeed()
	require.True(t, ok)
	assert.Equal(t, []byte{0x00}, details.ProgressMap)
	assert.Equal(t, uint32(4), details.NumSegments)
	assert.Equal(t, job.Offered, j.Item(0).Status)

	_, _, ok = j.JoinNeed()
	assert.False(t, ok)
	_, ok = j.Groth16Need()
	assert.False(t, ok)

	p := make([]string, 4)
	p[0] = prove(t, j, messages.ProveAndLiftItem(0), s1)
	p[1] = prove(t, j, messages.ProveAndLiftItem(1), s1)
	p[2] = prove(t, j, messages.ProveAndLiftItem(2), s2)

	pairs, joinMap, ok := j.JoinNeed()
	require.True(t, ok)
	assert.Equal(t, []messages.Pair{{Left: p[0], Right: p[1]}}, pairs)
	assert.Equal(t, job.Bitmap{0x00}, joinMap)

	p[3] = prove(t, j, messages.ProveAndLiftItem(3), s2)
	_, ok = j.ProveNeed()
	assert.False(t, ok, "all segments proved")

	pairs, _, ok = j.JoinNeed()
	require.True(t, ok)
	require.Equal(t, []messages.Pair{{Left: p[0], Right: p[1]}, {Left: p[2], Right: p[3]}}, pairs)

	j01 := prove(t, j, messages.JoinItem{Left: p[0], Right: p[1]}, s1)
	j23 := prove(t, j, messages.JoinItem{Left: p[2], Right: p[3]}, s2)

	pairs, joinMap, ok = j.JoinNeed()
	require.True(t, ok)
	require.Len(t, pairs, 3)
	assert.Equal(t, messages.Pair{Left: j01, Right: j23}, pairs[2])
	assert.Equal(t, job.Bitmap{0x03}, joinMap)

	_, ok = j.Groth16Need()
	assert.False(t, ok, "frontier has not collapsed")

	r := prove(t, j, messages.JoinItem{Left: j01, Right: j23}, s1)
	_, _, ok = j.JoinNeed()
	assert.False(t, ok)

	g16, ok := j.Groth16Need()
	require.True(t, ok)
	assert.Equal(t, r, g16.CID)
	assert.False(t, j.Done())

	g := prove(t, j, messages.Groth16Item{}, s2)
	assert.True(t, j.Done())
	result, ok := j.Result()
	require.True(t, ok)
	assert.Equal(t, g, result)

	done, total := j.Progress(job.KindJoin)
	assert.Equal(t, 3, done)
	assert.Equal(t, 3, total)
}

func TestJob_SingleSegmentSkipsJoin(t *testing.T) {
	j, err := job.New(unittest.JobSpecFixture(1))
	require.NoError(t, err)

	p0 := prove(t, j, messages.ProveAndLiftItem(0), s1)
	_, _, ok := j.JoinNeed()
	assert.False(t, ok)
	g16, ok := j.Groth16Need()
	require.True(t, ok)
	assert.Equal(t, p0, g16.CID)
}

// TestJob_RejectedProofKeepsBitUnset checks a proof failing verification puts
// the item back to pending without touching the progress map.
func TestJob_RejectedProofKeepsBitUnset(t *testing.T) {
	j, err := job.New(unittest.JobSpecFixture(4))
	require.NoError(t, err)

	outcome, bad, err := j.RecordProof(messages.ProveAndLiftItem(2), unittest.CIDFixture(), s1)
	require.NoError(t, err)
	require.Equal(t, job.Accepted, outcome)
	assert.Equal(t, job.Verifying, j.Item(2).Status)

	_, promoted, err := j.RejectProof(bad, "receipt does not verify")
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Equal(t, job.Pending, j.Item(2).Status)

	details, ok := j.ProveNeed()
	require.True(t, ok)
	assert.False(t, job.Bitmap(details.ProgressMap).IsSet(2))

	prove(t, j, messages.ProveAndLiftItem(2), s2)
	details, _ = j.ProveNeed()
	assert.True(t, job.Bitmap(details.ProgressMap).IsSet(2))
}

func TestJob_AlternateProofPromoted(t *testing.T) {
	j, err := job.New(unittest.JobSpecFixture(2))
	require.NoError(t, err)

	outcome, first, err := j.RecordProof(messages.ProveAndLiftItem(0), unittest.CIDFixture(), s1)
	require.NoError(t, err)
	require.Equal(t, job.Accepted, outcome)

	alt := unittest.CIDFixture()
	outcome, _, err = j.RecordProof(messages.ProveAndLiftItem(0), alt, s2)
	require.NoError(t, err)
	require.Equal(t, job.Queued, outcome)

	next, promoted, err := j.RejectProof(first, "bad")
	require.NoError(t, err)
	require.True(t, promoted)
	assert.Equal(t, alt, next.CID)
	assert.Equal(t, s2, next.Prover)

	require.NoError(t, j.ConfirmProof(next))
	assert.Equal(t, job.Succeeded, j.Item(0).Status)

	// the rejected candidate is stale now
	assert.ErrorIs(t, j.ConfirmProof(first), job.ErrStaleProof)
}

// TestJob_DuplicateProofOnce checks a proof received twice updates state once.
func TestJob_DuplicateProofOnce(t *testing.T) {
	j, err := job.New(unittest.JobSpecFixture(2))
	require.NoError(t, err)

	proof := unittest.CIDFixture()
	outcome, c, err := j.RecordProof(messages.ProveAndLiftItem(1), proof, s1)
	require.NoError(t, err)
	require.Equal(t, job.Accepted, outcome)

	outcome, _, err = j.RecordProof(messages.ProveAndLiftItem(1), proof, s1)
	require.NoError(t, err)
	assert.Equal(t, job.Duplicate, outcome)

	require.NoError(t, j.ConfirmProof(c))
	outcome, _, err = j.RecordProof(messages.ProveAndLiftItem(1), proof, s1)
	require.NoError(t, err)
	assert.Equal(t, job.Duplicate, outcome)

	// a second server finishing the same segment later is not an error
	outcome, _, err = j.RecordProof(messages.ProveAndLiftItem(1), unittest.CIDFixture(), s2)
	require.NoError(t, err)
	assert.Equal(t, job.Duplicate, outcome)
	assert.Equal(t, 1, j.ProveMap().Count())
}

func TestJob_ProtocolViolations(t *testing.T) {
	j, err := job.New(unittest.JobSpecFixture(4))
	require.NoError(t, err)

	_, _, err = j.RecordProof(messages.ProveAndLiftItem(4), unittest.CIDFixture(), s1)
	assert.True(t, job.IsProtocolViolationError(err), "segment out of range")

	_, _, err = j.RecordProof(messages.JoinItem{Left: unittest.CIDFixture(), Right: unittest.CIDFixture()}, unittest.CIDFixture(), s1)
	assert.True(t, job.IsProtocolViolationError(err), "unannounced pair")

	_, _, err = j.RecordProof(messages.Groth16Item{}, unittest.CIDFixture(), s1)
	assert.True(t, job.IsProtocolViolationError(err), "groth16 before collapse")

	_, _, err = j.RecordProof(messages.ProveAndLiftItem(0), "not-a-cid", s1)
	assert.True(t, job.IsProtocolViolationError(err), "invalid cid")

	p0 := prove(t, j, messages.ProveAndLiftItem(0), s1)
	_, _, err = j.RecordProof(messages.ProveAndLiftItem(1), p0, s1)
	assert.True(t, job.IsProtocolViolationError(err), "proof of another item")

	_, err = j.MarkRunning(messages.ProveAndLiftItem(9), s1, time.Now())
	assert.True(t, job.IsProtocolViolationError(err))
}

func TestJob_RunningDeadline(t *testing.T) {
	j, err := job.New(unittest.JobSpecFixture(2))
	require.NoError(t, err)
	_, _ = j.ProveNeed()

	now := time.Now()
	idx, err := j.MarkRunning(messages.ProveAndLiftItem(1), s1, now)
	require.NoError(t, err)
	it := j.Item(idx)
	assert.Equal(t, job.Running, it.Status)
	assert.Equal(t, s1, it.Runner)

	expected := job.DeadlineFactor * job.ExpectedRuntime(job.KindProveAndLift, 19)
	assert.Equal(t, now.Add(expected), it.Deadline)

	assert.Empty(t, j.ExpireDeadlines(now.Add(expected/2)))
	expired := j.ExpireDeadlines(now.Add(expected + time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, s1, expired[0].Runner)
	assert.Equal(t, job.Pending, j.Item(idx).Status)
}

func TestJob_RecordFailure(t *testing.T) {
	j, err := job.New(unittest.JobSpecFixture(2))
	require.NoError(t, err)

	_, err = j.MarkRunning(messages.ProveAndLiftItem(0), s1, time.Now())
	require.NoError(t, err)

	// a failure from a server not holding the item does not release it
	idx, err := j.RecordFailure(messages.ProveAndLiftItem(0), s2, "oom")
	require.NoError(t, err)
	assert.Equal(t, job.Running, j.Item(idx).Status)

	_, err = j.RecordFailure(messages.ProveAndLiftItem(0), s1, "oom")
	require.NoError(t, err)
	it := j.Item(idx)
	assert.Equal(t, job.Failed, it.Status)
	assert.Equal(t, "oom", it.LastError)
	assert.Equal(t, 1, it.Attempts)

	_, _ = j.ProveNeed()
	assert.Equal(t, job.Offered, j.Item(idx).Status)
}

func TestJob_SnapshotRestore(t *testing.T) {
	spec := unittest.JobSpecFixture(5)
	j, err := job.New(spec)
	require.NoError(t, err)

	// prove out of order so the pairing depends on confirmation order
	p3 := prove(t, j, messages.ProveAndLiftItem(3), s1)
	p2 := prove(t, j, messages.ProveAndLiftItem(2), s1)
	prove(t, j, messages.ProveAndLiftItem(0), s2)
	prove(t, j, messages.JoinItem{Left: p2, Right: p3}, s2)

	restored, err := job.New(spec)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(j.Snapshot()))

	assert.Equal(t, j.Pairs(), restored.Pairs())
	assert.Equal(t, j.ProveMap(), restored.ProveMap())
	assert.Equal(t, j.JoinMap(), restored.JoinMap())
}

// TestJob_Invariants drives a job with random proofs, rejections and
// failures and checks after every step that progress maps only grow and every
// announced pair is made of verified proofs of the same job.
func TestJob_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Uint32Range(1, 24).Draw(t, "segments")
		j, err := job.New(unittest.JobSpecFixture(n))
		require.NoError(t, err)

		verified := make(map[string]bool)
		prevProve := j.ProveMap()
		prevJoin := j.JoinMap()

		for step := 0; step < 400 && !j.Done(); step++ {
			// pick any item that currently exists
			idx := rapid.IntRange(0, j.Items()-1).Draw(t, "item")
			it := j.Item(idx)
			identity := it.Identity(j)

			switch rapid.IntRange(0, 3).Draw(t, "action") {
			case 0, 1:
				outcome, c, err := j.RecordProof(identity, unittest.CIDFixture(), s1)
				require.NoError(t, err)
				if outcome == job.Accepted {
					require.NoError(t, j.ConfirmProof(c))
					verified[c.CID] = true
				}
			case 2:
				outcome, c, err := j.RecordProof(identity, unittest.CIDFixture(), s2)
				require.NoError(t, err)
				if outcome == job.Accepted {
					_, _, err := j.RejectProof(c, "bad")
					require.NoError(t, err)
				}
			default:
				_, err := j.RecordFailure(identity, s1, "failed")
				require.NoError(t, err)
			}

			proveMap, joinMap := j.ProveMap(), j.JoinMap()
			require.True(t, proveMap.Covers(prevProve))
			require.True(t, joinMap.Covers(prevJoin))
			require.NoError(t, proveMap.Validate(n))
			require.NoError(t, joinMap.Validate(uint32(len(j.Pairs()))))
			for _, p := range j.Pairs() {
				require.True(t, verified[p.Left])
				require.True(t, verified[p.Right])
			}
			prevProve, prevJoin = proveMap, joinMap
		}
	})
}

func TestParseKind(t *testing.T) {
	for _, k := range []job.Kind{job.KindProveAndLift, job.KindJoin, job.KindGroth16} {
		parsed, err := job.ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := job.ParseKind("snark")
	assert.Error(t, err)
}
