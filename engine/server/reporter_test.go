package server

import (
	"context"
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/utils/unittest"
)

type recordingSender struct {
	mu      sync.Mutex
	batches []messages.Update
}

func (s *recordingSender) Send(_ context.Context, _ peer.ID, req messages.Request) (messages.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, req.(messages.Update))
	return messages.Unknown{}, nil
}

func statuses(batch messages.Update) []messages.JobStatus {
	out := make([]messages.JobStatus, 0, len(batch))
	for _, u := range batch {
		out = append(out, u.Status)
	}
	return out
}

// TestReporter_KeepsTransitionsWithinBatch checks an item that starts and
// finishes inside one window is reported as running, then succeeded, while
// replay only resends the latest report.
func TestReporter_KeepsTransitionsWithinBatch(t *testing.T) {
	sender := &recordingSender{}
	r, err := newReporter(unittest.Logger(), sender, metrics.NewNoopCollector(), DefaultConfig())
	require.NoError(t, err)

	client := unittest.PeerIDFixture(t)
	item := messages.ProveAndLiftItem(1)
	failed := "out of memory"

	r.enqueue(client, messages.JobUpdate{JobID: "job", Item: item, Status: messages.Running{}})
	r.enqueue(client, messages.JobUpdate{JobID: "job", Item: item, Status: messages.ExecutionFailed{Reason: &failed}})
	r.enqueue(client, messages.JobUpdate{JobID: "job", Item: item, Status: messages.Running{}})
	r.enqueue(client, messages.JobUpdate{JobID: "job", Item: item, Status: messages.ExecutionSucceeded{CID: "a"}})
	// a repeated status replaces the previous one
	r.enqueue(client, messages.JobUpdate{JobID: "job", Item: item, Status: messages.ExecutionSucceeded{CID: "b"}})
	r.enqueue(client, messages.JobUpdate{JobID: "job", Item: messages.Groth16Item{}, Status: messages.Running{}})
	r.flush(context.Background())

	require.Len(t, sender.batches, 1)
	assert.Equal(t, []messages.JobStatus{
		messages.Running{},
		messages.ExecutionFailed{Reason: &failed},
		messages.Running{},
		messages.ExecutionSucceeded{CID: "b"},
		messages.Running{},
	}, statuses(sender.batches[0]))

	assert.Equal(t, 2, r.replay(client))
	r.flush(context.Background())
	require.Len(t, sender.batches, 2)
	assert.Equal(t, []messages.JobStatus{
		messages.ExecutionSucceeded{CID: "b"},
		messages.Running{},
	}, statuses(sender.batches[1]))
}
