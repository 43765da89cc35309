package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestNotifier_Coalesces(t *testing.T) {
	n := NewNotifier()
	select {
	case <-n.Channel():
		t.Fatal("fresh notifier must not be signalled")
	default:
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			n.Notify()
		}(n)
	}
	wg.Wait()

	assert.Len(t, n.Channel(), 1)
	<-n.Channel()
	assert.Len(t, n.Channel(), 0)
}

// Producers outnumber consumers; every queued item must still be drained.
func TestNotifier_DrainsAllWork(t *testing.T) {
	const producers, perProducer = 8, 25

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := NewNotifier()
	work := make(chan struct{}, producers*perProducer)
	consumed := atomic.NewInt32(0)

	for i := 0; i < 3; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-n.Channel():
				}
				for drained := false; !drained; {
					select {
					case <-work:
						consumed.Inc()
					default:
						drained = true
					}
				}
			}
		}()
	}

	for i := 0; i < producers; i++ {
		go func() {
			for j := 0; j < perProducer; j++ {
				work <- struct{}{}
				n.Notify()
			}
		}()
	}

	require.Eventually(t, func() bool {
		return consumed.Load() == producers*perProducer
	}, 5*time.Second, time.Millisecond)
}
