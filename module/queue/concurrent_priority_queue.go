package queue

import (
	"container/heap"
	"sync"
)

// ConcurrentPriorityQueue is a bounded, concurrency safe priority queue. Its
// Channel is notified while items remain, so several consumers each waking up
// for one item drain it in parallel.
type ConcurrentPriorityQueue[T any] struct {
	mu       sync.Mutex
	queue    entries[T]
	seq      uint64
	capacity int
	notifier chan struct{}
}

// NewConcurrentPriorityQueue returns a queue holding at most capacity items;
// capacity 0 means unbounded.
func NewConcurrentPriorityQueue[T any](capacity int) *ConcurrentPriorityQueue[T] {
	return &ConcurrentPriorityQueue[T]{
		capacity: capacity,
		notifier: make(chan struct{}, 1),
	}
}

// Push adds message with the given priority. It returns false if the queue is full.
func (q *ConcurrentPriorityQueue[T]) Push(message T, priority float64) bool {
	q.mu.Lock()
	if q.capacity > 0 && q.queue.Len() >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.queue, entry[T]{message: message, priority: priority, seq: q.seq})
	q.mu.Unlock()

	q.notify()
	return true
}

// Pop removes and returns the highest priority message.
func (q *ConcurrentPriorityQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	if q.queue.Len() == 0 {
		q.mu.Unlock()
		var zero T
		return zero, false
	}
	item := heap.Pop(&q.queue).(entry[T])
	remaining := q.queue.Len()
	q.mu.Unlock()

	if remaining > 0 {
		q.notify()
	}
	return item.message, true
}

func (q *ConcurrentPriorityQueue[T]) notify() {
	select {
	case q.notifier <- struct{}{}:
	default:
	}
}

func (q *ConcurrentPriorityQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}

// Channel is notified after a push and after a pop leaving items behind.
func (q *ConcurrentPriorityQueue[T]) Channel() <-chan struct{} {
	return q.notifier
}
