package engine

import (
	"fmt"
	mathbits "math/bits"
	"sync"

	"github.com/ef-ds/deque"
)

// FifoQueue is a concurrency safe FIFO queue with a maximum capacity.
// Elements pushed beyond the capacity are dropped. Each time the queue's
// length changes the QueueLengthObserver is called with the new length.
type FifoQueue struct {
	mu             sync.RWMutex
	queue          deque.Deque
	maxCapacity    int
	lengthObserver QueueLengthObserver
}

// QueueOption configures a FifoQueue.
type QueueOption func(*FifoQueue) error

// QueueLengthObserver must be non-blocking.
type QueueLengthObserver func(int)

// WithCapacity sets the max number of elements the queue holds. By default
// the capacity is the largest int.
func WithCapacity(capacity int) QueueOption {
	return func(queue *FifoQueue) error {
		if capacity < 1 {
			return fmt.Errorf("capacity for fifo queue must be positive")
		}
		queue.maxCapacity = capacity
		return nil
	}
}

// WithLengthObserver registers a callback invoked with the new length on every push and pop.
func WithLengthObserver(callback QueueLengthObserver) QueueOption {
	return func(queue *FifoQueue) error {
		if callback == nil {
			return fmt.Errorf("nil is not a valid QueueLengthObserver")
		}
		queue.lengthObserver = callback
		return nil
	}
}

func NewFifoQueue(options ...QueueOption) (*FifoQueue, error) {
	maxInt := 1<<(mathbits.UintSize-1) - 1

	queue := &FifoQueue{
		maxCapacity:    maxInt,
		lengthObserver: func(int) {},
	}
	for _, opt := range options {
		err := opt(queue)
		if err != nil {
			return nil, fmt.Errorf("failed to apply option to fifo queue: %w", err)
		}
	}
	return queue, nil
}

// Push appends element to the tail of the queue. It returns false if the
// queue is full and the element was dropped.
func (q *FifoQueue) Push(element interface{}) bool {
	length, pushed := q.push(element)
	if pushed {
		q.lengthObserver(length)
	}
	return pushed
}

func (q *FifoQueue) push(element interface{}) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.queue.Len() >= q.maxCapacity {
		return q.queue.Len(), false
	}
	q.queue.PushBack(element)
	return q.queue.Len(), true
}

// Pop removes and returns the head of the queue, or (nil, false) if it is empty.
func (q *FifoQueue) Pop() (interface{}, bool) {
	q.mu.Lock()
	element, ok := q.queue.PopFront()
	length := q.queue.Len()
	q.mu.Unlock()

	if !ok {
		return nil, false
	}
	q.lengthObserver(length)
	return element, true
}

func (q *FifoQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.queue.Len()
}

// FifoMessageStore stores messages in a FifoQueue.
type FifoMessageStore struct {
	*FifoQueue
}

func NewFifoMessageStore(maxCapacity int, options ...QueueOption) (*FifoMessageStore, error) {
	queue, err := NewFifoQueue(append([]QueueOption{WithCapacity(maxCapacity)}, options...)...)
	if err != nil {
		return nil, err
	}
	return &FifoMessageStore{FifoQueue: queue}, nil
}

func (s *FifoMessageStore) Put(msg *Message) bool {
	return s.Push(msg)
}

func (s *FifoMessageStore) Get() (*Message, bool) {
	msg, ok := s.Pop()
	if !ok {
		return nil, false
	}
	return msg.(*Message), true
}
