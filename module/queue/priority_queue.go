package queue

import "container/heap"

// entry is one queued message. seq breaks priority ties in insertion order.
type entry[T any] struct {
	message  T
	priority float64
	seq      uint64
}

// entries is a max-heap on priority.
type entries[T any] []entry[T]

var _ heap.Interface = (*entries[int])(nil)

func (e entries[T]) Len() int { return len(e) }

func (e entries[T]) Less(i, j int) bool {
	if e[i].priority == e[j].priority {
		return e[i].seq < e[j].seq
	}
	return e[i].priority > e[j].priority
}

func (e entries[T]) Swap(i, j int) { e[i], e[j] = e[j], e[i] }

func (e *entries[T]) Push(x any) { *e = append(*e, x.(entry[T])) }

func (e *entries[T]) Pop() any {
	old := *e
	last := old[len(old)-1]
	old[len(old)-1] = entry[T]{}
	*e = old[:len(old)-1]
	return last
}
