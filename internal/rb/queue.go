// Package rb provides lock-free bounded ring queues (spsc/mpsc).
// The queues never block: waiting policies belong to the caller.
package rb

import (
	"golang.org/x/sys/cpu"
)

// Kind is the type of the internal buffer implementation.
type Kind uint8

const (
	// KindSPSC is the single producer/single consumer implementation.
	KindSPSC Kind = iota
	// KindMPSC is the multiple producer/single consumer implementation.
	KindMPSC
)

func (k Kind) String() string {
	switch k {
	case KindSPSC:
		return "SPSC"
	case KindMPSC:
		return "MPSC"
	default:
		return "unknown"
	}
}

type buffer[T any] interface {
	push(item T) bool
	pop() (T, bool)
}

// Queue is a lock-free bounded generic ring queue.
// The capacity is rounded up to the next power of 2.
type Queue[T any] struct {
	kind Kind

	_ cpu.CacheLinePad

	buf buffer[T]

	capacity uint64
}

// NewQueue returns a new queue of the given kind.
func NewQueue[T any](capacity uint64, kind Kind) *Queue[T] {
	parsedCapacity := roundToPowerOf2(capacity)

	q := &Queue[T]{
		kind:     kind,
		capacity: parsedCapacity,
	}

	switch kind {
	case KindSPSC:
		q.buf = newSPSCBuffer[T](parsedCapacity)
	default:
		q.kind = KindMPSC
		q.buf = newMPSCBuffer[T](parsedCapacity)
	}

	return q
}

// TryPush enqueues the item at the tail.
// It returns false if the queue is full.
func (q *Queue[T]) TryPush(item T) bool {
	return q.buf.push(item)
}

// TryPop dequeues the head item.
// It returns false if the queue is empty, or if the head item
// is still being written by a producer.
func (q *Queue[T]) TryPop() (T, bool) {
	return q.buf.pop()
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() uint64 {
	return q.capacity
}

// Kind returns the kind of the queue.
func (q *Queue[T]) Kind() Kind {
	return q.kind
}
