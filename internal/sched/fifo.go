package sched

// fifo is an unbounded first-in first-out queue.
// It is not safe for concurrent use.
type fifo[T any] struct {
	items []T
	head  int
}

func (f *fifo[T]) push(item T) {
	f.items = append(f.items, item)
}

func (f *fifo[T]) pop() (T, bool) {
	var zero T

	if f.head == len(f.items) {
		return zero, false
	}

	item := f.items[f.head]
	f.items[f.head] = zero
	f.head++

	// The consumed prefix never exceeds the live items,
	// so the backing array stays bounded by twice the peak length
	if f.head*2 >= len(f.items) {
		f.compact()
	}

	return item, true
}

func (f *fifo[T]) compact() {
	n := copy(f.items, f.items[f.head:])
	clear(f.items[n:])

	f.items = f.items[:n]
	f.head = 0
}

func (f *fifo[T]) len() int {
	return len(f.items) - f.head
}
