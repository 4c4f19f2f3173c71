package rb

type spscBuffer[T any] struct {
	*commonBuffer

	buffer []T
}

func newSPSCBuffer[T any](capacity uint64) *spscBuffer[T] {
	return &spscBuffer[T]{
		commonBuffer: newCommonBuffer(capacity),

		buffer: make([]T, capacity),
	}
}

func (b *spscBuffer[T]) push(item T) bool {
	head := b.head.Load()
	tail := b.tail.Load()

	if head-tail >= b.capacity {
		return false
	}

	b.buffer[head&b.capMask] = item

	// Publish the item
	b.head.Add(1)

	return true
}

func (b *spscBuffer[T]) pop() (T, bool) {
	var zero T

	head := b.head.Load()
	tail := b.tail.Load()

	if head == tail {
		return zero, false
	}

	idx := tail & b.capMask
	item := b.buffer[idx]
	b.buffer[idx] = zero

	b.tail.Add(1)

	return item, true
}
