package rb

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type slot[T any] struct {
	dataReady atomic.Bool
	data      T
}

type commonBuffer struct {
	head atomic.Uint64

	_ cpu.CacheLinePad

	tail atomic.Uint64

	_ cpu.CacheLinePad

	capacity uint64
	capMask  uint64

	_ cpu.CacheLinePad
}

func newCommonBuffer(capacity uint64) *commonBuffer {
	return &commonBuffer{
		capacity: capacity,
		capMask:  capacity - 1,
	}
}

// roundToPowerOf2 returns the smallest power of 2 that is >= n (minimum 1).
func roundToPowerOf2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}

	return 1 << bits.Len64(n-1)
}
