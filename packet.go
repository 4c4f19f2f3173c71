package pipert

import (
	"reflect"
	"sync/atomic"

	"github.com/FerroO2000/pipert/internal/payload"
)

// Destroyer can be implemented by a packet value (or by its pointer)
// that holds resources. Destroy is called once, when the last
// reference to the payload is released.
type Destroyer = payload.Destroyer

// Packet is a handle to one logical value flowing through the pipeline.
//
// The value lives in a shared payload store. Clone returns a new handle to the
// same store without copying the value, and Release drops the handle.
// The store is destroyed when its last handle is released.
// A handle is owned by one holder at a time: pushing it into a channel
// transfers its ownership to the channel.
type Packet[T any] struct {
	store    *payload.Store
	released atomic.Bool
}

// NewPacket copies data into a new payload store
// stamped with the default clock.
func NewPacket[T any](data T) *Packet[T] {
	return NewPacketWithClock(DefaultClock(), data)
}

// NewPacketWithClock copies data into a new payload store
// stamped with the given clock.
func NewPacketWithClock[T any](c Clock, data T) *Packet[T] {
	return &Packet[T]{
		store: payload.New(data, c.Now()),
	}
}

func (p *Packet[T]) live() *payload.Store {
	if p == nil {
		panic("pipert: nil packet")
	}

	if p.released.Load() {
		panic("pipert: use of a released packet")
	}

	return p.store
}

// GetData returns a copy of the value.
func (p *Packet[T]) GetData() T {
	return *payload.View[T](p.live())
}

// GetDataPtr returns a pointer to the value shared by all the handles
// of the payload. Mutating through it is only safe while holding
// the checkout of the packet (see Stub.Data).
func (p *Packet[T]) GetDataPtr() *T {
	return payload.View[T](p.live())
}

// GetCreatedTime returns the timestamp the packet was created with.
func (p *Packet[T]) GetCreatedTime() Timestamp {
	return p.live().CreatedAt()
}

// Type returns the type of the value.
func (p *Packet[T]) Type() reflect.Type {
	return p.live().Type()
}

// Size returns the size in bytes of the value.
func (p *Packet[T]) Size() int {
	return p.live().Size()
}

// Clone returns a new handle to the same payload.
func (p *Packet[T]) Clone() *Packet[T] {
	store := p.live()
	store.Retain()

	return &Packet[T]{
		store: store,
	}
}

// Release drops the handle. Releasing a handle twice is a programming error.
func (p *Packet[T]) Release() {
	if p == nil {
		panic("pipert: nil packet")
	}

	if !p.released.CompareAndSwap(false, true) {
		panic("pipert: packet released twice")
	}

	p.store.Release()
}

// IsReleased states whether the handle has been released.
func (p *Packet[T]) IsReleased() bool {
	return p.released.Load()
}
