// Package payload contains the type-erased, reference-counted store
// that backs every packet.
package payload

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"
	"unsafe"
)

// Destroyer is implemented by values that hold resources to be
// cleaned up when the last reference to their store is released.
type Destroyer interface {
	// Destroy cleans up the value.
	Destroy()
}

var liveStores atomic.Int64

// Live returns the number of stores that have not been released yet.
func Live() int64 {
	return liveStores.Load()
}

// Store owns the only copy of a value.
// The value is tagged with its type, so typed views can be checked
// against it, and it is shared by all the views referencing the store.
type Store struct {
	value any
	tag   reflect.Type
	size  uintptr

	createdAt time.Time

	refs atomic.Int32
}

// New copies data into a new store with a single reference.
func New[T any](data T, createdAt time.Time) *Store {
	val := new(T)
	*val = data

	s := &Store{
		value: val,
		tag:   reflect.TypeFor[T](),
		size:  unsafe.Sizeof(data),

		createdAt: createdAt,
	}

	s.refs.Store(1)
	liveStores.Add(1)

	return s
}

// View returns a typed pointer to the value of the store.
// It panics if T is not the type the store was created with.
func View[T any](s *Store) *T {
	if tag := reflect.TypeFor[T](); tag != s.tag {
		panic(fmt.Sprintf("pipert: payload of type %s viewed as %s", s.tag, tag))
	}

	val, ok := s.value.(*T)
	if !ok {
		panic("pipert: access to a released payload")
	}

	return val
}

// Type returns the type tag of the store.
func (s *Store) Type() reflect.Type {
	return s.tag
}

// Size returns the size in bytes of the stored type.
func (s *Store) Size() int {
	return int(s.size)
}

// CreatedAt returns the timestamp the store was created with.
func (s *Store) CreatedAt() time.Time {
	return s.createdAt
}

// Refs returns the current number of references.
func (s *Store) Refs() int32 {
	return s.refs.Load()
}

// Retain adds a reference to the store.
func (s *Store) Retain() {
	if s.refs.Add(1) <= 1 {
		panic("pipert: retain of a released payload")
	}
}

// Release drops a reference to the store.
// When the last reference is dropped the value is destroyed
// and true is returned.
func (s *Store) Release() bool {
	refs := s.refs.Add(-1)

	switch {
	case refs > 0:
		return false
	case refs < 0:
		panic("pipert: payload released too many times")
	}

	if d, ok := s.value.(Destroyer); ok {
		d.Destroy()
	}
	s.value = nil

	liveStores.Add(-1)

	return true
}
