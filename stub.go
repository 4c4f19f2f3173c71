package pipert

// checkout binds a packet to the channel it was dequeued from.
type checkout[T any] struct {
	packet  *Packet[T]
	channel *Channel[T]
}

// Stub is the exclusive checkout of a packet from a channel.
// It is either empty or holds exactly one checkout.
//
// The worker releases the stub when the callback returns. A callback that
// needs the checkout past its own return calls Move, and then owns the
// returned stub, which must be released exactly once. The channel slot is
// freed only when the checkout is released.
// A Stub must not be copied, and is not safe for concurrent use.
type Stub[T any] struct {
	co *checkout[T]
}

func newStub[T any](packet *Packet[T], channel *Channel[T]) *Stub[T] {
	return &Stub[T]{
		co: &checkout[T]{
			packet:  packet,
			channel: channel,
		},
	}
}

func (s *Stub[T]) mustCheckout() *checkout[T] {
	if s.IsEmpty() {
		panic("pipert: access to an empty stub")
	}

	return s.co
}

// IsEmpty states whether the stub holds no checkout.
func (s *Stub[T]) IsEmpty() bool {
	return s == nil || s.co == nil
}

// Timestamp returns the creation time of the packet.
// It panics if the stub is empty.
func (s *Stub[T]) Timestamp() Timestamp {
	return s.mustCheckout().packet.GetCreatedTime()
}

// Data returns a mutable pointer to the value of the packet.
// The pointer must not be used once the stub is released or moved.
// It panics if the stub is empty.
func (s *Stub[T]) Data() *T {
	return s.mustCheckout().packet.GetDataPtr()
}

// Value returns a copy of the value of the packet.
// It panics if the stub is empty.
func (s *Stub[T]) Value() T {
	return s.mustCheckout().packet.GetData()
}

// GetPacket returns the checked out packet, or nil if the stub is empty.
// The packet stays owned by the stub: forward it downstream with Clone.
func (s *Stub[T]) GetPacket() *Packet[T] {
	if s.IsEmpty() {
		return nil
	}

	return s.co.packet
}

// Channel returns the name of the channel the packet was dequeued from,
// or an empty string if the stub is empty.
func (s *Stub[T]) Channel() string {
	if s.IsEmpty() {
		return ""
	}

	return s.co.channel.Name()
}

// Move transfers the checkout to a new stub, leaving this one empty.
func (s *Stub[T]) Move() *Stub[T] {
	moved := &Stub[T]{}

	if !s.IsEmpty() {
		moved.co = s.co
		s.co = nil
	}

	return moved
}

// Release ends the checkout: the packet handle is released and
// the channel slot is freed. It is a no-op on an empty stub.
func (s *Stub[T]) Release() {
	if s.IsEmpty() {
		return
	}

	co := s.co
	s.co = nil

	co.channel.release(co.packet)
}
