package pipert

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/FerroO2000/pipert/internal"
	"github.com/FerroO2000/pipert/internal/config"
	"github.com/FerroO2000/pipert/internal/rb"
	"github.com/FerroO2000/pipert/internal/sched"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/cpu"
)

// BackpressureMode is the behaviour of a push on a full channel.
type BackpressureMode = config.BackpressureMode

const (
	// BackpressureBlock blocks the producer until a slot frees.
	BackpressureBlock = config.BackpressureBlock
	// BackpressureReject makes Push fail with ErrChannelFull.
	BackpressureReject = config.BackpressureReject
)

// ChannelConfig is the configuration of a channel.
type ChannelConfig = config.Channel

// NewChannelConfig returns the default configuration for a channel.
func NewChannelConfig(name string) *ChannelConfig {
	return config.NewChannel(name)
}

// Callback processes the packet checked out by the stub.
// It is never invoked concurrently for the same channel.
// The context carries the running worker (see WorkerFromContext)
// and is cancelled when the scheduler stops.
type Callback[T any] func(ctx context.Context, stub *Stub[T]) error

// Channel is a bounded, named queue of packets from any number of producers
// to one callback.
//
// The occupancy of a channel counts the queued packets and the checked out
// ones, and never exceeds its capacity. A slot is freed when the stub of the
// packet is released.
type Channel[T any] struct {
	tel *internal.Telemetry

	name         string
	capacity     int
	affinity     Affinity
	backpressure BackpressureMode

	callback Callback[T]

	slots *semaphore.Weighted
	queue *rb.Queue[*Packet[T]]

	_ cpu.CacheLinePad

	queued    atomic.Int64
	occupancy atomic.Int64

	_ cpu.CacheLinePad

	handle     *sched.Handle
	stopCtx    context.Context
	dispatcher *sched.Dispatcher

	// discardMux serializes the consumers once the workers are gone
	discardMux sync.Mutex

	// Metrics
	pushedPackets      atomic.Int64
	poppedPackets      atomic.Int64
	rejectedPackets    atomic.Int64
	backpressureEvents atomic.Int64
	discardedPackets   atomic.Int64
}

// CreateChannel registers a new channel into the scheduler.
//
// elementSize is checked against the size of T (0 skips the check);
// a mismatch is a programming error and panics.
func CreateChannel[T any](
	s *Scheduler, name string, capacity, elementSize int, affinity Affinity, callback Callback[T],
) *Channel[T] {

	cfg := NewChannelConfig(name)
	cfg.Capacity = capacity
	cfg.ElementSize = elementSize
	cfg.Affinity = affinity

	return CreateChannelWithConfig(s, cfg, callback)
}

// CreateChannelWithConfig registers a new channel into the scheduler.
// Invalid configuration values fall back to their defaults.
func CreateChannelWithConfig[T any](s *Scheduler, cfg *ChannelConfig, callback Callback[T]) *Channel[T] {
	dispatcher := s.mustDispatcher()

	if callback == nil {
		panic("pipert: nil channel callback")
	}

	if cfg == nil {
		cfg = NewChannelConfig("")
	}

	// Work on a copy, the caller may reuse the config
	chCfg := *cfg

	anomalies := config.Collect(&chCfg)

	tel := internal.NewTelemetryWithProviders("channel", chCfg.Name, s.tel.Providers())
	config.NewValidator(tel).Report(anomalies)

	if size := int(unsafe.Sizeof(*new(T))); chCfg.ElementSize != 0 && chCfg.ElementSize != size {
		panic(fmt.Sprintf("pipert: channel %q declares element size %d, but %T has size %d",
			chCfg.Name, chCfg.ElementSize, *new(T), size))
	}

	queueKind := rb.KindMPSC
	if chCfg.SingleProducer {
		queueKind = rb.KindSPSC
	}

	ch := &Channel[T]{
		tel: tel,

		name:         chCfg.Name,
		capacity:     chCfg.Capacity,
		affinity:     chCfg.Affinity,
		backpressure: chCfg.Backpressure,

		callback: callback,

		slots: semaphore.NewWeighted(int64(chCfg.Capacity)),
		queue: rb.NewQueue[*Packet[T]](uint64(chCfg.Capacity), queueKind),

		stopCtx:    dispatcher.Context(),
		dispatcher: dispatcher,
	}

	ch.initMetrics()

	ch.handle = dispatcher.Register(&channelTask[T]{ch: ch})

	ch.tel.LogInfo("channel created",
		"capacity", ch.capacity, "affinity", ch.affinity, "backpressure", ch.backpressure,
		"queue_kind", ch.queue.Kind(), "queue_capacity", ch.queue.Cap())

	return ch
}

func (c *Channel[T]) initMetrics() {
	c.tel.NewCounter("pushed_packets", func() int64 { return c.pushedPackets.Load() })
	c.tel.NewCounter("popped_packets", func() int64 { return c.poppedPackets.Load() })
	c.tel.NewCounter("rejected_packets", func() int64 { return c.rejectedPackets.Load() })
	c.tel.NewCounter("backpressure_events", func() int64 { return c.backpressureEvents.Load() })
	c.tel.NewCounter("discarded_packets", func() int64 { return c.discardedPackets.Load() })
	c.tel.NewUpDownCounter("occupancy", func() int64 { return c.occupancy.Load() })
}

// Name returns the name of the channel.
func (c *Channel[T]) Name() string {
	return c.name
}

// Capacity returns the capacity of the channel.
func (c *Channel[T]) Capacity() int {
	return c.capacity
}

// Affinity returns the affinity of the channel.
func (c *Channel[T]) Affinity() Affinity {
	return c.affinity
}

// Len returns the occupancy of the channel:
// the queued packets plus the checked out ones.
func (c *Channel[T]) Len() int {
	return int(c.occupancy.Load())
}

// Push enqueues the packet at the tail of the channel, taking ownership
// of the handle. If the channel is full, Push blocks until a slot frees,
// the context is done, or the scheduler stops (ErrSchedulerStopped);
// when the channel rejects on backpressure it fails with ErrChannelFull instead.
// On error the caller keeps the ownership of the packet.
// A push racing with Stop may succeed while its packet is released unprocessed.
func (c *Channel[T]) Push(ctx context.Context, packet *Packet[T]) error {
	if c.backpressure == BackpressureReject {
		return c.TryPush(packet)
	}

	packet.live()

	if c.stopCtx.Err() != nil {
		return ErrSchedulerStopped
	}

	if !c.slots.TryAcquire(1) {
		c.backpressureEvents.Add(1)

		if err := c.acquireSlot(ctx); err != nil {
			return err
		}
	}

	c.enqueue(packet)

	return nil
}

func (c *Channel[T]) acquireSlot(ctx context.Context) error {
	ctx, cancelCtx := context.WithCancel(ctx)
	defer cancelCtx()

	// Wake the producer when the scheduler stops
	stop := context.AfterFunc(c.stopCtx, cancelCtx)
	defer stop()

	if err := c.slots.Acquire(ctx, 1); err != nil {
		if c.stopCtx.Err() != nil {
			return ErrSchedulerStopped
		}

		return err
	}

	// The slot may have been freed by the discard of Stop
	if c.stopCtx.Err() != nil {
		c.slots.Release(1)
		return ErrSchedulerStopped
	}

	return nil
}

// TryPush is like Push, but it never blocks: if the channel is full
// it fails with ErrChannelFull.
func (c *Channel[T]) TryPush(packet *Packet[T]) error {
	packet.live()

	if c.stopCtx.Err() != nil {
		return ErrSchedulerStopped
	}

	if !c.slots.TryAcquire(1) {
		c.backpressureEvents.Add(1)
		c.rejectedPackets.Add(1)
		return ErrChannelFull
	}

	c.enqueue(packet)

	return nil
}

// enqueue must be called while holding a slot.
func (c *Channel[T]) enqueue(packet *Packet[T]) {
	c.occupancy.Add(1)

	// The queue is never fuller than the occupancy,
	// the push can only fail while the consumer is freeing the slot
	for !c.queue.TryPush(packet) {
		runtime.Gosched()
	}

	c.queued.Add(1)
	c.pushedPackets.Add(1)

	c.handle.Notify()

	// The push raced with Stop and the packet would never be consumed
	if c.dispatcher.Halted() {
		c.discard()
	}
}

// discard releases the queued packets.
// It must only be called once the workers have returned.
func (c *Channel[T]) discard() int {
	c.discardMux.Lock()
	defer c.discardMux.Unlock()

	count := 0
	for {
		stub := c.pop()
		if stub.IsEmpty() {
			break
		}

		stub.Release()
		count++
	}

	c.discardedPackets.Add(int64(count))

	return count
}

// pop checks out the head packet. It returns an empty stub
// if the channel has no queued packet.
// It must only be called by the single running consumer.
func (c *Channel[T]) pop() *Stub[T] {
	if c.queued.Load() == 0 {
		return &Stub[T]{}
	}

	for {
		packet, ok := c.queue.TryPop()
		if ok {
			c.queued.Add(-1)
			c.poppedPackets.Add(1)
			return newStub(packet, c)
		}

		// A producer has claimed the head slot but not filled it yet
		runtime.Gosched()
	}
}

// release ends the checkout of a packet.
func (c *Channel[T]) release(packet *Packet[T]) {
	packet.Release()

	c.occupancy.Add(-1)
	c.slots.Release(1)
}

// channelTask adapts a channel to the dispatcher.
type channelTask[T any] struct {
	ch *Channel[T]
}

func (ct *channelTask[T]) Name() string {
	return ct.ch.name
}

func (ct *channelTask[T]) Affinity() Affinity {
	return ct.ch.affinity
}

func (ct *channelTask[T]) Pending() bool {
	return ct.ch.queued.Load() > 0
}

func (ct *channelTask[T]) Run(ctx context.Context) error {
	stub := ct.ch.pop()
	if stub.IsEmpty() {
		return nil
	}

	// No-op if the callback moved the stub away
	defer stub.Release()

	return ct.ch.callback(ctx, stub)
}

func (ct *channelTask[T]) Discard() int {
	return ct.ch.discard()
}
