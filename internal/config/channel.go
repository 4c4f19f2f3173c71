package config

import "github.com/FerroO2000/pipert/internal/sched"

// BackpressureMode is the behaviour of a push on a full channel.
type BackpressureMode uint8

const (
	// BackpressureBlock blocks the producer until a slot frees.
	BackpressureBlock BackpressureMode = iota
	// BackpressureReject rejects the packet, reporting that the channel is full.
	BackpressureReject
)

func (bm BackpressureMode) String() string {
	switch bm {
	case BackpressureBlock:
		return "block"
	case BackpressureReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Default configuration values for a channel.
const (
	DefaultChannelName         = "unnamed"
	DefaultChannelCapacity     = 1
	DefaultChannelElementSize  = 0
	DefaultChannelBackpressure = BackpressureBlock
)

// Channel is the configuration of a channel.
type Channel struct {
	// Name identifies the channel in logs and metrics.
	Name string

	// Capacity is the maximum number of packets held by the channel,
	// counting both the queued and the checked out ones.
	Capacity int

	// ElementSize is the size in bytes of the packet type.
	// It is checked against the actual type; 0 skips the check.
	ElementSize int

	// Affinity, if set, binds the channel callback to a single worker thread.
	Affinity sched.Affinity

	// Backpressure is the behaviour of a push on a full channel.
	Backpressure BackpressureMode

	// SingleProducer states that pushes into the channel never overlap,
	// which allows a lighter queue. Concurrent pushes are then undefined.
	SingleProducer bool
}

// NewChannel returns the default configuration for a channel.
func NewChannel(name string) *Channel {
	return &Channel{
		Name:         name,
		Capacity:     DefaultChannelCapacity,
		ElementSize:  DefaultChannelElementSize,
		Backpressure: DefaultChannelBackpressure,
	}
}

// Validate checks the configuration.
func (c *Channel) Validate(ac *AnomalyCollector) {
	CheckNotEmpty(ac, "Name", &c.Name, DefaultChannelName)
	CheckNotLower(ac, "Capacity", &c.Capacity, DefaultChannelCapacity)
	CheckNotNegative(ac, "ElementSize", &c.ElementSize, DefaultChannelElementSize)
	CheckOneOf(ac, "Backpressure", &c.Backpressure, DefaultChannelBackpressure, BackpressureBlock, BackpressureReject)
}
