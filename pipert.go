// Package pipert provides a real-time data-pipeline runtime.
//
// Typed packets flow through bounded, named channels. A fixed pool of workers,
// owned by a Scheduler, dispatches every ready channel to its callback.
// A packet is reference counted, so it can be pushed into many channels
// without copying its payload.
package pipert

import (
	"context"
	"errors"
	"log/slog"

	"github.com/FerroO2000/pipert/internal"
	"github.com/FerroO2000/pipert/internal/clock"
	"github.com/FerroO2000/pipert/internal/sched"
)

// ErrChannelFull is returned by a non-blocking push when the channel is at capacity.
var ErrChannelFull = errors.New("pipert: channel is full")

// ErrSchedulerStopped is returned by a push on a channel whose scheduler has been stopped.
var ErrSchedulerStopped = errors.New("pipert: scheduler is stopped")

// Timestamp is a clock reading.
type Timestamp = clock.Timestamp

// Clock supplies the timestamps of the packets.
// Its readings must never decrease.
type Clock = clock.Clock

// DefaultClock returns the process-wide monotonic clock.
func DefaultClock() Clock {
	return clock.Default()
}

// Affinity identifies a non-reentrant external object (a GPU context,
// a library handle...) touched by a channel callback. All the channels
// sharing an affinity are run by the same worker thread.
type Affinity = sched.Affinity

// NoAffinity is the empty affinity.
var NoAffinity = Affinity{}

// NewAffinity returns a new unique affinity.
// The label is only used for diagnostics.
func NewAffinity(label string) Affinity {
	return sched.NewAffinity(label)
}

// WorkerInfo describes the worker running a callback.
type WorkerInfo = sched.WorkerInfo

// WorkerFromContext returns the worker running the callback
// the context has been passed to.
func WorkerFromContext(ctx context.Context) (WorkerInfo, bool) {
	return sched.WorkerFromContext(ctx)
}

// SetLogHandler replaces the handler used for logging.
// It affects the components created afterwards.
func SetLogHandler(h slog.Handler) {
	internal.SetLogHandler(h)
}

// SetLogLevel sets the minimum level of the default log handler.
func SetLogLevel(level slog.Level) {
	internal.SetLogLevel(level)
}
