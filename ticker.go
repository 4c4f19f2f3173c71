package pipert

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/pipert/internal"
	"github.com/FerroO2000/pipert/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

// TickerConfig is the configuration of a ticker.
type TickerConfig = config.Ticker

// NewTickerConfig returns the default configuration for a ticker.
func NewTickerConfig(name string) *TickerConfig {
	return config.NewTicker(name)
}

// TickFunc builds the payload of a tick.
type TickFunc[T any] func(tick int, at Timestamp) T

// Ticker is a producer that pushes a packet into a channel at every tick.
type Ticker[T any] struct {
	tel *internal.Telemetry

	cfg     TickerConfig
	channel *Channel[T]
	clock   Clock
	produce TickFunc[T]

	// Metrics
	triggeredPackets atomic.Int64
	droppedPackets   atomic.Int64
}

// NewTicker returns a new ticker feeding the channel.
// It panics if the channel or the produce function is nil.
func NewTicker[T any](ch *Channel[T], cfg *TickerConfig, produce TickFunc[T]) *Ticker[T] {
	if ch == nil {
		panic("pipert: ticker needs a channel")
	}

	if produce == nil {
		panic("pipert: ticker needs a produce function")
	}

	if cfg == nil {
		cfg = NewTickerConfig(ch.Name() + "-ticker")
	}

	tickCfg := *cfg

	anomalies := config.Collect(&tickCfg)

	tel := internal.NewTelemetryWithProviders("ticker", tickCfg.Name, ch.tel.Providers())
	config.NewValidator(tel).Report(anomalies)

	t := &Ticker[T]{
		tel: tel,

		cfg:     tickCfg,
		channel: ch,
		clock:   DefaultClock(),
		produce: produce,
	}

	t.tel.NewCounter("triggered_packets", func() int64 { return t.triggeredPackets.Load() })
	t.tel.NewCounter("dropped_packets", func() int64 { return t.droppedPackets.Load() })

	return t
}

// Triggered returns the number of packets pushed so far.
func (t *Ticker[T]) Triggered() int64 {
	return t.triggeredPackets.Load()
}

// Run ticks until the context is done or the tick limit is reached.
// It fails with ErrSchedulerStopped once the scheduler of the channel stops.
// A tick that cannot be pushed because the channel is full is dropped.
func (t *Ticker[T]) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.tel.LogInfo("running", "interval", t.cfg.Interval, "channel", t.channel.Name())

	for tick := 1; t.cfg.MaxTicks == 0 || tick <= t.cfg.MaxTicks; tick++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := t.trigger(ctx, tick); err != nil {
			return err
		}
	}

	return nil
}

func (t *Ticker[T]) trigger(ctx context.Context, tick int) error {
	_, span := t.tel.NewTrace(ctx, "tick")
	defer span.End()

	span.SetAttributes(attribute.Int("tick_number", tick))

	now := t.clock.Now()
	pkt := NewPacketWithClock(t.clock, t.produce(tick, now))

	// Dropping keeps the tick period stable on a slow consumer
	err := t.channel.TryPush(pkt)
	switch {
	case err == nil:
		t.triggeredPackets.Add(1)
		return nil

	case errors.Is(err, ErrChannelFull):
		pkt.Release()
		t.droppedPackets.Add(1)
		t.tel.LogDebug("tick dropped", "tick_number", tick)
		return nil

	default:
		pkt.Release()
		return err
	}
}
