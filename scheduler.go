package pipert

import (
	"sync"

	"github.com/FerroO2000/pipert/internal"
	"github.com/FerroO2000/pipert/internal/config"
	"github.com/FerroO2000/pipert/internal/payload"
	"github.com/FerroO2000/pipert/internal/sched"
)

// SchedulerConfig is the configuration of a scheduler.
type SchedulerConfig = config.Scheduler

// NewSchedulerConfig returns the default configuration for a scheduler.
func NewSchedulerConfig() *SchedulerConfig {
	return config.NewScheduler()
}

var payloadMetricsOnce sync.Once

func initPayloadMetrics() {
	payloadMetricsOnce.Do(func() {
		tel := internal.NewTelemetry("payload", "store")
		tel.NewUpDownCounter("live_payloads", payload.Live)
	})
}

// Scheduler owns a fixed pool of workers and dispatches the ready channels
// to them. It moves from created to running (Start) to stopped (Stop),
// and cannot be restarted.
type Scheduler struct {
	tel *internal.Telemetry

	dispatcher *sched.Dispatcher
}

// NewScheduler returns a new scheduler with the given number of workers.
// A non positive number falls back to the hardware concurrency.
func NewScheduler(workers int) *Scheduler {
	cfg := NewSchedulerConfig()
	cfg.Workers = workers

	return NewSchedulerWithConfig(cfg)
}

// NewSchedulerWithConfig returns a new scheduler.
// Invalid configuration values fall back to their defaults.
func NewSchedulerWithConfig(cfg *SchedulerConfig) *Scheduler {
	if cfg == nil {
		cfg = NewSchedulerConfig()
	}

	// Work on a copy, the caller may reuse the config
	schedCfg := *cfg

	anomalies := config.Collect(&schedCfg)

	tel := internal.NewTelemetryWithProviders("scheduler", schedCfg.Name, internal.Providers{
		Meter:  schedCfg.MeterProvider,
		Tracer: schedCfg.TracerProvider,
	})
	config.NewValidator(tel).Report(anomalies)

	initPayloadMetrics()

	dispatcher := sched.NewDispatcher(tel, sched.Config{
		Workers:      schedCfg.Workers,
		LockOSThread: schedCfg.LockOSThread,
		ErrorHandler: schedCfg.ErrorHandler,
	})

	tel.LogInfo("scheduler created", "workers", dispatcher.Workers())

	return &Scheduler{
		tel: tel,

		dispatcher: dispatcher,
	}
}

func (s *Scheduler) mustDispatcher() *sched.Dispatcher {
	if s == nil || s.dispatcher == nil {
		panic("pipert: nil scheduler")
	}

	return s.dispatcher
}

// Start starts dispatching the ready channels.
// Starting a scheduler twice, or after Stop, has no effect.
func (s *Scheduler) Start() {
	if !s.mustDispatcher().Start() {
		s.tel.LogWarn("scheduler cannot be started", "state", s.dispatcher.State())
		return
	}

	s.tel.LogInfo("scheduler started")
}

// Stop stops the scheduler. The running callbacks complete, no new channel
// is dispatched, and the producers blocked on a full channel are woken up
// with ErrSchedulerStopped. It blocks until all the workers have returned.
// The packets still queued are then released without being processed.
func (s *Scheduler) Stop() {
	if !s.mustDispatcher().Stop() {
		return
	}

	s.tel.LogInfo("scheduler stopped", "dispatches", s.dispatcher.Dispatches())
}

// IsRunning states whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	return s.mustDispatcher().State() == sched.StateRunning
}

// GetWorkerNumber returns the number of workers.
func (s *Scheduler) GetWorkerNumber() int {
	return s.mustDispatcher().Workers()
}
