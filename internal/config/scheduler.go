package config

import (
	"runtime"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values for the scheduler.
const (
	DefaultSchedulerName         = "scheduler"
	DefaultSchedulerLockOSThread = true
)

// DefaultSchedulerWorkers returns the default number of workers
// (hardware concurrency).
func DefaultSchedulerWorkers() int {
	return runtime.NumCPU()
}

// Scheduler is the configuration of a scheduler.
type Scheduler struct {
	// Name identifies the scheduler in logs and metrics.
	Name string

	// Workers is the number of worker threads.
	// A non positive value falls back to the hardware concurrency.
	Workers int

	// LockOSThread states whether every worker is locked to its own OS thread,
	// so channels with an affinity always run on the same thread.
	LockOSThread bool

	// ErrorHandler, if set, is called with every error returned by a callback,
	// along with the name of the channel.
	ErrorHandler func(channel string, err error)

	// MeterProvider and TracerProvider are used by the scheduler and by
	// every component created on it. Nil falls back to the global providers.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// NewScheduler returns the default configuration for a scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		Name:         DefaultSchedulerName,
		Workers:      DefaultSchedulerWorkers(),
		LockOSThread: DefaultSchedulerLockOSThread,
	}
}

// Validate checks the configuration.
func (s *Scheduler) Validate(ac *AnomalyCollector) {
	CheckNotEmpty(ac, "Name", &s.Name, DefaultSchedulerName)
	CheckPositive(ac, "Workers", &s.Workers, DefaultSchedulerWorkers())
}
