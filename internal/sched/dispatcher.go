// Package sched contains the dispatch machinery that maps ready
// channels onto a fixed pool of workers.
//
// A registered task is in one of three states: idle (nothing to do or not yet
// notified), ready (sitting in a ready queue) or running (claimed by a worker).
// A task is in at most one queue at a time, so at most one worker runs it.
// Ready tasks are claimed in the order they became ready. Tasks carrying an
// affinity are bound to the first worker that claims them and from then on
// are only queued for that worker.
package sched

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/pipert/internal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// Task is the type-erased view of a channel.
type Task interface {
	// Name returns the name of the task, used for diagnostics.
	Name() string
	// Affinity returns the affinity of the task, or the zero value.
	Affinity() Affinity
	// Pending states whether the task has work queued.
	Pending() bool
	// Run processes one unit of work. It is never called concurrently
	// for the same task.
	Run(ctx context.Context) error
	// Discard drops the queued work once the workers have returned,
	// and returns the number of dropped units.
	Discard() int
}

// State is the state of a dispatcher.
type State uint8

const (
	// StateCreated is the state before Start.
	StateCreated State = iota
	// StateRunning is the state between Start and Stop.
	StateRunning
	// StateStopped is the state after Stop.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type taskState uint8

const (
	taskIdle taskState = iota
	taskReady
	taskRunning
)

// Handle is the registration of a task into a dispatcher.
type Handle struct {
	d    *Dispatcher
	task Task

	// state is guarded by the dispatcher mutex
	state taskState
}

// Notify tells the dispatcher that the task may have pending work.
// It must be called after the work has been queued.
func (h *Handle) Notify() {
	h.d.notify(h)
}

// Config is the configuration of a dispatcher.
type Config struct {
	// Workers is the number of workers. It must be positive.
	Workers int

	// LockOSThread states whether each worker is locked to its own OS thread.
	LockOSThread bool

	// ErrorHandler is called with the errors returned by the tasks.
	ErrorHandler func(task string, err error)
}

// Dispatcher owns a fixed pool of workers and the ready queues.
type Dispatcher struct {
	tel *internal.Telemetry

	cfg Config

	mux   sync.Mutex
	cond  *sync.Cond
	state State

	ready    fifo[*Handle]
	workers  []*worker
	bindings map[Affinity]*worker
	handles  []*Handle

	halted atomic.Bool

	wg *sync.WaitGroup

	stopCtx    context.Context
	stopCancel context.CancelFunc

	// Metrics
	dispatches       atomic.Int64
	callbackErrors   atomic.Int64
	busyWorkers      atomic.Int64
	readyTasks       atomic.Int64
	callbackDuration *internal.Histogram
}

// NewDispatcher returns a new dispatcher with idle workers.
func NewDispatcher(tel *internal.Telemetry, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		panic("pipert: dispatcher needs at least one worker")
	}

	stopCtx, stopCancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		tel: tel,

		cfg: cfg,

		state: StateCreated,

		workers:  make([]*worker, 0, cfg.Workers),
		bindings: make(map[Affinity]*worker),

		wg: &sync.WaitGroup{},

		stopCtx:    stopCtx,
		stopCancel: stopCancel,
	}

	d.cond = sync.NewCond(&d.mux)

	for id := range cfg.Workers {
		d.workers = append(d.workers, newWorker(id))
	}

	d.initMetrics()

	return d
}

func (d *Dispatcher) initMetrics() {
	d.tel.NewCounter("dispatches", func() int64 { return d.dispatches.Load() })
	d.tel.NewCounter("callback_errors", func() int64 { return d.callbackErrors.Load() })
	d.tel.NewUpDownCounter("busy_workers", func() int64 { return d.busyWorkers.Load() })
	d.tel.NewUpDownCounter("ready_channels", func() int64 { return d.readyTasks.Load() })

	d.callbackDuration = d.tel.NewHistogram("callback_duration", metric.WithUnit("ms"))
}

// Register adds a task to the dispatcher.
func (d *Dispatcher) Register(task Task) *Handle {
	h := &Handle{
		d:    d,
		task: task,

		state: taskIdle,
	}

	d.tel.LogDebug("task registered", "task", task.Name(), "affinity", task.Affinity())

	d.mux.Lock()
	d.handles = append(d.handles, h)
	d.mux.Unlock()

	// The task may have been filled before registration
	d.notify(h)

	return h
}

// Workers returns the number of workers.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mux.Lock()
	defer d.mux.Unlock()

	return d.state
}

// Context returns a context that is cancelled when the dispatcher stops.
func (d *Dispatcher) Context() context.Context {
	return d.stopCtx
}

// Halted states whether the workers have returned after Stop.
// Work queued once the dispatcher is halted is never run.
func (d *Dispatcher) Halted() bool {
	return d.halted.Load()
}

// Dispatches returns the number of completed task runs.
func (d *Dispatcher) Dispatches() int64 {
	return d.dispatches.Load()
}

// Start starts the workers.
// It returns false if the dispatcher was already started.
func (d *Dispatcher) Start() bool {
	d.mux.Lock()
	defer d.mux.Unlock()

	if d.state != StateCreated {
		return false
	}

	d.state = StateRunning

	d.wg.Add(len(d.workers))
	for _, w := range d.workers {
		go d.runWorker(w)
	}

	return true
}

// Stop stops the workers. Running tasks are allowed to complete,
// but no new task is claimed. It blocks until all the workers have returned,
// then discards the work left in every task.
// It returns false if the dispatcher was already stopped.
func (d *Dispatcher) Stop() bool {
	d.mux.Lock()

	if d.state == StateStopped {
		d.mux.Unlock()
		return false
	}

	d.state = StateStopped
	d.cond.Broadcast()

	d.mux.Unlock()

	d.stopCancel()
	d.wg.Wait()

	d.halted.Store(true)

	d.mux.Lock()
	handles := slices.Clone(d.handles)
	d.mux.Unlock()

	for _, h := range handles {
		if n := h.task.Discard(); n > 0 {
			d.tel.LogWarn("queued work discarded on stop", "task", h.task.Name(), "count", n)
		}
	}

	return true
}

func (d *Dispatcher) runWorker(w *worker) {
	defer d.wg.Done()

	if d.cfg.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	d.tel.LogDebug("worker started", "worker_id", w.id)
	defer d.tel.LogDebug("worker stopped", "worker_id", w.id)

	for {
		h, ok := d.claim(w)
		if !ok {
			return
		}

		d.execute(w, h)
		d.complete(h)
	}
}

// claim blocks until a task can be run by the worker,
// or until the dispatcher is stopped.
func (d *Dispatcher) claim(w *worker) (*Handle, bool) {
	d.mux.Lock()
	defer d.mux.Unlock()

	for {
		if d.state != StateRunning {
			return nil, false
		}

		if h, ok := w.pinned.pop(); ok {
			return d.claimLocked(h), true
		}

		if h, ok := d.ready.pop(); ok {
			if aff := h.task.Affinity(); !aff.IsZero() {
				owner, bound := d.bindings[aff]

				if !bound {
					d.bindings[aff] = w
					d.tel.LogDebug("affinity bound", "affinity", aff, "worker_id", w.id, "task", h.task.Name())
				} else if owner != w {
					// Route the task to the worker owning the affinity
					owner.pinned.push(h)
					d.cond.Broadcast()
					continue
				}
			}

			return d.claimLocked(h), true
		}

		d.cond.Wait()
	}
}

func (d *Dispatcher) claimLocked(h *Handle) *Handle {
	h.state = taskRunning
	d.readyTasks.Add(-1)
	return h
}

func (d *Dispatcher) execute(w *worker, h *Handle) {
	d.busyWorkers.Add(1)
	defer d.busyWorkers.Add(-1)

	name := h.task.Name()

	// The context is cancelled on Stop, but the task is never interrupted
	ctx := withWorker(d.stopCtx, WorkerInfo{ID: w.id, ThreadID: currentThreadID()})

	ctx, span := d.tel.NewTrace(ctx, "dispatch "+name)
	defer span.End()

	span.SetAttributes(
		attribute.Int("worker_id", w.id),
		attribute.String("channel", name),
	)

	start := time.Now()
	err := h.task.Run(ctx)
	d.callbackDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000)

	d.dispatches.Add(1)

	if err == nil {
		return
	}

	d.callbackErrors.Add(1)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	d.tel.LogError("callback failed", err, "channel", name, "worker_id", w.id)

	if d.cfg.ErrorHandler != nil {
		d.cfg.ErrorHandler(name, err)
	}
}

// complete puts the task back in the ready queue if it still has work.
func (d *Dispatcher) complete(h *Handle) {
	d.mux.Lock()
	defer d.mux.Unlock()

	h.state = taskIdle
	d.enqueueLocked(h)
}

func (d *Dispatcher) notify(h *Handle) {
	d.mux.Lock()
	defer d.mux.Unlock()

	d.enqueueLocked(h)
}

func (d *Dispatcher) enqueueLocked(h *Handle) {
	if h.state != taskIdle || !h.task.Pending() {
		return
	}

	h.state = taskReady
	d.readyTasks.Add(1)

	if owner, bound := d.bindings[h.task.Affinity()]; bound {
		owner.pinned.push(h)
	} else {
		d.ready.push(h)
	}

	d.cond.Broadcast()
}
