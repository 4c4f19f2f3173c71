package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FerroO2000/pipert/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTask struct {
	name     string
	affinity Affinity

	pending atomic.Int64

	running    atomic.Int32
	maxRunning atomic.Int32

	mux     sync.Mutex
	workers map[int]int

	handle func(ctx context.Context) error
	done   chan struct{}
}

func newTestTask(name string, affinity Affinity) *testTask {
	return &testTask{
		name:     name,
		affinity: affinity,

		workers: make(map[int]int),
		done:    make(chan struct{}, 1024),
	}
}

func (tt *testTask) Name() string       { return tt.name }
func (tt *testTask) Affinity() Affinity { return tt.affinity }
func (tt *testTask) Pending() bool      { return tt.pending.Load() > 0 }

func (tt *testTask) Run(ctx context.Context) error {
	curr := tt.running.Add(1)
	defer tt.running.Add(-1)

	for {
		prev := tt.maxRunning.Load()
		if curr <= prev || tt.maxRunning.CompareAndSwap(prev, curr) {
			break
		}
	}

	tt.pending.Add(-1)

	info, ok := WorkerFromContext(ctx)
	if ok {
		tt.mux.Lock()
		tt.workers[info.ID]++
		tt.mux.Unlock()
	}

	var err error
	if tt.handle != nil {
		err = tt.handle(ctx)
	}

	tt.done <- struct{}{}

	return err
}

func (tt *testTask) Discard() int {
	return int(tt.pending.Swap(0))
}

func (tt *testTask) add(d *Dispatcher, h *Handle, n int) {
	for range n {
		tt.pending.Add(1)
		h.Notify()
	}
}

func (tt *testTask) wait(t *testing.T, n int) {
	t.Helper()

	for range n {
		select {
		case <-tt.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("task %s: timeout waiting for runs", tt.name)
		}
	}
}

func (tt *testTask) workerIDs() map[int]int {
	tt.mux.Lock()
	defer tt.mux.Unlock()

	ids := make(map[int]int, len(tt.workers))
	for id, count := range tt.workers {
		ids[id] = count
	}
	return ids
}

func newTestDispatcher(workers int) *Dispatcher {
	return NewDispatcher(internal.NewTelemetry("test", "dispatcher"), Config{
		Workers:      workers,
		LockOSThread: true,
	})
}

func Test_Dispatcher_lifecycle(t *testing.T) {
	assert := assert.New(t)

	d := newTestDispatcher(3)
	assert.Equal(3, d.Workers())
	assert.Equal(StateCreated, d.State())

	assert.True(d.Start())
	assert.False(d.Start())
	assert.Equal(StateRunning, d.State())

	assert.True(d.Stop())
	assert.False(d.Stop())
	assert.Equal(StateStopped, d.State())

	// Single use
	assert.False(d.Start())
	assert.Error(d.Context().Err())
}

func Test_Dispatcher_invalidWorkers(t *testing.T) {
	assert.Panics(t, func() { newTestDispatcher(0) })
}

func Test_Dispatcher_singleActiveRun(t *testing.T) {
	assert := assert.New(t)

	d := newTestDispatcher(8)
	d.Start()
	defer d.Stop()

	task := newTestTask("single", Affinity{})
	task.handle = func(context.Context) error {
		time.Sleep(100 * time.Microsecond)
		return nil
	}

	h := d.Register(task)

	const runs = 200
	task.add(d, h, runs)
	task.wait(t, runs)

	assert.Equal(int32(1), task.maxRunning.Load())
	assert.Zero(task.pending.Load())
	assert.Equal(int64(runs), d.Dispatches())
}

func Test_Dispatcher_readyOrder(t *testing.T) {
	assert := assert.New(t)

	d := newTestDispatcher(1)

	orderMux := sync.Mutex{}
	order := []string{}

	tasks := []*testTask{}
	handles := []*Handle{}
	for _, name := range []string{"a", "b", "c", "d"} {
		task := newTestTask(name, Affinity{})
		task.handle = func(context.Context) error {
			orderMux.Lock()
			order = append(order, name)
			orderMux.Unlock()
			return nil
		}

		tasks = append(tasks, task)
		handles = append(handles, d.Register(task))
	}

	// Made ready before start, in reverse order
	for i := len(tasks) - 1; i >= 0; i-- {
		tasks[i].add(d, handles[i], 1)
	}

	d.Start()
	defer d.Stop()

	for _, task := range tasks {
		task.wait(t, 1)
	}

	assert.Equal([]string{"d", "c", "b", "a"}, order)
}

func Test_Dispatcher_affinity(t *testing.T) {
	assert := assert.New(t)

	d := newTestDispatcher(4)
	d.Start()
	defer d.Stop()

	gpu := NewAffinity("gpu")

	// Two tasks touching the same object and one free task
	first := newTestTask("first", gpu)
	second := newTestTask("second", gpu)
	free := newTestTask("free", Affinity{})

	for _, task := range []*testTask{first, second, free} {
		task.handle = func(context.Context) error {
			time.Sleep(50 * time.Microsecond)
			return nil
		}
	}

	hFirst := d.Register(first)
	hSecond := d.Register(second)
	hFree := d.Register(free)

	const runs = 100

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() { defer wg.Done(); first.add(d, hFirst, runs) }()
	go func() { defer wg.Done(); second.add(d, hSecond, runs) }()
	go func() { defer wg.Done(); free.add(d, hFree, runs) }()
	wg.Wait()

	first.wait(t, runs)
	second.wait(t, runs)
	free.wait(t, runs)

	firstWorkers := first.workerIDs()
	secondWorkers := second.workerIDs()

	require.Len(t, firstWorkers, 1)
	require.Len(t, secondWorkers, 1)
	assert.Equal(firstWorkers, map[int]int{keyOf(firstWorkers): runs})
	assert.Equal(keyOf(firstWorkers), keyOf(secondWorkers))
}

func keyOf(m map[int]int) int {
	for k := range m {
		return k
	}
	return -1
}

func Test_Dispatcher_threadAffinity(t *testing.T) {
	assert := assert.New(t)

	d := newTestDispatcher(4)
	d.Start()
	defer d.Stop()

	threads := sync.Map{}

	task := newTestTask("pinned", NewAffinity("ctx"))
	task.handle = func(ctx context.Context) error {
		info, ok := WorkerFromContext(ctx)
		assert.True(ok)
		threads.Store(info.ThreadID, true)
		return nil
	}

	h := d.Register(task)
	task.add(d, h, 50)
	task.wait(t, 50)

	count := 0
	threads.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(1, count)
}

func Test_Dispatcher_errors(t *testing.T) {
	assert := assert.New(t)

	errBoom := errors.New("boom")

	handled := make(chan string, 1)
	d := NewDispatcher(internal.NewTelemetry("test", "dispatcher"), Config{
		Workers: 2,
		ErrorHandler: func(task string, err error) {
			assert.ErrorIs(err, errBoom)
			handled <- task
		},
	})
	d.Start()
	defer d.Stop()

	task := newTestTask("failing", Affinity{})
	task.handle = func(context.Context) error { return errBoom }

	h := d.Register(task)
	task.add(d, h, 1)
	task.wait(t, 1)

	select {
	case name := <-handled:
		assert.Equal("failing", name)
	case <-time.After(5 * time.Second):
		t.Fatal("error handler not called")
	}
}

func Test_Dispatcher_gracefulStop(t *testing.T) {
	assert := assert.New(t)

	d := newTestDispatcher(2)
	d.Start()

	started := make(chan struct{})
	var finished atomic.Bool

	task := newTestTask("slow", Affinity{})
	task.handle = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return nil
	}

	h := d.Register(task)
	task.add(d, h, 1)

	<-started
	d.Stop()

	// The running task was not interrupted
	assert.True(finished.Load())

	// No claim after stop
	task.add(d, h, 1)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(int64(1), task.pending.Load())
}

func Test_Dispatcher_discardOnStop(t *testing.T) {
	assert := assert.New(t)

	d := newTestDispatcher(1)

	queued := newTestTask("queued", Affinity{})
	idle := newTestTask("idle", Affinity{})

	h := d.Register(queued)
	d.Register(idle)
	queued.add(d, h, 3)

	assert.False(d.Halted())

	// Never started, the queued work is dropped by Stop
	d.Stop()

	assert.True(d.Halted())
	assert.Zero(queued.pending.Load())
	assert.Zero(d.Dispatches())
}

func Test_Dispatcher_boundedReadyQueue(t *testing.T) {
	assert := assert.New(t)

	d := newTestDispatcher(1)

	// Two always-ready tasks on a single worker keep the ready queue non-empty.
	// The runs fit in the done buffer of the tasks.
	const runs = 1000

	tasks := []*testTask{newTestTask("a", Affinity{}), newTestTask("b", Affinity{})}
	for _, task := range tasks {
		h := d.Register(task)
		task.add(d, h, runs)
	}

	d.Start()
	for _, task := range tasks {
		task.wait(t, runs)
	}
	d.Stop()

	d.mux.Lock()
	defer d.mux.Unlock()
	assert.LessOrEqual(cap(d.ready.items), 16)
}
