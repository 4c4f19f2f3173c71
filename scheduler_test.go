package pipert

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"pgregory.net/rapid"
)

func Test_Scheduler_lifecycle(t *testing.T) {
	assert := assert.New(t)

	s := NewScheduler(3)
	assert.Equal(3, s.GetWorkerNumber())
	assert.False(s.IsRunning())

	s.Start()
	assert.True(s.IsRunning())

	s.Stop()
	assert.False(s.IsRunning())

	// Single use
	s.Start()
	assert.False(s.IsRunning())
	s.Stop()
}

func Test_Scheduler_workerFallback(t *testing.T) {
	assert := assert.New(t)

	for _, workers := range []int{0, -1, -64} {
		s := NewScheduler(workers)
		assert.Equal(runtime.NumCPU(), s.GetWorkerNumber())
		s.Stop()
	}

	assert.Equal(runtime.NumCPU(), NewSchedulerWithConfig(nil).GetWorkerNumber())
}

func Test_Scheduler_nil(t *testing.T) {
	var s *Scheduler

	assert.Panics(t, func() { s.Start() })
	assert.Panics(t, func() { s.IsRunning() })
	assert.Panics(t, func() { (&Scheduler{}).GetWorkerNumber() })
}

// Capacity 2, a slow callback, and 3 rapid pushes:
// the third push waits for the first packet to be released.
func Test_Scheduler_backpressureScenario(t *testing.T) {
	assert := assert.New(t)

	s := NewScheduler(4)
	s.Start()
	defer s.Stop()

	mux := sync.Mutex{}
	log := []int{}
	releasedAt := []time.Time{}

	done := make(chan struct{})

	ch := CreateChannel(s, "C", 2, 0, NoAffinity, func(_ context.Context, stub *Stub[int]) error {
		val := stub.Value()

		mux.Lock()
		log = append(log, val)
		mux.Unlock()

		time.Sleep(10 * time.Millisecond)

		mux.Lock()
		releasedAt = append(releasedAt, time.Now())
		if len(log) == 3 {
			close(done)
		}
		mux.Unlock()

		return nil
	})

	pushDurations := make([]time.Duration, 0, 3)
	var thirdReturnedAt time.Time

	for i := range 3 {
		start := time.Now()
		require.NoError(t, ch.Push(t.Context(), NewPacket(i+1)))
		pushDurations = append(pushDurations, time.Since(start))

		if i == 2 {
			thirdReturnedAt = time.Now()
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}

	assert.Equal([]int{1, 2, 3}, log)

	// Only the third push blocked
	assert.Equal(int64(1), ch.backpressureEvents.Load())
	assert.Less(pushDurations[0], 5*time.Millisecond)
	assert.Less(pushDurations[1], 5*time.Millisecond)

	// ...until the first callback was over
	mux.Lock()
	firstReleased := releasedAt[0]
	mux.Unlock()
	assert.False(thirdReturnedAt.Before(firstReleased))
}

// Two producers pushing into the same channel: every packet is seen
// exactly once, and each producer's order is preserved.
func Test_Scheduler_concurrentProducers(t *testing.T) {
	assert := assert.New(t)

	const (
		producers          = 2
		packetsPerProducer = 500
	)

	type item struct {
		producer int
		seq      int
	}

	s := NewScheduler(4)
	s.Start()
	defer s.Stop()

	mux := sync.Mutex{}
	received := []item{}
	done := make(chan struct{})

	ch := CreateChannel(s, "C", 4, 0, NoAffinity, func(_ context.Context, stub *Stub[item]) error {
		mux.Lock()
		defer mux.Unlock()

		received = append(received, stub.Value())
		if len(received) == producers*packetsPerProducer {
			close(done)
		}

		return nil
	})

	wg := &sync.WaitGroup{}
	wg.Add(producers)

	for p := range producers {
		go func() {
			defer wg.Done()

			for seq := range packetsPerProducer {
				assert.NoError(ch.Push(t.Context(), NewPacket(item{producer: p, seq: seq})))
			}
		}()
	}

	wg.Wait()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout")
	}

	next := make([]int, producers)
	for _, it := range received {
		assert.Equal(next[it.producer], it.seq)
		next[it.producer]++
	}

	for _, n := range next {
		assert.Equal(packetsPerProducer, n)
	}
}

func Test_Scheduler_affinity(t *testing.T) {
	assert := assert.New(t)

	s := NewScheduler(4)
	s.Start()
	defer s.Stop()

	const packets = 200

	type worker struct {
		id, thread int
	}

	mux := sync.Mutex{}
	seen := map[worker]int{}
	wg := &sync.WaitGroup{}
	wg.Add(packets)

	gl := NewAffinity("gl-context")

	// Unrelated work keeps the other workers busy
	busy := CreateChannel(s, "busy", 8, 0, NoAffinity, func(context.Context, *Stub[int]) error {
		time.Sleep(50 * time.Microsecond)
		return nil
	})

	ch := CreateChannel(s, "render", 2, 0, gl, func(ctx context.Context, _ *Stub[int]) error {
		defer wg.Done()

		info, ok := WorkerFromContext(ctx)
		assert.True(ok)

		mux.Lock()
		seen[worker{id: info.ID, thread: info.ThreadID}]++
		mux.Unlock()

		return nil
	})

	for i := range packets {
		require.NoError(t, busy.Push(t.Context(), NewPacket(i)))
		require.NoError(t, ch.Push(t.Context(), NewPacket(i)))
	}

	wg.Wait()

	assert.Len(seen, 1)
}

func Test_Scheduler_fifoProperty(t *testing.T) {
	s := NewScheduler(4)
	s.Start()
	defer s.Stop()

	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Int(), 1, 64).Draw(rt, "values")
		capacity := rapid.IntRange(1, 8).Draw(rt, "capacity")

		mux := sync.Mutex{}
		received := []int{}
		wg := &sync.WaitGroup{}
		wg.Add(len(values))

		ch := CreateChannel(s, "fifo", capacity, 0, NoAffinity, func(_ context.Context, stub *Stub[int]) error {
			defer wg.Done()

			mux.Lock()
			received = append(received, stub.Value())
			mux.Unlock()

			return nil
		})

		for _, val := range values {
			if err := ch.Push(context.Background(), NewPacket(val)); err != nil {
				rt.Fatalf("push: %v", err)
			}
		}

		wg.Wait()

		for i := range values {
			if received[i] != values[i] {
				rt.Fatalf("position %d: expected %d, got %d", i, values[i], received[i])
			}
		}
	})
}

func Test_Scheduler_metrics(t *testing.T) {
	assert := assert.New(t)

	// A channel on the global provider must not hide the others
	early := NewScheduler(1)
	CreateChannel(early, "early", 1, 0, NoAffinity, noopCallback[int])
	early.Stop()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	cfg := NewSchedulerConfig()
	cfg.Workers = 2
	cfg.MeterProvider = provider

	s := NewSchedulerWithConfig(cfg)
	s.Start()
	defer s.Stop()

	const packets = 10

	wg := &sync.WaitGroup{}
	wg.Add(2 * packets)

	countDone := func(context.Context, *Stub[int]) error {
		wg.Done()
		return nil
	}

	first := CreateChannel(s, "metered", 4, 0, NoAffinity, countDone)
	second := CreateChannel(s, "metered-twin", 4, 0, NoAffinity, countDone)

	for i := range packets {
		require.NoError(t, first.Push(t.Context(), NewPacket(i)))
		require.NoError(t, second.Push(t.Context(), NewPacket(i)))
	}

	wg.Wait()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	for _, name := range []string{"metered", "metered-twin"} {
		assert.Equal(int64(packets), findMetric(rm, "pushed_packets", name), name)
		assert.Equal(int64(packets), findMetric(rm, "popped_packets", name), name)
	}

	assert.Equal(int64(-1), findMetric(rm, "pushed_packets", "early"))

	// Dispatches are counted once the callback has returned
	assert.Eventually(func() bool {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(t.Context(), &rm); err != nil {
			return false
		}
		return findMetric(rm, "dispatches", "scheduler") == 2*packets
	}, 5*time.Second, time.Millisecond)
}

func findMetric(rm metricdata.ResourceMetrics, name, component string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, dp := range sum.DataPoints {
				if val, ok := dp.Attributes.Value("component_name"); ok && val.AsString() == component {
					return dp.Value
				}
			}
		}
	}

	return -1
}
