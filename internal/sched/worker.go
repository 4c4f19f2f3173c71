package sched

import (
	"context"
)

// WorkerInfo describes the worker running a callback.
type WorkerInfo struct {
	// ID is the index of the worker in the pool.
	ID int
	// ThreadID is the id of the OS thread the worker is locked to.
	// It is -1 when it is not known.
	ThreadID int
}

type workerCtxKey struct{}

func withWorker(ctx context.Context, info WorkerInfo) context.Context {
	return context.WithValue(ctx, workerCtxKey{}, info)
}

// WorkerFromContext returns the worker carried by the context.
func WorkerFromContext(ctx context.Context) (WorkerInfo, bool) {
	info, ok := ctx.Value(workerCtxKey{}).(WorkerInfo)
	return info, ok
}

type worker struct {
	id int

	// pinned holds the ready handles bound to this worker by affinity.
	// It is guarded by the dispatcher mutex.
	pinned fifo[*Handle]
}

func newWorker(id int) *worker {
	return &worker{
		id: id,
	}
}
