// internal/pool/future.go
package pool

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Future is the cancellable handle of one submitted task.
type Future struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	done chan struct{}
	err  error
}

func newFuture(id uuid.UUID, parent context.Context) *Future {
	ctx, cancel := context.WithCancel(parent)
	return &Future{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the task id assigned at submission.
func (f *Future) ID() uuid.UUID { return f.id }

// Done is closed once the task has returned, or was dropped before it ran.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports completion without blocking.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the task's result. It is nil until the task is done.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the task is done or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels the task's context. A task that has not started yet is
// completed with context.Canceled without running.
func (f *Future) Cancel() { f.cancel() }

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
		f.cancel()
	})
}
