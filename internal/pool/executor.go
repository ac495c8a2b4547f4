// internal/pool/executor.go
package pool

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var errExecutorClosed = errors.New("pool: executor is shut down")

// executor runs jobs on a fixed set of resident workers plus short-lived burst
// workers. The queue is FIFO and unbounded unless limit is positive.
type executor struct {
	logger *zap.Logger
	limit  int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	idle   int
	closed bool

	// burst caps the workers started above the resident count.
	burst *semaphore.Weighted
	busy  atomic.Int32
	wg    sync.WaitGroup
}

func newExecutor(minWorkers, maxWorkers, limit int, logger *zap.Logger) *executor {
	e := &executor{
		logger: logger,
		limit:  limit,
	}
	e.cond = sync.NewCond(&e.mu)
	if extra := maxWorkers - minWorkers; extra > 0 {
		e.burst = semaphore.NewWeighted(int64(extra))
	}
	e.wg.Add(minWorkers)
	for i := 0; i < minWorkers; i++ {
		go e.work(true)
	}
	return e
}

// submit queues job. When the backlog outgrows the idle workers a burst
// worker is started, as long as the burst cap allows it.
func (e *executor) submit(job func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errExecutorClosed
	}
	if e.limit > 0 && len(e.queue) >= e.limit {
		return ErrRejected
	}
	e.queue = append(e.queue, job)

	if len(e.queue) > e.idle && e.burst != nil && e.burst.TryAcquire(1) {
		e.wg.Add(1)
		go e.work(false)
	}
	e.cond.Signal()
	return nil
}

func (e *executor) work(resident bool) {
	defer e.wg.Done()
	for {
		job, ok := e.next(resident)
		if !ok {
			return
		}
		e.busy.Add(1)
		job()
		e.busy.Add(-1)
	}
}

// next pops the oldest job. Burst workers give up as soon as the queue is empty
// and hand their slot back under the queue lock, so a concurrent submit can
// start a replacement. Resident workers wait until the executor is shut down.
func (e *executor) next(resident bool) (func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) == 0 {
		if !resident {
			e.burst.Release(1)
			return nil, false
		}
		if e.closed {
			return nil, false
		}
		e.idle++
		e.cond.Wait()
		e.idle--
	}
	job := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return job, true
}

// shutdown refuses new jobs, lets the workers drain what is queued and waits
// for them to exit.
func (e *executor) shutdown() {
	e.mu.Lock()
	e.closed = true
	pending := len(e.queue)
	e.mu.Unlock()
	e.cond.Broadcast()

	if pending > 0 {
		e.logger.Debug("Draining queued jobs before shutdown", zap.Int("pending", pending))
	}
	e.wg.Wait()
}

func (e *executor) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
