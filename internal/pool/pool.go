// internal/pool/pool.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/internal/config"
)

var (
	// ErrRejected is returned by Submit when the queue limit is reached.
	ErrRejected = errors.New("pool: task rejected, queue is full")
	// ErrTaskPanic wraps the value recovered from a panicking task.
	ErrTaskPanic = errors.New("pool: task panicked")
)

// Fallbacks for zero config values.
const (
	DefaultMinWorkers      = 50
	DefaultMaxWorkers      = 100
	DefaultMonitorInterval = time.Second
	DefaultStaleAfter      = 60 * time.Second
	DefaultIdleAfter       = 60 * time.Second
)

// Task is a unit of work. It must return promptly once ctx is cancelled.
type Task func(ctx context.Context) error

// State is the lifecycle position of a Pool.
type State int32

const (
	StateTornDown State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "torn_down"
}

// record pairs a task's submission time with its handle so both are tracked,
// read and reaped as one value.
type record struct {
	id          uuid.UUID
	generation  uint64
	submittedAt time.Time
	future      *Future
}

// runtimeState is everything a single start of the pool owns.
type runtimeState struct {
	generation  uint64
	exec        *executor
	ctx         context.Context
	cancel      context.CancelFunc
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// Pool runs tasks on a bounded set of workers and supervises them. A monitor
// reaps finished tasks, cancels those older than the staleness threshold and
// tears the pool down once it has been idle long enough. The next Submit
// starts it again.
type Pool struct {
	cfg    config.PoolConfig
	logger *zap.Logger
	now    func() time.Time

	// lifecycle guards rt. Submit holds it shared so a teardown never races an
	// enqueue.
	lifecycle  sync.RWMutex
	active     atomic.Bool
	generation atomic.Uint64
	rt         *runtimeState

	mu       sync.Mutex
	tasks    map[uuid.UUID]*record
	lastBusy time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces the time source used for staleness and idle checks.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// New returns a torn-down pool. Nothing runs until Start or the first Submit.
func New(cfg config.PoolConfig, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = DefaultMinWorkers
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = max(cfg.MinWorkers, DefaultMaxWorkers)
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = DefaultIdleAfter
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "worker_pool")),
		now:    time.Now,
		tasks:  make(map[uuid.UUID]*record),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start brings the pool up. It is a no-op when the pool is already active.
func (p *Pool) Start() {
	if p.active.Load() {
		return
	}
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.active.Load() {
		return
	}

	gen := p.generation.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	rt := &runtimeState{
		generation:  gen,
		exec:        newExecutor(p.cfg.MinWorkers, p.cfg.MaxWorkers, p.cfg.QueueLimit, p.logger),
		ctx:         ctx,
		cancel:      cancel,
		stopMonitor: stopMonitor,
		monitorDone: make(chan struct{}),
	}

	p.mu.Lock()
	p.lastBusy = p.now()
	p.mu.Unlock()

	p.rt = rt
	p.active.Store(true)
	go p.monitor(monitorCtx, rt)

	p.logger.Info("Worker pool started",
		zap.Uint64("generation", gen),
		zap.Int("min_workers", p.cfg.MinWorkers),
		zap.Int("max_workers", p.cfg.MaxWorkers),
	)
}

// Stop cancels every tracked task, waits for the workers and the monitor to
// exit and leaves the pool torn down. A later Submit starts it again.
func (p *Pool) Stop() {
	p.lifecycle.Lock()
	rt := p.detachLocked()
	p.lifecycle.Unlock()
	if rt == nil {
		return
	}

	p.logger.Info("Stopping worker pool... waiting for workers to finish.", zap.Uint64("generation", rt.generation))
	rt.stopMonitor()
	<-rt.monitorDone
	rt.cancel()
	rt.exec.shutdown()

	p.mu.Lock()
	for id, rec := range p.tasks {
		if rec.generation == rt.generation {
			delete(p.tasks, id)
		}
	}
	p.mu.Unlock()
	p.logger.Info("Worker pool stopped gracefully.")
}

// detachLocked marks the pool torn down and hands back what the caller must
// release. The caller holds lifecycle exclusively.
func (p *Pool) detachLocked() *runtimeState {
	if !p.active.Load() {
		return nil
	}
	rt := p.rt
	p.rt = nil
	p.active.Store(false)
	return rt
}

// Submit hands task to the pool, starting it first when it is torn down. The
// returned future completes once the task returns or is dropped.
func (p *Pool) Submit(task Task) (uuid.UUID, *Future, error) {
	if task == nil {
		return uuid.Nil, nil, errors.New("pool: nil task")
	}

	p.lifecycle.RLock()
	for !p.active.Load() {
		p.lifecycle.RUnlock()
		p.Start()
		p.lifecycle.RLock()
	}
	defer p.lifecycle.RUnlock()
	rt := p.rt

	id := uuid.New()
	future := newFuture(id, rt.ctx)
	now := p.now()

	p.mu.Lock()
	p.tasks[id] = &record{id: id, generation: rt.generation, submittedAt: now, future: future}
	p.lastBusy = now
	p.mu.Unlock()

	if err := rt.exec.submit(func() { p.run(id, future, task) }); err != nil {
		p.mu.Lock()
		delete(p.tasks, id)
		p.mu.Unlock()
		future.complete(err)
		return uuid.Nil, nil, err
	}
	return id, future, nil
}

func (p *Pool) run(id uuid.UUID, future *Future, task Task) {
	if err := future.ctx.Err(); err != nil {
		future.complete(err)
		return
	}
	err := p.call(future.ctx, id, task)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Debug("Task ended by cancellation", zap.Stringer("task_id", id), zap.Error(err))
		} else if !errors.Is(err, ErrTaskPanic) {
			p.logger.Warn("Task failed", zap.Stringer("task_id", id), zap.Error(err))
		}
	}
	future.complete(err)
}

// call runs task, turning a panic into an error so it never reaches a worker.
func (p *Pool) call(ctx context.Context, id uuid.UUID, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered from panic in task",
				zap.Stringer("task_id", id),
				zap.Any("panic_value", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return task(ctx)
}

func (p *Pool) monitor(ctx context.Context, rt *runtimeState) {
	defer close(rt.monitorDone)
	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.sweep(rt) {
				return
			}
		}
	}
}

// sweep is one monitor cycle. It reports whether the pool was torn down.
func (p *Pool) sweep(rt *runtimeState) bool {
	now := p.now()
	var reaped, stale int

	p.mu.Lock()
	for id, rec := range p.tasks {
		switch {
		case rec.future.IsDone():
			delete(p.tasks, id)
			reaped++
		case now.Sub(rec.submittedAt) > p.cfg.StaleAfter:
			rec.future.Cancel()
			delete(p.tasks, id)
			stale++
			p.logger.Warn("Cancelled stale task",
				zap.Stringer("task_id", id),
				zap.Duration("age", now.Sub(rec.submittedAt)),
			)
		}
	}
	remaining := len(p.tasks)
	if remaining > 0 {
		p.lastBusy = now
	}
	idleFor := now.Sub(p.lastBusy)
	p.mu.Unlock()

	if reaped > 0 || stale > 0 {
		p.logger.Debug("Monitor cycle",
			zap.Int("reaped", reaped),
			zap.Int("stale", stale),
			zap.Int("remaining", remaining),
		)
	}
	if remaining > 0 || idleFor <= p.cfg.IdleAfter {
		return false
	}
	return p.teardownIdle(rt, idleFor)
}

// teardownIdle releases rt if it is still current and still has nothing to do.
func (p *Pool) teardownIdle(rt *runtimeState, idleFor time.Duration) bool {
	p.lifecycle.Lock()
	if p.rt != rt {
		p.lifecycle.Unlock()
		return true
	}
	p.mu.Lock()
	busy := len(p.tasks) > 0
	p.mu.Unlock()
	if busy {
		p.lifecycle.Unlock()
		return false
	}
	p.detachLocked()
	p.lifecycle.Unlock()

	rt.cancel()
	// Workers may still be finishing cancelled tasks that ignore their context;
	// the monitor exits without waiting for them.
	go rt.exec.shutdown()
	p.logger.Info("Worker pool idle, tearing down",
		zap.Uint64("generation", rt.generation),
		zap.Duration("idle_for", idleFor),
	)
	return true
}

// State reports whether the pool is currently running.
func (p *Pool) State() State {
	if p.active.Load() {
		return StateActive
	}
	return StateTornDown
}

// Generation counts how many times the pool has been started.
func (p *Pool) Generation() uint64 { return p.generation.Load() }

// Tracked is the number of tasks the monitor has not reaped yet.
func (p *Pool) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Active is the number of tasks executing right now.
func (p *Pool) Active() int {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()
	if p.rt == nil {
		return 0
	}
	return int(p.rt.exec.busy.Load())
}

// Pending is the number of tasks queued but not yet started.
func (p *Pool) Pending() int {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()
	if p.rt == nil {
		return 0
	}
	return p.rt.exec.pending()
}
