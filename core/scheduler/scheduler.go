// Package scheduler runs tasks on a bounded pool of workers.
//
// Submission blocks while the queue is full and every worker is busy, so a
// producer is slowed down rather than refused. Only a pool that has been shut
// down rejects work.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FocuswithJustin/sigid/core/errors"
)

// Task is a unit of work. ctx is the context the task was submitted with.
type Task[R any] func(ctx context.Context) (R, error)

// Config sizes a Pool.
type Config struct {
	// CoreWorkers are started on demand and kept for the life of the pool.
	CoreWorkers int
	// MaxWorkers bounds the number of workers. Workers above CoreWorkers are
	// started only when the queue is full.
	MaxWorkers int
	// QueueCapacity is the number of tasks that may wait for a worker. Zero
	// hands each task directly to a worker.
	QueueCapacity int
	// IdleTimeout is how long a worker above CoreWorkers waits for a task
	// before exiting.
	IdleTimeout time.Duration
}

// DefaultConfig sizes the pool to the machine.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		CoreWorkers:   n,
		MaxWorkers:    n,
		QueueCapacity: 2 * n,
		IdleTimeout:   30 * time.Second,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.CoreWorkers < 1:
		return errors.NewValidation("core_workers", "must be at least 1")
	case c.MaxWorkers < c.CoreWorkers:
		return errors.NewValidation("max_workers", fmt.Sprintf("must be at least core_workers (%d)", c.CoreWorkers))
	case c.QueueCapacity < 0:
		return errors.NewValidation("queue_capacity", "must not be negative")
	case c.IdleTimeout < 0:
		return errors.NewValidation("idle_timeout", "must not be negative")
	}
	return nil
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers   int
	Queued    int
	Submitted int64
	Completed int64 // finished without error
	Failed    int64 // returned an error or panicked
	Cancelled int64 // dropped before they started
	Rejected  int64
}

// Pool runs Tasks returning R.
type Pool[R any] struct {
	cfg   Config
	queue chan *Handle[R]

	mu      sync.Mutex
	workers int
	closed  bool

	senders    sync.WaitGroup // Submit calls in progress
	running    sync.WaitGroup // live workers
	closing    chan struct{}
	terminated chan struct{}
	once       sync.Once

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	rejected  atomic.Int64
}

// New returns a pool with no workers; they are started as tasks arrive.
func New[R any](cfg Config) (*Pool[R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool[R]{
		cfg:        cfg,
		queue:      make(chan *Handle[R], cfg.QueueCapacity),
		closing:    make(chan struct{}),
		terminated: make(chan struct{}),
	}, nil
}

// Config returns the pool configuration.
func (p *Pool[R]) Config() Config { return p.cfg }

// Submit schedules task. It returns at once while a worker can be started
// or the queue has room, and otherwise blocks until one of those becomes
// true, ctx is done, or the pool is shut down. After Shutdown it fails with
// ErrRejected.
func (p *Pool[R]) Submit(ctx context.Context, task Task[R]) (*Handle[R], error) {
	h := newHandle(ctx, task)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.rejected.Add(1)
		return nil, errors.ErrRejected
	}
	p.senders.Add(1)
	defer p.senders.Done()
	if p.workers < p.cfg.CoreWorkers {
		p.startWorker(h)
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	select {
	case p.queue <- h:
		p.submitted.Add(1)
		return h, nil
	default:
	}

	p.mu.Lock()
	if p.workers < p.cfg.MaxWorkers {
		p.startWorker(h)
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	select {
	case p.queue <- h:
		p.submitted.Add(1)
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closing:
		p.rejected.Add(1)
		return nil, errors.ErrRejected
	}
}

// startWorker must be called with p.mu held.
func (p *Pool[R]) startWorker(first *Handle[R]) {
	p.workers++
	p.submitted.Add(1)
	p.running.Add(1)
	go p.worker(first)
}

func (p *Pool[R]) worker(first *Handle[R]) {
	defer p.running.Done()
	if first != nil {
		p.run(first)
	}

	var idle *time.Timer
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()
	for {
		var timeout <-chan time.Time
		if p.extraWorker() {
			if idle == nil {
				idle = time.NewTimer(p.cfg.IdleTimeout)
			} else {
				idle.Reset(p.cfg.IdleTimeout)
			}
			timeout = idle.C
		}

		select {
		case h, ok := <-p.queue:
			if !ok {
				p.exit()
				return
			}
			p.run(h)
		case <-timeout:
			if p.retire() {
				return
			}
		}
	}
}

func (p *Pool[R]) extraWorker() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers > p.cfg.CoreWorkers
}

// retire removes an idle worker if the pool is still above its core size.
func (p *Pool[R]) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers > p.cfg.CoreWorkers {
		p.workers--
		return true
	}
	return false
}

func (p *Pool[R]) exit() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

func (p *Pool[R]) run(h *Handle[R]) {
	if err := h.ctx.Err(); err != nil {
		h.cancel(fmt.Errorf("%w: %w", errors.ErrCancelled, err))
		p.cancelled.Add(1)
		return
	}
	if !h.state.CompareAndSwap(stateQueued, stateRunning) {
		p.cancelled.Add(1)
		return
	}

	result, err := execute(h.ctx, h.task)
	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
	h.finish(result, err)
}

// execute runs task, converting a panic into a PanicError.
func execute[R any](ctx context.Context, task Task[R]) (result R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &errors.PanicError{Value: v}
		}
	}()
	return task(ctx)
}

// Shutdown stops the pool accepting tasks. Tasks already queued or running
// continue to completion; use AwaitTermination to wait for them. Submit
// calls blocked on a full queue fail with ErrRejected.
func (p *Pool[R]) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.once.Do(func() {
		close(p.closing)
		go func() {
			p.senders.Wait()
			close(p.queue)
			p.running.Wait()
			close(p.terminated)
		}()
	})
}

// AwaitTermination blocks until every task accepted before Shutdown has
// finished, or ctx is done.
func (p *Pool[R]) AwaitTermination(ctx context.Context) error {
	select {
	case <-p.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown reports whether Shutdown has been called.
func (p *Pool[R]) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[R]) Stats() Stats {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()
	return Stats{
		Workers:   workers,
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Cancelled: p.cancelled.Load(),
		Rejected:  p.rejected.Load(),
	}
}
