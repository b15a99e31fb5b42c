package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/FocuswithJustin/sigid/core/errors"
)

const (
	stateQueued int32 = iota
	stateRunning
	stateDone
)

// Handle is the pending result of a submitted task.
type Handle[R any] struct {
	ctx   context.Context
	task  Task[R]
	state atomic.Int32
	done  chan struct{}

	result R
	err    error
}

func newHandle[R any](ctx context.Context, task Task[R]) *Handle[R] {
	return &Handle[R]{ctx: ctx, task: task, done: make(chan struct{})}
}

// Done is closed once the task has finished or been cancelled.
func (h *Handle[R]) Done() <-chan struct{} { return h.done }

// Wait blocks until the task finishes and returns its result. A task that
// panicked reports a PanicError; one that was cancelled before it started
// reports ErrCancelled.
func (h *Handle[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Cancel drops the task if it has not started yet and reports whether it
// did. A running task always runs to completion.
func (h *Handle[R]) Cancel() bool {
	return h.cancel(errors.ErrCancelled)
}

func (h *Handle[R]) cancel(err error) bool {
	if !h.state.CompareAndSwap(stateQueued, stateDone) {
		return false
	}
	h.err = err
	close(h.done)
	return true
}

func (h *Handle[R]) finish(result R, err error) {
	h.result, h.err = result, err
	h.state.Store(stateDone)
	close(h.done)
}
