package rpc

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrExecutorClosed is returned by Submit after Close.
var ErrExecutorClosed = errors.New("executor closed")

// Executor is the execution context handlers run on. Implementations must
// preserve submission order.
type Executor interface {
	Submit(ctx context.Context, fn func()) error
}

// InlineExecutor runs each function on the submitting goroutine.
type InlineExecutor struct{}

// Submit runs fn immediately.
func (InlineExecutor) Submit(ctx context.Context, fn func()) error {
	fn()
	return nil
}

// SerialExecutor runs submitted functions one at a time, in submission
// order, on a single dedicated goroutine.
type SerialExecutor struct {
	queue  chan func()
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewSerialExecutor starts an executor with the given queue depth.
func NewSerialExecutor(queueSize int) *SerialExecutor {
	if queueSize <= 0 {
		queueSize = 64
	}
	e := &SerialExecutor{
		queue:  make(chan func(), queueSize),
		stopCh: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *SerialExecutor) run() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.queue:
			e.safeRun(fn)
		case <-e.stopCh:
			// drain what was accepted before Close
			for {
				select {
				case fn := <-e.queue:
					e.safeRun(fn)
				default:
					return
				}
			}
		}
	}
}

func (e *SerialExecutor) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("executor task panicked")
		}
	}()
	fn()
}

// Submit enqueues fn. It blocks while the queue is full, until ctx is done
// or the executor is closed.
func (e *SerialExecutor) Submit(ctx context.Context, fn func()) error {
	select {
	case <-e.stopCh:
		return ErrExecutorClosed
	default:
	}

	select {
	case e.queue <- fn:
		return nil
	case <-e.stopCh:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs everything already queued, and waits
// for the worker goroutine to exit.
func (e *SerialExecutor) Close() {
	e.once.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
