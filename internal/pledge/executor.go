package pledge

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutorClosed is returned when work is submitted after Close
var ErrExecutorClosed = errors.New("executor closed")

// Executor runs confirmation operations on a fixed set of workers shared by every
// operation in the process.
type Executor struct {
	jobs     chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewExecutor starts an executor with the given number of workers
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}

	e := &Executor{
		jobs:   make(chan func()),
		stopCh: make(chan struct{}),
	}

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.stopCh:
			return
		}
	}
}

// Submit blocks until a worker accepts job, ctx ends or the executor is closed
func (e *Executor) Submit(ctx context.Context, job func()) error {
	select {
	case <-e.stopCh:
		return ErrExecutorClosed
	default:
	}

	select {
	case e.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return ErrExecutorClosed
	}
}

// Close stops the workers after their current job
func (e *Executor) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
}
