package worker

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("executor closed")

// Executor runs fire-and-forget tasks on their own goroutines. Tasks get a context
// detached from the submitter so a cancelled request never cancels scheduled work.
type Executor struct {
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewExecutor creates a running executor.
func NewExecutor() *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{ctx: ctx, cancel: cancel}
}

// Submit schedules fn and returns immediately.
func (e *Executor) Submit(name string, fn func(ctx context.Context)) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("worker: task %s panicked: %v", name, r)
			}
		}()
		fn(e.ctx)
	}()
	return nil
}

// Go submits fn and logs a rejected submission instead of returning it.
func (e *Executor) Go(name string, fn func(ctx context.Context)) {
	if err := e.Submit(name, fn); err != nil {
		log.Printf("worker: task %s not scheduled: %v", name, err)
	}
}

// Wait blocks until every submitted task has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Shutdown rejects new tasks and waits for in-flight ones until ctx is done,
// after which the task context is cancelled.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}
