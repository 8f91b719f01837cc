package fusion

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Close has run.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool is a bounded worker pool for blocking source fetches. Bounding keeps
// a slow upstream from stacking goroutines across overlapping work.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	// mu is held for reading across the Submit send so Close cannot close
	// the channel while a send is in flight.
	mu     sync.RWMutex
	closed bool
}

// NewPool starts size workers.
func NewPool(size int) *Pool {
	p := &Pool{tasks: make(chan func())}
	for range size {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit enqueues a task, blocking until a worker accepts it or the context
// is cancelled. Submitting to a closed pool returns ErrPoolClosed.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- task:
		return nil
	}
}

// Close stops accepting tasks and waits for in-flight ones to finish.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
