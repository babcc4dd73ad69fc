package taskpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded task pool. It is constructed by the composition root and
// handed to the components that need background work, never created lazily.
// Excess submissions queue until a worker slot frees up.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func New(size int64) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// Submit schedules task on the pool and returns a channel carrying its
// result. The channel is buffered so the result can be ignored. If ctx is
// canceled while the submission is still queued, the ctx error is delivered
// and the task never runs.
func (p *Pool) Submit(ctx context.Context, task func() error) <-chan error {
	out := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)

		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- err
			return
		}
		defer p.sem.Release(1)

		out <- task()
	}()
	return out
}

// Wait blocks until all submitted tasks have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
