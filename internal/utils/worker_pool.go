package utils

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned when work is submitted to a stopped pool.
var ErrPoolStopped = errors.New("worker pool is not running")

// WorkerPool runs submitted functions on a fixed number of goroutines.
type WorkerPool struct {
	workers   int
	workQueue chan func()
	stopCh    chan struct{}
	wg        sync.WaitGroup
	pending   sync.WaitGroup
	running   bool
	mu        sync.RWMutex
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// The work queue is buffered at 2x the worker count.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers:   workers,
		workQueue: make(chan func(), workers*2),
		stopCh:    make(chan struct{}),
	}
}

// Start begins processing work items. Calling it on a running pool has no
// effect.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}

	wp.running = true
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Stop waits for queued work to finish, then stops the workers.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.mu.Unlock()

	wp.pending.Wait()
	close(wp.stopCh)
	wp.wg.Wait()
}

// SubmitWait queues work, blocking while the queue is full.
func (wp *WorkerPool) SubmitWait(ctx context.Context, work func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrPoolStopped
	}

	wp.pending.Add(1)
	select {
	case wp.workQueue <- work:
		return nil
	case <-ctx.Done():
		wp.pending.Done()
		return ctx.Err()
	}
}

// Wait blocks until every submitted item has run.
func (wp *WorkerPool) Wait() {
	wp.pending.Wait()
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case work := <-wp.workQueue:
			wp.run(work)
		case <-wp.stopCh:
			return
		}
	}
}

// run executes one item. A panicking item is dropped and the worker keeps
// going; callers that need the failure recover inside work.
func (wp *WorkerPool) run(work func()) {
	defer wp.pending.Done()
	defer func() {
		_ = recover()
	}()
	if work != nil {
		work()
	}
}
