package engine

import (
	"context"
	"sync"
)

// JobHandler processes one item of type T. Generalized from
// engine/worker_pool.go's JobHandler, which was fixed to
// func(context.Context, TransferJob) error; a type parameter lets the
// same dynamic pool back both the transfer scheduler (C8, over *Job)
// and the directory-listing scheduler (C9, over a listing task),
// which §4.4 describes as two independently bounded pools built the
// same way.
type JobHandler[T any] func(context.Context, T) error

// WorkerPool manages a dynamic set of goroutines pulling items of
// type T off a channel and running them through a JobHandler.
// Grounded on engine/worker_pool.go's WorkerPool almost verbatim: the
// add/remove-worker bookkeeping and quit-channel decommissioning are
// unchanged, generalized only over the item type.
type WorkerPool[T any] struct {
	jobChan <-chan T
	handler JobHandler[T]

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	workers     map[int]chan struct{}
	workerCount int
	nextID      int
	wg          sync.WaitGroup
}

// NewWorkerPool creates a new dynamic worker pool draining jobChan.
func NewWorkerPool[T any](ctx context.Context, jobChan <-chan T, handler JobHandler[T]) *WorkerPool[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool[T]{
		jobChan: jobChan,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[int]chan struct{}),
	}
}

// SetWorkerCount scales the number of workers up or down gracefully.
func (p *WorkerPool[T]) SetWorkerCount(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.workerCount < count {
		p.addWorker()
	}
	for p.workerCount > count {
		p.removeWorker()
	}
}

// WorkerCount returns the current target number of workers.
func (p *WorkerPool[T]) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workerCount
}

func (p *WorkerPool[T]) addWorker() {
	quitChan := make(chan struct{})
	id := p.nextID
	p.nextID++
	p.workers[id] = quitChan
	p.workerCount++
	p.wg.Add(1)

	go func(id int, quit chan struct{}) {
		defer p.wg.Done()
		for {
			select {
			case <-quit:
				return
			case <-p.ctx.Done():
				return
			default:
			}

			select {
			case <-quit:
				return
			case <-p.ctx.Done():
				return
			case job, ok := <-p.jobChan:
				if !ok {
					return
				}
				_ = p.handler(p.ctx, job)
			}
		}
	}(id, quitChan)
}

func (p *WorkerPool[T]) removeWorker() {
	for id, quit := range p.workers {
		close(quit)
		delete(p.workers, id)
		p.workerCount--
		return
	}
}

// Stop initiates termination of all workers and waits for them to
// exit. Jobs currently running might be aborted since the context is
// canceled.
func (p *WorkerPool[T]) Stop() {
	p.cancel()
	p.wg.Wait()
}
