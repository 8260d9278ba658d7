package engine

import "context"

// ListingTask is one unit of directory-listing work: list one level
// and, if hierarchical, enqueue whatever sub-directories it found back
// onto the same scheduler's queue.
type ListingTask func(context.Context) error

// ListingScheduler is the C9 directory-listing scheduler: a pool
// bounded independently of the transfer Scheduler, since listing and
// transferring contend for different resources (RPC/syscall fan-out
// vs. memory-pool cells). Sized from
// (*config.Config).ListingConcurrency (§4.4: 6 remote, 4 when either
// endpoint is local).
type ListingScheduler struct {
	pool  *WorkerPool[ListingTask]
	queue chan ListingTask
}

// NewListingScheduler builds a ListingScheduler with the given queue
// depth and worker concurrency.
func NewListingScheduler(ctx context.Context, queueDepth, concurrency int) *ListingScheduler {
	queue := make(chan ListingTask, queueDepth)
	run := func(ctx context.Context, task ListingTask) error { return task(ctx) }
	ls := &ListingScheduler{
		pool:  NewWorkerPool[ListingTask](ctx, queue, run),
		queue: queue,
	}
	ls.pool.SetWorkerCount(concurrency)
	return ls
}

// Enqueue submits a listing task, blocking if the queue is full.
func (ls *ListingScheduler) Enqueue(task ListingTask) { ls.queue <- task }

// TryEnqueue submits a listing task without blocking, reporting
// whether it was accepted.
func (ls *ListingScheduler) TryEnqueue(task ListingTask) bool {
	select {
	case ls.queue <- task:
		return true
	default:
		return false
	}
}

// Stop stops all listing workers.
func (ls *ListingScheduler) Stop() { ls.pool.Stop() }
