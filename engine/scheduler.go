package engine

import "context"

// Scheduler is the C8 bounded-parallelism pool that runs *Job values
// through a SingleObjectTransfer. It is a thin domain wrapper over the
// generic WorkerPool: concurrency is bounded by SetWorkerCount, and
// memory admission is bounded separately by the MemoryPool every
// worker shares, since a SingleObjectTransfer only ever holds one
// cell at a time (§4.4 — "memory-admission gating" falls out of
// workers contending for the same MemoryPool rather than needing a
// second semaphore layered on top).
type Scheduler struct {
	pool *WorkerPool[*Job]
}

// TransferFunc runs one job to completion (or a terminal error),
// typically (*SingleObjectTransfer).Run bound to that job's
// collaborators.
type TransferFunc func(context.Context, *Job) error

// NewScheduler builds a Scheduler draining jobs from queue through
// run, with parallelism workers.
func NewScheduler(ctx context.Context, queue <-chan *Job, run TransferFunc, parallelism int) *Scheduler {
	s := &Scheduler{pool: NewWorkerPool[*Job](ctx, queue, JobHandler[*Job](run))}
	s.pool.SetWorkerCount(parallelism)
	return s
}

// Rescale changes the number of active transfer workers.
func (s *Scheduler) Rescale(parallelism int) { s.pool.SetWorkerCount(parallelism) }

// WorkerCount reports the current number of active transfer workers.
func (s *Scheduler) WorkerCount() int { return s.pool.WorkerCount() }

// Stop drains in-flight jobs and stops all workers.
func (s *Scheduler) Stop() { s.pool.Stop() }
