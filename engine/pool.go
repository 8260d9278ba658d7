package engine

import (
	"sync"
	"sync/atomic"

	"github.com/blobmover/core/config"
)

// Cell is one fixed-size chunk of scratch memory handed out by a
// MemoryPool. Grounded on engine/buffer.go's BufferPool, which pooled
// variable-sized *[]byte via sync.Pool; MemoryPool keeps the same
// sync.Pool reuse idea but fixes every cell at config.CellSize and
// adds a hard ceiling on how many cells may be outstanding at once
// (§4.1), so the scheduler can gate admission on memory rather than
// goroutine count alone.
type Cell struct {
	buf []byte
}

// Bytes returns the cell's backing slice, always len==config.CellSize.
func (c *Cell) Bytes() []byte { return c.buf }

// MemoryPool bounds how many CellSize-sized buffers may be checked out
// at once. Acquire blocks (respecting ctx) once the ceiling is
// reached; Release both returns the cell to the underlying sync.Pool
// and frees one unit of the ceiling.
type MemoryPool struct {
	pool sync.Pool

	ceiling   int64
	inflight  int64
	admission chan struct{}
}

// NewMemoryPool builds a pool whose ceiling is cells (typically
// (*config.Config).CellCeiling()).
func NewMemoryPool(cells int) *MemoryPool {
	if cells < 1 {
		cells = 1
	}
	mp := &MemoryPool{
		ceiling:   int64(cells),
		admission: make(chan struct{}, cells),
	}
	mp.pool.New = func() any {
		return &Cell{buf: make([]byte, config.CellSize)}
	}
	for i := 0; i < cells; i++ {
		mp.admission <- struct{}{}
	}
	return mp
}

// Acquire blocks until a cell is admitted under the ceiling or ctx is
// done.
func (mp *MemoryPool) Acquire(done <-chan struct{}) (*Cell, error) {
	select {
	case <-mp.admission:
	case <-done:
		return nil, errPoolCanceled
	}
	atomic.AddInt64(&mp.inflight, 1)
	return mp.pool.Get().(*Cell), nil
}

// Release returns a cell to the pool and frees one admission slot.
func (mp *MemoryPool) Release(c *Cell) {
	if c == nil {
		return
	}
	mp.pool.Put(c)
	atomic.AddInt64(&mp.inflight, -1)
	mp.admission <- struct{}{}
}

// Inflight reports how many cells are currently checked out.
func (mp *MemoryPool) Inflight() int64 { return atomic.LoadInt64(&mp.inflight) }

// Ceiling reports the pool's configured cell-count ceiling.
func (mp *MemoryPool) Ceiling() int64 { return mp.ceiling }

// Available reports how many cells could be acquired without
// blocking.
func (mp *MemoryPool) Available() int { return len(mp.admission) }

type poolCanceledError struct{}

func (poolCanceledError) Error() string { return "engine: memory pool acquisition canceled" }

var errPoolCanceled error = poolCanceledError{}
