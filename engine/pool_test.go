package engine

import (
	"testing"
	"time"

	"github.com/blobmover/core/config"
)

func TestMemoryPoolAcquireRelease(t *testing.T) {
	mp := NewMemoryPool(2)

	c1, err := mp.Acquire(nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(c1.Bytes()) != config.CellSize {
		t.Errorf("cell size = %d, want %d", len(c1.Bytes()), config.CellSize)
	}
	if got := mp.Inflight(); got != 1 {
		t.Errorf("Inflight() = %d, want 1", got)
	}

	mp.Release(c1)
	if got := mp.Inflight(); got != 0 {
		t.Errorf("Inflight() after release = %d, want 0", got)
	}
}

func TestMemoryPoolBlocksAtCeiling(t *testing.T) {
	mp := NewMemoryPool(1)

	c1, err := mp.Acquire(nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		c2, err := mp.Acquire(done)
		if err == nil {
			close(acquired)
			mp.Release(c2)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should have blocked while pool is at ceiling")
	case <-time.After(50 * time.Millisecond):
	}

	mp.Release(c1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire should have unblocked once a cell was released")
	}
}

func TestMemoryPoolAcquireCanceled(t *testing.T) {
	mp := NewMemoryPool(1)
	if _, err := mp.Acquire(nil); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan struct{})
	close(done)
	if _, err := mp.Acquire(done); err == nil {
		t.Fatal("expected Acquire to fail once done is closed")
	}
}

func TestMemoryPoolAvailable(t *testing.T) {
	mp := NewMemoryPool(3)
	if got := mp.Available(); got != 3 {
		t.Errorf("Available() = %d, want 3", got)
	}
	c, _ := mp.Acquire(nil)
	if got := mp.Available(); got != 2 {
		t.Errorf("Available() after acquire = %d, want 2", got)
	}
	mp.Release(c)
}
