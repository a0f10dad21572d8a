// Package pool implements the memory pools the pipeline hot path runs on:
// reusable audio sample buffers and reusable transcription-result records.
// It is the Go generic rewrite of the original MemoryPool<T> template.
package pool

import (
	"sync"
	"time"

	"speechbridge/pipelineerr"
)

var errPoolExhausted = pipelineerr.ErrPoolExhausted

// Resettable is implemented by anything a Pool can recycle. Reset must put
// the value back into its empty state before it is handed out again.
type Resettable interface {
	Reset()
}

// Statistics mirrors the original PoolStatistics struct.
type Statistics struct {
	InUse        int
	Free         int
	Allocated    int
	PeakUse      int
	AcquireCount int64
	ReleaseCount int64
}

type block[T Resettable] struct {
	value    T
	lastUsed time.Time
	inUse    bool
}

// Pool is a generic, fixed-growth-capped object pool. An item is either
// "in use" (referenced by a live Handle) or "free" (sitting in freeList),
// never both; inUse + free == allocated at all times.
type Pool[T Resettable] struct {
	mu       sync.Mutex
	new      func() T
	blocks   []*block[T]
	freeList []*block[T]
	maxSize  int

	stats Statistics
}

// New creates a pool with initialSize pre-allocated items and a hard cap of
// maxSize. newFn constructs a fresh T; it is only called while growing.
func New[T Resettable](initialSize, maxSize int, newFn func() T) *Pool[T] {
	p := &Pool[T]{
		new:     newFn,
		maxSize: maxSize,
	}
	now := time.Now()
	for i := 0; i < initialSize; i++ {
		b := &block[T]{value: newFn(), lastUsed: now}
		p.blocks = append(p.blocks, b)
		p.freeList = append(p.freeList, b)
	}
	p.stats.Allocated = len(p.blocks)
	p.stats.Free = len(p.freeList)
	return p
}

// Handle is a live reference into the pool. Release must be called,
// including on panic paths, to return the item to the free list; calls
// after the first are no-ops.
type Handle[T Resettable] struct {
	Value    T
	pool     *Pool[T]
	block    *block[T]
	released bool
}

// Release returns the item to the pool, resetting it first. Calling it more
// than once is a no-op.
func (h *Handle[T]) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.pool.release(h.block)
}

// Acquire returns a handle to a reset pooled item. It takes no capacity
// argument; capacity growth, if the item type supports it, is done by the
// caller (AudioBufferPool.Acquire grows the buffer after this returns). It
// grows the pool on demand up to maxSize, and fails with ErrPoolExhausted
// only once that hard cap is reached.
func (p *Pool[T]) Acquire() (*Handle[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b *block[T]
	if n := len(p.freeList); n > 0 {
		b = p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
	} else if len(p.blocks) < p.maxSize {
		b = &block[T]{value: p.new()}
		p.blocks = append(p.blocks, b)
		p.stats.Allocated = len(p.blocks)
	} else {
		return nil, errPoolExhausted
	}

	b.inUse = true
	b.lastUsed = time.Now()
	b.value.Reset()

	p.stats.AcquireCount++
	p.stats.InUse++
	p.stats.Free = len(p.freeList)
	if p.stats.InUse > p.stats.PeakUse {
		p.stats.PeakUse = p.stats.InUse
	}

	return &Handle[T]{Value: b.value, pool: p, block: b}, nil
}

func (p *Pool[T]) release(b *block[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !b.inUse {
		return
	}
	b.inUse = false
	b.lastUsed = time.Now()
	b.value.Reset()
	p.freeList = append(p.freeList, b)

	p.stats.ReleaseCount++
	p.stats.InUse--
	p.stats.Free = len(p.freeList)
}

// Statistics returns a point-in-time snapshot of pool usage.
func (p *Pool[T]) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Allocated = len(p.blocks)
	s.Free = len(p.freeList)
	return s
}

// Cleanup frees free-list items idle longer than maxIdle, always keeping at
// least one allocated item around.
func (p *Pool[T]) Cleanup(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	kept := p.freeList[:0]
	for _, b := range p.freeList {
		if len(p.blocks) <= 1 || now.Sub(b.lastUsed) < maxIdle {
			kept = append(kept, b)
			continue
		}
		p.blocks = removeBlock(p.blocks, b)
	}
	p.freeList = kept
	p.stats.Allocated = len(p.blocks)
	p.stats.Free = len(p.freeList)
}

func removeBlock[T Resettable](blocks []*block[T], target *block[T]) []*block[T] {
	for i, b := range blocks {
		if b == target {
			return append(blocks[:i], blocks[i+1:]...)
		}
	}
	return blocks
}
