// File: core/buffer/heap_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Heap-backed pool: every block is an ordinary allocation, recycled through
// a free list.

package buffer

import (
	"github.com/momentics/nioloop/api"
)

// HeapPool allocates each block on demand and keeps released blocks on a
// free list for reuse. Interchangeable with SlabPool at construction.
type HeapPool struct {
	poolSize   int64
	bufferSize int
	shift      uint

	free [][]byte

	cur    int64
	closed bool
}

var _ Pool = (*HeapPool)(nil)

// NewHeapPool builds a heap pool with the given byte budget and block size.
// bufferSize must be a power of two.
func NewHeapPool(poolSize int64, bufferSize int) *HeapPool {
	shift := sizeShift(bufferSize)
	p := &HeapPool{
		poolSize:   poolSize,
		bufferSize: bufferSize,
		shift:      shift,
	}
	log.Infof("heapPool: poolSize = %d, bufferSize = %d, bufferSizeShift = %d", poolSize, bufferSize, shift)
	return p
}

// Allocate returns a buffer over a recycled or fresh block.
func (p *HeapPool) Allocate() (*Buffer, error) {
	if p.closed {
		return nil, api.ErrPoolClosed
	}
	if p.cur+int64(p.bufferSize) > p.poolSize {
		return nil, &api.AllocateError{Resource: "bufferPool", Reason: "exceeds pool size limit"}
	}
	var block []byte
	if n := len(p.free); n > 0 {
		block = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		block = make([]byte, p.bufferSize)
	}
	b := &Buffer{pool: p, b: block, slot: -1}
	b.onAlloc()
	p.cur += int64(p.bufferSize)
	return b, nil
}

// Release recycles the buffer's block.
func (p *HeapPool) Release(b *Buffer) {
	if b.pool != p {
		log.Warnf("heapPool: buffer not allocated from this pool - %s", b)
		return
	}
	p.free = append(p.free, b.b)
	p.cur -= int64(p.bufferSize)
}

// BufferSize returns the fixed block size.
func (p *HeapPool) BufferSize() int { return p.bufferSize }

// SizeShift returns log2(BufferSize).
func (p *HeapPool) SizeShift() uint { return p.shift }

// PoolSize returns the byte budget.
func (p *HeapPool) PoolSize() int64 { return p.poolSize }

// CurrentBytes returns bytes currently allocated out.
func (p *HeapPool) CurrentBytes() int64 { return p.cur }

// Available returns the remaining budget.
func (p *HeapPool) Available() int64 { return p.poolSize - p.cur }

// IsOpen reports whether the pool accepts allocations.
func (p *HeapPool) IsOpen() bool { return !p.closed }

// Close marks the pool closed and drops the free list.
func (p *HeapPool) Close() {
	p.closed = true
	p.free = nil
}
