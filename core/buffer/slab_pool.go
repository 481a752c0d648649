// File: core/buffer/slab_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Slab-backed pool: one contiguous byte slab sliced into fixed blocks,
// buffers are indexed views into the slab.

package buffer

import (
	"github.com/momentics/nioloop/api"
)

// SlabPool serves buffers out of a single contiguous slab. Block slots are
// recycled through a free list; the slab itself lives for the pool's
// lifetime.
type SlabPool struct {
	poolSize   int64
	bufferSize int
	shift      uint

	slab    []byte
	free    []int // recycled block slots
	next    int   // first never-used slot
	nblocks int

	cur    int64
	closed bool
}

var _ Pool = (*SlabPool)(nil)

// NewSlabPool builds a slab pool with the given byte budget and block size.
// bufferSize must be a power of two.
func NewSlabPool(poolSize int64, bufferSize int) *SlabPool {
	shift := sizeShift(bufferSize)
	nblocks := int(poolSize / int64(bufferSize))
	p := &SlabPool{
		poolSize:   poolSize,
		bufferSize: bufferSize,
		shift:      shift,
		slab:       make([]byte, int64(nblocks)<<shift),
		nblocks:    nblocks,
	}
	log.Infof("slabPool: poolSize = %d, bufferSize = %d, bufferSizeShift = %d", poolSize, bufferSize, shift)
	return p
}

// Allocate returns an indexed view of one free slab block.
func (p *SlabPool) Allocate() (*Buffer, error) {
	if p.closed {
		return nil, api.ErrPoolClosed
	}
	if p.cur+int64(p.bufferSize) > p.poolSize {
		return nil, &api.AllocateError{Resource: "bufferPool", Reason: "exceeds pool size limit"}
	}
	var slot int
	if n := len(p.free); n > 0 {
		slot = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		slot = p.next
		p.next++
	}
	b := &Buffer{
		pool: p,
		b:    p.slab[int64(slot)<<p.shift : int64(slot+1)<<p.shift],
		slot: slot,
	}
	b.onAlloc()
	p.cur += int64(p.bufferSize)
	return b, nil
}

// Release recycles the buffer's slab slot.
func (p *SlabPool) Release(b *Buffer) {
	if b.pool != p {
		log.Warnf("slabPool: buffer not allocated from this pool - %s", b)
		return
	}
	p.free = append(p.free, b.slot)
	p.cur -= int64(p.bufferSize)
}

// BufferSize returns the fixed block size.
func (p *SlabPool) BufferSize() int { return p.bufferSize }

// SizeShift returns log2(BufferSize).
func (p *SlabPool) SizeShift() uint { return p.shift }

// PoolSize returns the byte budget.
func (p *SlabPool) PoolSize() int64 { return p.poolSize }

// CurrentBytes returns bytes currently allocated out.
func (p *SlabPool) CurrentBytes() int64 { return p.cur }

// Available returns the remaining budget.
func (p *SlabPool) Available() int64 { return p.poolSize - p.cur }

// IsOpen reports whether the pool accepts allocations.
func (p *SlabPool) IsOpen() bool { return !p.closed }

// Close marks the pool closed and drops the free list.
func (p *SlabPool) Close() {
	p.closed = true
	p.free = nil
}
