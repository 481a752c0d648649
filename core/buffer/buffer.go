// File: core/buffer/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import "fmt"

// Buffer is one fixed-size byte region handed out by a Pool. A read index
// and a write index delimit the unread window; a reference count captures
// sharing between the input and output paths. When the count drops to zero
// the block returns to its pool and the buffer must not be touched again.
type Buffer struct {
	pool Pool
	b    []byte

	ridx, widx int
	refs       int
	slot       int // slab block slot; -1 for heap-backed blocks
}

// Pool returns the owning pool.
func (b *Buffer) Pool() Pool { return b.pool }

// Capacity returns the fixed block size.
func (b *Buffer) Capacity() int { return len(b.b) }

// ReadableBytes returns the unread byte count.
func (b *Buffer) ReadableBytes() int { return b.widx - b.ridx }

// WritableBytes returns the unwritten byte count.
func (b *Buffer) WritableBytes() int { return len(b.b) - b.widx }

// ReadableSlice exposes the unread window. The slice is invalidated by
// Release.
func (b *Buffer) ReadableSlice() []byte { return b.b[b.ridx:b.widx] }

// WritableSlice exposes the unwritten tail for direct fills such as a
// socket read. Call AdvanceWrite with the byte count afterwards.
func (b *Buffer) WritableSlice() []byte { return b.b[b.widx:] }

// AdvanceRead consumes n unread bytes.
func (b *Buffer) AdvanceRead(n int) {
	if n < 0 || b.ridx+n > b.widx {
		panic(fmt.Sprintf("advance read %d out of window [%d,%d]", n, b.ridx, b.widx))
	}
	b.ridx += n
}

// AdvanceWrite commits n bytes written into WritableSlice.
func (b *Buffer) AdvanceWrite(n int) {
	if n < 0 || b.widx+n > len(b.b) {
		panic(fmt.Sprintf("advance write %d out of capacity %d", n, len(b.b)))
	}
	b.widx += n
}

// Write copies p into the buffer, bounded by the writable room.
func (b *Buffer) Write(p []byte) int {
	n := copy(b.b[b.widx:], p)
	b.widx += n
	return n
}

// Read copies unread bytes into p, advancing the read index.
func (b *Buffer) Read(p []byte) int {
	n := copy(p, b.b[b.ridx:b.widx])
	b.ridx += n
	return n
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int { return b.refs }

// Retain adds one reference for a second holder of this buffer.
func (b *Buffer) Retain() *Buffer {
	if b.refs <= 0 {
		panic("retain on released buffer")
	}
	b.refs++
	return b
}

// Release drops one reference, returning the block to its pool when the
// count reaches zero.
func (b *Buffer) Release() {
	if b.refs <= 0 {
		panic("release on released buffer")
	}
	b.refs--
	if b.refs == 0 {
		b.pool.Release(b)
	}
}

func (b *Buffer) onAlloc() {
	b.ridx, b.widx = 0, 0
	b.refs = 1
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer[ridx=%d, widx=%d, cap=%d, refs=%d]", b.ridx, b.widx, len(b.b), b.refs)
}
