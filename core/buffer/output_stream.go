// File: core/buffer/output_stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"errors"
	"io"

	"github.com/momentics/nioloop/api"
	"github.com/momentics/nioloop/store"
)

// element is one link of the output chain: a memory buffer or a file
// region, never both.
type element struct {
	buf    *Buffer
	region *store.FileRegion
}

// OutputStream queues outbound bytes for a session. Appends land in memory
// buffers until maxWriteBuffers of them are resident, then spill into file
// regions; draining toward the socket consumes from the head regardless of
// medium.
type OutputStream struct {
	pool            Pool
	fs              *store.FileStore
	maxWriteBuffers int

	elems    []element
	memCount int
	size     int64
}

// NewOutputStream builds an empty output stream over the given pool and
// spill store.
func NewOutputStream(pool Pool, fs *store.FileStore, maxWriteBuffers int) *OutputStream {
	return &OutputStream{pool: pool, fs: fs, maxWriteBuffers: maxWriteBuffers}
}

// Size returns the pending byte count.
func (out *OutputStream) Size() int64 { return out.size }

// IsEmpty reports whether nothing is pending.
func (out *OutputStream) IsEmpty() bool { return len(out.elems) == 0 }

// MemoryBuffers returns the resident memory buffer count.
func (out *OutputStream) MemoryBuffers() int { return out.memCount }

// Write appends p, allocating buffers until the resident memory budget is
// reached (or the pool is exhausted), then spilling into file regions.
// Returns the bytes appended; file-store exhaustion fails the remainder.
func (out *OutputStream) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if n := out.writeTail(p[total:]); n > 0 {
			total += n
			out.size += int64(n)
			continue
		}
		if err := out.growTail(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// writeTail copies into the tail element's remaining room, if any.
func (out *OutputStream) writeTail(p []byte) int {
	n := len(out.elems)
	if n == 0 {
		return 0
	}
	tail := &out.elems[n-1]
	if tail.buf != nil {
		return tail.buf.Write(p)
	}
	wn, err := out.fs.Write(tail.region, p)
	if err != nil {
		log.Warnf("outputStream: region write error: %v", err)
		return 0
	}
	return wn
}

// growTail appends a fresh memory buffer, or a file region once the memory
// budget is spent.
func (out *OutputStream) growTail() error {
	if out.memCount < out.maxWriteBuffers {
		b, err := out.pool.Allocate()
		if err == nil {
			out.elems = append(out.elems, element{buf: b})
			out.memCount++
			return nil
		}
		var alloc *api.AllocateError
		if !errors.As(err, &alloc) {
			return err
		}
		// memory exhausted, fall through to the spill store
	}
	region, err := out.fs.Allocate()
	if err != nil {
		return err
	}
	out.elems = append(out.elems, element{region: region})
	return nil
}

// WriteBuffer appends an already-filled buffer, taking over one reference.
// Used by the pipeline head when a handler emits pooled buffers directly.
func (out *OutputStream) WriteBuffer(b *Buffer) {
	out.elems = append(out.elems, element{buf: b})
	out.memCount++
	out.size += int64(b.ReadableBytes())
}

// DrainTo writes head elements into w, up to spinCount successful writes.
// A zero-length or partial write stops the drain so the loop regains
// control with write interest still asserted. Returns the bytes moved.
func (out *OutputStream) DrainTo(w io.Writer, spinCount int) (int64, error) {
	var total int64
	for spin := 0; spin < spinCount && len(out.elems) > 0; {
		head := &out.elems[0]

		var pending, n int
		var err error
		if head.buf != nil {
			src := head.buf.ReadableSlice()
			pending = len(src)
			if pending > 0 {
				n, err = w.Write(src)
				head.buf.AdvanceRead(n)
			}
		} else {
			pending = head.region.ReadRemaining()
			if pending > 0 {
				n, err = out.fs.TransferTo(head.region, pending, w)
			}
		}
		total += int64(n)
		out.size -= int64(n)
		if err != nil {
			return total, err
		}
		if pending == 0 || n == pending {
			if n > 0 {
				spin++
			}
			out.popHead()
			continue
		}
		// partial or zero-length write: yield to the loop
		break
	}
	return total, nil
}

func (out *OutputStream) popHead() {
	head := out.elems[0]
	copy(out.elems, out.elems[1:])
	out.elems = out.elems[:len(out.elems)-1]
	if head.buf != nil {
		head.buf.Release()
		out.memCount--
	} else {
		out.fs.Release(head.region)
	}
}

// ReleaseAll drops every pending element back to its pool or store.
func (out *OutputStream) ReleaseAll() {
	for _, e := range out.elems {
		if e.buf != nil {
			e.buf.Release()
		} else {
			out.fs.Release(e.region)
		}
	}
	out.elems = out.elems[:0]
	out.memCount = 0
	out.size = 0
}

var _ io.Writer = (*OutputStream)(nil)
