// File: core/buffer/input_stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import "io"

// InputStream is the ordered chain of buffers a session has read from its
// socket, exposed to handlers as one logical byte sequence. Consumption
// runs from the head; a drained buffer is released to its pool, removed,
// and reported to the release listener so the session can lift
// backpressure.
type InputStream struct {
	bufs      []*Buffer
	onRelease func(resident int)
}

// NewInputStream builds an empty input stream.
func NewInputStream() *InputStream {
	return &InputStream{}
}

// SetReleaseListener registers a callback invoked with the resident buffer
// count after each head buffer is drained and released.
func (in *InputStream) SetReleaseListener(fn func(resident int)) {
	in.onRelease = fn
}

// Available returns the total unread bytes across all queued buffers.
func (in *InputStream) Available() int {
	total := 0
	for _, b := range in.bufs {
		total += b.ReadableBytes()
	}
	return total
}

// Buffers returns the resident buffer count.
func (in *InputStream) Buffers() int { return len(in.bufs) }

// Append takes ownership of one reference to b and queues it at the tail.
func (in *InputStream) Append(b *Buffer) {
	in.bufs = append(in.bufs, b)
}

// TailRoom returns the tail buffer when it still has writable room, so a
// socket read can fill it before a fresh allocation is made.
func (in *InputStream) TailRoom() *Buffer {
	if n := len(in.bufs); n > 0 && in.bufs[n-1].WritableBytes() > 0 {
		return in.bufs[n-1]
	}
	return nil
}

// Read copies up to len(p) bytes across buffer boundaries, releasing
// drained buffers in order. Returns io.EOF when the stream is empty.
func (in *InputStream) Read(p []byte) (int, error) {
	if len(in.bufs) == 0 {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && len(in.bufs) > 0 {
		head := in.bufs[0]
		n := head.Read(p[total:])
		total += n
		if head.ReadableBytes() == 0 {
			in.popHead()
		} else {
			break
		}
	}
	return total, nil
}

// Skip discards up to n unread bytes, returning the count discarded.
func (in *InputStream) Skip(n int) int {
	total := 0
	for total < n && len(in.bufs) > 0 {
		head := in.bufs[0]
		step := min(n-total, head.ReadableBytes())
		head.AdvanceRead(step)
		total += step
		if head.ReadableBytes() == 0 {
			in.popHead()
		}
	}
	return total
}

// ReleaseAll drops every queued buffer, releasing each to its pool.
func (in *InputStream) ReleaseAll() {
	for _, b := range in.bufs {
		b.Release()
	}
	in.bufs = in.bufs[:0]
}

func (in *InputStream) popHead() {
	head := in.bufs[0]
	copy(in.bufs, in.bufs[1:])
	in.bufs = in.bufs[:len(in.bufs)-1]
	head.Release()
	if in.onRelease != nil {
		in.onRelease(len(in.bufs))
	}
}

var _ io.Reader = (*InputStream)(nil)
