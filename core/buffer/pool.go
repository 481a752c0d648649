// File: core/buffer/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte-budgeted buffer pool contract shared by the slab and heap variants.

package buffer

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("logger", "nioloop.buffer")

// Pool allocates fixed-size Buffers against a hard byte budget. Both
// implementations are single-threaded; all calls happen on the loop thread.
type Pool interface {
	// Allocate returns a fresh buffer with one reference, or an
	// api.AllocateError when the budget is exhausted, or api.ErrPoolClosed.
	Allocate() (*Buffer, error)

	// Release returns a zero-reference buffer's block to the pool. Called
	// by Buffer.Release; buffers from a different pool are ignored with a
	// warning.
	Release(b *Buffer)

	// BufferSize returns the fixed block size, a power of two.
	BufferSize() int

	// SizeShift returns log2(BufferSize).
	SizeShift() uint

	// PoolSize returns the byte budget.
	PoolSize() int64

	// CurrentBytes returns bytes currently allocated out of the pool.
	CurrentBytes() int64

	// Available returns PoolSize minus CurrentBytes.
	Available() int64

	// IsOpen reports whether the pool accepts allocations.
	IsOpen() bool

	// Close marks the pool closed; subsequent allocations fail.
	Close()
}

// sizeShift returns log2(bufferSize), panicking unless bufferSize is a
// positive power of two.
func sizeShift(bufferSize int) uint {
	if bufferSize <= 0 || bufferSize&(bufferSize-1) != 0 {
		panic(fmt.Sprintf("bufferSize must be a power of two: %d", bufferSize))
	}
	var shift uint
	for 1<<shift != bufferSize {
		shift++
	}
	return shift
}
