// File: core/buffer/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package buffer provides the tiered buffering subsystem: fixed-size
// reference-counted buffers drawn from a byte-budgeted pool, and the
// composite input/output streams that stitch buffers (and, on the write
// path, file regions) into one contiguous logical byte stream.
package buffer
