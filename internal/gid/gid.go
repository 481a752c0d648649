// File: internal/gid/gid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Current goroutine identification. The event loop records its own id so
// Execute can run tasks inline when already on the loop goroutine.

package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// Get returns the runtime id of the calling goroutine, parsed from the
// stack header. Zero is returned on parse failure and never matches a
// recorded loop id.
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := bytes.TrimPrefix(buf[:n], prefix)
	i := bytes.IndexByte(s, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(s[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
