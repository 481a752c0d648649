// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the error kinds shared by every layer of the nioloop
// runtime. Buffer pools, the file store, sessions and the event loop all
// report failures through these types so callers can branch with errors.As.
package api
