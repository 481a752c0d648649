// File: loop/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package loop implements the single-threaded event loop runtime: the
// selector-driven run loop with its timer and task queues, per-connection
// sessions with interest management and timeout detection, the slotted
// session managers, and the bidirectional handler pipeline. All IO and all
// handler callbacks execute on the one loop goroutine; external goroutines
// interact only through Connect, Schedule, Execute and Shutdown.
package loop
