//go:build linux

// File: loop/timetask.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"sync/atomic"
	"time"
)

// TimeTask is one scheduled unit of work. A period of zero makes it
// one-shot; a positive period reschedules at executeTime + period after
// each run. Cancellation is lazy: the loop drops cancelled tasks on its
// next queue scan.
type TimeTask struct {
	fn          func()
	executeTime time.Time
	period      time.Duration
	cancelled   atomic.Bool
}

// Cancel flags the task; it will not run again. Safe from any goroutine.
func (t *TimeTask) Cancel() {
	t.cancelled.Store(true)
}

// IsCancelled reports whether Cancel was called.
func (t *TimeTask) IsCancelled() bool {
	return t.cancelled.Load()
}

// Period returns the reschedule interval, zero for one-shot tasks.
func (t *TimeTask) Period() time.Duration { return t.period }

// ExecuteTime returns the next fire time.
func (t *TimeTask) ExecuteTime() time.Time { return t.executeTime }
