//go:build linux

// File: loop/clock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import "time"

// Clock is the loop's single time source. The default reads the system
// monotonic clock; tests inject a fake to drive timer properties
// deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock.
var SystemClock Clock = systemClock{}
