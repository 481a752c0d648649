// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness selector contract.

package reactor

import "time"

// EventType is the interest/readiness bitmask for one descriptor.
type EventType uint32

const (
	// EventRead selects for readable (and acceptable, on listeners).
	EventRead EventType = 1 << iota
	// EventWrite selects for writable (and connectable, on dialing sockets).
	EventWrite
	// EventError reports error or hangup conditions; it is always selected.
	EventError
)

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd     int
	Events EventType
}

// BlockForever makes Wait park until an event or a wakeup arrives.
const BlockForever time.Duration = -1

// Poller multiplexes readiness notifications for the loop thread.
// Add, Mod, Del and Wait must only be called from the loop thread;
// Wakeup is safe from any goroutine.
type Poller interface {
	// Add registers fd with the given interest mask.
	Add(fd int, events EventType) error

	// Mod replaces the interest mask of a registered fd.
	Mod(fd int, events EventType) error

	// Del removes fd from the interest set.
	Del(fd int) error

	// Wait blocks up to timeout and fills out with ready events, returning
	// the count. BlockForever parks indefinitely, zero polls without
	// blocking. A signal interruption returns (0, nil).
	Wait(timeout time.Duration, out []Event) (int, error)

	// Wakeup unparks a concurrent Wait from another goroutine.
	Wakeup() error

	// Close releases the poller backend.
	Close() error
}
