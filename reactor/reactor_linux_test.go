//go:build linux

package reactor_test

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/nioloop/reactor"
)

func newPoller(t *testing.T) reactor.Poller {
	t.Helper()
	p, err := reactor.NewPoller()
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func newPipe(t *testing.T) (int, int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerReadReadiness(t *testing.T) {
	p := newPoller(t)
	r, w := newPipe(t)
	if err := p.Add(r, reactor.EventRead); err != nil {
		t.Fatalf("add: %v", err)
	}

	events := make([]reactor.Event, 8)
	n, err := p.Wait(0, events)
	if err != nil || n != 0 {
		t.Fatalf("expected no events before write: n=%d err=%v", n, err)
	}

	unix.Write(w, []byte("x"))
	n, err = p.Wait(time.Second, events)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 || events[0].Fd != r || events[0].Events&reactor.EventRead == 0 {
		t.Fatalf("expected read event on %d, got %+v", r, events[:n])
	}
}

func TestPollerModInterest(t *testing.T) {
	p := newPoller(t)
	r, w := newPipe(t)
	if err := p.Add(r, 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	unix.Write(w, []byte("x"))

	events := make([]reactor.Event, 8)
	n, _ := p.Wait(50*time.Millisecond, events)
	if n != 0 {
		t.Fatalf("event delivered without interest: %+v", events[:n])
	}

	if err := p.Mod(r, reactor.EventRead); err != nil {
		t.Fatalf("mod: %v", err)
	}
	n, err := p.Wait(time.Second, events)
	if err != nil || n != 1 {
		t.Fatalf("expected event after mod: n=%d err=%v", n, err)
	}

	if err := p.Del(r); err != nil {
		t.Fatalf("del: %v", err)
	}
	n, _ = p.Wait(50*time.Millisecond, events)
	if n != 0 {
		t.Fatalf("event delivered after del: %+v", events[:n])
	}
}

func TestPollerWakeup(t *testing.T) {
	p := newPoller(t)
	done := make(chan error, 1)
	go func() {
		events := make([]reactor.Event, 8)
		n, err := p.Wait(reactor.BlockForever, events)
		if err == nil && n != 0 {
			err = fmt.Errorf("wakeup surfaced %d events", n)
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := p.Wakeup(); err != nil {
		t.Fatalf("wakeup: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wakeup did not unpark the poller")
	}
}

func TestPollerWriteReadiness(t *testing.T) {
	p := newPoller(t)
	_, w := newPipe(t)
	if err := p.Add(w, reactor.EventWrite); err != nil {
		t.Fatalf("add: %v", err)
	}
	events := make([]reactor.Event, 8)
	n, err := p.Wait(time.Second, events)
	if err != nil || n != 1 || events[0].Events&reactor.EventWrite == 0 {
		t.Fatalf("expected writable: n=%d err=%v events=%+v", n, err, events[:n])
	}
}
