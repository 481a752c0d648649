//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller with eventfd(2) wakeup.

package reactor

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// linuxPoller is an epoll-backed Poller.
type linuxPoller struct {
	epfd   int
	wakeFd int
	raw    []unix.EpollEvent
}

var _ Poller = (*linuxPoller)(nil)

// NewPoller constructs the platform poller.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &linuxPoller{epfd: epfd, wakeFd: wakeFd}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func epollMask(events EventType) uint32 {
	var m uint32
	if events&EventRead != 0 {
		m |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

// Add registers fd with the given interest mask.
func (p *linuxPoller) Add(fd int, events EventType) error {
	ev := unix.EpollEvent{Events: epollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Mod replaces the interest mask of a registered fd.
func (p *linuxPoller) Mod(fd int, events EventType) error {
	ev := unix.EpollEvent{Events: epollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Del removes fd from the interest set.
func (p *linuxPoller) Del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for readiness events, draining wakeup tokens out of the
// result set before returning.
func (p *linuxPoller) Wait(timeout time.Duration, out []Event) (int, error) {
	if cap(p.raw) < len(out)+1 {
		p.raw = make([]unix.EpollEvent, len(out)+1)
	}
	raw := p.raw[:len(out)+1]

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	filled := 0
	for i := 0; i < n; i++ {
		ev := raw[i]
		if int(ev.Fd) == p.wakeFd {
			p.drainWake()
			continue
		}
		var t EventType
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			t |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			t |= EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			t |= EventError
		}
		out[filled] = Event{Fd: int(ev.Fd), Events: t}
		filled++
	}
	return filled, nil
}

// Wakeup posts one token to the eventfd, unparking a blocked Wait.
func (p *linuxPoller) Wakeup() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, err := unix.Write(p.wakeFd, one[:])
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return err
}

func (p *linuxPoller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFd, buf[:])
		if err != nil {
			return
		}
	}
}

// Close releases the epoll instance and the wakeup descriptor.
func (p *linuxPoller) Close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
