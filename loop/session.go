//go:build linux

// File: loop/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One TCP connection: lifecycle, interest management, the read and write
// scheduling against the tiered streams, and idle detection.

package loop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/nioloop/api"
	"github.com/momentics/nioloop/core/buffer"
	"github.com/momentics/nioloop/reactor"
)

// State is the session lifecycle phase.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// Session is the per-connection state object: the unit of lifecycle and
// pipeline scope. All methods must run on the loop goroutine.
type Session struct {
	name    string
	id      uint64
	loop    *EventLoop
	manager *SessionManager

	fd       int
	interest reactor.EventType

	in   *buffer.InputStream
	out  *buffer.OutputStream
	pipe *pipeline

	timeoutHandler *IdleStateHandler
	idleTask       *TimeTask
	lastRead       int64 // unix nanos of the loop clock
	lastWrite      int64

	slot  int
	state State

	wantRead      bool
	wantWrite     bool
	backpressured bool
	inOnCause     bool
}

func newSession(name string, id uint64, manager *SessionManager, fd int, l *EventLoop) *Session {
	s := &Session{
		name:    name,
		id:      id,
		loop:    l,
		manager: manager,
		fd:      fd,
		slot:    -1,
		state:   StateConnecting,
	}
	s.in = buffer.NewInputStream()
	s.out = buffer.NewOutputStream(l.pool, l.fstore, l.config.maxWriteBuffers)
	s.pipe = newPipeline(s)
	now := l.clock.Now().UnixNano()
	s.lastRead, s.lastWrite = now, now
	s.in.SetReleaseListener(func(resident int) {
		if s.backpressured && resident < l.config.maxReadBuffers {
			s.backpressured = false
			s.syncInterest()
		}
	})
	return s
}

// ID returns the manager-scoped session id.
func (s *Session) ID() uint64 { return s.id }

// Loop returns the owning event loop.
func (s *Session) Loop() *EventLoop { return s.loop }

// State returns the lifecycle phase.
func (s *Session) State() State { return s.state }

// IsOpen reports whether the session still delivers events.
func (s *Session) IsOpen() bool { return s.state == StateConnecting || s.state == StateOpen }

// Input returns the session's inbound stream.
func (s *Session) Input() *buffer.InputStream { return s.in }

// Output returns the session's outbound stream.
func (s *Session) Output() *buffer.OutputStream { return s.out }

// AddLast appends handlers to the pipeline, before the tail sentinel.
func (s *Session) AddLast(handlers ...Handler) *Session {
	for _, h := range handlers {
		s.pipe.addLast(h)
	}
	return s
}

// AddFirst prepends handlers to the pipeline, after the head sentinel.
func (s *Session) AddFirst(handlers ...Handler) *Session {
	for _, h := range handlers {
		s.pipe.addFirst(h)
	}
	return s
}

// Remove unlinks the first pipeline node bound to h.
func (s *Session) Remove(h Handler) bool { return s.pipe.remove(h) }

// Alloc draws one buffer from the loop's memory pool.
func (s *Session) Alloc() (*buffer.Buffer, error) { return s.loop.pool.Allocate() }

// setTimeoutHandler installs the idle bounds checked by the periodic task.
func (s *Session) setTimeoutHandler(h *IdleStateHandler) { s.timeoutHandler = h }

// EnableRead asserts read interest.
func (s *Session) EnableRead() {
	s.wantRead = true
	s.syncInterest()
}

// DisableRead deasserts read interest.
func (s *Session) DisableRead() {
	s.wantRead = false
	s.syncInterest()
}

// EnableWrite asserts write interest.
func (s *Session) EnableWrite() {
	s.wantWrite = true
	s.syncInterest()
}

// DisableWrite deasserts write interest.
func (s *Session) DisableWrite() {
	s.wantWrite = false
	s.syncInterest()
}

// syncInterest folds user intent and backpressure into the poller mask.
func (s *Session) syncInterest() {
	if s.fd < 0 || !s.IsOpen() {
		return
	}
	var mask reactor.EventType
	if s.wantRead && !s.backpressured {
		mask |= reactor.EventRead
	}
	if s.wantWrite {
		mask |= reactor.EventWrite
	}
	if mask == s.interest {
		return
	}
	s.interest = mask
	if err := s.loop.poller.Mod(s.fd, mask); err != nil {
		log.Warnf("%s: interest update error: %v", s, err)
	}
}

// Write fires the outbound event backward from the tail sentinel; the
// pipeline reduces out to byte form before the head appends it.
func (s *Session) Write(out any) {
	if !s.IsOpen() {
		log.Debugf("%s: write on closed session discarded", s)
		return
	}
	s.pipe.nodes[tailIndex].ctx.FireWrite(out)
}

// Flush asserts write interest and attempts an immediate drain.
func (s *Session) Flush() {
	if !s.IsOpen() {
		return
	}
	s.wantWrite = true
	s.syncInterest()
	s.handleWrite()
}

// Close transitions to CLOSING, makes a final drain attempt, and releases
// every resource. Idempotent.
func (s *Session) Close() {
	if s.state == StateClosing || s.state == StateClosed {
		return
	}
	s.state = StateClosing
	if s.fd >= 0 && !s.out.IsEmpty() {
		_, _ = s.out.DrainTo(fdWriter{fd: s.fd}, s.loop.config.writeSpinCount)
	}
	s.destroy()
}

// destroy releases the descriptor, streams and slot without a drain.
func (s *Session) destroy() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if s.idleTask != nil {
		s.idleTask.Cancel()
		s.idleTask = nil
	}
	if s.fd >= 0 {
		s.loop.detach(s.fd)
		if err := unix.Close(s.fd); err != nil {
			log.Warnf("%s: close error: %v", s, err)
		}
		s.fd = -1
	}
	s.in.ReleaseAll()
	s.out.ReleaseAll()
	s.manager.releaseSession(s, s.slot)
	log.Debugf("%s: closed", s)
}

// fireConnected propagates the connected event from the head. It does not
// change the state; the manager moves the session to OPEN before calling it.
func (s *Session) fireConnected() {
	s.pipe.nodes[headIndex].ctx.FireConnected()
}

// fireCause propagates an error through the pipeline. The inOnCause flag is
// reset only on normal return: a panic inside a handler leaves it set so
// the loop's recovery path force-closes instead of re-entering.
func (s *Session) fireCause(cause error) {
	if s.inOnCause {
		log.Warnf("%s: error while handling error, closing hard: %v", s, cause)
		s.destroy()
		return
	}
	s.inOnCause = true
	s.pipe.nodes[headIndex].ctx.FireCause(cause)
	s.inOnCause = false
}

// handleRead services read readiness: fill the tail buffer or allocate a
// fresh one, read the socket once, and propagate the input stream forward.
func (s *Session) handleRead() {
	if !s.IsOpen() || s.fd < 0 {
		return
	}
	b := s.in.TailRoom()
	fresh := false
	if b == nil {
		var err error
		b, err = s.loop.pool.Allocate()
		if err != nil {
			s.fireCause(err)
			return
		}
		fresh = true
	}
	n, err := unix.Read(s.fd, b.WritableSlice())
	if err == unix.EAGAIN {
		if fresh {
			b.Release()
		}
		return
	}
	if err != nil {
		if fresh {
			b.Release()
		}
		if err == unix.ECONNRESET {
			s.fireCause(fmt.Errorf("%w: %v", api.ErrChannelClosed, err))
		} else {
			s.fireCause(fmt.Errorf("read: %w", err))
		}
		return
	}
	if n == 0 {
		// peer closed
		if fresh {
			b.Release()
		}
		s.Close()
		return
	}
	b.AdvanceWrite(n)
	if fresh {
		s.in.Append(b)
	}
	s.lastRead = s.loop.clock.Now().UnixNano()
	s.pipe.nodes[headIndex].ctx.FireRead(s.in)
	if s.IsOpen() && s.in.Buffers() >= s.loop.config.maxReadBuffers {
		s.backpressured = true
		s.syncInterest()
	}
}

// handleWrite services write readiness: spin-bounded drain, then the
// flushed event once the stream transitions to empty.
func (s *Session) handleWrite() {
	if !s.IsOpen() || s.fd < 0 {
		return
	}
	if s.out.IsEmpty() {
		s.wantWrite = false
		s.syncInterest()
		return
	}
	n, err := s.out.DrainTo(fdWriter{fd: s.fd}, s.loop.config.writeSpinCount)
	if n > 0 {
		s.lastWrite = s.loop.clock.Now().UnixNano()
	}
	if err != nil {
		if err == unix.EPIPE || err == unix.ECONNRESET {
			s.fireCause(fmt.Errorf("%w: %v", api.ErrChannelClosed, err))
		} else {
			s.fireCause(fmt.Errorf("write: %w", err))
		}
		return
	}
	if s.out.IsEmpty() {
		s.wantWrite = false
		s.syncInterest()
		s.pipe.nodes[headIndex].ctx.FireFlushed()
	}
}

// startIdleCheck schedules the periodic idle scan for this session.
func (s *Session) startIdleCheck() {
	h := s.timeoutHandler
	if h == nil {
		return
	}
	period := h.checkPeriod()
	if period <= 0 {
		return
	}
	s.idleTask = s.loop.schedule(period, period, s.checkIdle)
}

// checkIdle fires an idle timeout when an interval exceeds its bound while
// the respective interest is asserted.
func (s *Session) checkIdle() {
	if !s.IsOpen() {
		return
	}
	h := s.timeoutHandler
	now := s.loop.clock.Now().UnixNano()
	if h.ReadTimeout > 0 && s.interest&reactor.EventRead != 0 {
		if elapsed := now - s.lastRead; elapsed >= int64(h.ReadTimeout) {
			s.fireCause(&api.IdleTimeoutError{Kind: api.IdleRead, Elapsed: time.Duration(elapsed)})
			return
		}
	}
	if h.WriteTimeout > 0 && s.interest&reactor.EventWrite != 0 {
		if elapsed := now - s.lastWrite; elapsed >= int64(h.WriteTimeout) {
			s.fireCause(&api.IdleTimeoutError{Kind: api.IdleWrite, Elapsed: time.Duration(elapsed)})
		}
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("%s-%d", s.name, s.id)
}

// fdWriter adapts a non-blocking socket to io.Writer for the drain path.
// EAGAIN surfaces as a zero-length write so the stream yields.
type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) {
	n, err := unix.Write(w.fd, p)
	if err == unix.EAGAIN {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}
