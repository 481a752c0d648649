//go:build linux

// File: loop/session_manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Slotted table of live sessions, one manager each for accepted and
// initiated connections.

package loop

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/nioloop/api"
)

// SessionManager places sessions into a fixed-capacity slot array. New
// sessions fill holes below maxIndex first; maxIndex grows only when a
// session lands at or above it.
type SessionManager struct {
	loop *EventLoop
	name string

	sessions []*Session
	nextID   uint64
	maxIndex int

	initializer SessionInitializer
}

func newSessionManager(l *EventLoop, name string, maxConns int, init SessionInitializer) *SessionManager {
	return &SessionManager{
		loop:        l,
		name:        name,
		sessions:    make([]*Session, maxConns),
		initializer: init,
	}
}

// Name returns the manager name.
func (m *SessionManager) Name() string { return m.name }

// MaxIndex returns the current high-water slot bound.
func (m *SessionManager) MaxIndex() int { return m.maxIndex }

// LiveSessions counts open sessions below maxIndex.
func (m *SessionManager) LiveSessions() int {
	count := 0
	for i := 0; i < m.maxIndex; i++ {
		if sess := m.sessions[i]; sess != nil && sess.IsOpen() {
			count++
		}
	}
	return count
}

// isCompleted reports that no slot below maxIndex holds an open session.
func (m *SessionManager) isCompleted() bool {
	for i := 0; i < m.maxIndex; i++ {
		if sess := m.sessions[i]; sess != nil && sess.IsOpen() {
			return false
		}
	}
	return true
}

// allocateSession builds a session over fd, runs the initializer, and
// places it in the slot table. A non-nil cause builds a transient session
// only to deliver the error through its pipeline; registered marks an fd
// the poller already tracks (a completed dial). Returns nil on any failure.
func (m *SessionManager) allocateSession(fd int, cause error, registered bool) *Session {
	config := m.loop.config
	sess := newSession(m.name, m.nextID, m, fd, m.loop)
	m.nextID++
	sess.setTimeoutHandler(&IdleStateHandler{
		ReadTimeout:  config.readTimeout,
		WriteTimeout: config.writeTimeout,
	})

	if m.initializer != nil {
		if err := m.initializer.InitSession(sess); err != nil {
			log.Errorf("%s: initialize session error: %v", m.name, err)
			sess.destroy()
			return nil
		}
	}
	if cause != nil {
		sess.fireCause(cause)
		if sess.state != StateClosed {
			sess.destroy()
		}
		return nil
	}

	if err := configureSocket(fd); err != nil {
		sess.fireCause(err)
		return nil
	}
	if registered {
		// dialing sockets arrive registered for connectable; reset the mask
		if err := m.loop.poller.Mod(fd, 0); err != nil {
			sess.fireCause(err)
			return nil
		}
	} else if err := m.loop.poller.Add(fd, 0); err != nil {
		sess.fireCause(err)
		return nil
	}
	m.loop.attach(fd, sess)
	sess.state = StateOpen
	if config.autoRead {
		sess.EnableRead()
	}
	sess.startIdleCheck()

	if !m.place(sess) {
		sess.fireCause(&api.SessionAllocateError{Manager: m.name, MaxConns: len(m.sessions)})
		return nil
	}
	return sess
}

// place puts the session into the first free slot, growing maxIndex only
// when the slot lands at or above it. Holes below maxIndex fill first.
func (m *SessionManager) place(sess *Session) bool {
	maxConns := len(m.sessions)
	for i := 0; i < maxConns; i++ {
		s := m.sessions[i]
		if s == nil || !s.IsOpen() {
			m.sessions[i] = sess
			sess.slot = i
			if i >= m.maxIndex {
				m.maxIndex++
			}
			log.Debugf("%s: allocate session at slot %d - maxIndex = %d", m.name, i, m.maxIndex)
			return true
		}
	}
	return false
}

// releaseSession clears the slot and shrinks maxIndex past trailing holes.
func (m *SessionManager) releaseSession(sess *Session, slot int) {
	if slot < 0 || slot >= len(m.sessions) || m.sessions[slot] != sess {
		return
	}
	m.sessions[slot] = nil
	for m.maxIndex > 0 && m.sessions[m.maxIndex-1] == nil {
		m.maxIndex--
	}
	log.Debugf("%s: release session %s at slot %d - maxIndex = %d", m.name, sess, slot, m.maxIndex)
}

// configureSocket applies the standard TCP options on session open.
func configureSocket(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}
