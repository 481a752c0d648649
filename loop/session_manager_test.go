//go:build linux

package loop

import "testing"

func openShellSession(m *SessionManager, id uint64) *Session {
	sess := newSession(m.name, id, m, -1, m.loop)
	sess.state = StateOpen
	return sess
}

func TestSlotPlacementFillsHolesFirst(t *testing.T) {
	l := shellLoop(t)
	m := newSessionManager(l, "slotSess", 4, nil)

	s0 := openShellSession(m, 0)
	s1 := openShellSession(m, 1)
	s2 := openShellSession(m, 2)
	for _, s := range []*Session{s0, s1, s2} {
		if !m.place(s) {
			t.Fatal("place failed")
		}
	}
	if m.MaxIndex() != 3 {
		t.Fatalf("maxIndex = %d", m.MaxIndex())
	}

	// free the middle slot; the next session fills the hole and maxIndex
	// stays put
	s1.state = StateClosed
	m.releaseSession(s1, s1.slot)
	if m.MaxIndex() != 3 {
		t.Fatalf("mid release moved maxIndex: %d", m.MaxIndex())
	}
	s3 := openShellSession(m, 3)
	if !m.place(s3) {
		t.Fatal("place failed")
	}
	if s3.slot != 1 {
		t.Fatalf("hole not filled first: slot %d", s3.slot)
	}
	if m.MaxIndex() != 3 {
		t.Fatalf("hole fill changed maxIndex: %d", m.MaxIndex())
	}
}

func TestSlotExhaustion(t *testing.T) {
	l := shellLoop(t)
	m := newSessionManager(l, "slotSess", 2, nil)
	if !m.place(openShellSession(m, 0)) || !m.place(openShellSession(m, 1)) {
		t.Fatal("placement failed")
	}
	if m.place(openShellSession(m, 2)) {
		t.Fatal("placement beyond maxConns succeeded")
	}
}

func TestReleaseShrinksPastTrailingHoles(t *testing.T) {
	l := shellLoop(t)
	m := newSessionManager(l, "slotSess", 4, nil)
	sessions := make([]*Session, 3)
	for i := range sessions {
		sessions[i] = openShellSession(m, uint64(i))
		m.place(sessions[i])
	}

	// release bottom-up: top release must sweep the earlier holes
	for _, s := range []*Session{sessions[0], sessions[1]} {
		s.state = StateClosed
		m.releaseSession(s, s.slot)
	}
	if m.MaxIndex() != 3 {
		t.Fatalf("maxIndex shrank early: %d", m.MaxIndex())
	}
	if m.isCompleted() {
		t.Fatal("completed while the top session is still open")
	}
	sessions[2].state = StateClosed
	m.releaseSession(sessions[2], sessions[2].slot)
	if m.MaxIndex() != 0 {
		t.Fatalf("maxIndex did not return to zero: %d", m.MaxIndex())
	}
	if !m.isCompleted() {
		t.Fatal("manager not completed with no sessions")
	}
}
