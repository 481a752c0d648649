//go:build linux

// File: loop/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multi-producer single-consumer FIFO used for the loop's cross-thread
// queues (connect requests, timed tasks, executor tasks).

package loop

import (
	"sync"

	"github.com/eapache/queue"
)

// mpscQueue guards an eapache FIFO with a mutex. Producers are arbitrary
// goroutines; the loop goroutine is the only consumer. Enqueue order is
// preserved.
type mpscQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newMpscQueue() *mpscQueue {
	return &mpscQueue{q: queue.New()}
}

func (m *mpscQueue) push(v any) {
	m.mu.Lock()
	m.q.Add(v)
	m.mu.Unlock()
}

func (m *mpscQueue) pop() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.q.Length() == 0 {
		return nil, false
	}
	return m.q.Remove(), true
}

func (m *mpscQueue) get(i int) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Get(i)
}

func (m *mpscQueue) length() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

func (m *mpscQueue) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.q.Length() > 0 {
		m.q.Remove()
	}
}
