// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness selector used by the event loop:
// a level-triggered poller with per-fd interest masks and a cross-thread
// wakeup channel. Linux is backed by epoll(7) and eventfd(2).
package reactor
