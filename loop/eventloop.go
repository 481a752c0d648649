//go:build linux

// File: loop/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The selector-driven run loop: readiness dispatch, connection acceptance
// and dial, timers, deferred tasks and graceful shutdown.

package loop

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/nioloop/api"
	"github.com/momentics/nioloop/control"
	"github.com/momentics/nioloop/core/buffer"
	"github.com/momentics/nioloop/internal/gid"
	"github.com/momentics/nioloop/reactor"
	"github.com/momentics/nioloop/store"
)

var log = logrus.WithField("logger", "nioloop.loop")

const eventBatch = 128

// EventLoop owns the poller, the cross-thread queues, both session
// managers and the buffering resources. Exactly one goroutine runs the
// loop; external goroutines may only enqueue connect requests, timed tasks
// and executor tasks, then wake the selector.
type EventLoop struct {
	config *Config
	poller reactor.Poller
	pool   buffer.Pool
	fstore *store.FileStore
	clock  Clock

	serverFd    int
	listenPort  int
	attachments map[int]any
	events      []reactor.Event

	connReqQueue  *mpscQueue
	timeTaskQueue *mpscQueue
	execTaskQueue *mpscQueue

	serverManager *SessionManager
	clientManager *SessionManager

	probes *control.ProbeRegistry

	shutdownFlag atomic.Bool
	terminated   atomic.Bool
	loopGID      atomic.Uint64
	done         chan struct{}
}

// connRequest is a pending dial. It doubles as its own one-shot timeout
// timer: whichever of {connectable, timer} runs first on the loop thread
// marks it completed and the other becomes a no-op.
type connRequest struct {
	remote  string
	sa      unix.Sockaddr
	timeout time.Duration

	fd        int
	task      *TimeTask
	completed bool
}

// NewEventLoop opens the server channel when a server initializer is
// configured, creates the poller and starts the loop goroutine.
func NewEventLoop(config *Config) (*EventLoop, error) {
	l := &EventLoop{
		config:        config,
		pool:          config.bufferPool,
		fstore:        config.bufferStore,
		clock:         config.clock,
		serverFd:      -1,
		attachments:   make(map[int]any),
		events:        make([]reactor.Event, eventBatch),
		connReqQueue:  newMpscQueue(),
		timeTaskQueue: newMpscQueue(),
		execTaskQueue: newMpscQueue(),
		probes:        control.NewProbeRegistry(),
		done:          make(chan struct{}),
	}

	if config.serverInitializer != nil {
		fd, _, err := openServerSocket(config.host, config.port, config.backlog)
		if err != nil {
			l.releaseBuild()
			return nil, err
		}
		l.serverFd = fd
		if l.listenPort, err = boundPort(fd); err != nil {
			l.releaseBuild()
			return nil, err
		}
		log.Infof("%s: listen on %s:%d", config.name, config.host, l.listenPort)
	}

	poller, err := reactor.NewPoller()
	if err != nil {
		l.releaseBuild()
		return nil, err
	}
	l.poller = poller

	maxServerConns := config.maxServerConns
	if l.serverFd < 0 {
		maxServerConns = 0
	}
	l.serverManager = newSessionManager(l, "serverSess", maxServerConns, config.serverInitializer)
	l.clientManager = newSessionManager(l, "clientSess", config.maxClientConns, config.clientInitializer)

	l.registerProbes()

	go l.run()
	return l, nil
}

// releaseBuild frees build-time resources after a failed construction.
func (l *EventLoop) releaseBuild() {
	if l.serverFd >= 0 {
		unix.Close(l.serverFd)
		l.serverFd = -1
	}
	l.fstore.Close()
	l.pool.Close()
}

// Config returns the loop configuration.
func (l *EventLoop) Config() *Config { return l.config }

// IsShutdown reports whether shutdown was requested.
func (l *EventLoop) IsShutdown() bool { return l.shutdownFlag.Load() }

// IsTerminated reports whether the loop goroutine has exited.
func (l *EventLoop) IsTerminated() bool { return l.terminated.Load() }

// InEventLoop reports whether the caller runs on the loop goroutine.
func (l *EventLoop) InEventLoop() bool { return gid.Get() == l.loopGID.Load() }

// Shutdown requests termination and wakes the selector. Idempotent.
func (l *EventLoop) Shutdown() {
	l.shutdownFlag.Store(true)
	l.wakeup()
}

// AwaitTermination blocks until the loop goroutine has exited.
func (l *EventLoop) AwaitTermination() {
	<-l.done
}

// Done returns a channel closed when the loop terminates.
func (l *EventLoop) Done() <-chan struct{} { return l.done }

// Port returns the actual listening port, useful with port-zero binds.
func (l *EventLoop) Port() (int, error) {
	if l.listenPort == 0 {
		return 0, fmt.Errorf("%s: no server channel", l.config.name)
	}
	return l.listenPort, nil
}

// Connect dials the configured host and port with the configured timeout.
func (l *EventLoop) Connect() error {
	return l.ConnectTimeout(l.config.host, l.config.port, l.config.connectTimeout)
}

// ConnectTo dials host:port with the configured timeout.
func (l *EventLoop) ConnectTo(host string, port int) error {
	return l.ConnectTimeout(host, port, l.config.connectTimeout)
}

// ConnectTimeout dials host:port, surfacing ConnectTimeoutError through
// the client pipeline if the socket is not connectable within timeout.
func (l *EventLoop) ConnectTimeout(host string, port int, timeout time.Duration) error {
	sa, err := resolveSockaddr(host, port)
	if err != nil {
		return err
	}
	req := &connRequest{
		remote:  fmt.Sprintf("%s:%d", host, port),
		sa:      sa,
		timeout: timeout,
		fd:      -1,
	}
	l.connReqQueue.push(req)
	if !l.InEventLoop() {
		l.wakeup()
	}
	return nil
}

// Execute runs task on the loop goroutine: inline when already there,
// otherwise enqueued in submission order behind a selector wakeup.
func (l *EventLoop) Execute(task func()) {
	if l.InEventLoop() {
		task()
		return
	}
	l.execTaskQueue.push(task)
	l.wakeup()
}

// Schedule queues a one-shot task to run delay from now.
func (l *EventLoop) Schedule(delay time.Duration, fn func()) *TimeTask {
	return l.schedule(delay, 0, fn)
}

// SchedulePeriodic queues a repeating task, first firing delay from now
// and then every period.
func (l *EventLoop) SchedulePeriodic(delay, period time.Duration, fn func()) *TimeTask {
	return l.schedule(delay, period, fn)
}

func (l *EventLoop) schedule(delay, period time.Duration, fn func()) *TimeTask {
	task := &TimeTask{
		fn:          fn,
		executeTime: l.clock.Now().Add(delay),
		period:      period,
	}
	l.timeTaskQueue.push(task)
	if !l.InEventLoop() {
		l.wakeup()
	}
	return task
}

// DumpMetrics snapshots the loop's runtime probes.
func (l *EventLoop) DumpMetrics() map[string]any {
	if l.InEventLoop() {
		return l.probes.Dump()
	}
	ch := make(chan map[string]any, 1)
	l.Execute(func() { ch <- l.probes.Dump() })
	select {
	case m := <-ch:
		return m
	case <-l.done:
		return nil
	}
}

func (l *EventLoop) registerProbes() {
	l.probes.Register("sessions.server", func() any { return l.serverManager.LiveSessions() })
	l.probes.Register("sessions.client", func() any { return l.clientManager.LiveSessions() })
	l.probes.Register("pool.currentBytes", func() any { return l.pool.CurrentBytes() })
	l.probes.Register("store.size", func() any { return l.fstore.Size() })
}

func (l *EventLoop) wakeup() {
	if err := l.poller.Wakeup(); err != nil {
		log.Warnf("%s: wakeup error: %v", l.config.name, err)
	}
}

func (l *EventLoop) attach(fd int, v any) { l.attachments[fd] = v }

func (l *EventLoop) detach(fd int) {
	delete(l.attachments, fd)
	if err := l.poller.Del(fd); err != nil {
		log.Debugf("%s: poller del %d: %v", l.config.name, fd, err)
	}
}

// run is the loop goroutine body. Iteration order: shutdown check,
// connect requests, readiness selection, timers, executor tasks.
func (l *EventLoop) run() {
	l.loopGID.Store(gid.Get())
	start := l.clock.Now()
	l.initChans()
	log.Infof("%s: started (daemon=%v)", l.config.name, l.config.daemon)

	listener := l.config.listener
	listener.Init(l)

	for {
		shutdown := l.shutdownFlag.Load()
		if shutdown {
			l.destroyChans()
			if l.isCompleted() {
				break
			}
		}

		if !shutdown {
			l.handleConnRequests()
		}

		nearest := l.nearestScheduleTime()
		var timeout time.Duration
		switch {
		case nearest < 0:
			timeout = reactor.BlockForever
		default:
			timeout = nearest
		}
		n, err := l.poller.Wait(timeout, l.events)
		if err != nil {
			log.Errorf("%s: selector loop severe error: %v", l.config.name, err)
			break
		}
		for i := 0; i < n; i++ {
			l.dispatchEvent(l.events[i])
		}

		l.executeTimeTasks()
		l.executeTasks()
	}

	l.cleanup()
	l.terminated.Store(true)
	close(l.done)
	listener.Destroy(l)
	log.Infof("%s: terminated, uptime %ds", l.config.name, int(l.clock.Now().Sub(start).Seconds()))
}

func (l *EventLoop) initChans() {
	if l.serverFd >= 0 {
		if err := l.poller.Add(l.serverFd, reactor.EventRead); err != nil {
			log.Errorf("%s: register server channel: %v", l.config.name, err)
		}
	}
}

func (l *EventLoop) destroyChans() {
	if l.serverFd < 0 {
		// client only
		return
	}
	l.detach(l.serverFd)
	unix.Close(l.serverFd)
	l.serverFd = -1
	log.Infof("%s: shutdown", l.config.name)
}

func (l *EventLoop) isCompleted() bool {
	return l.serverManager.isCompleted() && l.clientManager.isCompleted()
}

func (l *EventLoop) cleanup() {
	l.destroyChans()
	for fd, att := range l.attachments {
		if sess, ok := att.(*Session); ok {
			sess.destroy()
			continue
		}
		delete(l.attachments, fd)
		l.poller.Del(fd)
		unix.Close(fd)
	}
	l.connReqQueue.clear()
	l.timeTaskQueue.clear()
	l.execTaskQueue.clear()
	l.fstore.Close()
	l.pool.Close()
	if err := l.poller.Close(); err != nil {
		log.Warnf("%s: poller close: %v", l.config.name, err)
	}
}

// handleConnRequests drains pending dials: open a non-blocking socket,
// register for connectable, start connecting and arm the timeout timer.
func (l *EventLoop) handleConnRequests() {
	for {
		v, ok := l.connReqQueue.pop()
		if !ok {
			return
		}
		req := v.(*connRequest)
		fd, err := openSocket(req.sa)
		if err != nil {
			l.clientManager.allocateSession(-1, fmt.Errorf("connect %s: %w", req.remote, err), false)
			continue
		}
		req.fd = fd
		l.attach(fd, req)
		if err := l.poller.Add(fd, reactor.EventWrite); err != nil {
			l.detach(fd)
			unix.Close(fd)
			l.clientManager.allocateSession(-1, fmt.Errorf("connect %s: %w", req.remote, err), false)
			continue
		}
		err = unix.Connect(fd, req.sa)
		if err != nil && err != unix.EINPROGRESS {
			l.detach(fd)
			unix.Close(fd)
			l.clientManager.allocateSession(-1, fmt.Errorf("connect %s: %w", req.remote, err), false)
			continue
		}
		if req.timeout > 0 {
			req.task = l.schedule(req.timeout, 0, func() { l.onConnectTimeout(req) })
		}
	}
}

// onConnectTimeout closes the pending dial and surfaces the timeout
// through a transient client session.
func (l *EventLoop) onConnectTimeout(req *connRequest) {
	if req.completed {
		return
	}
	req.completed = true
	if req.fd >= 0 {
		l.detach(req.fd)
		unix.Close(req.fd)
		req.fd = -1
	}
	l.clientManager.allocateSession(-1, &api.ConnectTimeoutError{Remote: req.remote}, false)
}

// dispatchEvent routes one readiness notification by its attachment.
func (l *EventLoop) dispatchEvent(ev reactor.Event) {
	if ev.Fd == l.serverFd && l.serverFd >= 0 {
		l.onServerConnect()
		return
	}
	switch att := l.attachments[ev.Fd].(type) {
	case *connRequest:
		l.onClientConnect(att)
	case *Session:
		l.guard(att, func() {
			if ev.Events&(reactor.EventRead|reactor.EventError) != 0 {
				att.handleRead()
			}
			if att.IsOpen() && ev.Events&reactor.EventWrite != 0 {
				att.handleWrite()
			}
		})
	default:
		// closed during this batch
	}
}

// guard converts a handler panic into the error path: a panic raised while
// already inside onCause force-closes the session without re-entry.
func (l *EventLoop) guard(sess *Session, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		cause, ok := r.(error)
		if !ok {
			cause = fmt.Errorf("handler panic: %v", r)
		}
		l.onUncaught(sess, cause)
	}()
	fn()
}

func (l *EventLoop) onUncaught(sess *Session, cause error) {
	log.Warnf("%s: uncaught exception: %v", l.config.name, cause)
	if sess == nil {
		return
	}
	if sess.inOnCause {
		sess.inOnCause = false
		sess.destroy()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("%s: onCause() handler error: %v", l.config.name, r)
			sess.inOnCause = false
			sess.destroy()
		}
	}()
	if sess.IsOpen() {
		sess.fireCause(cause)
	}
}

// onServerConnect accepts one pending connection and opens a server
// session over it.
func (l *EventLoop) onServerConnect() {
	fd, _, err := unix.Accept4(l.serverFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err != unix.EAGAIN {
			log.Warnf("%s: accept channel error: %v", l.config.name, err)
		}
		return
	}
	sess := l.serverManager.allocateSession(fd, nil, false)
	if sess != nil {
		l.guard(sess, sess.fireConnected)
	}
}

// onClientConnect finishes a dial: cancel the timeout, check SO_ERROR and
// promote the request into a client session.
func (l *EventLoop) onClientConnect(req *connRequest) {
	if req.completed {
		return
	}
	req.completed = true
	if req.task != nil {
		req.task.Cancel()
	}
	fd := req.fd

	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr != 0 {
		err = unix.Errno(soerr)
	}
	if err != nil {
		l.detach(fd)
		unix.Close(fd)
		l.clientManager.allocateSession(-1, fmt.Errorf("connect %s: %w", req.remote, err), false)
		return
	}

	// hand the registered fd over to the session
	delete(l.attachments, fd)
	sess := l.clientManager.allocateSession(fd, nil, true)
	if sess != nil {
		l.guard(sess, sess.fireConnected)
	}
}

// executeTasks drains the executor queue on the loop goroutine. Task
// errors are logged and swallowed.
func (l *EventLoop) executeTasks() {
	for {
		v, ok := l.execTaskQueue.pop()
		if !ok {
			return
		}
		task := v.(func())
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warnf("%s: uncaught exception in task: %v", l.config.name, r)
				}
			}()
			task()
		}()
	}
}

// executeTimeTasks runs due timers, drops cancelled ones and reschedules
// periodic ones at executeTime + period.
func (l *EventLoop) executeTimeTasks() {
	n := l.timeTaskQueue.length()
	if n == 0 {
		return
	}
	cur := l.clock.Now()
	for i := 0; i < n; i++ {
		v, ok := l.timeTaskQueue.pop()
		if !ok {
			return
		}
		task := v.(*TimeTask)
		if task.IsCancelled() {
			continue
		}
		if task.executeTime.After(cur) {
			l.timeTaskQueue.push(task)
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Debugf("%s: time task execution error: %v", l.config.name, r)
				}
			}()
			task.fn()
		}()
		if task.period > 0 && !task.IsCancelled() {
			task.executeTime = task.executeTime.Add(task.period)
			l.timeTaskQueue.push(task)
		}
	}
}

// nearestScheduleTime returns the delay to the nearest live timer: -1 with
// no timers, 0 when one is already due.
func (l *EventLoop) nearestScheduleTime() time.Duration {
	n := l.timeTaskQueue.length()
	if n == 0 {
		return -1
	}
	cur := l.clock.Now()
	nearest := time.Duration(-1)
	for i := 0; i < n; i++ {
		task, ok := l.timeTaskQueue.get(i).(*TimeTask)
		if !ok || task.IsCancelled() {
			continue
		}
		d := task.executeTime.Sub(cur)
		if d <= 0 {
			return 0
		}
		if nearest < 0 || d < nearest {
			nearest = d
		}
	}
	return nearest
}
