//go:build linux

// File: loop/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler capability set and the session/loop extension points.

package loop

// Handler processes session events. Inbound events (OnConnected, OnRead,
// OnFlushed, OnCause) propagate head to tail; OnWrite propagates tail to
// head, transforming application objects into byte form on the way.
// Handlers run on the loop goroutine and must not block.
type Handler interface {
	OnConnected(ctx *HandlerContext)
	OnRead(ctx *HandlerContext, in any)
	OnWrite(ctx *HandlerContext, out any)
	OnFlushed(ctx *HandlerContext)
	OnCause(ctx *HandlerContext, cause error)
}

// HandlerAdapter is an embeddable Handler whose methods pass every event on
// unchanged.
type HandlerAdapter struct{}

func (HandlerAdapter) OnConnected(ctx *HandlerContext) { ctx.FireConnected() }

func (HandlerAdapter) OnRead(ctx *HandlerContext, in any) { ctx.FireRead(in) }

func (HandlerAdapter) OnWrite(ctx *HandlerContext, out any) { ctx.FireWrite(out) }

func (HandlerAdapter) OnFlushed(ctx *HandlerContext) { ctx.FireFlushed() }

func (HandlerAdapter) OnCause(ctx *HandlerContext, cause error) { ctx.FireCause(cause) }

// SessionInitializer populates a fresh session's pipeline before any event
// fires. One each may be configured for accepted and initiated connections.
type SessionInitializer interface {
	InitSession(sess *Session) error
}

// InitializerFunc adapts a function to SessionInitializer.
type InitializerFunc func(sess *Session) error

func (f InitializerFunc) InitSession(sess *Session) error { return f(sess) }

// EventLoopListener observes loop lifecycle. Init runs on the loop
// goroutine before the first iteration; Destroy runs exactly once after the
// loop terminates.
type EventLoopListener interface {
	Init(l *EventLoop)
	Destroy(l *EventLoop)
}

// NopListener is the default EventLoopListener.
type NopListener struct{}

func (NopListener) Init(l *EventLoop) {}

func (NopListener) Destroy(l *EventLoop) {}
