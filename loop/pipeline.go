//go:build linux

// File: loop/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-session handler pipeline: an arena of nodes linked by integer
// indices, with head and tail sentinels at slots 0 and 1.

package loop

import (
	"github.com/momentics/nioloop/api"
	"github.com/momentics/nioloop/core/buffer"
)

const (
	headIndex = 0
	tailIndex = 1
	nilIndex  = -1
)

type pipeNode struct {
	handler    Handler
	prev, next int
	ctx        HandlerContext
	removed    bool
}

// pipeline owns the node arena. Removed nodes are unlinked but their slots
// are never reused; the arena lives only as long as its session.
type pipeline struct {
	sess  *Session
	nodes []*pipeNode
}

func newPipeline(sess *Session) *pipeline {
	p := &pipeline{sess: sess}
	head := &pipeNode{handler: headHandler{}, prev: nilIndex, next: tailIndex}
	tail := &pipeNode{handler: tailHandler{}, prev: headIndex, next: nilIndex}
	p.nodes = append(p.nodes, head, tail)
	head.ctx = HandlerContext{sess: sess, idx: headIndex}
	tail.ctx = HandlerContext{sess: sess, idx: tailIndex}
	return p
}

// addLast links a handler immediately before the tail sentinel.
func (p *pipeline) addLast(h Handler) {
	idx := len(p.nodes)
	tail := p.nodes[tailIndex]
	node := &pipeNode{handler: h, prev: tail.prev, next: tailIndex}
	node.ctx = HandlerContext{sess: p.sess, idx: idx}
	p.nodes[tail.prev].next = idx
	tail.prev = idx
	p.nodes = append(p.nodes, node)
}

// addFirst links a handler immediately after the head sentinel.
func (p *pipeline) addFirst(h Handler) {
	idx := len(p.nodes)
	head := p.nodes[headIndex]
	node := &pipeNode{handler: h, prev: headIndex, next: head.next}
	node.ctx = HandlerContext{sess: p.sess, idx: idx}
	p.nodes[head.next].prev = idx
	head.next = idx
	p.nodes = append(p.nodes, node)
}

// remove unlinks the first node holding h. Sentinels cannot be removed.
func (p *pipeline) remove(h Handler) bool {
	for i := 2; i < len(p.nodes); i++ {
		node := p.nodes[i]
		if node.removed || node.handler != h {
			continue
		}
		p.nodes[node.prev].next = node.next
		p.nodes[node.next].prev = node.prev
		node.removed = true
		return true
	}
	return false
}

// HandlerContext is a handler's view of its pipeline position. It forwards
// events to neighbors and exposes session controls.
type HandlerContext struct {
	sess *Session
	idx  int
}

// Session returns the owning session.
func (c *HandlerContext) Session() *Session { return c.sess }

// Handler returns the handler bound to this context.
func (c *HandlerContext) Handler() Handler { return c.sess.pipe.nodes[c.idx].handler }

// Alloc draws one buffer from the loop's memory pool.
func (c *HandlerContext) Alloc() (*buffer.Buffer, error) { return c.sess.Alloc() }

// EnableRead asserts read interest on the session.
func (c *HandlerContext) EnableRead() *HandlerContext {
	c.sess.EnableRead()
	return c
}

// DisableRead deasserts read interest on the session.
func (c *HandlerContext) DisableRead() *HandlerContext {
	c.sess.DisableRead()
	return c
}

// EnableWrite asserts write interest on the session.
func (c *HandlerContext) EnableWrite() *HandlerContext {
	c.sess.EnableWrite()
	return c
}

// DisableWrite deasserts write interest on the session.
func (c *HandlerContext) DisableWrite() *HandlerContext {
	c.sess.DisableWrite()
	return c
}

// Write starts backward propagation of out from the tail.
func (c *HandlerContext) Write(out any) *HandlerContext {
	c.sess.Write(out)
	return c
}

// Flush asserts write interest and attempts an immediate drain.
func (c *HandlerContext) Flush() *HandlerContext {
	c.sess.Flush()
	return c
}

// Close closes the session.
func (c *HandlerContext) Close() { c.sess.Close() }

// FireConnected propagates the connected event forward.
func (c *HandlerContext) FireConnected() {
	if n := c.next(); n != nil {
		n.handler.OnConnected(&n.ctx)
	}
}

// FireRead propagates a read event forward.
func (c *HandlerContext) FireRead(in any) {
	if n := c.next(); n != nil {
		n.handler.OnRead(&n.ctx, in)
	}
}

// FireWrite propagates a write event backward.
func (c *HandlerContext) FireWrite(out any) {
	if n := c.prev(); n != nil {
		n.handler.OnWrite(&n.ctx, out)
	}
}

// FireFlushed propagates the flushed event forward.
func (c *HandlerContext) FireFlushed() {
	if n := c.next(); n != nil {
		n.handler.OnFlushed(&n.ctx)
	}
}

// FireCause propagates an error event forward.
func (c *HandlerContext) FireCause(cause error) {
	if n := c.next(); n != nil {
		n.handler.OnCause(&n.ctx, cause)
	}
}

func (c *HandlerContext) next() *pipeNode {
	nodes := c.sess.pipe.nodes
	if i := nodes[c.idx].next; i != nilIndex {
		return nodes[i]
	}
	return nil
}

func (c *HandlerContext) prev() *pipeNode {
	nodes := c.sess.pipe.nodes
	if i := nodes[c.idx].prev; i != nilIndex {
		return nodes[i]
	}
	return nil
}

// headHandler terminates the outbound path: payloads arriving here must be
// in byte form and are appended to the session's output stream.
type headHandler struct{ HandlerAdapter }

func (headHandler) OnWrite(ctx *HandlerContext, out any) {
	sess := ctx.sess
	switch v := out.(type) {
	case []byte:
		if _, err := sess.out.Write(v); err != nil {
			sess.fireCause(err)
		}
	case *buffer.Buffer:
		sess.out.WriteBuffer(v)
	default:
		sess.fireCause(api.ErrPayloadForm)
	}
}

// tailHandler terminates the inbound path. Unhandled errors close the
// session.
type tailHandler struct{ HandlerAdapter }

func (tailHandler) OnConnected(ctx *HandlerContext) {}

func (tailHandler) OnRead(ctx *HandlerContext, in any) {
	log.Debugf("%s: discard unhandled read", ctx.sess)
}

func (tailHandler) OnFlushed(ctx *HandlerContext) {}

func (tailHandler) OnCause(ctx *HandlerContext, cause error) {
	log.Warnf("%s: unhandled cause, closing: %v", ctx.sess, cause)
	ctx.Close()
}
