//go:build linux

package loop

import (
	"errors"
	"testing"

	"github.com/momentics/nioloop/api"
)

// shellLoop fabricates an EventLoop that never runs, for pipeline and
// session unit tests that need no IO.
func shellLoop(t *testing.T) *EventLoop {
	t.Helper()
	config, err := NewBuilder().
		SetServerInitializer(InitializerFunc(func(sess *Session) error { return nil })).
		SetBufferSize(64).
		SetPoolSize(64 * 64).
		SetStoreSize(1 << 16).
		SetBufferDirect(false).
		Build()
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	t.Cleanup(func() {
		config.bufferStore.Close()
		config.bufferPool.Close()
	})
	return &EventLoop{
		config:      config,
		pool:        config.bufferPool,
		fstore:      config.bufferStore,
		clock:       config.clock,
		serverFd:    -1,
		attachments: make(map[int]any),
	}
}

func shellSession(t *testing.T) *Session {
	t.Helper()
	l := shellLoop(t)
	m := newSessionManager(l, "testSess", 4, nil)
	return newSession("testSess", 0, m, -1, l)
}

// traceHandler records the events it sees and passes them on.
type traceHandler struct {
	HandlerAdapter
	name  string
	trace *[]string
}

func (h *traceHandler) OnConnected(ctx *HandlerContext) {
	*h.trace = append(*h.trace, h.name+":connected")
	ctx.FireConnected()
}

func (h *traceHandler) OnRead(ctx *HandlerContext, in any) {
	*h.trace = append(*h.trace, h.name+":read")
	ctx.FireRead(in)
}

func (h *traceHandler) OnWrite(ctx *HandlerContext, out any) {
	*h.trace = append(*h.trace, h.name+":write")
	ctx.FireWrite(out)
}

func (h *traceHandler) OnCause(ctx *HandlerContext, cause error) {
	*h.trace = append(*h.trace, h.name+":cause")
	ctx.FireCause(cause)
}

func TestPipelinePropagationDirections(t *testing.T) {
	sess := shellSession(t)
	var trace []string
	a := &traceHandler{name: "a", trace: &trace}
	b := &traceHandler{name: "b", trace: &trace}
	sess.AddLast(a, b)

	sess.fireConnected()
	if len(trace) != 2 || trace[0] != "a:connected" || trace[1] != "b:connected" {
		t.Fatalf("inbound order wrong: %v", trace)
	}

	trace = trace[:0]
	sess.Write([]byte("x"))
	if len(trace) != 2 || trace[0] != "b:write" || trace[1] != "a:write" {
		t.Fatalf("outbound order wrong: %v", trace)
	}
	if sess.out.Size() != 1 {
		t.Fatalf("head did not append payload: size=%d", sess.out.Size())
	}
}

func TestPipelineAddFirstAndRemove(t *testing.T) {
	sess := shellSession(t)
	var trace []string
	a := &traceHandler{name: "a", trace: &trace}
	b := &traceHandler{name: "b", trace: &trace}
	c := &traceHandler{name: "c", trace: &trace}
	sess.AddLast(b)
	sess.AddFirst(a)
	sess.AddLast(c)

	sess.fireConnected()
	want := []string{"a:connected", "b:connected", "c:connected"}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("order with addFirst wrong: %v", trace)
		}
	}

	if !sess.Remove(b) {
		t.Fatal("remove failed")
	}
	trace = trace[:0]
	sess.fireConnected()
	if len(trace) != 2 || trace[0] != "a:connected" || trace[1] != "c:connected" {
		t.Fatalf("order after remove wrong: %v", trace)
	}
	if sess.Remove(b) {
		t.Fatal("second remove of the same handler succeeded")
	}
}

func TestHeadRejectsNonByteForm(t *testing.T) {
	sess := shellSession(t)
	var causes []error
	sess.AddLast(&causeTap{causes: &causes})

	sess.Write(42)
	if len(causes) != 1 || !errors.Is(causes[0], api.ErrPayloadForm) {
		t.Fatalf("expected ErrPayloadForm, got %v", causes)
	}
}

// causeTap swallows causes so the tail does not close the session.
type causeTap struct {
	HandlerAdapter
	causes *[]error
}

func (h *causeTap) OnCause(ctx *HandlerContext, cause error) {
	*h.causes = append(*h.causes, cause)
}

func TestHeadAppendsPooledBuffer(t *testing.T) {
	sess := shellSession(t)
	b, err := sess.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	b.Write([]byte("abc"))
	sess.Write(b)
	if sess.out.Size() != 3 {
		t.Fatalf("buffer payload not appended: %d", sess.out.Size())
	}
	if sess.out.MemoryBuffers() != 1 {
		t.Fatalf("buffer not resident: %d", sess.out.MemoryBuffers())
	}
}

func TestTailClosesOnUnhandledCause(t *testing.T) {
	sess := shellSession(t)
	sess.state = StateOpen
	sess.fireCause(errors.New("boom"))
	if sess.State() != StateClosed {
		t.Fatalf("tail did not close the session: %v", sess.State())
	}
}

func TestFireCauseReentrancy(t *testing.T) {
	sess := shellSession(t)
	sess.state = StateOpen
	calls := 0
	sess.AddLast(&reentrantCause{calls: &calls})
	sess.fireCause(errors.New("first"))
	if calls != 1 {
		t.Fatalf("onCause re-entered: %d calls", calls)
	}
	if sess.State() != StateClosed {
		t.Fatal("nested cause did not close the session")
	}
}

// reentrantCause raises a second error from inside onCause.
type reentrantCause struct {
	HandlerAdapter
	calls *int
}

func (h *reentrantCause) OnCause(ctx *HandlerContext, cause error) {
	*h.calls++
	ctx.Session().fireCause(errors.New("nested"))
}
