package broker

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/trustedbroker/internal/protocol/frame"
)

var errRejected = errors.New("stub: rejected")

// stubHandlers records every dispatched type and answers with canned packages.
type stubHandlers struct {
	mu        sync.Mutex
	calls     []frame.Type
	fail      map[frame.Type]error
	responses map[frame.Type]frame.Package
}

func newStubHandlers() *stubHandlers {
	return &stubHandlers{
		fail:      make(map[frame.Type]error),
		responses: make(map[frame.Type]frame.Package),
	}
}

// respond returns the override registered for t, or def.
func (h *stubHandlers) respond(t frame.Type, def frame.Package) frame.Package {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pkg, ok := h.responses[t]; ok {
		return pkg
	}
	return def
}

func (h *stubHandlers) record(t frame.Type) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, t)
	return h.fail[t]
}

func (h *stubHandlers) Calls() []frame.Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]frame.Type, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *stubHandlers) ProcessMsg0(body []byte) error {
	return h.record(frame.TypeRAMsg0)
}

func (h *stubHandlers) ProcessMsg1(body []byte) (frame.Package, error) {
	if err := h.record(frame.TypeRAMsg1); err != nil {
		return frame.Package{}, err
	}
	return h.respond(frame.TypeRAMsg1, frame.Package{Type: frame.TypeRAMsg2, Body: []byte("msg2")}), nil
}

func (h *stubHandlers) ProcessMsg3(body []byte) (frame.Package, error) {
	if err := h.record(frame.TypeRAMsg3); err != nil {
		return frame.Package{}, err
	}
	return h.respond(frame.TypeRAMsg3, frame.Package{Type: frame.TypeRAAttResult, Body: []byte("trusted")}), nil
}

func (h *stubHandlers) ProcessKeyRequest(body []byte) (frame.Package, error) {
	if err := h.record(frame.TypeKeyRequest); err != nil {
		return frame.Package{}, err
	}
	return h.respond(frame.TypeKeyRequest, frame.Package{Type: frame.TypeKeyResponse, Body: []byte("sealed-key")}), nil
}

func (h *stubHandlers) Handlers() Handlers {
	return Handlers{Msg0: h, Msg1: h, Msg3: h, KeyRequest: h}
}

func (h *stubHandlers) Factory() HandlerFactory {
	return HandlerFactoryFunc(func(string) Handlers { return h.Handlers() })
}

type generatorFunc func() (frame.Package, bool, error)

func (f generatorFunc) GenerateHeartbeat() (frame.Package, bool, error) {
	return f()
}

type heartbeatStep struct {
	final bool
	err   error
}

// scriptedGenerator replays steps and then keeps producing normal beats.
type scriptedGenerator struct {
	mu    sync.Mutex
	steps []heartbeatStep
	calls int
}

func (g *scriptedGenerator) GenerateHeartbeat() (frame.Package, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	pkg := frame.Package{Type: frame.TypeHeartbeat, Body: []byte{byte(g.calls)}}
	if len(g.steps) == 0 {
		return pkg, false, nil
	}
	step := g.steps[0]
	g.steps = g.steps[1:]
	if step.err != nil {
		return frame.Package{}, false, step.err
	}
	return pkg, step.final, nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func sendPackage(t *testing.T, conn net.Conn, pkg frame.Package) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := frame.WritePackage(conn, pkg); err != nil {
		t.Fatalf("send %s: %v", pkg.Type, err)
	}
}

func readPackage(t *testing.T, conn net.Conn) frame.Package {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkg, err := frame.ReadPackage(conn)
	if err != nil {
		t.Fatalf("read package: %v", err)
	}
	return pkg
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("expected closed connection with no data, got n=%d err=%v", n, err)
	}
}
