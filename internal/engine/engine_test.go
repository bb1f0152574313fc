package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sockdrill/internal/config"
	"sockdrill/internal/hooks"
	"sockdrill/internal/telemetry"
	"sockdrill/internal/transport"
)

// fakeConn is an in-memory transport.Conn whose server side is scripted
// through onEmit. Replies pushed from onEmit land in subscriber handlers
// synchronously, which keeps tests deterministic: the correlation inbox
// is buffered, so pushes may happen before the step starts draining.
type fakeConn struct {
	mu                sync.Mutex
	sent              []sentMessage
	subs              map[string]transport.Handler
	all               []transport.Handler
	closed            bool
	onEmit            func(channel string, data any)
	afterSubscribeAll func(c *fakeConn)
}

type sentMessage struct {
	channel string
	data    any
}

func newFakeConn() *fakeConn {
	return &fakeConn{subs: make(map[string]transport.Handler)}
}

func (c *fakeConn) Emit(channel string, data any) error {
	c.mu.Lock()
	c.sent = append(c.sent, sentMessage{channel, data})
	hook := c.onEmit
	c.mu.Unlock()
	if hook != nil {
		hook(channel, data)
	}
	return nil
}

func (c *fakeConn) Subscribe(channel string, h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[channel] = h
}

func (c *fakeConn) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, channel)
}

func (c *fakeConn) SubscribeAll(h transport.Handler) {
	c.mu.Lock()
	c.all = append(c.all, h)
	after := c.afterSubscribeAll
	c.afterSubscribeAll = nil
	c.mu.Unlock()
	if after != nil {
		after(c)
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// push delivers a message as if the server sent it.
func (c *fakeConn) push(channel string, data any) {
	c.mu.Lock()
	all := make([]transport.Handler, len(c.all))
	copy(all, c.all)
	h := c.subs[channel]
	c.mu.Unlock()
	for _, wildcard := range all {
		wildcard(channel, data)
	}
	if h != nil {
		h(channel, data)
	}
}

func (c *fakeConn) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *fakeConn) subCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *fakeConn) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// fakeDialer hands out fakeConns and records every dial.
type fakeDialer struct {
	mu     sync.Mutex
	conns  map[string]*fakeConn
	dials  int
	fail   bool
	onDial func(conn *fakeConn, namespace string)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[string]*fakeConn)}
}

func (d *fakeDialer) DialContext(_ context.Context, _ string, namespace string, _ transport.Options) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns[namespace] = conn
	d.dials++
	if d.onDial != nil {
		d.onDial(conn, namespace)
	}
	return conn, nil
}

func (d *fakeDialer) conn(namespace string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[namespace]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// newTestEngine wires an Engine to a fake dialer with a short timeout.
func newTestEngine(d *fakeDialer, mod hooks.Module) *Engine {
	return New(Options{
		Target:  "http://test.invalid",
		Timeout: 200 * time.Millisecond,
		Dialer:  d,
		Hooks:   mod,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func compileFlow(t *testing.T, e *Engine, steps ...config.Step) *Scenario {
	t.Helper()
	s, err := e.Compile(config.Scenario{Name: "test", Flow: steps})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return s
}

// drainEvents closes the subscription and collects everything buffered.
func drainEvents(sub *telemetry.Subscription) []telemetry.Event {
	sub.Close()
	var events []telemetry.Event
	for e := range sub.Events() {
		events = append(events, e)
	}
	return events
}

func eventsOfKind(events []telemetry.Event, kind telemetry.Kind) []telemetry.Event {
	var out []telemetry.Event
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func intPtr(n int) *int {
	return &n
}

func floatPtr(f float64) *float64 {
	return &f
}

func TestNew_Defaults(t *testing.T) {
	e := New(Options{Target: "http://test.invalid"})
	if e.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", e.timeout, DefaultTimeout)
	}
	if e.bus == nil {
		t.Error("bus not defaulted")
	}
	if e.dialer == nil {
		t.Error("dialer not defaulted")
	}
	if e.Bus() != e.bus {
		t.Error("Bus accessor disagrees with the field")
	}
}

func TestCompile_RejectsBadTimes(t *testing.T) {
	e := newTestEngine(newFakeDialer(), nil)
	_, err := e.Compile(config.Scenario{Flow: []config.Step{{
		Emit: &config.EmitSpec{
			Channel:  "ping",
			Response: &config.ResponseSpec{Channel: "pong", Times: intPtr(0)},
		},
	}}})
	if err == nil {
		t.Fatal("expected compile error for times 0")
	}
}

func TestCompile_DelegateRequired(t *testing.T) {
	e := newTestEngine(newFakeDialer(), nil)
	_, err := e.Compile(config.Scenario{Flow: []config.Step{{
		Rest: map[string]any{"get": map[string]any{"url": "/health"}},
	}}})
	if err == nil {
		t.Fatal("expected compile error for a delegate step without a request engine")
	}
}

func TestCompile_NegativeThink(t *testing.T) {
	e := newTestEngine(newFakeDialer(), nil)
	_, err := e.Compile(config.Scenario{Flow: []config.Step{{Think: floatPtr(-1)}}})
	if err == nil {
		t.Fatal("expected compile error for negative think")
	}
}
