package engine

import (
	"sync/atomic"

	"github.com/google/uuid"

	"sockdrill/internal/transport"
)

// Context is one virtual user's mutable state. A Context is owned by a
// single scenario run at a time and must not be shared across
// concurrently running users.
type Context struct {
	// Vars holds the variables visible to templating, hooks, and
	// capture bindings.
	Vars map[string]any

	uid              string
	sockets          map[string]transport.Conn
	expected         map[string]int
	successCount     int
	pendingSteps     int
	receivedMessages atomic.Int64
}

// NewContext creates an empty Context with a fresh correlation id.
func NewContext() *Context {
	return &Context{
		Vars:    make(map[string]any),
		uid:     uuid.NewString(),
		sockets: make(map[string]transport.Conn),
	}
}

// UID is the user's correlation id, carried on response telemetry.
func (c *Context) UID() string {
	return c.uid
}

// SuccessCount reports how many capture/match rounds fully succeeded.
func (c *Context) SuccessCount() int {
	return c.successCount
}

// PendingSteps reports the number of non-think steps of the current run.
func (c *Context) PendingSteps() int {
	return c.pendingSteps
}

// ReceivedMessages reports every inbound message seen on any of the
// user's connections, regardless of channel.
func (c *Context) ReceivedMessages() int64 {
	return c.receivedMessages.Load()
}

// ExpectedResponses snapshots the expected-count map of the most recent
// emit step. Meant for diagnostics after a run, not during one.
func (c *Context) ExpectedResponses() map[string]int {
	if c.expected == nil {
		return nil
	}
	out := make(map[string]int, len(c.expected))
	for ch, n := range c.expected {
		out[ch] = n
	}
	return out
}

// reset prepares the context for a fresh scenario run.
func (c *Context) reset(pendingSteps int) {
	c.successCount = 0
	c.pendingSteps = pendingSteps
	c.expected = nil
	c.receivedMessages.Store(0)
}

// closeSockets disconnects every cached connection. Idempotent; always
// runs at scenario end regardless of outcome.
func (c *Context) closeSockets() {
	for namespace, conn := range c.sockets {
		conn.Close()
		delete(c.sockets, namespace)
	}
}
