// Package transport carries channel-addressed messages between a virtual
// user and the target system. The wire format, one JSON object per text
// frame with a channel name and an arbitrary data payload, is hidden
// behind the Conn interface so the engine never touches frames directly.
package transport

import (
	"context"
	"crypto/tls"
	"time"
)

// Handler receives an inbound message for a channel.
type Handler func(channel string, data any)

// Conn is an established connection to one namespace on the target.
// Implementations must allow Emit from multiple goroutines.
type Conn interface {
	// Emit sends data on the named channel.
	Emit(channel string, data any) error

	// Subscribe routes inbound messages on channel to h, replacing any
	// previous handler for that channel.
	Subscribe(channel string, h Handler)

	// Unsubscribe removes the handler for channel. Messages arriving on
	// an unhandled channel are dropped.
	Unsubscribe(channel string)

	// SubscribeAll adds h as a wildcard handler invoked for every
	// inbound message, before any channel handler.
	SubscribeAll(h Handler)

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Options configures a dial.
type Options struct {
	// Query is appended to the handshake URL.
	Query map[string]string

	// Headers is sent with the handshake request.
	Headers map[string]string

	// HandshakeTimeout bounds the dial; zero means the dialer's default.
	HandshakeTimeout time.Duration

	// TLS overrides the client TLS configuration when non-nil.
	TLS *tls.Config
}

// Dialer opens connections. target is the base URL from the script
// configuration; namespace selects the endpoint path on the target.
type Dialer interface {
	DialContext(ctx context.Context, target, namespace string, opts Options) (Conn, error)
}
