// Package engine executes scripted scenarios as virtual users: it opens
// connections per namespace, emits messages, correlates the expected
// replies (including replies that trigger further emits), enforces one
// response deadline per emit step, runs hook pipelines around outgoing
// and inbound payloads, and reports progress on the telemetry bus.
package engine

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"sockdrill/internal/config"
	"sockdrill/internal/hooks"
	"sockdrill/internal/telemetry"
	"sockdrill/internal/transport"
)

// DefaultTimeout is the per-emit-step response deadline applied when the
// script does not configure one.
const DefaultTimeout = 10 * time.Second

// Step is one executable unit of a compiled scenario.
type Step interface {
	// Name identifies the step in logs.
	Name() string

	// Execute runs the step against one virtual user's context. An
	// error aborts the remaining steps of the scenario run.
	Execute(ctx context.Context, uc *Context) error
}

// Delegate compiles the steps this engine does not understand. Any flow
// entry that is not a think, loop, or emit step is handed to it whole.
type Delegate interface {
	Compile(step config.Step) (Step, error)
}

// Options configures an Engine.
type Options struct {
	// Target is the base URL of the system under test.
	Target string

	// Timeout is the per-emit-step response deadline. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Query and Headers are handshake options, templated against each
	// user's variables at connect time.
	Query   map[string]string
	Headers map[string]string

	// TLS overrides the transport TLS configuration when non-nil.
	TLS *tls.Config

	// Dialer opens connections. Nil means the WebSocket dialer.
	Dialer transport.Dialer

	// Bus receives telemetry events. Nil means a fresh bus.
	Bus *telemetry.Bus

	// Hooks is the processor table resolving beforeRequest and
	// afterResponse identifiers.
	Hooks hooks.Module

	// Delegate handles non-emit steps. Nil makes such steps a compile
	// error.
	Delegate Delegate

	// Logger receives debug output. Nil means slog.Default.
	Logger *slog.Logger
}

// Engine compiles scenarios and holds everything their runs share.
type Engine struct {
	target   string
	timeout  time.Duration
	query    map[string]string
	headers  map[string]string
	tls      *tls.Config
	dialer   transport.Dialer
	bus      *telemetry.Bus
	hooks    hooks.Module
	delegate Delegate
	log      *slog.Logger
}

// New creates an Engine, filling in defaults for unset options.
func New(opts Options) *Engine {
	e := &Engine{
		target:   opts.Target,
		timeout:  opts.Timeout,
		query:    opts.Query,
		headers:  opts.Headers,
		tls:      opts.TLS,
		dialer:   opts.Dialer,
		bus:      opts.Bus,
		hooks:    opts.Hooks,
		delegate: opts.Delegate,
		log:      opts.Logger,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.dialer == nil {
		e.dialer = transport.WSDialer{}
	}
	if e.bus == nil {
		e.bus = telemetry.NewBus()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Bus returns the engine's telemetry bus.
func (e *Engine) Bus() *telemetry.Bus {
	return e.bus
}
