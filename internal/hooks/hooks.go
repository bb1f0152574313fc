// Package hooks runs user-supplied processor functions around outgoing and
// inbound payloads. Scripts reference processors by module name (the
// config "processor" field) and by function name in beforeRequest and
// afterResponse lists; modules are registered at program start.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"sockdrill/internal/telemetry"
)

// Func is a single processor. It may mutate payload and vars in place; a
// returned error aborts the remaining hooks and fails the step.
type Func func(ctx context.Context, payload map[string]any, vars map[string]any, bus *telemetry.Bus) error

// Module is a named table of processors.
type Module map[string]Func

// Registry maps module names to processor tables.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds or replaces a module.
func (r *Registry) Register(name string, m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = m
}

// Lookup returns the named module.
func (r *Registry) Lookup(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the process-wide registry used by the CLI. Custom builds
// register their processor modules here from init or main.
var Default = NewRegistry()

// Register adds a module to the default registry.
func Register(name string, m Module) {
	Default.Register(name, m)
}

// Lookup returns a module from the default registry.
func Lookup(name string) (Module, bool) {
	return Default.Lookup(name)
}

// ErrNotRegistered reports a hook name with no processor behind it.
var ErrNotRegistered = errors.New("not registered")

// Error wraps a processor failure with the hook's name.
type Error struct {
	Hook string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hook %q: %v", e.Hook, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the wrapped error's code when it provides one, its plain
// message otherwise.
func (e *Error) Code() string {
	var coder interface{ Code() string }
	if errors.As(e.Err, &coder) {
		return coder.Code()
	}
	return e.Err.Error()
}

// Run invokes the named hooks from module m strictly in series. Each hook
// must return before the next starts; the first failure stops the chain
// and is returned wrapped in *Error.
func Run(ctx context.Context, m Module, names []string, payload, vars map[string]any, bus *telemetry.Bus) error {
	for _, name := range names {
		fn, ok := m[name]
		if !ok {
			return &Error{Hook: name, Err: ErrNotRegistered}
		}
		if err := fn(ctx, payload, vars, bus); err != nil {
			return &Error{Hook: name, Err: err}
		}
	}
	return nil
}
