// Package request executes the flow steps the scenario engine delegates:
// plain HTTP calls described by a method key (get, post, put, delete,
// patch, head) with optional capture and match rules over the response
// body.
package request

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sockdrill/internal/config"
	"sockdrill/internal/engine"
	"sockdrill/internal/telemetry"
)

const defaultClientTimeout = 30 * time.Second

// methods lists the step keys the request engine recognizes, in lookup
// order.
var methods = []string{"get", "post", "put", "delete", "patch", "head"}

// stepSpec is the body of a method key.
type stepSpec struct {
	URL     string             `yaml:"url"`
	Headers map[string]string  `yaml:"headers,omitempty"`
	JSON    any                `yaml:"json,omitempty"`
	Body    string             `yaml:"body,omitempty"`
	Capture config.CaptureList `yaml:"capture,omitempty"`
	Match   config.MatchList   `yaml:"match,omitempty"`
}

// Engine is the delegate handling non-emit steps.
type Engine struct {
	base   string
	client *http.Client
	bus    *telemetry.Bus
	debug  *DebugLogger
}

// New creates a request engine. base is the script target, resolved
// against relative step URLs. A nil client gets a default with a
// conservative timeout; debug may be nil to disable wire logging.
func New(base string, client *http.Client, bus *telemetry.Bus, debug *DebugLogger) *Engine {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Engine{
		base:   strings.TrimSuffix(base, "/"),
		client: client,
		bus:    bus,
		debug:  debug,
	}
}

// Compile implements engine.Delegate.
func (e *Engine) Compile(step config.Step) (engine.Step, error) {
	for _, method := range methods {
		raw, ok := step.Rest[method]
		if !ok {
			continue
		}
		spec, err := decodeSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("%s step: %w", method, err)
		}
		if spec.URL == "" {
			return nil, fmt.Errorf("%s step: url is required", method)
		}
		return &httpStep{
			eng:    e,
			method: strings.ToUpper(method),
			spec:   spec,
		}, nil
	}
	return nil, fmt.Errorf("step has none of %s", strings.Join(methods, ", "))
}

// decodeSpec round-trips the inline YAML value into the typed spec so
// the scalar-or-sequence capture and match forms keep working.
func decodeSpec(raw any) (*stepSpec, error) {
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var spec stepSpec
	if err := yaml.Unmarshal(encoded, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}
