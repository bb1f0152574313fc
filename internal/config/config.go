// Package config parses and validates load test scripts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sockdrill/internal/capture"
)

// Script is the root of a load test script: one config block plus the
// scenarios virtual users run.
type Script struct {
	Config    Settings   `yaml:"config"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// Settings is the script-wide configuration block.
type Settings struct {
	// Target is the base URL of the system under test.
	Target string `yaml:"target"`

	// Timeout is the per-emit-step response deadline in seconds. Zero
	// means the engine default.
	Timeout float64 `yaml:"timeout,omitempty"`

	// SocketIO carries transport handshake options. Values are templated
	// against the user's variables at connect time.
	SocketIO TransportSettings `yaml:"socketio,omitempty"`

	// TLS carries transport TLS options.
	TLS TLSSettings `yaml:"tls,omitempty"`

	// Processor names the hook module providing this script's
	// beforeRequest and afterResponse functions.
	Processor string `yaml:"processor,omitempty"`

	// Variables seeds every virtual user's vars.
	Variables map[string]any `yaml:"variables,omitempty"`

	// Payload lists CSV files whose rows seed per-user variables.
	Payload PayloadList `yaml:"payload,omitempty"`
}

// TimeoutDuration returns the configured timeout, or zero when unset.
func (s Settings) TimeoutDuration() time.Duration {
	if s.Timeout <= 0 {
		return 0
	}
	return time.Duration(s.Timeout * float64(time.Second))
}

// TransportSettings is the handshake configuration for the transport.
type TransportSettings struct {
	Query   map[string]string `yaml:"query,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// TLSSettings is the TLS configuration for the transport.
type TLSSettings struct {
	InsecureSkipVerify bool `yaml:"insecureSkipVerify,omitempty"`
}

// PayloadSettings describes one CSV payload file.
type PayloadSettings struct {
	// Path to the CSV file, relative to the script.
	Path string `yaml:"path"`

	// Fields names the variables the columns map to. When empty the
	// first row is treated as a header naming them.
	Fields []string `yaml:"fields,omitempty"`

	// Order is "sequence" (default) or "random".
	Order string `yaml:"order,omitempty"`
}

// Scenario is one named flow with optional scenario-wide hook lists.
type Scenario struct {
	Name          string   `yaml:"name,omitempty"`
	BeforeRequest HookList `yaml:"beforeRequest,omitempty"`
	AfterResponse HookList `yaml:"afterResponse,omitempty"`
	Flow          []Step   `yaml:"flow"`
}

// Step is one flow entry. Exactly one of Think, Loop, or Emit may be
// set; a step with none of them is delegated to the request engine,
// which interprets the remaining keys.
type Step struct {
	Think *float64 `yaml:"think,omitempty"`

	Loop      []Step `yaml:"loop,omitempty"`
	Count     int    `yaml:"count,omitempty"`
	Over      []any  `yaml:"over,omitempty"`
	LoopValue string `yaml:"loopValue,omitempty"`

	Emit          *EmitSpec `yaml:"emit,omitempty"`
	BeforeRequest HookList  `yaml:"beforeRequest,omitempty"`
	AfterResponse HookList  `yaml:"afterResponse,omitempty"`

	// Rest collects the keys of delegated steps.
	Rest map[string]any `yaml:",inline"`
}

// EmitSpec is one outgoing message, with optional hooks and an optional
// expected-response tree.
type EmitSpec struct {
	Channel       string        `yaml:"channel"`
	Data          any           `yaml:"data,omitempty"`
	Namespace     string        `yaml:"namespace,omitempty"`
	BeforeRequest HookList      `yaml:"beforeRequest,omitempty"`
	AfterResponse HookList      `yaml:"afterResponse,omitempty"`
	Response      *ResponseSpec `yaml:"response,omitempty"`
}

// ResponseSpec describes the replies an emit expects on one channel,
// with optional capture and match rules and an optional nested emit
// fired per matched reply.
type ResponseSpec struct {
	Channel string      `yaml:"channel"`
	Data    any         `yaml:"data,omitempty"`
	Capture CaptureList `yaml:"capture,omitempty"`
	Match   MatchList   `yaml:"match,omitempty"`
	Times   *int        `yaml:"times,omitempty"`
	Emit    *EmitSpec   `yaml:"emit,omitempty"`
}

// HookList accepts a single identifier or a sequence of identifiers.
type HookList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *HookList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = HookList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}
		*l = HookList(ss)
		return nil
	default:
		return fmt.Errorf("line %d: hooks must be a string or a sequence of strings", value.Line)
	}
}

// CaptureList accepts a single capture rule or a sequence of them.
type CaptureList []capture.Capture

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *CaptureList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var c capture.Capture
		if err := value.Decode(&c); err != nil {
			return err
		}
		*l = CaptureList{c}
		return nil
	case yaml.SequenceNode:
		var cs []capture.Capture
		if err := value.Decode(&cs); err != nil {
			return err
		}
		*l = CaptureList(cs)
		return nil
	default:
		return fmt.Errorf("line %d: capture must be a mapping or a sequence of mappings", value.Line)
	}
}

// MatchList accepts a single match rule or a sequence of them.
type MatchList []capture.Match

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *MatchList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var m capture.Match
		if err := value.Decode(&m); err != nil {
			return err
		}
		*l = MatchList{m}
		return nil
	case yaml.SequenceNode:
		var ms []capture.Match
		if err := value.Decode(&ms); err != nil {
			return err
		}
		*l = MatchList(ms)
		return nil
	default:
		return fmt.Errorf("line %d: match must be a mapping or a sequence of mappings", value.Line)
	}
}

// PayloadList accepts a single payload block or a sequence of them.
type PayloadList []PayloadSettings

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *PayloadList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var p PayloadSettings
		if err := value.Decode(&p); err != nil {
			return err
		}
		*l = PayloadList{p}
		return nil
	case yaml.SequenceNode:
		var ps []PayloadSettings
		if err := value.Decode(&ps); err != nil {
			return err
		}
		*l = PayloadList(ps)
		return nil
	default:
		return fmt.Errorf("line %d: payload must be a mapping or a sequence of mappings", value.Line)
	}
}

// LoadScript reads, validates, and parses a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script file: %w", err)
	}
	script, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}

// Parse validates raw YAML against the script schema and decodes it.
func Parse(data []byte) (*Script, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

// Validate checks the structural rules the schema cannot express.
func (s *Script) Validate() error {
	if s.Config.Target == "" {
		return fmt.Errorf("config.target is required")
	}
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("at least one scenario is required")
	}
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		for j := range sc.Flow {
			if err := validateStep(&sc.Flow[j]); err != nil {
				return fmt.Errorf("scenario %d, step %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateStep(step *Step) error {
	variants := 0
	if step.Think != nil {
		variants++
	}
	if step.Loop != nil {
		variants++
	}
	if step.Emit != nil {
		variants++
	}
	if variants > 1 {
		return fmt.Errorf("sets more than one of think, loop, emit")
	}
	if step.Loop != nil {
		if step.Count > 0 && len(step.Over) > 0 {
			return fmt.Errorf("loop sets both count and over")
		}
		if step.Count < 0 {
			return fmt.Errorf("loop count must be positive")
		}
		for i := range step.Loop {
			if err := validateStep(&step.Loop[i]); err != nil {
				return fmt.Errorf("loop step %d: %w", i, err)
			}
		}
	}
	if step.Emit != nil {
		if err := validateEmit(step.Emit); err != nil {
			return err
		}
	}
	return nil
}

func validateEmit(e *EmitSpec) error {
	for r := e.Response; r != nil; {
		if r.Times != nil && *r.Times < 1 {
			return fmt.Errorf("response times must be at least 1")
		}
		if r.Emit == nil {
			break
		}
		r = r.Emit.Response
	}
	return nil
}
