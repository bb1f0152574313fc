package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_FullScript(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
  timeout: 5
  processor: "auth"
  socketio:
    query:
      token: "${token}"
    headers:
      X-Team: "blue"
  tls:
    insecureSkipVerify: true
  variables:
    room: "lobby"
  payload:
    path: "users.csv"
    fields: ["username", "password"]
    order: "random"
scenarios:
  - name: "chat"
    beforeRequest: "signAll"
    flow:
      - think: 0.5
      - emit:
          channel: "join"
          data: { room: "${room}" }
          namespace: "/chat"
          response:
            channel: "joined"
            times: 2
            capture:
              json: "$.roomId"
              as: "roomId"
            match:
              json: "$.ok"
              value: true
            emit:
              channel: "hello"
              data: "hi"
              response:
                channel: "greeted"
                times: 3
        beforeRequest: ["stamp"]
        afterResponse: ["record"]
`
	script := parseScript(t, content)

	cfg := script.Config
	if cfg.Target != "http://localhost:10333" {
		t.Errorf("target = %q", cfg.Target)
	}
	if cfg.Timeout != 5 {
		t.Errorf("timeout = %v, want 5", cfg.Timeout)
	}
	if cfg.Processor != "auth" {
		t.Errorf("processor = %q", cfg.Processor)
	}
	if cfg.SocketIO.Query["token"] != "${token}" {
		t.Errorf("socketio query = %v", cfg.SocketIO.Query)
	}
	if cfg.SocketIO.Headers["X-Team"] != "blue" {
		t.Errorf("socketio headers = %v", cfg.SocketIO.Headers)
	}
	if !cfg.TLS.InsecureSkipVerify {
		t.Error("tls.insecureSkipVerify not set")
	}
	if cfg.Variables["room"] != "lobby" {
		t.Errorf("variables = %v", cfg.Variables)
	}
	if len(cfg.Payload) != 1 || cfg.Payload[0].Path != "users.csv" || cfg.Payload[0].Order != "random" {
		t.Errorf("payload = %+v", cfg.Payload)
	}
	if len(cfg.Payload[0].Fields) != 2 {
		t.Errorf("payload fields = %v", cfg.Payload[0].Fields)
	}

	if len(script.Scenarios) != 1 {
		t.Fatalf("expected 1 scenario, got %d", len(script.Scenarios))
	}
	sc := script.Scenarios[0]
	if sc.Name != "chat" {
		t.Errorf("scenario name = %q", sc.Name)
	}
	if len(sc.BeforeRequest) != 1 || sc.BeforeRequest[0] != "signAll" {
		t.Errorf("scenario beforeRequest = %v", sc.BeforeRequest)
	}
	if len(sc.Flow) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(sc.Flow))
	}

	think := sc.Flow[0]
	if think.Think == nil || *think.Think != 0.5 {
		t.Errorf("think step = %+v", think)
	}

	step := sc.Flow[1]
	if step.Emit == nil {
		t.Fatal("emit step not decoded")
	}
	if len(step.BeforeRequest) != 1 || step.BeforeRequest[0] != "stamp" {
		t.Errorf("step beforeRequest = %v", step.BeforeRequest)
	}
	if len(step.AfterResponse) != 1 || step.AfterResponse[0] != "record" {
		t.Errorf("step afterResponse = %v", step.AfterResponse)
	}

	emit := step.Emit
	if emit.Channel != "join" || emit.Namespace != "/chat" {
		t.Errorf("emit = %+v", emit)
	}
	data, ok := emit.Data.(map[string]any)
	if !ok || data["room"] != "${room}" {
		t.Errorf("emit data = %v", emit.Data)
	}

	resp := emit.Response
	if resp == nil {
		t.Fatal("response not decoded")
	}
	if resp.Channel != "joined" {
		t.Errorf("response channel = %q", resp.Channel)
	}
	if resp.Times == nil || *resp.Times != 2 {
		t.Errorf("response times = %v", resp.Times)
	}
	if len(resp.Capture) != 1 || resp.Capture[0].JSON != "$.roomId" || resp.Capture[0].As != "roomId" {
		t.Errorf("capture = %+v", resp.Capture)
	}
	if len(resp.Match) != 1 || resp.Match[0].JSON != "$.ok" || resp.Match[0].Value != true {
		t.Errorf("match = %+v", resp.Match)
	}

	nested := resp.Emit
	if nested == nil || nested.Channel != "hello" {
		t.Fatalf("nested emit = %+v", nested)
	}
	if nested.Response == nil || nested.Response.Times == nil || *nested.Response.Times != 3 {
		t.Errorf("nested response = %+v", nested.Response)
	}
}

func TestParse_HookListSequence(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
scenarios:
  - beforeRequest: ["a", "b"]
    flow:
      - emit: { channel: "ping" }
`
	script := parseScript(t, content)
	got := script.Scenarios[0].BeforeRequest
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("beforeRequest = %v, want [a b]", got)
	}
}

func TestParse_DelegateStepKeepsRest(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
scenarios:
  - flow:
      - get:
          url: "/health"
        capture:
          json: "$.status"
          as: "status"
`
	script := parseScript(t, content)

	step := script.Scenarios[0].Flow[0]
	if step.Emit != nil || step.Think != nil || step.Loop != nil {
		t.Fatalf("delegate step decoded as a known variant: %+v", step)
	}
	if _, ok := step.Rest["get"]; !ok {
		t.Errorf("delegate keys lost: %v", step.Rest)
	}
	if _, ok := step.Rest["capture"]; !ok {
		t.Errorf("delegate capture key lost: %v", step.Rest)
	}
}

func TestParse_LoopStep(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
scenarios:
  - flow:
      - loop:
          - emit: { channel: "tick" }
        count: 3
      - loop:
          - emit: { channel: "greet", data: "${name}" }
        over: ["ada", "grace"]
        loopValue: "name"
`
	script := parseScript(t, content)

	counted := script.Scenarios[0].Flow[0]
	if len(counted.Loop) != 1 || counted.Count != 3 {
		t.Errorf("counted loop = %+v", counted)
	}

	over := script.Scenarios[0].Flow[1]
	if len(over.Over) != 2 || over.Over[0] != "ada" {
		t.Errorf("over loop = %+v", over)
	}
	if over.LoopValue != "name" {
		t.Errorf("loopValue = %q", over.LoopValue)
	}
}

func TestParse_MissingTarget(t *testing.T) {
	content := `
config: {}
scenarios:
  - flow:
      - think: 1
`
	if _, err := Parse([]byte(content)); err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestParse_NoScenarios(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
scenarios: []
`
	if _, err := Parse([]byte(content)); err == nil {
		t.Fatal("expected error for empty scenarios")
	}
}

func TestParse_SchemaRejectsBadTimeout(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
  timeout: "fast"
scenarios:
  - flow:
      - think: 1
`
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("expected schema error for string timeout")
	}
	if !strings.Contains(err.Error(), "schema") {
		t.Errorf("error does not mention the schema: %v", err)
	}
}

func TestParse_SchemaRejectsZeroTimes(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
scenarios:
  - flow:
      - emit:
          channel: "ping"
          response:
            channel: "pong"
            times: 0
`
	if _, err := Parse([]byte(content)); err == nil {
		t.Fatal("expected schema error for times 0")
	}
}

func TestParse_RejectsMixedStepVariants(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
scenarios:
  - flow:
      - think: 1
        emit: { channel: "ping" }
`
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("expected error for a step with two variants")
	}
	if !strings.Contains(err.Error(), "more than one") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParse_RejectsLoopCountAndOver(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
scenarios:
  - flow:
      - loop:
          - think: 1
        count: 2
        over: ["a"]
`
	if _, err := Parse([]byte(content)); err == nil {
		t.Fatal("expected error for loop with both count and over")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("config: [unclosed")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadScript_FileNotFound(t *testing.T) {
	if _, err := LoadScript("/nonexistent/script.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadScript_ValidFile(t *testing.T) {
	content := `
config:
  target: "http://localhost:10333"
scenarios:
  - flow:
      - emit: { channel: "echo", data: "hello" }
`
	path := writeTempScript(t, content)

	script, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript failed: %v", err)
	}
	if script.Scenarios[0].Flow[0].Emit.Channel != "echo" {
		t.Errorf("script = %+v", script)
	}
}

func TestSettings_TimeoutDuration(t *testing.T) {
	if d := (Settings{}).TimeoutDuration(); d != 0 {
		t.Errorf("zero timeout = %v, want 0", d)
	}
	if d := (Settings{Timeout: 2.5}).TimeoutDuration(); d != 2500*time.Millisecond {
		t.Errorf("timeout 2.5 = %v, want 2.5s", d)
	}
}

// Helper functions

func parseScript(t *testing.T, content string) *Script {
	t.Helper()
	script, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("failed to parse script: %v", err)
	}
	return script
}

func writeTempScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp script: %v", err)
	}
	return path
}
