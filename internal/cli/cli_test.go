package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"sockdrill/testserver"
)

// executeCommand runs the command tree with the given args and captures
// stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeScript creates a temporary script file and returns its path.
func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return exitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error %v is not an ExitError", err)
	}
	return exitErr.Code
}

const validScript = `
config:
  target: "http://localhost:9999"
scenarios:
  - name: Basic
    flow:
      - think: 0.1
      - emit:
          channel: ping
`

func TestValidate_ValidScript(t *testing.T) {
	path := writeScript(t, validScript)

	stdout, _, err := executeCommand(Root("test"), "validate", path)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if !strings.Contains(stdout, "script is valid: 1 scenario(s), 2 top-level step(s)") {
		t.Errorf("stdout = %q, want the validity line", stdout)
	}
}

func TestValidate_InvalidScript(t *testing.T) {
	path := writeScript(t, "config:\n  target: \"\"\nscenarios: []\n")

	_, _, err := executeCommand(Root("test"), "validate", path)
	if got := exitCode(t, err); got != exitRuntime {
		t.Errorf("exit code = %d, want %d", got, exitRuntime)
	}
}

func TestValidate_MissingFile(t *testing.T) {
	_, _, err := executeCommand(Root("test"), "validate", filepath.Join(t.TempDir(), "nope.yaml"))
	if got := exitCode(t, err); got != exitRuntime {
		t.Errorf("exit code = %d, want %d", got, exitRuntime)
	}
}

func TestRun_RejectsBadOutputFormat(t *testing.T) {
	path := writeScript(t, validScript)

	_, _, err := executeCommand(Root("test"), "run", path, "--output", "xml")
	if got := exitCode(t, err); got != exitRuntime {
		t.Errorf("exit code = %d, want %d", got, exitRuntime)
	}
}

func TestRun_UnknownProcessor(t *testing.T) {
	path := writeScript(t, `
config:
  target: "http://localhost:9999"
  processor: "no-such-module"
scenarios:
  - flow:
      - think: 0.1
`)

	_, _, err := executeCommand(Root("test"), "run", path)
	if got := exitCode(t, err); got != exitRuntime {
		t.Errorf("exit code = %d, want %d", got, exitRuntime)
	}
	if err == nil || !strings.Contains(err.Error(), "no-such-module") {
		t.Errorf("error = %v, want the processor name", err)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	srv := testserver.NewServer(testserver.Rule{
		Channel: "chat message",
		Reply:   "message ack",
		Data:    map[string]any{"status": "ok"},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	path := writeScript(t, fmt.Sprintf(`
config:
  target: "%s"
  timeout: 2
scenarios:
  - name: Chat
    flow:
      - emit:
          channel: "chat message"
          data: "hello"
          response:
            channel: "message ack"
            match:
              json: "$.status"
              value: "ok"
`, ts.URL))

	stdout, _, err := executeCommand(Root("test"),
		"run", path, "--users", "2", "--iterations", "2", "--output", "json", "--quiet")
	if err != nil {
		t.Fatalf("run error: %v\n%s", err, stdout)
	}

	var report struct {
		ScenariosRun  int `json:"scenariosRun"`
		MessagesSent  int `json:"messagesSent"`
		Errors        int `json:"errors"`
		MatchesPassed int `json:"matchesPassed"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON summary: %v\n%s", err, stdout)
	}
	if report.ScenariosRun != 4 {
		t.Errorf("scenariosRun = %d, want 4 (2 users x 2 iterations)", report.ScenariosRun)
	}
	if report.MessagesSent != 4 {
		t.Errorf("messagesSent = %d, want 4", report.MessagesSent)
	}
	if report.MatchesPassed != 4 {
		t.Errorf("matchesPassed = %d, want 4", report.MatchesPassed)
	}
	if report.Errors != 0 {
		t.Errorf("errors = %d, want 0", report.Errors)
	}
}

func TestRun_ReportsFailuresInExitCode(t *testing.T) {
	// No rule answers the channel, so every step times out.
	srv := testserver.NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	path := writeScript(t, fmt.Sprintf(`
config:
  target: "%s"
  timeout: 0.1
scenarios:
  - flow:
      - emit:
          channel: "ask"
          response:
            channel: "never"
`, ts.URL))

	stdout, _, err := executeCommand(Root("test"), "run", path, "--output", "json", "--quiet")
	if got := exitCode(t, err); got != exitFailures {
		t.Fatalf("exit code = %d, want %d\n%s", got, exitFailures, stdout)
	}

	var report struct {
		ErrorReasons map[string]int `json:"errorReasons"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON summary: %v\n%s", err, stdout)
	}
	if report.ErrorReasons["ResponseTimeout"] != 1 {
		t.Errorf("errorReasons = %v, want one ResponseTimeout", report.ErrorReasons)
	}
}

func TestRoot_Version(t *testing.T) {
	stdout, _, err := executeCommand(Root("1.2.3"), "--version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(stdout, "sockdrill version 1.2.3") {
		t.Errorf("stdout = %q, want the stamped version", stdout)
	}
}
