package request

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// maxDebugBody caps how much of a body the debug logger prints.
const maxDebugBody = 1024

// DebugLogger writes request and response traffic to a writer for
// troubleshooting. A nil logger disables all output.
type DebugLogger struct {
	out io.Writer
	mu  sync.Mutex
}

// NewDebugLogger creates a logger writing to out.
func NewDebugLogger(out io.Writer) *DebugLogger {
	return &DebugLogger{out: out}
}

// LogRequest prints the outgoing request line and headers.
func (d *DebugLogger) LogRequest(user string, req *http.Request) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "[%s] > %s %s\n", user, req.Method, req.URL)
	for name, values := range req.Header {
		for _, value := range values {
			fmt.Fprintf(d.out, "[%s] > %s: %s\n", user, name, value)
		}
	}
}

// LogResponse prints the status, timing, and a truncated body.
func (d *DebugLogger) LogResponse(user string, resp *http.Response, body []byte, elapsed time.Duration) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "[%s] < %s (%s)\n", user, resp.Status, elapsed.Round(time.Millisecond))
	if len(body) > 0 {
		fmt.Fprintf(d.out, "[%s] < %s\n", user, truncate(body))
	}
}

// LogError prints a failed call.
func (d *DebugLogger) LogError(user string, err error) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "[%s] ! %v\n", user, err)
}

func truncate(body []byte) string {
	if len(body) <= maxDebugBody {
		return string(body)
	}
	return string(body[:maxDebugBody]) + "... (truncated)"
}
