package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sockdrill/internal/capture"
	"sockdrill/internal/engine"
	"sockdrill/internal/telemetry"
	"sockdrill/internal/template"
)

const (
	// maxBodySize caps how much of a response body is read for capture
	// and match evaluation.
	maxBodySize = 10 * 1024 * 1024
)

// httpStep is one compiled HTTP call.
type httpStep struct {
	eng    *Engine
	method string
	spec   *stepSpec
}

// Name implements engine.Step.
func (s *httpStep) Name() string {
	return strings.ToLower(s.method) + " " + s.spec.URL
}

// Execute implements engine.Step. Failures are broadcast on the bus and
// returned so the scenario aborts.
func (s *httpStep) Execute(ctx context.Context, uc *engine.Context) error {
	if err := s.run(ctx, uc); err != nil {
		s.eng.debug.LogError(uc.UID(), err)
		s.eng.bus.Publish(telemetry.Error(engine.Reason(err)))
		return err
	}
	return nil
}

func (s *httpStep) run(ctx context.Context, uc *engine.Context) error {
	url, err := template.Substitute(s.spec.URL, uc.Vars)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if !strings.Contains(url, "://") {
		url = s.eng.base + "/" + strings.TrimPrefix(url, "/")
	}

	req, err := s.buildRequest(ctx, url, uc.Vars)
	if err != nil {
		return err
	}
	s.eng.debug.LogRequest(uc.UID(), req)

	s.eng.bus.Publish(telemetry.Request(s.method, url))
	started := time.Now()
	resp, err := s.eng.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", s.method, url, err)
	}
	elapsed := time.Since(started)

	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", s.method, url, err)
	}
	s.eng.debug.LogResponse(uc.UID(), resp, body, elapsed)

	s.eng.bus.Publish(telemetry.HTTPResponse(elapsed, resp.StatusCode, uc.UID()))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", s.method, url, resp.StatusCode)
	}
	return s.inspect(uc, url, body)
}

// buildRequest assembles the outgoing request, templating headers and
// the body form the step carries.
func (s *httpStep) buildRequest(ctx context.Context, url string, vars map[string]any) (*http.Request, error) {
	var body io.Reader
	contentType := ""
	switch {
	case s.spec.JSON != nil:
		data, err := template.Any(s.spec.JSON, vars)
		if err != nil {
			return nil, fmt.Errorf("json body: %w", err)
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("json body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case s.spec.Body != "":
		text, err := template.Substitute(s.spec.Body, vars)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		body = strings.NewReader(text)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", s.method, url, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, value := range s.spec.Headers {
		substituted, err := template.Substitute(value, vars)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", name, err)
		}
		req.Header.Set(name, substituted)
	}
	return req, nil
}

// inspect runs the step's capture and match rules over the response
// body and binds captured values into the user context.
func (s *httpStep) inspect(uc *engine.Context, url string, body []byte) error {
	if len(s.spec.Capture) == 0 && len(s.spec.Match) == 0 {
		return nil
	}

	matches := make([]capture.Match, len(s.spec.Match))
	for i, m := range s.spec.Match {
		value, err := template.Any(m.Value, uc.Vars)
		if err != nil {
			return fmt.Errorf("match %q: %w", m.JSON, err)
		}
		matches[i] = capture.Match{JSON: m.JSON, Value: value}
	}

	bindings, results, err := capture.Run(body, []capture.Capture(s.spec.Capture), matches)
	if err != nil {
		return fmt.Errorf("inspecting response of %s: %w", url, err)
	}
	failed := 0
	for _, r := range results {
		s.eng.bus.Publish(telemetry.Match(r.OK, r.Expected, r.Got, r.Expression))
		if !r.OK {
			failed++
		}
	}
	if failed > 0 {
		return &engine.MatchFailureError{Channel: url, Failed: failed, Total: len(results)}
	}
	for name, value := range bindings {
		uc.Vars[name] = value
	}
	uc.Vars["$"] = string(body)
	return nil
}

// readBody drains and closes the response body, keeping at most
// maxBodySize bytes.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	return body, nil
}
