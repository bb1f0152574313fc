package engine

import (
	"context"
	"encoding/json"
	"time"

	"sockdrill/internal/capture"
	"sockdrill/internal/config"
	"sockdrill/internal/hooks"
	"sockdrill/internal/telemetry"
	"sockdrill/internal/template"
	"sockdrill/internal/transport"
)

// emitStep sends one message and, when a response tree is declared,
// waits until every expected reply arrived or the deadline passed.
// Compiled steps are immutable: every run shares them across users, so
// all mutable state lives in the Context and in locals.
type emitStep struct {
	eng  *Engine
	spec *config.EmitSpec

	scenarioBefore []string
	scenarioAfter  []string
	stepBefore     []string
	stepAfter      []string
}

func (s *emitStep) Name() string {
	return "emit " + s.spec.Channel
}

func (s *emitStep) Execute(ctx context.Context, uc *Context) error {
	started := time.Now()
	if err := s.run(ctx, uc); err != nil {
		s.eng.bus.Publish(telemetry.Error(Reason(err)))
		s.eng.log.Debug("emit failed", "channel", s.spec.Channel, "user", uc.UID(), "err", err)
		return err
	}
	s.eng.bus.Publish(telemetry.Response(time.Since(started), uc.UID()))
	return nil
}

func (s *emitStep) run(ctx context.Context, uc *Context) error {
	namespace, err := template.Substitute(s.spec.Namespace, uc.Vars)
	if err != nil {
		return err
	}
	if namespace == "" {
		namespace = "/"
	}
	conn, err := s.eng.connect(ctx, uc, namespace)
	if err != nil {
		return err
	}

	payload, err := s.prepare(ctx, uc, s.spec, s.beforeLists(s.spec))
	if err != nil {
		return err
	}
	channel, data := payloadParts(payload)
	if channel == "" || conn == nil {
		return ErrInvalidArguments
	}

	// The full tree is armed before the send so no reply can race
	// ahead of its registration.
	var tr *tree
	if s.spec.Response != nil {
		tr, err = armTree(conn, s.spec, uc.Vars)
		if err != nil {
			return err
		}
		if tr.empty() {
			tr = nil
		} else {
			uc.expected = tr.counts
			defer tr.close()
		}
	}

	var dog *watchdog
	if tr != nil {
		dog = newWatchdog(s.eng.timeout)
		defer dog.Stop()
	}

	if err := conn.Emit(channel, data); err != nil {
		return err
	}
	s.eng.bus.Publish(telemetry.Request(channel, namespace))

	if tr == nil {
		// Zero expected responses: complete on send. The afterResponse
		// hooks still run, over the outgoing payload.
		return hooks.Run(ctx, s.eng.hooks, s.afterLists(s.spec), payload, uc.Vars, s.eng.bus)
	}

	for !tr.complete() {
		select {
		case msg := <-tr.inbox:
			if tr.counts[msg.channel] <= 0 {
				continue
			}
			tr.decrement(msg.channel)
			if err := s.processArrival(ctx, uc, tr, namespace, msg); err != nil {
				return err
			}
		case <-dog.C():
			return &ResponseTimeoutError{After: s.eng.timeout, Outstanding: tr.outstanding()}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// processArrival handles one matched reply: equality check, capture and
// match assertions, afterResponse hooks, then any nested emit.
func (s *emitStep) processArrival(ctx context.Context, uc *Context, tr *tree, namespace string, msg arrival) error {
	b := tr.bindings[msg.channel]

	if b.spec.Data != nil {
		expected, err := template.Any(b.spec.Data, uc.Vars)
		if err != nil {
			return err
		}
		if !capture.Equal(expected, msg.data) {
			return &DataValidationError{Channel: msg.channel}
		}
	}

	if len(b.spec.Capture) > 0 || len(b.spec.Match) > 0 {
		if err := s.captureAndMatch(uc, b.spec, msg); err != nil {
			return err
		}
	}

	payload := map[string]any{"channel": msg.channel, "data": msg.data}
	if err := hooks.Run(ctx, s.eng.hooks, s.afterLists(b.owner), payload, uc.Vars, s.eng.bus); err != nil {
		return err
	}

	if b.spec.Emit != nil {
		return s.sendNested(ctx, uc, tr.conn, namespace, b.spec.Emit)
	}
	return nil
}

// captureAndMatch runs the response's capture and match rules over the
// arrival. Every assertion publishes a match event, success or failure,
// before any failure is raised. On full success the bindings land in
// the user's vars, the raw body is bound to "$", and the success count
// advances.
func (s *emitStep) captureAndMatch(uc *Context, spec *config.ResponseSpec, msg arrival) error {
	body, err := json.Marshal(msg.data)
	if err != nil {
		return err
	}

	matches := make([]capture.Match, len(spec.Match))
	for i, m := range spec.Match {
		value, err := template.Any(m.Value, uc.Vars)
		if err != nil {
			return err
		}
		matches[i] = capture.Match{JSON: m.JSON, Value: value}
	}

	bindings, results, err := capture.Run(body, []capture.Capture(spec.Capture), matches)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		s.eng.bus.Publish(telemetry.Match(r.OK, r.Expected, r.Got, r.Expression))
		if !r.OK {
			failed++
		}
	}
	if failed > 0 {
		return &MatchFailureError{Channel: msg.channel, Failed: failed, Total: len(results)}
	}

	for name, value := range bindings {
		uc.Vars[name] = value
	}
	uc.Vars["$"] = string(body)
	uc.successCount++
	return nil
}

// sendNested fires the emit attached to a matched response. It reuses
// the step's connection and publishes its own request event; its
// expected responses were already armed with the rest of the tree.
func (s *emitStep) sendNested(ctx context.Context, uc *Context, conn transport.Conn, namespace string, spec *config.EmitSpec) error {
	payload, err := s.prepare(ctx, uc, spec, s.beforeLists(spec))
	if err != nil {
		return err
	}
	channel, data := payloadParts(payload)
	if channel == "" || conn == nil {
		return ErrInvalidArguments
	}
	if err := conn.Emit(channel, data); err != nil {
		return err
	}
	s.eng.bus.Publish(telemetry.Request(channel, namespace))

	if spec.Response == nil || spec.Response.Channel == "" {
		return hooks.Run(ctx, s.eng.hooks, s.afterLists(spec), payload, uc.Vars, s.eng.bus)
	}
	return nil
}

// prepare builds an outgoing payload: template the channel and data, run
// the beforeRequest hooks over the result, then template once more in
// case a hook introduced fresh placeholders.
func (s *emitStep) prepare(ctx context.Context, uc *Context, spec *config.EmitSpec, before []string) (map[string]any, error) {
	channel, err := template.Substitute(spec.Channel, uc.Vars)
	if err != nil {
		return nil, err
	}
	data, err := template.Any(spec.Data, uc.Vars)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"channel": channel, "data": data}

	if err := hooks.Run(ctx, s.eng.hooks, before, payload, uc.Vars, s.eng.bus); err != nil {
		return nil, err
	}

	templated, err := template.Any(payload, uc.Vars)
	if err != nil {
		return nil, err
	}
	if m, ok := templated.(map[string]any); ok {
		return m, nil
	}
	return payload, nil
}

// beforeLists concatenates the beforeRequest hook lists that apply to an
// emit: scenario-wide first, then the step wrapper's (for the step's own
// emit only), then the emit's.
func (s *emitStep) beforeLists(owner *config.EmitSpec) []string {
	lists := make([]string, 0, len(s.scenarioBefore)+len(s.stepBefore)+len(owner.BeforeRequest))
	lists = append(lists, s.scenarioBefore...)
	if owner == s.spec {
		lists = append(lists, s.stepBefore...)
	}
	return append(lists, owner.BeforeRequest...)
}

// afterLists is the afterResponse counterpart of beforeLists.
func (s *emitStep) afterLists(owner *config.EmitSpec) []string {
	lists := make([]string, 0, len(s.scenarioAfter)+len(s.stepAfter)+len(owner.AfterResponse))
	lists = append(lists, s.scenarioAfter...)
	if owner == s.spec {
		lists = append(lists, s.stepAfter...)
	}
	return append(lists, owner.AfterResponse...)
}

// payloadParts splits a prepared payload back into channel and data,
// parsing serialized-string data into structured form when it is valid
// JSON.
func payloadParts(payload map[string]any) (string, any) {
	channel, _ := payload["channel"].(string)
	data := payload["data"]
	if str, ok := data.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(str), &parsed); err == nil {
			data = parsed
		}
	}
	return channel, data
}
