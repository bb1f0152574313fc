// Package telemetry distributes engine events to observers. Virtual users
// publish fire-and-forget events (started, request, response, match, error)
// and sinks such as the summary reporter subscribe to the stream.
package telemetry

import "time"

// Kind identifies the type of an engine event.
type Kind string

const (
	// KindStarted is published once per scenario run, before the first step.
	KindStarted Kind = "started"

	// KindRequest is published for every outgoing message, including nested
	// emits triggered by responses.
	KindRequest Kind = "request"

	// KindResponse is published when an emit step completes successfully,
	// carrying the elapsed time since step entry.
	KindResponse Kind = "response"

	// KindMatch is published once per capture/match assertion evaluated
	// against a response body.
	KindMatch Kind = "match"

	// KindError is published once per failing step with a short reason.
	KindError Kind = "error"
)

// Event is a single engine observation. Only the fields relevant to its
// Kind are populated.
type Event struct {
	Kind Kind
	Time time.Time

	// Request fields.
	Channel   string
	Namespace string

	// Response fields.
	Elapsed       time.Duration
	StatusCode    int
	CorrelationID string

	// Match fields.
	Success    bool
	Expected   any
	Got        any
	Expression string

	// Error fields.
	Reason string
}

// Started builds a scenario-start event.
func Started() Event {
	return Event{Kind: KindStarted, Time: time.Now()}
}

// Request builds an outgoing-message event.
func Request(channel, namespace string) Event {
	return Event{Kind: KindRequest, Time: time.Now(), Channel: channel, Namespace: namespace}
}

// Response builds a step-completion event. The status code is always zero
// for channel messages; it exists so HTTP-delegated steps can share the
// event shape.
func Response(elapsed time.Duration, correlationID string) Event {
	return Event{Kind: KindResponse, Time: time.Now(), Elapsed: elapsed, StatusCode: 0, CorrelationID: correlationID}
}

// HTTPResponse builds a completion event for a delegated request step.
func HTTPResponse(elapsed time.Duration, statusCode int, correlationID string) Event {
	return Event{Kind: KindResponse, Time: time.Now(), Elapsed: elapsed, StatusCode: statusCode, CorrelationID: correlationID}
}

// Match builds a per-assertion event.
func Match(success bool, expected, got any, expression string) Event {
	return Event{Kind: KindMatch, Time: time.Now(), Success: success, Expected: expected, Got: got, Expression: expression}
}

// Error builds a step-failure event.
func Error(reason string) Event {
	return Event{Kind: KindError, Time: time.Now(), Reason: reason}
}
