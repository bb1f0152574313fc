package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArguments reports an emit with no channel or no live
// connection to send on.
var ErrInvalidArguments = errors.New("invalid arguments")

// ConnectionError reports a failed transport handshake.
type ConnectionError struct {
	Namespace string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to namespace %q: %v", e.Namespace, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DataValidationError reports a response body that failed the expected
// data equality check.
type DataValidationError struct {
	Channel string
}

func (e *DataValidationError) Error() string {
	return fmt.Sprintf("response on %q does not equal the expected data", e.Channel)
}

// Code implements the short telemetry reason.
func (e *DataValidationError) Code() string {
	return "data is not valid"
}

// MatchFailureError reports failed capture/match assertions.
type MatchFailureError struct {
	Channel string
	Failed  int
	Total   int
}

func (e *MatchFailureError) Error() string {
	return fmt.Sprintf("%d of %d assertions failed on %q", e.Failed, e.Total, e.Channel)
}

// Code implements the short telemetry reason.
func (e *MatchFailureError) Code() string {
	return "Failed match"
}

// ResponseTimeoutError reports an emit step whose expected responses did
// not all arrive within the deadline. Outstanding carries the channels
// still owed messages, for diagnostics.
type ResponseTimeoutError struct {
	After       time.Duration
	Outstanding map[string]int
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("expected responses missing after %s: %v", e.After, e.Outstanding)
}

// Code implements the short telemetry reason.
func (e *ResponseTimeoutError) Code() string {
	return "ResponseTimeout"
}

// Reason reduces an error to the short code broadcast on the telemetry
// bus, preferring an explicit code over the free-text message.
func Reason(err error) string {
	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	return err.Error()
}
