package cli

import "fmt"

const (
	exitSuccess  = 0
	exitFailures = 1
	exitRuntime  = 2
)

// ExitError carries a process exit code up to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
