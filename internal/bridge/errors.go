package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge failure. Callers match on Kind instead of
// parsing messages.
type Kind string

const (
	// KindConnection: the backend was unreachable and mock fallback was
	// disallowed or exhausted.
	KindConnection Kind = "connection"
	// KindBackend: the backend explicitly reported a failure.
	KindBackend Kind = "backend"
	// KindCommand: the command or its parameters were malformed. Never
	// retried.
	KindCommand Kind = "command"
	// KindInitialization: the underlying transport failed to start.
	KindInitialization Kind = "initialization"
	// KindMockUnavailable: no synthetic handler exists for the command.
	KindMockUnavailable Kind = "mock_unavailable"
)

// Error is the single error type the bridge surfaces to callers.
type Error struct {
	Kind    Kind
	Command string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("bridge: %s: %s: %s", e.Kind, e.Command, e.Message)
	}
	return fmt.Sprintf("bridge: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if bridgeErr, ok := AsError(err); ok {
		return bridgeErr.Kind == kind
	}
	return false
}

func newError(kind Kind, command, message string, cause error) *Error {
	return &Error{Kind: kind, Command: command, Message: message, Err: cause}
}

// classify wraps err into the bridge taxonomy if it is not already a
// *Error, so callers only ever observe one error shape.
func classify(err error, kind Kind, command string) *Error {
	if bridgeErr, ok := AsError(err); ok {
		return bridgeErr
	}
	return newError(kind, command, err.Error(), err)
}
