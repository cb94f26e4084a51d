// Package transport implements the wire-level collaborators the bridge
// calls into: an HTTP command channel and a WebSocket command channel.
// Both speak the engine's envelope convention ({success, data|error})
// but leave envelope interpretation to the caller; a transport only
// distinguishes "the backend answered" from "the call never completed".
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCallTimeout bounds a single outbound command call. Every
// transport applies it uniformly so a stalled backend cannot pin a
// retry slot indefinitely.
const DefaultCallTimeout = 30 * time.Second

// ErrClosed indicates the transport has been shut down.
var ErrClosed = errors.New("transport: closed")

// Transport issues a named remote call with parameters and returns the
// decoded raw result. Implementations must be safe for concurrent use.
type Transport interface {
	// Call invokes backendName with params and returns the decoded
	// response payload, either a bare payload or an envelope map.
	// A returned error always means a transport-level failure; backend
	// failure envelopes are returned as payloads, not errors.
	Call(ctx context.Context, backendName string, params map[string]any) (any, error)

	// Close releases connection resources. Subsequent calls fail with ErrClosed.
	Close() error
}

// CallError wraps a transport-level failure with the command it belongs to.
type CallError struct {
	Command string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("transport: call %s: %v", e.Command, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
