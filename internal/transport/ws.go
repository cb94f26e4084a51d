package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const wsHandshakeTimeout = 10 * time.Second

// wsInbound is the wire shape of one response frame. Frames without an id
// (server-pushed notifications) are ignored by this transport.
type wsInbound struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSTransport multiplexes command calls over a single WebSocket
// connection, correlating responses by request id.
type WSTransport struct {
	conn        *websocket.Conn
	callTimeout time.Duration
	logger      hclog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wsResult
	closed  bool
	readErr error

	done chan struct{}
}

type wsResult struct {
	payload any
	err     error
}

// WSOption customises a WSTransport.
type WSOption func(*WSTransport)

// WithWSCallTimeout overrides the per-call timeout.
func WithWSCallTimeout(d time.Duration) WSOption {
	return func(t *WSTransport) {
		if d > 0 {
			t.callTimeout = d
		}
	}
}

// WithWSLogger sets the logger used for frame diagnostics.
func WithWSLogger(logger hclog.Logger) WSOption {
	return func(t *WSTransport) {
		if logger != nil {
			t.logger = logger.Named("transport.ws")
		}
	}
}

// DialWS establishes the WebSocket command channel at wsURL
// (e.g. ws://host:port/api/v1/commands) and starts the read loop.
func DialWS(ctx context.Context, wsURL, token string, opts ...WSOption) (*WSTransport, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout:  wsHandshakeTimeout,
		EnableCompression: true,
	}

	var header map[string][]string
	if token != "" {
		header = map[string][]string{"Authorization": {"Bearer " + token}}
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: websocket dial %s: %w (status %s)", wsURL, err, resp.Status)
		}
		return nil, fmt.Errorf("transport: websocket dial %s: %w", wsURL, err)
	}

	t := &WSTransport{
		conn:        conn,
		callTimeout: DefaultCallTimeout,
		logger:      hclog.NewNullLogger(),
		pending:     make(map[string]chan wsResult),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	go t.readLoop()
	return t, nil
}

// Call sends the command frame and waits for the correlated response.
func (t *WSTransport) Call(ctx context.Context, backendName string, params map[string]any) (any, error) {
	id := uuid.NewString()
	ch := make(chan wsResult, 1)

	t.mu.Lock()
	if t.closed {
		err := t.readErr
		t.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, &CallError{Command: backendName, Err: err}
	}
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	frame, err := json.Marshal(commandRequest{ID: id, Command: backendName, Params: params})
	if err != nil {
		return nil, &CallError{Command: backendName, Err: fmt.Errorf("encode request: %w", err)}
	}

	t.writeMu.Lock()
	err = t.conn.WriteMessage(websocket.TextMessage, frame)
	t.writeMu.Unlock()
	if err != nil {
		return nil, &CallError{Command: backendName, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &CallError{Command: backendName, Err: res.err}
		}
		return res.payload, nil
	case <-callCtx.Done():
		return nil, &CallError{Command: backendName, Err: callCtx.Err()}
	case <-t.done:
		t.mu.Lock()
		err := t.readErr
		t.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, &CallError{Command: backendName, Err: err}
	}
}

func (t *WSTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.failAll(err)
			return
		}

		var inbound wsInbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			t.logger.Warn("discarding undecodable frame", "error", err)
			continue
		}
		if inbound.ID == "" {
			// Server-pushed notification, not a call response.
			continue
		}

		var payload any
		if len(inbound.Payload) > 0 {
			dec := json.NewDecoder(bytes.NewReader(inbound.Payload))
			dec.UseNumber()
			if err := dec.Decode(&payload); err != nil {
				t.dispatch(inbound.ID, wsResult{err: fmt.Errorf("decode payload: %w", err)})
				continue
			}
		}
		t.dispatch(inbound.ID, wsResult{payload: payload})
	}
}

func (t *WSTransport) dispatch(id string, res wsResult) {
	t.mu.Lock()
	ch, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("response for unknown request id", "id", id)
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// failAll marks the transport closed and unblocks every pending call.
func (t *WSTransport) failAll(err error) {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		t.readErr = err
		close(t.done)
	}
	t.mu.Unlock()
}

// Close shuts down the connection; pending calls fail with ErrClosed.
func (t *WSTransport) Close() error {
	t.failAll(ErrClosed)
	return t.conn.Close()
}
