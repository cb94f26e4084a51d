package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	commandPath  = "/api/v1/command"
	maxErrorBody = 8 << 10
)

// commandRequest is the wire shape of one command invocation.
type commandRequest struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// HTTPTransport speaks the engine's JSON command API over HTTP.
type HTTPTransport struct {
	client      *http.Client
	baseURL     string
	token       string
	callTimeout time.Duration
	logger      hclog.Logger
	closed      atomic.Bool
}

// HTTPOption customises an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient overrides the underlying http.Client (primarily for tests
// and custom TLS setups).
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) HTTPOption {
	return func(t *HTTPTransport) {
		t.token = strings.TrimSpace(token)
	}
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.callTimeout = d
		}
	}
}

// WithHTTPLogger sets the logger used for request diagnostics.
func WithHTTPLogger(logger hclog.Logger) HTTPOption {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger.Named("transport.http")
		}
	}
}

// NewHTTPTransport builds an HTTP transport bound to baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		client:      &http.Client{},
		baseURL:     strings.TrimRight(baseURL, "/"),
		callTimeout: DefaultCallTimeout,
		logger:      hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL returns the configured base HTTP URL.
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

// Call posts the command to the engine and decodes the JSON response.
func (t *HTTPTransport) Call(ctx context.Context, backendName string, params map[string]any) (any, error) {
	if t.closed.Load() {
		return nil, &CallError{Command: backendName, Err: ErrClosed}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	body, err := json.Marshal(commandRequest{
		ID:      uuid.NewString(),
		Command: backendName,
		Params:  params,
	})
	if err != nil {
		return nil, &CallError{Command: backendName, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, t.baseURL+commandPath, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Command: backendName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	started := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &CallError{Command: backendName, Err: err}
	}
	defer resp.Body.Close()

	t.logger.Debug("command dispatched", "command", backendName, "status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{Command: backendName, Err: readAPIError(resp)}
	}

	var payload any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty body: surfaced as a nil payload so the engine can
			// classify it as a protocol anomaly.
			return nil, nil
		}
		return nil, &CallError{Command: backendName, Err: fmt.Errorf("decode response: %w", err)}
	}
	return payload, nil
}

// Close marks the transport closed and releases idle connections.
func (t *HTTPTransport) Close() error {
	t.closed.Store(true)
	t.client.CloseIdleConnections()
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
		// Fall back to returning the raw payload for diagnostics when parsing
		// fails or the server response omits the "error" field.
	}
	return errors.New(trimmed)
}
