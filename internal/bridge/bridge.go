// Package bridge orchestrates command execution against a remote agent
// backend, degrading to synthetic results when the backend is
// unreachable.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/veles-ai/veles/internal/capability"
	"github.com/veles-ai/veles/internal/command"
	"github.com/veles-ai/veles/internal/eventbus"
	"github.com/veles-ai/veles/internal/health"
	"github.com/veles-ai/veles/internal/mock"
	"github.com/veles-ai/veles/internal/observability"
	"github.com/veles-ai/veles/internal/transport"
)

// Bridge is the execution engine. One instance per backend session; safe
// for concurrent calls.
type Bridge struct {
	transport transport.Transport
	mapping   *command.Mapping
	registry  *Registry
	mocks     *mock.Responder
	monitor   *health.Monitor
	caps      *capability.Cache
	bus       *eventbus.Bus
	ownsBus   bool
	events    *observability.EventCounter
	logger    hclog.Logger
	defaults  ExecOptions

	// Monitor construction inputs, used only when the bridge owns its
	// monitor.
	probes    []health.Probe
	freshness time.Duration

	// sleep is swapped out by tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error

	closed atomic.Bool
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

// WithLogger sets the bridge logger; component loggers derive from it.
func WithLogger(logger hclog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger.Named("bridge")
		}
	}
}

// WithBus attaches an externally owned event bus. Without it the bridge
// creates and owns its own.
func WithBus(bus *eventbus.Bus) Option {
	return func(b *Bridge) {
		b.bus = bus
	}
}

// WithMapping replaces the default command mapping.
func WithMapping(m *command.Mapping) Option {
	return func(b *Bridge) {
		b.mapping = m
	}
}

// WithRegistry installs real implementations for specific commands.
func WithRegistry(r *Registry) Option {
	return func(b *Bridge) {
		b.registry = r
	}
}

// WithMockResponder replaces the default mock responder.
func WithMockResponder(r *mock.Responder) Option {
	return func(b *Bridge) {
		b.mocks = r
	}
}

// WithMonitor installs a pre-built health monitor. The caller is then
// responsible for wiring its transition hook.
func WithMonitor(m *health.Monitor) Option {
	return func(b *Bridge) {
		b.monitor = m
	}
}

// WithProbes sets the probe cascade for the bridge-owned monitor.
// Ignored when WithMonitor is used.
func WithProbes(probes []health.Probe) Option {
	return func(b *Bridge) {
		b.probes = probes
	}
}

// WithFreshness sets the health cache freshness window for the
// bridge-owned monitor.
func WithFreshness(d time.Duration) Option {
	return func(b *Bridge) {
		b.freshness = d
	}
}

// WithDefaults overrides the per-call option defaults.
func WithDefaults(defaults ExecOptions) Option {
	return func(b *Bridge) {
		b.defaults = defaults
	}
}

// New builds a bridge over transport. The transport must already be
// constructed; a nil transport is an initialization error.
func New(t transport.Transport, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		transport: t,
		logger:    hclog.NewNullLogger(),
		defaults: ExecOptions{
			FallbackToMock: true,
			MaxRetries:     DefaultMaxRetries,
			RetryDelay:     DefaultRetryDelay,
		},
		freshness: health.DefaultFreshness,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(b)
	}

	if t == nil {
		err := newError(KindInitialization, "", "transport is required", nil)
		if b.bus != nil {
			eventbus.Publish(context.Background(), b.bus, eventbus.Bridge.Lifecycle, eventbus.SourceBridge, eventbus.LifecycleEvent{
				State:   eventbus.LifecycleInitializationError,
				Message: err.Message,
			})
		}
		return nil, err
	}

	if b.bus == nil {
		b.bus = eventbus.New(eventbus.WithLogger(b.logger))
		b.ownsBus = true
	}
	b.events = observability.NewEventCounter()
	b.bus.RegisterObserver(b.events)
	if b.mapping == nil {
		b.mapping = command.NewMapping(command.WithLogger(b.logger))
	}
	if b.registry == nil {
		b.registry = NewRegistry()
	}
	if b.mocks == nil {
		b.mocks = mock.NewResponder(mock.WithLogger(b.logger))
	}

	// Capability probes must never be satisfied by the mock responder:
	// a fallback overview would advertise modules the backend never
	// reported. Failures are swallowed by the cache and leave it empty.
	b.caps = capability.NewCache(func(ctx context.Context) (any, error) {
		return b.ExecuteCommand(ctx, "get_system_overview", nil, WithFallbackToMock(false))
	}, capability.WithLogger(b.logger))

	if b.monitor == nil {
		probes := b.probes
		if len(probes) == 0 {
			probes = []health.Probe{health.NewTransportProbe(t)}
		}
		b.monitor = health.NewMonitor(probes,
			health.WithBus(b.bus),
			health.WithLogger(b.logger),
			health.WithFreshness(b.freshness),
			health.WithOnConnected(b.onConnected),
		)
	}

	eventbus.Publish(context.Background(), b.bus, eventbus.Bridge.Lifecycle, eventbus.SourceBridge, eventbus.LifecycleEvent{
		State:   eventbus.LifecycleInitialized,
		Message: "bridge initialized",
	})
	return b, nil
}

// onConnected runs on each transition into connected: capabilities go
// stale across reconnects, so re-probe them.
func (b *Bridge) onConnected() {
	b.caps.MarkStale()
	go b.caps.Refresh(context.Background())
}

// Bus exposes the bridge's event bus for lifecycle observers.
func (b *Bridge) Bus() *eventbus.Bus {
	return b.bus
}

// Registry exposes the real-implementation table.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Mocks exposes the mock responder, e.g. for loading scripted handlers.
func (b *Bridge) Mocks() *mock.Responder {
	return b.mocks
}

// EventCounts returns per-topic totals of events published so far.
func (b *Bridge) EventCounts() map[eventbus.Topic]uint64 {
	return b.events.Snapshot()
}

// CheckConnection probes (or reads cached) backend connectivity.
func (b *Bridge) CheckConnection(ctx context.Context, force bool) bool {
	return b.monitor.Check(ctx, force)
}

// HasCapability reports whether the backend advertises the named module.
func (b *Bridge) HasCapability(name string) bool {
	return b.caps.Has(name)
}

// Capabilities returns the advertised module names.
func (b *Bridge) Capabilities() []string {
	return b.caps.Names()
}

// RefreshCapabilities forces a capability re-probe.
func (b *Bridge) RefreshCapabilities(ctx context.Context) {
	b.caps.Refresh(ctx)
}

// ConnectionStatusString renders the connection cache for humans.
func (b *Bridge) ConnectionStatusString() string {
	state := b.monitor.State()
	switch {
	case state.Connecting:
		return "connecting"
	case state.Connected:
		return fmt.Sprintf("connected (checked %s ago)", time.Since(state.LastCheckedAt).Round(time.Second))
	case state.LastCheckedAt.IsZero():
		return "disconnected (never checked)"
	default:
		return fmt.Sprintf("disconnected (checked %s ago)", time.Since(state.LastCheckedAt).Round(time.Second))
	}
}

// Shutdown releases the transport and, when bridge-owned, the bus.
func (b *Bridge) Shutdown() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := b.transport.Close()
	if b.ownsBus {
		b.bus.Shutdown()
	}
	return err
}

// ExecuteCommand runs one logical command and returns its unwrapped
// payload or a classified error. Each failed call emits exactly one
// command_error event; each successful call exactly one command_success.
func (b *Bridge) ExecuteCommand(ctx context.Context, name string, params any, opts ...ExecOption) (result any, err error) {
	options := b.resolveOptions(opts)
	// One correlation id per call; every event of this call carries it.
	cid := uuid.NewString()

	defer func() {
		// Last-ditch guard: nothing below this API may leak a panic or
		// an untyped error to callers.
		if r := recover(); r != nil {
			bridgeErr := newError(KindConnection, name, fmt.Sprintf("internal failure: %v", r), nil)
			b.logger.Error("command panicked", "command", name, "panic", r)
			b.emitError(ctx, cid, name, nil, bridgeErr, eventbus.SourceCritical)
			result, err = nil, bridgeErr
		}
	}()

	backendName := b.mapping.Map(name)
	normalized, err := b.mapping.Normalize(name, params)
	if err != nil {
		// Validation failures are deterministic: never retried.
		bridgeErr := classify(err, KindCommand, name)
		b.emitError(ctx, cid, name, nil, bridgeErr, eventbus.SourceUnknownPath)
		return nil, bridgeErr
	}
	callParams := asParams(normalized)

	b.emit(ctx, cid, eventbus.CommandEvent{
		Phase:   eventbus.PhaseStart,
		Command: name,
		Params:  callParams,
	})

	result, source, runErr := b.run(ctx, name, backendName, callParams, options)
	if runErr != nil {
		bridgeErr := classify(runErr, KindConnection, name)
		b.emitError(ctx, cid, name, callParams, bridgeErr, source)
		return nil, bridgeErr
	}

	b.emit(ctx, cid, eventbus.CommandEvent{
		Phase:   eventbus.PhaseSuccess,
		Command: name,
		Params:  callParams,
		Result:  result,
		Source:  source,
	})
	return result, nil
}

// run selects the execution path and produces a result without emitting
// terminal command events; ExecuteCommand owns those.
func (b *Bridge) run(ctx context.Context, logical, backendName string, params map[string]any, options ExecOptions) (any, eventbus.ResultSource, error) {
	// Mock-only means mock-only: no fallback beyond it.
	if options.UseMockOnly {
		result, err := b.mocks.Execute(logical, params)
		if err != nil {
			return nil, eventbus.SourceMock, b.mockError(logical, err)
		}
		return result, eventbus.SourceMock, nil
	}

	// Real path preferred when a handler is registered.
	if handler, ok := b.registry.Lookup(logical); ok {
		result, err := handler(ctx, params)
		if err == nil {
			return result, eventbus.SourceImplementation, nil
		}
		connected := b.monitor.Connected()
		backendReported := IsKind(err, KindBackend)
		if connected || backendReported {
			if options.FallbackToMock {
				return b.mockFallback(ctx, logical, params, err)
			}
			kind := KindBackend
			if !backendReported {
				kind = KindConnection
			}
			return nil, eventbus.SourceImplementation, classify(err, kind, logical)
		}
		// Transport failure while disconnected: give the connection a
		// chance to be re-established before giving up.
		b.logger.Debug("real handler failed while disconnected", "command", logical, "error", err)
	}

	// Connection gate.
	if !b.monitor.Connected() && !b.monitor.Check(ctx, false) {
		if options.FallbackToMock {
			result, source, err := b.mockFallback(ctx, logical, params, nil)
			if err == nil {
				source = eventbus.SourceMock
			}
			return result, source, err
		}
		return nil, eventbus.SourceConnection,
			newError(KindConnection, logical, fmt.Sprintf("backend unreachable for command %q", logical), nil)
	}

	result, err := b.retryLoop(ctx, logical, backendName, params, options)
	if err == nil {
		return result, eventbus.SourceBackend, nil
	}
	if options.FallbackToMock {
		return b.mockFallback(ctx, logical, params, err)
	}
	return nil, eventbus.SourceBackend, err
}

// retryLoop drives the bounded transport attempts with linear backoff.
// It returns the last observed error once attempts are exhausted.
func (b *Bridge) retryLoop(ctx context.Context, logical, backendName string, params map[string]any, options ExecOptions) (any, error) {
	attempts := options.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := b.sleep(ctx, options.RetryDelay*time.Duration(attempt-1)); err != nil {
				return nil, classify(err, KindConnection, logical)
			}
		}

		raw, err := b.transport.Call(ctx, backendName, params)
		if err != nil {
			lastErr = classify(err, KindConnection, logical)
			b.logger.Warn("transport attempt failed", "command", logical, "attempt", attempt, "error", err)
			continue
		}
		if raw == nil {
			// Protocol anomaly, not a definitive failure.
			lastErr = newError(KindBackend, logical, "backend returned empty result", nil)
			b.logger.Warn("empty result from backend", "command", logical, "attempt", attempt)
			continue
		}

		payload, backendErr := unwrapEnvelope(raw, logical)
		if backendErr != nil {
			lastErr = backendErr
			b.logger.Warn("backend reported failure", "command", logical, "attempt", attempt, "error", backendErr)
			continue
		}
		return payload, nil
	}

	if lastErr == nil {
		lastErr = newError(KindConnection, logical, "no attempt ran", nil)
	}
	return nil, lastErr
}

// mockFallback serves the command from the mock responder after the
// authoritative path failed. cause, when present, is only logged; the
// caller deliberately swallows it.
func (b *Bridge) mockFallback(ctx context.Context, logical string, params map[string]any, cause error) (any, eventbus.ResultSource, error) {
	if cause != nil {
		b.logger.Info("falling back to mock", "command", logical, "cause", cause)
	}
	result, err := b.mocks.Execute(logical, params)
	if err != nil {
		return nil, eventbus.SourceMockFallback, b.mockError(logical, err)
	}
	return result, eventbus.SourceMockFallback, nil
}

// mockError folds responder failures into the bridge taxonomy.
func (b *Bridge) mockError(logical string, err error) *Error {
	var noHandler *mock.NoHandlerError
	if errors.As(err, &noHandler) {
		return newError(KindMockUnavailable, logical, err.Error(), err)
	}
	return classify(err, KindMockUnavailable, logical)
}

// unwrapEnvelope extracts the payload from {success, data|error}
// wrappers. A {success:false} or a bare {error} without success:true is
// a backend-reported failure.
func unwrapEnvelope(raw any, logical string) (any, *Error) {
	envelope, ok := raw.(map[string]any)
	if !ok {
		return raw, nil
	}

	success, hasSuccess := envelope["success"].(bool)
	errMsg, hasErr := envelope["error"].(string)

	if hasSuccess && !success {
		msg := errMsg
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, newError(KindBackend, logical, msg, nil)
	}
	if !hasSuccess && hasErr && errMsg != "" {
		return nil, newError(KindBackend, logical, errMsg, nil)
	}
	if hasSuccess && success {
		if data, ok := envelope["data"]; ok {
			return data, nil
		}
	}
	return raw, nil
}

// asParams coerces normalized params into the transport's map shape.
func asParams(v any) map[string]any {
	switch p := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return p
	default:
		return map[string]any{"args": p}
	}
}

func (b *Bridge) emit(ctx context.Context, cid string, event eventbus.CommandEvent) {
	eventbus.PublishWithOpts(ctx, b.bus, eventbus.Bridge.Command, eventbus.SourceBridge, event,
		eventbus.WithCorrelationID(cid))
}

func (b *Bridge) emitError(ctx context.Context, cid, name string, params map[string]any, err *Error, source eventbus.ResultSource) {
	if source == "" {
		source = eventbus.SourceUnknownPath
	}
	b.emit(ctx, cid, eventbus.CommandEvent{
		Phase:   eventbus.PhaseError,
		Command: name,
		Params:  params,
		Source:  source,
		Error:   err.Error(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
