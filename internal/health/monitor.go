// Package health maintains cached backend connectivity state behind a
// cascade of probe strategies.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/veles-ai/veles/internal/eventbus"
)

const (
	// DefaultFreshness is how long a successful check stays valid
	// without re-probing.
	DefaultFreshness = 30 * time.Second

	// Single-flight waiters poll the cached state at this interval, for
	// at most waitBudget, rather than starting a second probe.
	waitPoll   = 50 * time.Millisecond
	waitBudget = 500 * time.Millisecond
)

// State is a snapshot of the monitor's connection cache.
type State struct {
	Connected     bool
	Connecting    bool
	LastCheckedAt time.Time
}

// Monitor owns the ConnectionState: it is the only component that
// mutates connectivity, and it announces transitions on the event bus.
type Monitor struct {
	bus       *eventbus.Bus
	logger    hclog.Logger
	probes    []Probe
	freshness time.Duration
	now       func() time.Time

	// onConnected fires on each transition into connected, outside the
	// state lock. Failures are the callee's problem.
	onConnected func()

	mu            sync.Mutex
	connected     bool
	connecting    bool
	lastCheckedAt time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithBus attaches the event bus used for lifecycle and probe events.
func WithBus(bus *eventbus.Bus) MonitorOption {
	return func(m *Monitor) {
		m.bus = bus
	}
}

// WithLogger sets the monitor's logger.
func WithLogger(logger hclog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger.Named("health")
		}
	}
}

// WithFreshness overrides the cache freshness window.
func WithFreshness(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.freshness = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOnConnected registers the hook fired when the backend transitions
// into connected.
func WithOnConnected(hook func()) MonitorOption {
	return func(m *Monitor) {
		m.onConnected = hook
	}
}

// NewMonitor builds a monitor over the given probe cascade. Probes run
// in order; the first success wins.
func NewMonitor(probes []Probe, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		probes:    probes,
		logger:    hclog.NewNullLogger(),
		freshness: DefaultFreshness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a snapshot of the connection cache.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Connected:     m.connected,
		Connecting:    m.connecting,
		LastCheckedAt: m.lastCheckedAt,
	}
}

// Connected returns the cached connectivity without probing.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Check returns the backend's connectivity. Unless forced, a successful
// check within the freshness window is answered from cache. A check
// already in flight is never duplicated: the second caller waits
// briefly and returns the last known state.
func (m *Monitor) Check(ctx context.Context, force bool) bool {
	m.mu.Lock()
	if !force && m.connected && m.now().Sub(m.lastCheckedAt) < m.freshness {
		m.mu.Unlock()
		return true
	}
	if m.connecting {
		m.mu.Unlock()
		return m.awaitInFlight(ctx)
	}
	m.connecting = true
	m.mu.Unlock()

	healthy := m.probe(ctx)

	m.mu.Lock()
	m.connecting = false
	m.lastCheckedAt = m.now()
	changed := m.connected != healthy
	m.connected = healthy
	m.mu.Unlock()

	if changed {
		m.announce(healthy)
	}
	return healthy
}

// awaitInFlight polls the cached state while another caller's probe
// runs. Best effort: if the probe outlives the wait budget, the caller
// gets the pre-check value.
func (m *Monitor) awaitInFlight(ctx context.Context) bool {
	deadline := time.NewTimer(waitBudget)
	defer deadline.Stop()
	tick := time.NewTicker(waitPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.Connected()
		case <-deadline.C:
			return m.Connected()
		case <-tick.C:
			m.mu.Lock()
			inFlight := m.connecting
			connected := m.connected
			m.mu.Unlock()
			if !inFlight {
				return connected
			}
		}
	}
}

// probe runs the cascade. Every failure mode, panics included, reads as
// disconnected; a probe must never crash a caller.
func (m *Monitor) probe(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("probe panicked", "panic", r)
			healthy = false
		}
	}()

	for _, probe := range m.probes {
		err := probe.Check(ctx)
		eventbus.Publish(ctx, m.bus, eventbus.Health.Probe, eventbus.SourceHealthMonitor, eventbus.ProbeEvent{
			Strategy: probe.Name,
			Healthy:  err == nil,
			Detail:   errDetail(err),
		})
		if err == nil {
			m.logger.Debug("probe succeeded", "strategy", probe.Name)
			return true
		}
		m.logger.Debug("probe failed", "strategy", probe.Name, "error", err)

		select {
		case <-ctx.Done():
			return false
		default:
		}
	}
	return false
}

func (m *Monitor) announce(connected bool) {
	state := eventbus.LifecycleDisconnected
	if connected {
		state = eventbus.LifecycleConnected
	}
	m.logger.Info("connectivity changed", "connected", connected)
	eventbus.Publish(context.Background(), m.bus, eventbus.Bridge.Lifecycle, eventbus.SourceHealthMonitor, eventbus.LifecycleEvent{
		State:   state,
		Message: fmt.Sprintf("backend %s", state),
	})
	if connected && m.onConnected != nil {
		m.onConnected()
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
