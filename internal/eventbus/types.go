package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicBridgeLifecycle Topic = "bridge.lifecycle"
	TopicBridgeCommand   Topic = "bridge.command"
	TopicHealthProbe     Topic = "health.probe"
)

// Source describes which component produced an event.
type Source string

const (
	SourceBridge        Source = "bridge"
	SourceHealthMonitor Source = "health_monitor"
	SourceCapabilities  Source = "capabilities"
	SourceUnknown       Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// LifecycleState enumerates bridge lifecycle transitions.
type LifecycleState string

const (
	LifecycleInitialized         LifecycleState = "initialized"
	LifecycleInitializationError LifecycleState = "initialization_error"
	LifecycleConnected           LifecycleState = "connected"
	LifecycleDisconnected        LifecycleState = "disconnected"
)

// LifecycleEvent notifies consumers about bridge state transitions.
type LifecycleEvent struct {
	State   LifecycleState
	Message string
}

// CommandPhase marks where in its lifecycle a command notification fired.
type CommandPhase string

const (
	PhaseStart   CommandPhase = "start"
	PhaseSuccess CommandPhase = "success"
	PhaseError   CommandPhase = "error"
)

// ResultSource names the path that produced (or failed to produce) a result.
type ResultSource string

const (
	SourceImplementation ResultSource = "implementation"
	SourceBackend        ResultSource = "backend"
	SourceMock           ResultSource = "mock"
	SourceMockFallback   ResultSource = "mock-fallback"
	SourceConnection     ResultSource = "connection"
	SourceUnknownPath    ResultSource = "unknown"
	SourceCritical       ResultSource = "critical"
)

// CommandEvent carries per-command notifications: one start, then exactly
// one success or error for every ExecuteCommand invocation.
type CommandEvent struct {
	Phase   CommandPhase
	Command string
	Params  map[string]any
	Result  any
	Source  ResultSource
	Error   string
}

// ProbeEvent reports the outcome of an individual health probe strategy.
type ProbeEvent struct {
	Strategy string
	Healthy  bool
	Detail   string
}

// Bridge groups bridge topic descriptors.
var Bridge = struct {
	Lifecycle TopicDef[LifecycleEvent]
	Command   TopicDef[CommandEvent]
}{
	Lifecycle: NewTopicDef[LifecycleEvent](TopicBridgeLifecycle),
	Command:   NewTopicDef[CommandEvent](TopicBridgeCommand),
}

// Health groups health-monitor topic descriptors.
var Health = struct {
	Probe TopicDef[ProbeEvent]
}{
	Probe: NewTopicDef[ProbeEvent](TopicHealthProbe),
}
