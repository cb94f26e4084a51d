// Package mock serves synthetic command results when the backend path is
// unavailable or explicitly bypassed. Results mirror the field names real
// handlers return, so callers never need to know which path served them.
package mock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// NoHandlerError reports a command with no synthetic handler.
type NoHandlerError struct {
	Command string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("mock: no handler for command %q", e.Command)
}

// Handler produces a synthetic result for one logical command.
type Handler func(params map[string]any) (any, error)

// lenientCommands receive a generic success instead of NoHandlerError.
// These are state-toggling commands whose real results carry no payload
// a caller would inspect beyond the success flag.
var lenientCommands = map[string]bool{
	"pause_agent":  true,
	"resume_agent": true,
	"delete_agent": true,
	"update_agent": true,
}

// Responder is the keyed table of synthetic handlers.
type Responder struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   hclog.Logger
	now      func() time.Time
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithLogger sets the responder's logger.
func WithLogger(logger hclog.Logger) ResponderOption {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger.Named("mock")
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ResponderOption {
	return func(r *Responder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithHandler registers or replaces the handler for one command.
func WithHandler(command string, handler Handler) ResponderOption {
	return func(r *Responder) {
		r.handlers[command] = handler
	}
}

// NewResponder builds a responder with the builtin handler set.
func NewResponder(opts ...ResponderOption) *Responder {
	r := &Responder{
		handlers: make(map[string]Handler),
		logger:   hclog.NewNullLogger(),
		now:      time.Now,
	}
	r.registerBuiltins()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a handler after construction. Scripted
// handlers loaded from disk land here.
func (r *Responder) Register(command string, handler Handler) {
	r.mu.Lock()
	r.handlers[command] = handler
	r.mu.Unlock()
}

// Has reports whether a handler exists for command.
func (r *Responder) Has(command string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[command]
	return ok || lenientCommands[command]
}

// Execute runs the handler for command. Commands without a handler fail
// with NoHandlerError unless they are on the leniency list.
func (r *Responder) Execute(command string, params map[string]any) (any, error) {
	r.mu.RLock()
	handler, ok := r.handlers[command]
	r.mu.RUnlock()

	if !ok {
		if lenientCommands[command] {
			r.logger.Debug("serving generic success", "command", command)
			return map[string]any{"success": true}, nil
		}
		return nil, &NoHandlerError{Command: command}
	}
	return handler(params)
}

func (r *Responder) registerBuiltins() {
	r.handlers["list_agents"] = r.listAgents
	r.handlers["create_agent"] = r.createAgent
	r.handlers["get_agent_status"] = r.agentStatus
	r.handlers["execute_agent_task"] = r.executeTask
	r.handlers["list_swarms"] = r.listSwarms
	r.handlers["create_swarm"] = r.createSwarm
	r.handlers["get_system_overview"] = r.systemOverview
	r.handlers["health_check"] = r.healthCheck
	r.handlers["get_metrics"] = r.metrics
}

// agentStatuses is indexed by checksum so a given identifier always maps
// to the same entry.
var agentStatuses = []string{"running", "idle", "paused", "error"}

// checksum is a rolling sum over the identifying string. It only needs to
// be stable, not collision-resistant.
func checksum(s string) int {
	sum := 0
	for _, r := range s {
		sum = (sum*31 + int(r)) & 0x7fffffff
	}
	return sum
}

func derivedStatus(id string) string {
	return agentStatuses[checksum(id)%len(agentStatuses)]
}

func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (r *Responder) listAgents(params map[string]any) (any, error) {
	return map[string]any{
		"agents": []any{
			map[string]any{
				"id":     "mock-agent-1",
				"name":   "Trading Assistant",
				"type":   1,
				"status": derivedStatus("mock-agent-1"),
			},
			map[string]any{
				"id":     "mock-agent-2",
				"name":   "Market Monitor",
				"type":   2,
				"status": derivedStatus("mock-agent-2"),
			},
		},
		"total": 2,
	}, nil
}

func (r *Responder) createAgent(params map[string]any) (any, error) {
	id := stringParam(params, "id")
	if id == "" {
		id = "mock-" + uuid.NewString()
	}
	name := stringParam(params, "name")
	return map[string]any{
		"id":         id,
		"name":       name,
		"type":       params["type"],
		"status":     "idle",
		"created_at": r.now().UTC().Format(time.RFC3339),
	}, nil
}

func (r *Responder) agentStatus(params map[string]any) (any, error) {
	id := stringParam(params, "agent_id", "id")
	if id == "" {
		return nil, &NoHandlerError{Command: "get_agent_status"}
	}
	return map[string]any{
		"id":              id,
		"status":          derivedStatus(id),
		"uptime_seconds":  checksum(id) % 86400,
		"tasks_completed": checksum(id) % 1000,
	}, nil
}

func (r *Responder) executeTask(params map[string]any) (any, error) {
	return map[string]any{
		"task_id": "mock-task-" + uuid.NewString(),
		"status":  "queued",
	}, nil
}

func (r *Responder) listSwarms(params map[string]any) (any, error) {
	return map[string]any{
		"swarms": []any{
			map[string]any{
				"id":     "mock-swarm-1",
				"name":   "Research Cluster",
				"agents": 3,
				"status": derivedStatus("mock-swarm-1"),
			},
		},
		"total": 1,
	}, nil
}

func (r *Responder) createSwarm(params map[string]any) (any, error) {
	return map[string]any{
		"id":     "mock-" + uuid.NewString(),
		"name":   stringParam(params, "name"),
		"status": "forming",
	}, nil
}

func (r *Responder) systemOverview(params map[string]any) (any, error) {
	return map[string]any{
		"modules": map[string]any{
			"agents": true,
			"swarms": true,
			"system": true,
		},
		"agents_total": 2,
		"swarms_total": 1,
		"mode":         "mock",
	}, nil
}

func (r *Responder) healthCheck(params map[string]any) (any, error) {
	return map[string]any{
		"status":    "healthy",
		"mode":      "mock",
		"timestamp": r.now().UTC().Format(time.RFC3339),
	}, nil
}

func (r *Responder) metrics(params map[string]any) (any, error) {
	return map[string]any{
		"commands_served": 0,
		"mode":            "mock",
		"uptime_seconds":  0,
	}, nil
}
