// Package command translates public bridge command names and parameters
// into the shapes the backend engine expects.
package command

import (
	"github.com/hashicorp/go-hclog"

	maputil "github.com/veles-ai/veles/internal/util/maps"
)

// Mapping resolves public command names to backend command names and
// applies command-specific parameter normalization. The zero value is
// unusable; build one with NewMapping.
type Mapping struct {
	table  map[string]string
	logger hclog.Logger
}

// defaultTable covers the commands the engine exposes today. Names not
// listed here pass through unchanged, so newly added backend commands
// work without a mapper release.
var defaultTable = map[string]string{
	"list_agents":         "agents.list_agents",
	"create_agent":        "agents.create_agent",
	"update_agent":        "agents.update_agent",
	"delete_agent":        "agents.delete_agent",
	"get_agent_status":    "agents.get_agent_status",
	"execute_agent_task":  "agents.execute_task",
	"pause_agent":         "agents.pause_agent",
	"resume_agent":        "agents.resume_agent",
	"list_swarms":         "swarms.list_swarms",
	"create_swarm":        "swarms.create_swarm",
	"get_system_overview": "system.overview",
	"health_check":        "system.health",
	"get_metrics":         "system.metrics",
}

// MappingOption customises a Mapping.
type MappingOption func(*Mapping)

// WithOverrides extends or replaces entries in the default table.
func WithOverrides(overrides map[string]string) MappingOption {
	return func(m *Mapping) {
		for name, target := range overrides {
			m.table[name] = target
		}
	}
}

// WithLogger sets the logger used when discarding malformed optional
// parameters during normalization.
func WithLogger(logger hclog.Logger) MappingOption {
	return func(m *Mapping) {
		if logger != nil {
			m.logger = logger.Named("command")
		}
	}
}

// NewMapping returns the default command mapping.
func NewMapping(opts ...MappingOption) *Mapping {
	m := &Mapping{
		table:  maputil.Clone(defaultTable),
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map resolves name to its backend command. Unknown names are returned
// unchanged. Map is pure: the same input always yields the same output.
func (m *Mapping) Map(name string) string {
	if target, ok := m.table[name]; ok {
		return target
	}
	return name
}

// Known reports whether name has an explicit backend mapping.
func (m *Mapping) Known(name string) bool {
	_, ok := m.table[name]
	return ok
}

// Normalize rewrites params for commands with a documented canonical
// shape; every other command's params pass through untouched.
func (m *Mapping) Normalize(name string, params any) (any, error) {
	if name == "create_agent" {
		return NormalizeAgentSpec(params, m.logger)
	}
	return params, nil
}
