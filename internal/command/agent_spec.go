package command

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"

	maputil "github.com/veles-ai/veles/internal/util/maps"
)

// SpecError reports a create_agent parameter shape that cannot be
// normalized. It names the received shape so callers can fix the input.
type SpecError struct {
	Received string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("command: unsupported agent spec shape %s (want positional [name, type, config?] or object {name, type, ...})", e.Received)
}

// Agent type codes as the backend registry stores them.
const (
	AgentTypeTrading   = 1
	AgentTypeMonitor   = 2
	AgentTypeArbitrage = 3
	AgentTypeResearch  = 4
	AgentTypeAnalysis  = 5
	AgentTypeDev       = 6
	AgentTypeCustom    = 99
)

var agentTypeCodes = map[string]int{
	"trading":   AgentTypeTrading,
	"monitor":   AgentTypeMonitor,
	"arbitrage": AgentTypeArbitrage,
	"research":  AgentTypeResearch,
	"analysis":  AgentTypeAnalysis,
	"dev":       AgentTypeDev,
	"custom":    AgentTypeCustom,
}

// PositionalAgentSpec is the historical call shape [name, type, config?]
// where config may be a JSON string or an object.
type PositionalAgentSpec struct {
	Name   string
	Type   any
	Config any
}

// ObjectAgentSpec is the flat call shape {name, type, ...config} with the
// config either nested under "config" or spread at the top level.
type ObjectAgentSpec struct {
	Name   string
	Type   any
	ID     string
	Config map[string]any
}

// ParseAgentSpec classifies raw create_agent params into one of the two
// supported shapes.
func ParseAgentSpec(raw any) (any, error) {
	switch v := raw.(type) {
	case []any:
		if len(v) < 2 {
			return nil, &SpecError{Received: fmt.Sprintf("array of length %d", len(v))}
		}
		name, ok := v[0].(string)
		if !ok || name == "" {
			return nil, &SpecError{Received: "array with non-string name"}
		}
		spec := PositionalAgentSpec{Name: name, Type: v[1]}
		if len(v) > 2 {
			spec.Config = v[2]
		}
		return spec, nil
	case []string:
		anyArgs := make([]any, len(v))
		for i, s := range v {
			anyArgs[i] = s
		}
		return ParseAgentSpec(anyArgs)
	case map[string]any:
		name, _ := v["name"].(string)
		typ, hasType := v["type"]
		if name == "" || !hasType {
			return nil, &SpecError{Received: "object missing name or type"}
		}
		spec := ObjectAgentSpec{Name: name, Type: typ}
		if id, ok := v["id"].(string); ok {
			spec.ID = id
		}
		if nested, ok := v["config"].(map[string]any); ok {
			spec.Config = nested
		} else {
			// Config spread at the top level: everything except the
			// reserved keys belongs to it.
			spec.Config = make(map[string]any)
			for key, val := range v {
				switch key {
				case "name", "type", "id", "config":
				default:
					spec.Config[key] = val
				}
			}
		}
		return spec, nil
	case nil:
		return nil, &SpecError{Received: "nil"}
	default:
		return nil, &SpecError{Received: fmt.Sprintf("%T", raw)}
	}
}

// NormalizeAgentSpec converts either spec shape into the canonical nested
// payload the backend expects. Malformed optional config never fails the
// call; it is logged and replaced with an empty config.
func NormalizeAgentSpec(raw any, logger hclog.Logger) (map[string]any, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	parsed, err := ParseAgentSpec(raw)
	if err != nil {
		return nil, err
	}

	var (
		name     string
		typ      any
		callerID string
		config   map[string]any
	)

	switch spec := parsed.(type) {
	case PositionalAgentSpec:
		name = spec.Name
		typ = spec.Type
		config = coerceConfig(spec.Config, logger)
	case ObjectAgentSpec:
		name = spec.Name
		typ = spec.Type
		callerID = spec.ID
		config = spec.Config
	}
	if config == nil {
		config = make(map[string]any)
	}
	if callerID == "" {
		if id, ok := config["id"].(string); ok {
			callerID = id
			delete(config, "id")
		}
	}

	out := map[string]any{
		"name":   name,
		"type":   resolveAgentType(typ),
		"config": buildAgentConfig(config),
	}
	if callerID != "" {
		out["id"] = callerID
	}
	return out, nil
}

// coerceConfig accepts a config object or a JSON string of one. A string
// that fails to parse yields an empty config rather than an error.
func coerceConfig(raw any, logger hclog.Logger) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case string:
		if v == "" {
			return map[string]any{}
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			logger.Warn("ignoring malformed agent config string", "error", err)
			return map[string]any{}
		}
		return parsed
	default:
		logger.Warn("ignoring agent config of unsupported shape", "type", fmt.Sprintf("%T", raw))
		return map[string]any{}
	}
}

// resolveAgentType maps a symbolic type to its code. Values that are
// already numeric pass through; unknown symbols become the custom code.
func resolveAgentType(raw any) int {
	switch v := raw.(type) {
	case string:
		if code, ok := agentTypeCodes[v]; ok {
			return code
		}
		return AgentTypeCustom
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		return AgentTypeCustom
	default:
		return AgentTypeCustom
	}
}

// buildAgentConfig layers caller config over the documented defaults so
// partial input always yields a complete payload.
func buildAgentConfig(config map[string]any) map[string]any {
	out := map[string]any{
		"abilities": sliceField(config, "abilities"),
		"chains":    sliceField(config, "chains"),
		"parameters": mergedSection(config, "parameters", map[string]any{
			"max_iterations":  100,
			"max_memory":      1024,
			"timeout_seconds": 300,
		}),
		"llm_config": mergedSection(config, "llm_config", map[string]any{
			"provider":    "openai",
			"model":       "gpt-4o-mini",
			"temperature": 0.7,
			"max_tokens":  1024,
		}),
		"memory_config": mergedSection(config, "memory_config", map[string]any{
			"max_size":         1000,
			"retention_policy": "lru",
		}),
		"max_task_history": 100,
	}
	if v, ok := config["max_task_history"]; ok {
		out["max_task_history"] = v
	}

	// Loose top-level keys that belong to a known section are folded in,
	// so {"max_memory": 2048} lands under parameters.
	params := out["parameters"].(map[string]any)
	llm := out["llm_config"].(map[string]any)
	mem := out["memory_config"].(map[string]any)
	for key, val := range config {
		switch key {
		case "abilities", "chains", "parameters", "llm_config", "memory_config", "max_task_history":
			continue
		}
		switch key {
		case "max_iterations", "max_memory", "timeout_seconds":
			params[key] = val
		case "provider", "model", "temperature", "max_tokens":
			llm[key] = val
		case "max_size", "retention_policy":
			mem[key] = val
		default:
			out[key] = val
		}
	}
	return out
}

func sliceField(config map[string]any, key string) []any {
	if v, ok := config[key].([]any); ok {
		return v
	}
	return []any{}
}

func mergedSection(config map[string]any, key string, defaults map[string]any) map[string]any {
	out := maputil.Clone(defaults)
	if out == nil {
		out = make(map[string]any)
	}
	if section, ok := config[key].(map[string]any); ok {
		for k, v := range section {
			out[k] = v
		}
	}
	return out
}
