// Package config holds the filesystem layout and settings surface of a
// Veles installation.
package config

import (
	"os"
	"strconv"
	"time"
)

// Setting keys as stored in the settings table.
const (
	KeyEndpoint       = "backend.endpoint"
	KeyWSEndpoint     = "backend.ws_endpoint"
	KeyGRPCHealthAddr = "backend.grpc_health_addr"
	KeyHealthPort     = "backend.health_port"
	KeyToken          = "backend.token"
	KeyMaxRetries     = "bridge.max_retries"
	KeyRetryDelay     = "bridge.retry_delay"
	KeyFreshness      = "bridge.health_freshness"
)

// DefaultEndpoint is the backend command API address assumed when no
// setting or environment override is present.
const DefaultEndpoint = "http://127.0.0.1:8750"

// Settings is the resolved bridge configuration for one profile.
type Settings struct {
	Endpoint       string
	WSEndpoint     string
	GRPCHealthAddr string
	HealthPort     string
	Token          string
	MaxRetries     int
	RetryDelay     time.Duration
	Freshness      time.Duration
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:   DefaultEndpoint,
		HealthPort: "8080",
		MaxRetries: 3,
		RetryDelay: time.Second,
		Freshness:  30 * time.Second,
	}
}

// FromStored layers stored key/value pairs over the defaults. Malformed
// numeric or duration values keep the default rather than failing.
func FromStored(values map[string]string) Settings {
	s := DefaultSettings()
	if v := values[KeyEndpoint]; v != "" {
		s.Endpoint = v
	}
	if v := values[KeyWSEndpoint]; v != "" {
		s.WSEndpoint = v
	}
	if v := values[KeyGRPCHealthAddr]; v != "" {
		s.GRPCHealthAddr = v
	}
	if v := values[KeyHealthPort]; v != "" {
		s.HealthPort = v
	}
	if v := values[KeyToken]; v != "" {
		s.Token = v
	}
	if v := values[KeyMaxRetries]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.MaxRetries = n
		}
	}
	if v := values[KeyRetryDelay]; v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			s.RetryDelay = d
		}
	}
	if v := values[KeyFreshness]; v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			s.Freshness = d
		}
	}
	return s
}

// ApplyEnv overlays environment overrides on top of stored settings.
// The environment always wins; it is the operator's escape hatch.
func (s Settings) ApplyEnv() Settings {
	if v := os.Getenv("VELES_ENDPOINT"); v != "" {
		s.Endpoint = v
	}
	if v := os.Getenv("VELES_TOKEN"); v != "" {
		s.Token = v
	}
	if v := os.Getenv("VELES_GRPC_HEALTH_ADDR"); v != "" {
		s.GRPCHealthAddr = v
	}
	return s
}
