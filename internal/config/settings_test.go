package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veles-ai/veles/internal/config"
)

func TestFromStoredLayersOverDefaults(t *testing.T) {
	s := config.FromStored(map[string]string{
		config.KeyEndpoint:   "http://backend:9000",
		config.KeyMaxRetries: "5",
		config.KeyRetryDelay: "250ms",
	})

	require.Equal(t, "http://backend:9000", s.Endpoint)
	require.Equal(t, 5, s.MaxRetries)
	require.Equal(t, 250*time.Millisecond, s.RetryDelay)
	require.Equal(t, 30*time.Second, s.Freshness, "untouched keys keep defaults")
}

func TestFromStoredIgnoresMalformedValues(t *testing.T) {
	s := config.FromStored(map[string]string{
		config.KeyMaxRetries: "many",
		config.KeyRetryDelay: "soon",
		config.KeyFreshness:  "-5s",
	})

	defaults := config.DefaultSettings()
	require.Equal(t, defaults.MaxRetries, s.MaxRetries)
	require.Equal(t, defaults.RetryDelay, s.RetryDelay)
	require.Equal(t, defaults.Freshness, s.Freshness)
}

func TestApplyEnvWins(t *testing.T) {
	t.Setenv("VELES_ENDPOINT", "http://env:1234")
	t.Setenv("VELES_TOKEN", "env-token")

	s := config.FromStored(map[string]string{
		config.KeyEndpoint: "http://stored:9000",
		config.KeyToken:    "stored-token",
	}).ApplyEnv()

	require.Equal(t, "http://env:1234", s.Endpoint)
	require.Equal(t, "env-token", s.Token)
}

func TestExpandPath(t *testing.T) {
	require.Equal(t, "/abs/path", config.ExpandPath("/abs/path"))
	require.Equal(t, "", config.ExpandPath(""))
	require.NotContains(t, config.ExpandPath("~/veles"), "~")
}
