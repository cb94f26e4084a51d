package maps

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneNilAndEmpty(t *testing.T) {
	require.Nil(t, Clone[string, string](nil))
	require.Nil(t, Clone(map[string]string{}))
}

func TestCloneIsolation(t *testing.T) {
	src := map[string]any{"name": "Bot1", "type": "trading"}
	dst := Clone(src)
	dst["config"] = map[string]any{}

	require.NotContains(t, src, "config")
	require.Equal(t, "Bot1", dst["name"])
}

func TestCloneGenericType(t *testing.T) {
	src := map[int]bool{1: true}
	require.Equal(t, src, Clone(src))
}
