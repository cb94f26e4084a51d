package mock_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veles-ai/veles/internal/mock"
)

func TestExecuteListAgentsShape(t *testing.T) {
	r := mock.NewResponder()

	result, err := r.Execute("list_agents", nil)
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	agents, ok := payload["agents"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, agents)

	first, ok := agents[0].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"id", "name", "type", "status"} {
		require.Contains(t, first, field)
	}
}

func TestAgentStatusIsDeterministic(t *testing.T) {
	r := mock.NewResponder()

	first, err := r.Execute("get_agent_status", map[string]any{"agent_id": "agent-7"})
	require.NoError(t, err)
	second, err := r.Execute("get_agent_status", map[string]any{"agent_id": "agent-7"})
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := r.Execute("get_agent_status", map[string]any{"agent_id": "a-completely-different-agent"})
	require.NoError(t, err)
	require.NotEqual(t, first.(map[string]any)["id"], other.(map[string]any)["id"])
}

func TestExecuteUnknownCommandFailsLoudly(t *testing.T) {
	r := mock.NewResponder()

	_, err := r.Execute("summon_dragon", nil)
	require.Error(t, err)

	var noHandler *mock.NoHandlerError
	require.ErrorAs(t, err, &noHandler)
	require.Equal(t, "summon_dragon", noHandler.Command)
}

func TestLenientCommandsReturnGenericSuccess(t *testing.T) {
	r := mock.NewResponder()

	for _, command := range []string{"pause_agent", "resume_agent", "delete_agent", "update_agent"} {
		require.True(t, r.Has(command))
		result, err := r.Execute(command, map[string]any{"agent_id": "agent-1"})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"success": true}, result)
	}
}

func TestCreateAgentPreservesCallerID(t *testing.T) {
	r := mock.NewResponder()

	result, err := r.Execute("create_agent", map[string]any{"id": "agent-keep", "name": "Bot1"})
	require.NoError(t, err)
	require.Equal(t, "agent-keep", result.(map[string]any)["id"])
}

func TestHealthCheckReportsHealthy(t *testing.T) {
	r := mock.NewResponder()

	result, err := r.Execute("health_check", nil)
	require.NoError(t, err)
	require.Equal(t, "healthy", result.(map[string]any)["status"])
}

func TestLoadScriptDirRegistersHandlers(t *testing.T) {
	dir := t.TempDir()
	script := `
exports.command = "get_metrics";
exports.respond = function (params) {
    return { commands_served: 7, mode: "scripted", window: params.window };
};
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metrics.mock.js"), []byte(script), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.mock.js"), []byte("this is not js {{{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.js"), []byte("exports.command = 'nope';"), 0o644))

	r := mock.NewResponder()
	require.NoError(t, mock.LoadScriptDir(r, dir, nil))

	result, err := r.Execute("get_metrics", map[string]any{"window": "1h"})
	require.NoError(t, err)

	payload := result.(map[string]any)
	require.Equal(t, "scripted", payload["mode"])
	require.EqualValues(t, 7, payload["commands_served"])
	require.Equal(t, "1h", payload["window"])

	_, err = r.Execute("nope", nil)
	require.Error(t, err)
}

func TestLoadScriptDirMissingDirIsNoop(t *testing.T) {
	r := mock.NewResponder()
	require.NoError(t, mock.LoadScriptDir(r, filepath.Join(t.TempDir(), "absent"), nil))
}
