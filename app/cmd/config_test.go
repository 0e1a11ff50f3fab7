package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommands(t *testing.T) {
	ws := t.TempDir()

	out, err := runCLI(t, "config", "path", "--workspace", ws)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, ".codemend", "config.yaml"), strings.TrimSpace(out))

	out, err = runCLI(t, "config", "get", "llm.model", "--workspace", ws)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder:1.5b", strings.TrimSpace(out))

	out, err = runCLI(t, "config", "set", "agent.threshold", "90", "--workspace", ws)
	require.NoError(t, err)
	assert.Equal(t, "agent.threshold updated", strings.TrimSpace(out))

	out, err = runCLI(t, "config", "get", "agent.threshold", "--workspace", ws)
	require.NoError(t, err)
	assert.Equal(t, "90", strings.TrimSpace(out))

	_, err = runCLI(t, "config", "set", "agent.threshold", "150", "--workspace", ws)
	assert.Error(t, err)
	_, err = runCLI(t, "config", "get", "agent.nothing", "--workspace", ws)
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, err := runCLI(t, "config", "init", "--workspace", ws)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(ws, ".codemend", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_fix_iterations: 3")
	assert.NotContains(t, string(data), "sk-test")

	_, err = runCLI(t, "config", "init", "--workspace", ws)
	assert.ErrorContains(t, err, "already exists")
	_, err = runCLI(t, "config", "init", "--force", "--workspace", ws)
	assert.NoError(t, err)
}

func TestInvalidConfigBlocksCommandsButStaysEditable(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, ".codemend", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  threshold: 500\n"), 0o644))

	_, err := runCLI(t, "tools", "--workspace", ws)
	assert.ErrorContains(t, err, "invalid config")

	out, err := runCLI(t, "config", "get", "agent.threshold", "--workspace", ws)
	require.NoError(t, err)
	assert.Equal(t, "500", strings.TrimSpace(out))
}
