package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFiles(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLMClient)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Model)
	assert.Equal(t, int64(8192), cfg.MaxTokens)
	assert.Equal(t, 10, cfg.Agent.MaxRounds)
	assert.InDelta(t, 0.8, cfg.Pricing.InputPerMTok, 1e-9)
	assert.InDelta(t, 4.0, cfg.Pricing.OutputPerMTok, 1e-9)
	assert.Contains(t, cfg.FilesystemAccess.Hidden, ".mcpchat/**")
}

func TestLoadFilesLayering(t *testing.T) {
	dir := t.TempDir()
	user := writeFile(t, dir, "user/config.yaml", `
llm: openai
model: gpt-4o-mini
max_tokens: 2000
agent:
  max_rounds: 4
  tool_timeout: 30s
`)
	project := writeFile(t, dir, "project/config.yaml", `
model: gpt-4o
system_prompt: be brief
`)

	cfg, err := LoadFiles(user, project)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLMClient)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, int64(2000), cfg.MaxTokens)
	assert.Equal(t, 4, cfg.Agent.MaxRounds)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, "be brief", cfg.SystemPrompt)
}

func TestLoadFilesRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"zero max tokens", "max_tokens: 0"},
		{"negative rounds", "agent:\n  max_rounds: -1"},
		{"negative parallelism", "agent:\n  max_parallel_tools: -2"},
		{"server without command", "additional_mcp_servers:\n  - name: gh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, tt.name+".yaml", tt.content)
			_, err := LoadFiles(p)
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestLoadFilesBadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", "llm: [unclosed")
	_, err := LoadFiles(p)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigLoad, errors.CodeOf(err))
}

func TestGetToolset(t *testing.T) {
	cfg := Default()
	ts, err := cfg.GetToolset("anything")
	require.NoError(t, err)
	assert.Nil(t, ts, "no toolsets configured means all tools")

	cfg.Toolsets = []Toolset{
		{Name: "default", Tools: []string{"read_file"}},
		{Name: "gh", Tools: []string{"github.*"}},
	}
	ts, err = cfg.GetToolset("gh")
	require.NoError(t, err)
	assert.Equal(t, []string{"github.*"}, ts.Tools)

	ts, err = cfg.GetToolset("unknown")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)

	cfg.Toolsets = []Toolset{{Name: "gh"}}
	_, err = cfg.GetToolset("")
	assert.Error(t, err)
}

func TestLoadMCPServersKeepsFileOrder(t *testing.T) {
	p := writeFile(t, t.TempDir(), "mcp.json", `{
  "servers": {
    "zeta": {"command": "python", "args": ["zeta.py"]},
    "github": {
      "command": "docker",
      "args": ["run", "-i", "ghcr.io/github/github-mcp-server"],
      "env": {"GITHUB_PERSONAL_ACCESS_TOKEN": "x"}
    },
    "alpha": {"command": "node", "args": ["alpha.js"]}
  }
}`)

	servers, err := LoadMCPServers(p)
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, "zeta", servers[0].Name)
	assert.Equal(t, "github", servers[1].Name)
	assert.Equal(t, "alpha", servers[2].Name)
	assert.Equal(t, "docker", servers[1].Command)
	assert.Equal(t, "x", servers[1].Env["GITHUB_PERSONAL_ACCESS_TOKEN"])
}

func TestLoadMCPServersErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadMCPServers(filepath.Join(dir, "nope.json"))
	assert.Equal(t, errors.CodeConfigLoad, errors.CodeOf(err))

	empty := writeFile(t, dir, "empty.json", `{"servers": {}}`)
	_, err = LoadMCPServers(empty)
	assert.True(t, errors.IsConfiguration(err))

	noCmd := writeFile(t, dir, "nocmd.json", `{"servers": {"a": {"args": []}}}`)
	_, err = LoadMCPServers(noCmd)
	assert.True(t, errors.IsConfiguration(err))
}

func TestMCPServersMergesAdditional(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.MCPConfig = writeFile(t, dir, "mcp.json", `{"servers": {"files": {"command": "fs-server"}}}`)
	cfg.AdditionalMCPServers = []MCPServer{{Name: "gopls", Command: "gopls", Args: []string{"mcp"}}}

	servers, err := cfg.MCPServers()
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "files", servers[0].Name)
	assert.Equal(t, "gopls", servers[1].Name)

	cfg.AdditionalMCPServers = []MCPServer{{Name: "files", Command: "other"}}
	_, err = cfg.MCPServers()
	assert.Error(t, err)

	cfg.MCPConfig = filepath.Join(dir, "absent.json")
	servers, err = cfg.MCPServers()
	require.NoError(t, err)
	assert.Len(t, servers, 1)
}
