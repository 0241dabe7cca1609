package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m4xw311/mcpchat/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, mutate func(*config.Config)) *Registry {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return NewRegistry(cfg, zerolog.Nop())
}

func TestRegistryDiscover(t *testing.T) {
	r := newTestRegistry(t, nil)
	descs, err := r.Discover(context.Background())
	require.NoError(t, err)

	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
		assert.Equal(t, "object", d.InputSchema["type"])
		assert.NotEmpty(t, d.Description)
	}
	assert.Equal(t, []string{"read_file", "write_file", "list_files", "execute_command"}, names)
}

func TestRegistryInvoke(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	secret := filepath.Join(dir, "secret.env")
	require.NoError(t, os.WriteFile(secret, []byte("TOKEN=1"), 0o644))

	r := newTestRegistry(t, func(cfg *config.Config) {
		cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, filepath.ToSlash(dir)+"/*.env")
		cfg.FilesystemAccess.ReadOnly = []string{filepath.ToSlash(dir) + "/a.txt"}
	})
	ctx := context.Background()

	t.Run("read_file", func(t *testing.T) {
		res, err := r.Invoke(ctx, "read_file", map[string]interface{}{"path": filepath.Join(dir, "a.txt")})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "hello", res.Content)
	})

	t.Run("hidden path is a tool failure", func(t *testing.T) {
		res, err := r.Invoke(ctx, "read_file", map[string]interface{}{"path": secret})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Content, "is hidden")
	})

	t.Run("missing file is a tool failure", func(t *testing.T) {
		res, err := r.Invoke(ctx, "read_file", map[string]interface{}{"path": filepath.Join(dir, "nope.txt")})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Content, "failed to read file")
	})

	t.Run("schema validation", func(t *testing.T) {
		res, err := r.Invoke(ctx, "read_file", map[string]interface{}{"path": 42})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "invalid arguments", res.Error)

		res, err = r.Invoke(ctx, "write_file", nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Content, "content")
	})

	t.Run("write_file respects read_only", func(t *testing.T) {
		res, err := r.Invoke(ctx, "write_file", map[string]interface{}{"path": filepath.Join(dir, "a.txt"), "content": "x"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Content, "read-only")

		out := filepath.Join(dir, "b.txt")
		res, err = r.Invoke(ctx, "write_file", map[string]interface{}{"path": out, "content": "abc"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(data))
	})

	t.Run("list_files", func(t *testing.T) {
		res, err := r.Invoke(ctx, "list_files", map[string]interface{}{"directory": dir})
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Contains(t, res.Content, "[FILE] a.txt")
		assert.Contains(t, res.Content, "[DIR] sub")
		assert.NotContains(t, res.Content, "secret.env")
	})

	t.Run("unknown tool", func(t *testing.T) {
		res, err := r.Invoke(ctx, "rm_rf", nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "unknown tool", res.Error)
	})
}

func TestExecuteCommandAllowlist(t *testing.T) {
	r := newTestRegistry(t, func(cfg *config.Config) {
		cfg.AllowedCommands = []string{"^echo( .*)?$", "[invalid"}
	})
	ctx := context.Background()

	res, err := r.Invoke(ctx, "execute_command", map[string]interface{}{"command": "rm -rf /"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Content, "not in the list of allowed commands")

	res, err = r.Invoke(ctx, "execute_command", map[string]interface{}{"command": "echo hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Content, "hi")

	assert.True(t, isCommandAllowed("[invalid", []string{"[invalid"}, zerolog.Nop()))
	assert.False(t, isCommandAllowed("   ", []string{".*"}, zerolog.Nop()))
}

func TestIsPathRestricted(t *testing.T) {
	tests := []struct {
		path     string
		patterns []string
		want     bool
	}{
		{".mcpchat/config.yaml", []string{".mcpchat/**"}, true},
		{"src/main.go", []string{"**/*.env"}, false},
		{"deploy/prod.env", []string{"**/*.env"}, true},
		{"a.txt", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := isPathRestricted(tt.path, tt.patterns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
