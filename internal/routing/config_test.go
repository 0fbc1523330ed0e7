package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFailsLoudlyOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadFailsLoudlyOnInvalidJSON(t *testing.T) {
	path := writeConfig(t, "{ not json")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadFailsWithNoPathAndNoEnv(t *testing.T) {
	os.Unsetenv(ConfigPathEnv)
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadEnvOverridesArgument(t *testing.T) {
	envPath := writeConfig(t, `{"servers":[{"extensions":["go"],"command":["gopls"]}]}`)
	t.Setenv(ConfigPathEnv, envPath)

	cfg, err := Load(filepath.Join(t.TempDir(), "ignored.json"))
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, []string{"go"}, cfg.Servers[0].Extensions)
}

func TestSelectServerPrefersDeepestRootDir(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "backend")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	cfg := &Config{Servers: []ServerConfig{
		{Extensions: []string{"go"}, Command: []string{"gopls"}, RootDir: root},
		{Extensions: []string{"go"}, Command: []string{"gopls-backend"}, RootDir: sub},
	}}

	selected, ok := SelectServer(cfg, filepath.Join(sub, "main.go"))
	require.True(t, ok)
	assert.Equal(t, []string{"gopls-backend"}, selected.Command)
}

func TestSelectServerFallsBackToFirstExtensionMatch(t *testing.T) {
	cfg := &Config{Servers: []ServerConfig{
		{Extensions: []string{"go"}, Command: []string{"gopls"}, RootDir: "/does/not/contain/this"},
	}}
	selected, ok := SelectServer(cfg, "/tmp/somewhere/main.go")
	require.True(t, ok)
	assert.Equal(t, []string{"gopls"}, selected.Command)
}

func TestSelectServerReturnsFalseForUnmatchedExtension(t *testing.T) {
	cfg := &Config{Servers: []ServerConfig{{Extensions: []string{"go"}, Command: []string{"gopls"}}}}
	_, ok := SelectServer(cfg, "/tmp/file.rs")
	assert.False(t, ok)
}

func TestSelectServerUsesListOrderOnRootDirTie(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{Servers: []ServerConfig{
		{Extensions: []string{"go"}, Command: []string{"first"}, RootDir: root},
		{Extensions: []string{"go"}, Command: []string{"second"}, RootDir: root},
	}}
	selected, ok := SelectServer(cfg, filepath.Join(root, "main.go"))
	require.True(t, ok)
	assert.Equal(t, []string{"first"}, selected.Command)
}

func TestDistinctExtensionsObeysIgnoreList(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package a"), 0o644))
	ignoredDir := filepath.Join(root, "node_modules")
	require.NoError(t, os.MkdirAll(ignoredDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ignoredDir, "pkg.js"), []byte("//"), 0o644))

	exts, err := DistinctExtensions(root)
	require.NoError(t, err)
	assert.True(t, exts["go"])
	assert.False(t, exts["js"])
}
