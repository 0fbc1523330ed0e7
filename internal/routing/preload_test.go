package routing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistinctExtensionsSkipsIgnoredDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x.js"), []byte("x"), 0o644))

	exts, err := DistinctExtensions(dir)
	require.NoError(t, err)
	assert.True(t, exts["go"])
	assert.False(t, exts["js"])
}

func TestLoadIgnoresHonorsProjectGitignore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("generated/\n# comment\n\n"), 0o644))

	ignores := loadIgnores(dir)
	assert.True(t, ignores.matches(filepath.Join("generated", "x.pb.go")))
	assert.False(t, ignores.matches("main.go"))
}

func TestWatcherReportsNewlyCreatedFile(t *testing.T) {
	dir := t.TempDir()

	created := make(chan string, 1)
	w, err := NewWatcher(dir, func(path string) {
		select {
		case created <- path:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go w.Run(ctx)

	target := filepath.Join(dir, "new.go")
	require.NoError(t, os.WriteFile(target, []byte("package a\n"), 0o644))

	select {
	case path := <-created:
		assert.Equal(t, target, path)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the new file in time")
	}
}

func TestWatcherIgnoresFilesUnderIgnoredDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))

	created := make(chan string, 1)
	w, err := NewWatcher(dir, func(path string) {
		select {
		case created <- path:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x.js"), []byte("x"), 0o644))

	select {
	case path := <-created:
		t.Fatalf("watcher reported ignored path %s", path)
	case <-time.After(500 * time.Millisecond):
	}
}
