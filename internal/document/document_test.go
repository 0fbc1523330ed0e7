package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	calls []string
}

func (r *recordingSender) SendNotification(method string, params any) error {
	r.calls = append(r.calls, method)
	return nil
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEnsureOpenSendsExactlyOneDidOpenPerPath(t *testing.T) {
	path := writeTemp(t, "package a\n")
	sender := &recordingSender{}
	mgr := New(sender)

	opened, err := mgr.EnsureOpen(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, opened)

	for i := 0; i < 5; i++ {
		opened, err = mgr.EnsureOpen(context.Background(), path)
		require.NoError(t, err)
		assert.False(t, opened)
	}

	didOpenCount := 0
	for _, m := range sender.calls {
		if m == "textDocument/didOpen" {
			didOpenCount++
		}
	}
	assert.Equal(t, 1, didOpenCount)
}

func TestSendChangeBumpsVersion(t *testing.T) {
	path := writeTemp(t, "package a\n")
	sender := &recordingSender{}
	mgr := New(sender)

	_, err := mgr.EnsureOpen(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int32(1), mgr.GetVersion(path))

	require.NoError(t, mgr.SendChange(path, "package a\n\nfunc f(){}\n"))
	assert.Equal(t, int32(2), mgr.GetVersion(path))
}

func TestLanguageIDForPath(t *testing.T) {
	assert.Equal(t, "go", LanguageIDForPath("main.go"))
	assert.Equal(t, "typescript", LanguageIDForPath("app.ts"))
	assert.Equal(t, "plaintext", LanguageIDForPath("weird.zzz"))
}

func TestPathToURIRoundTrip(t *testing.T) {
	uri := PathToURI("/tmp/a/b.go")
	assert.Equal(t, "file:///tmp/a/b.go", string(uri))
	assert.Equal(t, "/tmp/a/b.go", URIToPath(uri))
}
