package servermgr

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/rockerboo/lspbridge/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServerScript is a minimal LSP peer: it replies to "initialize" with
// an empty result, then to every other request with an empty object, and
// immediately sends the "initialized" notification back so tests don't
// have to wait out the best-effort timeout.
const fakeServerScript = `#!/usr/bin/env bash
set -u
reply() {
  local id="$1"
  local body="{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{}}"
  printf 'Content-Length: %d\r\n\r\n%s' "${#body}" "$body"
}
notify_initialized() {
  local body='{"jsonrpc":"2.0","method":"initialized","params":{}}'
  printf 'Content-Length: %d\r\n\r\n%s' "${#body}" "$body"
}
while true; do
  IFS= read -r line || exit 0
  line="${line%$'\r'}"
  if [[ "$line" == Content-Length:* ]]; then
    len="${line#Content-Length: }"
    read -r blank || exit 0
    body=$(head -c "$len")
    id=$(echo "$body" | grep -o '"id":[0-9]*' | head -1 | cut -d: -f2)
    if [[ -n "$id" ]]; then
      reply "$id"
    fi
    if [[ "$body" == *'"initialize"'* ]]; then
      notify_initialized
    fi
  fi
done
`

// fakeServerScriptWithWillRename is like fakeServerScript but its
// initialize reply advertises workspace.fileOperations.willRename, so
// tests can assert the handshake actually decodes capabilities rather
// than discarding the initialize result.
const fakeServerScriptWithWillRename = `#!/usr/bin/env bash
set -u
reply_initialize() {
  local id="$1"
  local body="{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"capabilities\":{\"workspace\":{\"fileOperations\":{\"willRename\":{\"filters\":[]}}}}}}"
  printf 'Content-Length: %d\r\n\r\n%s' "${#body}" "$body"
}
reply() {
  local id="$1"
  local body="{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{}}"
  printf 'Content-Length: %d\r\n\r\n%s' "${#body}" "$body"
}
notify_initialized() {
  local body='{"jsonrpc":"2.0","method":"initialized","params":{}}'
  printf 'Content-Length: %d\r\n\r\n%s' "${#body}" "$body"
}
while true; do
  IFS= read -r line || exit 0
  line="${line%$'\r'}"
  if [[ "$line" == Content-Length:* ]]; then
    len="${line#Content-Length: }"
    read -r blank || exit 0
    body=$(head -c "$len")
    id=$(echo "$body" | grep -o '"id":[0-9]*' | head -1 | cut -d: -f2)
    if [[ "$body" == *'"initialize"'* ]]; then
      [[ -n "$id" ]] && reply_initialize "$id"
      notify_initialized
    elif [[ -n "$id" ]]; then
      reply "$id"
    fi
  fi
done
`

func skipIfNoBash(t *testing.T) string {
	t.Helper()
	return writeFakeServerScript(t, fakeServerScript)
}

func writeFakeServerScript(t *testing.T, content string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake LSP peer script requires bash")
	}
	path, err := os.MkdirTemp("", "fakelsp")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(path) })
	script := filepath.Join(path, "fake-lsp.sh")
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func TestGetOrStartSingleFlightSpawnsOneProcess(t *testing.T) {
	script := skipIfNoBash(t)
	cfg := routing.ServerConfig{Extensions: []string{"go"}, Command: []string{"bash", script}, RootDir: t.TempDir()}

	m := New(false)
	defer m.DisposeAll()

	const n = 8
	var wg sync.WaitGroup
	peers := make([]*Peer, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			p, err := m.GetOrStart(ctx, cfg)
			assert.NoError(t, err)
			peers[i] = p
		}(i)
	}
	wg.Wait()

	first := peers[0]
	require.NotNil(t, first)
	for _, p := range peers {
		assert.Same(t, first, p)
	}
	assert.Equal(t, 1, len(m.All()))
}

func TestPeerBecomesReadyAfterHandshake(t *testing.T) {
	script := skipIfNoBash(t)
	cfg := routing.ServerConfig{Extensions: []string{"go"}, Command: []string{"bash", script}, RootDir: t.TempDir()}

	m := New(false)
	defer m.DisposeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := m.GetOrStart(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, p.WaitReady(ctx))
	assert.Equal(t, StatusReady, p.Status())
}

func TestHandshakeDecodesAdvertisedCapabilities(t *testing.T) {
	script := writeFakeServerScript(t, fakeServerScriptWithWillRename)
	cfg := routing.ServerConfig{Extensions: []string{"go"}, Command: []string{"bash", script}, RootDir: t.TempDir()}

	m := New(false)
	defer m.DisposeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := m.GetOrStart(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, p.WaitReady(ctx))

	assert.True(t, p.Capabilities().SupportsWillRenameFiles())
}

func TestPeerExitingDuringHandshakeIsNotLeftInLiveMap(t *testing.T) {
	cfg := routing.ServerConfig{Extensions: []string{"go"}, Command: []string{"false"}, RootDir: t.TempDir()}

	m := New(false)
	defer m.DisposeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// "false" exits immediately and never replies to initialize, so the
	// handshake fails and start() returns an error; the peer must not be
	// left in the live map.
	_, err := m.GetOrStart(ctx, cfg)
	assert.Error(t, err)
	assert.Empty(t, m.All())
}

func TestDisposeAllKillsEveryPeer(t *testing.T) {
	script := skipIfNoBash(t)
	cfg := routing.ServerConfig{Extensions: []string{"go"}, Command: []string{"bash", script}, RootDir: t.TempDir()}

	m := New(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := m.GetOrStart(ctx, cfg)
	require.NoError(t, err)

	m.DisposeAll()

	select {
	case <-p.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("peer process was not killed by DisposeAll")
	}
}
