package movefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rockerboo/lspbridge/internal/document"
	"github.com/rockerboo/lspbridge/internal/lsp"
	"github.com/rockerboo/lspbridge/internal/servermgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient implements RenameClient without spawning any real peer.
type fakeClient struct {
	peers          []*servermgr.Peer
	edits          map[*servermgr.Peer]*lsp.WorkspaceEdit
	willErr        map[*servermgr.Peer]error
	didCalls       []string
}

func (f *fakeClient) PeersForExtension(ext string) []*servermgr.Peer { return f.peers }

func (f *fakeClient) WillRenameFiles(ctx context.Context, peer *servermgr.Peer, oldPath, newPath string) (*lsp.WorkspaceEdit, error) {
	if err, ok := f.willErr[peer]; ok {
		return nil, err
	}
	return f.edits[peer], nil
}

func (f *fakeClient) DidRenameFiles(peer *servermgr.Peer, oldPath, newPath string) error {
	f.didCalls = append(f.didCalls, oldPath+"->"+newPath)
	return nil
}

// peerAdvertisingWillRename returns a fake peer whose decoded initialize
// result advertised workspace.fileOperations.willRename, the only
// condition under which Move calls WillRenameFiles at all.
func peerAdvertisingWillRename() *servermgr.Peer {
	p := &servermgr.Peer{}
	p.SetCapabilities(lsp.ServerCapabilities{
		Workspace: &lsp.WorkspaceServerCapabilities{
			FileOperations: &lsp.WorkspaceFileOperationsCapabilities{
				WillRename: &lsp.FileOperationRegistrationOptions{},
			},
		},
	})
	return p
}

func TestMoveRejectsMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := Move(context.Background(), &fakeClient{}, filepath.Join(dir, "missing.go"), filepath.Join(dir, "dest.go"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMoveValidation)
}

func TestMoveRejectsExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.go")
	dst := filepath.Join(dir, "dst.go")
	require.NoError(t, os.WriteFile(src, []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("package a\n"), 0o644))

	_, err := Move(context.Background(), &fakeClient{}, src, dst, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMoveValidation)
}

func TestMoveRejectsDirectorySource(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	_, err := Move(context.Background(), &fakeClient{}, sub, filepath.Join(dir, "dst"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMoveValidation)
}

func TestMoveWithNoPeersStillRenames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.go")
	dst := filepath.Join(dir, "dst.go")
	require.NoError(t, os.WriteFile(src, []byte("package a\n"), 0o644))

	result, err := Move(context.Background(), &fakeClient{}, src, dst, false)
	require.NoError(t, err)
	assert.True(t, result.Moved)
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}

func TestMoveDryRunDoesNotTouchFilesystem(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.go")
	dst := filepath.Join(dir, "dst.go")
	require.NoError(t, os.WriteFile(src, []byte("package a\n"), 0o644))

	result, err := Move(context.Background(), &fakeClient{}, src, dst, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.False(t, result.Moved)
	assert.FileExists(t, src)
	assert.NoFileExists(t, dst)
}

func TestMoveAppliesWillRenameEditsAndNotifiesPeer(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.go")
	dst := filepath.Join(dir, "dst.go")
	other := filepath.Join(dir, "importer.go")
	require.NoError(t, os.WriteFile(src, []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte(`import "pkg/src"`+"\n"), 0o644))

	otherURI := document.PathToURI(other)
	edit := &lsp.WorkspaceEdit{
		Changes: map[lsp.DocumentURI][]lsp.TextEdit{
			otherURI: {{
				Range:   lsp.Range{Start: lsp.Position{Line: 0, Character: 8}, End: lsp.Position{Line: 0, Character: 16}},
				NewText: `"pkg/dst"`,
			}},
		},
	}

	peer := peerAdvertisingWillRename()
	client := &fakeClient{
		peers: []*servermgr.Peer{peer},
		edits: map[*servermgr.Peer]*lsp.WorkspaceEdit{peer: edit},
	}

	result, err := Move(context.Background(), client, src, dst, false)
	require.NoError(t, err)
	assert.True(t, result.Moved)
	assert.Contains(t, result.ImportChanges, other)

	data, err := os.ReadFile(other)
	require.NoError(t, err)
	assert.Equal(t, `import "pkg/dst"`+"\n", string(data))
	assert.Len(t, client.didCalls, 1)
}

func TestMoveWarnsWhenPeerLacksSupport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.go")
	dst := filepath.Join(dir, "dst.go")
	require.NoError(t, os.WriteFile(src, []byte("package a\n"), 0o644))

	// Zero-value capabilities: this peer never advertised
	// workspace.fileOperations.willRename during initialize, so Move must
	// not call WillRenameFiles on it at all.
	peer := &servermgr.Peer{}
	client := &fakeClient{peers: []*servermgr.Peer{peer}}

	result, err := Move(context.Background(), client, src, dst, false)
	require.NoError(t, err)
	assert.True(t, result.Moved)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "does not support willRenameFiles")
}

func TestMoveReportsProtocolErrorDistinctFromUnsupported(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.go")
	dst := filepath.Join(dir, "dst.go")
	require.NoError(t, os.WriteFile(src, []byte("package a\n"), 0o644))

	// This peer DID advertise willRename support, so Move must call
	// WillRenameFiles; when that call itself errors (e.g. the peer replies
	// MethodNotFound despite advertising support), the warning must read
	// as a failed call, not as "does not support".
	peer := peerAdvertisingWillRename()
	client := &fakeClient{
		peers:   []*servermgr.Peer{peer},
		willErr: map[*servermgr.Peer]error{peer: assert.AnError},
	}

	result, err := Move(context.Background(), client, src, dst, false)
	require.NoError(t, err)
	assert.True(t, result.Moved)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "willRenameFiles failed")
	assert.NotContains(t, result.Warnings[0], "does not support")
}
