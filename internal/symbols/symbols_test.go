package symbols

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rockerboo/lspbridge/internal/lsp"
	"github.com/rockerboo/lspbridge/internal/lspclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	reply lspclient.DocumentSymbolReply
}

func (f fakeProvider) GetDocumentSymbols(ctx context.Context, path string) (lspclient.DocumentSymbolReply, error) {
	return f.reply, nil
}

func rng(sl, sc, el, ec uint32) lsp.Range {
	return lsp.Range{Start: lsp.Position{Line: sl, Character: sc}, End: lsp.Position{Line: el, Character: ec}}
}

func TestFindSymbolsByNameHierarchical(t *testing.T) {
	provider := fakeProvider{reply: lspclient.DocumentSymbolReply{
		Hierarchical: []lsp.DocumentSymbol{
			{
				Name:           "oldName",
				Kind:           lsp.SymbolKindFunction,
				Range:          rng(4, 0, 4, 20),
				SelectionRange: rng(4, 9, 4, 16),
			},
		},
	}}
	r := New(provider)
	result, err := r.FindSymbolsByName(context.Background(), "a.ts", "oldName", "function")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, uint32(4), result.Matches[0].Position.Line)
	assert.Equal(t, uint32(9), result.Matches[0].Position.Character)
	assert.Empty(t, result.Warning)
}

func TestFindSymbolsByNameKindFallback(t *testing.T) {
	provider := fakeProvider{reply: lspclient.DocumentSymbolReply{
		Hierarchical: []lsp.DocumentSymbol{
			{Name: "test", Kind: lsp.SymbolKindFunction, Range: rng(0, 0, 0, 10), SelectionRange: rng(0, 9, 0, 13)},
			{Name: "test", Kind: lsp.SymbolKindVariable, Range: rng(1, 0, 1, 10), SelectionRange: rng(1, 4, 1, 8)},
		},
	}}
	r := New(provider)
	result, err := r.FindSymbolsByName(context.Background(), "a.ts", "test", "class")
	require.NoError(t, err)
	require.Len(t, result.Matches, 2)
	assert.Contains(t, result.Warning, `no symbols with kind "class"`)
	assert.Contains(t, result.Warning, "function, variable")
}

func TestFindSymbolsByNameInvalidKindDropsFilter(t *testing.T) {
	provider := fakeProvider{reply: lspclient.DocumentSymbolReply{
		Hierarchical: []lsp.DocumentSymbol{
			{Name: "f", Kind: lsp.SymbolKindFunction, Range: rng(0, 0, 0, 5), SelectionRange: rng(0, 0, 0, 1)},
		},
	}}
	r := New(provider)
	result, err := r.FindSymbolsByName(context.Background(), "a.ts", "f", "bogus-kind")
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)
	assert.Contains(t, result.Warning, "invalid kind")
}

func TestFindSymbolsByNameFlatSearchesFileForPosition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	content := "package a\n\nfunc oldName() {}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	provider := fakeProvider{reply: lspclient.DocumentSymbolReply{
		Flat: []lsp.SymbolInformation{
			{Name: "oldName", Kind: lsp.SymbolKindFunction, Location: lsp.Location{Range: rng(2, 0, 2, 18)}},
		},
	}}
	r := New(provider)
	result, err := r.FindSymbolsByName(context.Background(), path, "oldName", "")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, uint32(2), result.Matches[0].Position.Line)
	assert.Equal(t, uint32(5), result.Matches[0].Position.Character) // "func " is 5 chars
}

func TestFindSymbolsByNameNoMatchesReturnsEmptyNotError(t *testing.T) {
	provider := fakeProvider{reply: lspclient.DocumentSymbolReply{Hierarchical: []lsp.DocumentSymbol{}}}
	r := New(provider)
	result, err := r.FindSymbolsByName(context.Background(), "a.ts", "missing", "")
	require.NoError(t, err)
	assert.Empty(t, result.Matches)
}
