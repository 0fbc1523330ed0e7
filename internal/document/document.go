// Package document tracks a single peer's open-file set and version
// counters, and synthesizes the didOpen/didChange notifications the LSP
// wire protocol requires to keep a server's view of a file in sync.
package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rockerboo/lspbridge/internal/lsp"
)

// Sender is the subset of the transport a Manager needs: the ability to
// notify a peer. Kept as an interface so tests can fake it without a real
// child process.
type Sender interface {
	SendNotification(method string, params any) error
}

// entry is the bookkeeping kept per open file.
type entry struct {
	uri     lsp.DocumentURI
	version int32
}

// Manager owns one peer's open-file table. A file is opened with the peer
// at most once per Manager lifetime; subsequent opens are idempotent
// no-ops.
type Manager struct {
	sender Sender

	mu   sync.Mutex
	open map[string]*entry // keyed by absolute path
}

// New creates a document manager that notifies peer through sender.
func New(sender Sender) *Manager {
	return &Manager{
		sender: sender,
		open:   make(map[string]*entry),
	}
}

// defaultLanguageExtensions maps a file extension (without the leading dot)
// to its LSP languageId. Extensions absent from this table map to "plaintext",
// a neutral default that still lets a server apply generic handling.
var defaultLanguageExtensions = map[string]string{
	"go":         "go",
	"ts":         "typescript",
	"tsx":        "typescriptreact",
	"js":         "javascript",
	"jsx":        "javascriptreact",
	"mjs":        "javascript",
	"py":         "python",
	"rs":         "rust",
	"rb":         "ruby",
	"java":       "java",
	"c":          "c",
	"h":          "c",
	"cpp":        "cpp",
	"cc":         "cpp",
	"hpp":        "cpp",
	"cs":         "csharp",
	"php":        "php",
	"lua":        "lua",
	"sh":         "shellscript",
	"bash":       "shellscript",
	"json":       "json",
	"yaml":       "yaml",
	"yml":        "yaml",
	"toml":       "toml",
	"md":         "markdown",
	"html":       "html",
	"css":        "css",
	"scss":       "scss",
	"sql":        "sql",
	"zig":        "zig",
	"kt":         "kotlin",
	"swift":      "swift",
	"ex":         "elixir",
	"exs":        "elixir",
	"hs":         "haskell",
	"clj":        "clojure",
	"scala":      "scala",
	"vue":        "vue",
	"graphql":    "graphql",
	"proto":      "proto3",
}

// LanguageIDForPath returns the LSP languageId for a path based on its
// extension, defaulting to "plaintext" for anything unrecognized.
func LanguageIDForPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if id, ok := defaultLanguageExtensions[ext]; ok {
		return id
	}
	return "plaintext"
}

// PathToURI converts an absolute filesystem path to a file:// URI.
func PathToURI(path string) lsp.DocumentURI {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.ToSlash(abs)
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	return lsp.DocumentURI("file://" + abs)
}

// URIToPath converts a file:// URI back to a filesystem path.
func URIToPath(uri lsp.DocumentURI) string {
	return strings.TrimPrefix(string(uri), "file://")
}

// EnsureOpen sends didOpen the first time path is seen by this manager and
// returns true; subsequent calls for the same path are no-ops returning
// false. A read error is returned with ok=false, no didOpen is sent, and
// the path is not marked open, so a later call tries again.
func (m *Manager) EnsureOpen(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("document: resolve path %q: %w", path, err)
	}

	m.mu.Lock()
	if _, ok := m.open[abs]; ok {
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	content, err := os.ReadFile(abs)
	if err != nil {
		return false, fmt.Errorf("document: read %q: %w", abs, err)
	}

	uri := PathToURI(abs)
	params := lsp.TextDocumentItem{
		URI:        uri,
		LanguageID: LanguageIDForPath(abs),
		Version:    1,
		Text:       string(content),
	}
	if err := m.sender.SendNotification("textDocument/didOpen", map[string]any{"textDocument": params}); err != nil {
		return false, fmt.Errorf("document: didOpen %q: %w", abs, err)
	}

	m.mu.Lock()
	m.open[abs] = &entry{uri: uri, version: 1}
	m.mu.Unlock()
	return true, nil
}

// SendChange bumps the version and sends a full-text didChange. Used only
// to force a server to re-evaluate diagnostics when no pull method is
// available (the diagnostics idle-wait fallback).
func (m *Manager) SendChange(path, text string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("document: resolve path %q: %w", path, err)
	}

	m.mu.Lock()
	e, ok := m.open[abs]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("document: %q is not open", abs)
	}
	e.version++
	version := e.version
	uri := e.uri
	m.mu.Unlock()

	return m.sender.SendNotification("textDocument/didChange", map[string]any{
		"textDocument": lsp.VersionedTextDocumentIdentifier{URI: uri, Version: &version},
		"contentChanges": []lsp.TextDocumentContentChangeEvent{
			{Text: text},
		},
	})
}

// IsOpen reports whether path has an open entry in this manager.
func (m *Manager) IsOpen(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[abs]
	return ok
}

// GetVersion returns the current didChange version for path, or 0 if it's
// not open.
func (m *Manager) GetVersion(path string) int32 {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.open[abs]; ok {
		return e.version
	}
	return 0
}

// URIFor returns the URI this manager associated with path on open, or the
// computed URI if path was never opened.
func (m *Manager) URIFor(path string) lsp.DocumentURI {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m.mu.Lock()
	e, ok := m.open[abs]
	m.mu.Unlock()
	if ok {
		return e.uri
	}
	return PathToURI(abs)
}

// OpenPaths returns every path currently tracked as open, used when
// resyncing documents onto a freshly restarted peer.
func (m *Manager) OpenPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.open))
	for p := range m.open {
		paths = append(paths, p)
	}
	return paths
}
