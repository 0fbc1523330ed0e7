// Package lspclient exposes the normalized operations layered on top of
// the document manager, framing transport, and diagnostics cache: find
// definition, references, rename, document symbols, hover, workspace
// symbol, call hierarchy, and diagnostics. This is component G, the
// object the tool facade (K) and symbol resolver (H) call into.
package lspclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/rockerboo/lspbridge/internal/diagnostics"
	"github.com/rockerboo/lspbridge/internal/document"
	"github.com/rockerboo/lspbridge/internal/lsp"
	"github.com/rockerboo/lspbridge/internal/routing"
	"github.com/rockerboo/lspbridge/internal/servermgr"
)

// defaultTimeout is used when the peer's adapter doesn't override the
// method (§4.7 step 3).
const defaultTimeout = 30 * time.Second

// justOpenedGrace is the best-effort delay after a document's first open,
// giving a peer a chance to index before the first real request lands on
// it (§9 Open Question 2; no adapter currently supplies a sharper
// readiness signal, so no hook is built for one speculatively).
const justOpenedGrace = 200 * time.Millisecond

// Client is the cohesive LSP operations object. It owns no state of its
// own beyond the config and server manager; all peer state lives in
// servermgr.Peer.
type Client struct {
	config  *routing.Config
	servers *servermgr.Manager
}

// New builds a Client over an already-loaded configuration and server
// manager.
func New(config *routing.Config, servers *servermgr.Manager) *Client {
	return &Client{config: config, servers: servers}
}

// peerFor resolves the configured server for path, starts it if needed,
// waits for its handshake, and ensures the document is open, returning
// whether the open was fresh (so callers can apply the opening grace
// period before their first request).
func (c *Client) peerFor(ctx context.Context, path string) (*servermgr.Peer, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, fmt.Errorf("lspclient: resolve path %q: %w", path, err)
	}

	sc, ok := routing.SelectServer(c.config, abs)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", servermgr.ErrNoServerForExtension, filepath.Ext(abs))
	}

	peer, err := c.servers.GetOrStart(ctx, *sc)
	if err != nil {
		return nil, false, err
	}
	if err := peer.WaitReady(ctx); err != nil {
		return nil, false, err
	}

	justOpened, err := peer.Documents.EnsureOpen(ctx, abs)
	if err != nil {
		return nil, false, err
	}
	return peer, justOpened, nil
}

func (c *Client) timeoutFor(peer *servermgr.Peer, method string) time.Duration {
	if peer.Adapter != nil {
		if t, ok := peer.Adapter.Timeout(method); ok {
			return t
		}
	}
	return defaultTimeout
}

func (c *Client) maybeGrace(ctx context.Context, justOpened bool) {
	if !justOpened {
		return
	}
	select {
	case <-time.After(justOpenedGrace):
	case <-ctx.Done():
	}
}

func textDocPositionParams(path string, pos lsp.Position) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": document.PathToURI(path)},
		"position":     pos,
	}
}

// FindDefinition resolves textDocument/definition, accepting both a single
// Location and a list of Locations (or LocationLinks) from the peer.
func (c *Client) FindDefinition(ctx context.Context, path string, pos lsp.Position) ([]lsp.Location, error) {
	peer, justOpened, err := c.peerFor(ctx, path)
	if err != nil {
		return nil, err
	}
	c.maybeGrace(ctx, justOpened)

	var raw rawLocationReply
	timeout := c.timeoutFor(peer, "textDocument/definition")
	if err := peer.Request(ctx, "textDocument/definition", textDocPositionParams(path, pos), timeout, &raw); err != nil {
		return nil, err
	}
	return raw.Locations()
}

// FindImplementation resolves textDocument/implementation with the same
// reply-shape tolerance as FindDefinition.
func (c *Client) FindImplementation(ctx context.Context, path string, pos lsp.Position) ([]lsp.Location, error) {
	peer, justOpened, err := c.peerFor(ctx, path)
	if err != nil {
		return nil, err
	}
	c.maybeGrace(ctx, justOpened)

	var raw rawLocationReply
	timeout := c.timeoutFor(peer, "textDocument/implementation")
	if err := peer.Request(ctx, "textDocument/implementation", textDocPositionParams(path, pos), timeout, &raw); err != nil {
		return nil, err
	}
	return raw.Locations()
}

// FindReferences resolves textDocument/references.
func (c *Client) FindReferences(ctx context.Context, path string, pos lsp.Position, includeDeclaration bool) ([]lsp.Location, error) {
	peer, justOpened, err := c.peerFor(ctx, path)
	if err != nil {
		return nil, err
	}
	c.maybeGrace(ctx, justOpened)

	params := textDocPositionParams(path, pos)
	params["context"] = map[string]any{"includeDeclaration": includeDeclaration}

	var locations []lsp.Location
	timeout := c.timeoutFor(peer, "textDocument/references")
	if err := peer.Request(ctx, "textDocument/references", params, timeout, &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

// RenameSymbol resolves textDocument/rename, returning the raw peer reply
// for normalization by internal/editapply.
func (c *Client) RenameSymbol(ctx context.Context, path string, pos lsp.Position, newName string) (*lsp.WorkspaceEdit, error) {
	peer, justOpened, err := c.peerFor(ctx, path)
	if err != nil {
		return nil, err
	}
	c.maybeGrace(ctx, justOpened)

	params := textDocPositionParams(path, pos)
	params["newName"] = newName

	var edit lsp.WorkspaceEdit
	timeout := c.timeoutFor(peer, "textDocument/rename")
	if err := peer.Request(ctx, "textDocument/rename", params, timeout, &edit); err != nil {
		return nil, err
	}
	return &edit, nil
}

// DocumentSymbolReply is the polymorphic documentSymbol reply, tagged by
// which of the two shapes the peer actually used.
type DocumentSymbolReply struct {
	Hierarchical []lsp.DocumentSymbol
	Flat         []lsp.SymbolInformation
}

// GetDocumentSymbols resolves textDocument/documentSymbol, preserving
// whichever of the two reply shapes the peer used; H's traversal chooses
// per-variant.
func (c *Client) GetDocumentSymbols(ctx context.Context, path string) (DocumentSymbolReply, error) {
	peer, justOpened, err := c.peerFor(ctx, path)
	if err != nil {
		return DocumentSymbolReply{}, err
	}
	c.maybeGrace(ctx, justOpened)

	params := map[string]any{"textDocument": map[string]any{"uri": document.PathToURI(path)}}
	timeout := c.timeoutFor(peer, "textDocument/documentSymbol")

	var raw []json.RawMessage
	if err := peer.Request(ctx, "textDocument/documentSymbol", params, timeout, &raw); err != nil {
		return DocumentSymbolReply{}, err
	}
	if len(raw) == 0 {
		return DocumentSymbolReply{Hierarchical: []lsp.DocumentSymbol{}}, nil
	}

	if isHierarchicalEntry(raw[0]) {
		var hierarchical []lsp.DocumentSymbol
		if err := json.Unmarshal(mustJoinArray(raw), &hierarchical); err != nil {
			return DocumentSymbolReply{}, err
		}
		return DocumentSymbolReply{Hierarchical: hierarchical}, nil
	}

	var flat []lsp.SymbolInformation
	if err := json.Unmarshal(mustJoinArray(raw), &flat); err != nil {
		return DocumentSymbolReply{}, err
	}
	return DocumentSymbolReply{Flat: flat}, nil
}

// isHierarchicalEntry probes one documentSymbol array element for the key
// that unambiguously distinguishes the two reply shapes: a hierarchical
// DocumentSymbol always carries "selectionRange"; a flat SymbolInformation
// always carries "location" instead. Checking key presence rather than
// decoding into a Go struct avoids the zero-value ambiguity of fields the
// two shapes share (both have "name" and "kind").
func isHierarchicalEntry(entry json.RawMessage) bool {
	var probe struct {
		SelectionRange json.RawMessage `json:"selectionRange"`
	}
	_ = json.Unmarshal(entry, &probe)
	return len(probe.SelectionRange) > 0
}

func mustJoinArray(entries []json.RawMessage) json.RawMessage {
	out, err := json.Marshal(entries)
	if err != nil {
		return json.RawMessage("[]")
	}
	return out
}

// Hover resolves textDocument/hover; a null reply is a legitimate "no
// hover" result, returned as (nil, nil).
func (c *Client) Hover(ctx context.Context, path string, pos lsp.Position) (*lsp.Hover, error) {
	peer, justOpened, err := c.peerFor(ctx, path)
	if err != nil {
		return nil, err
	}
	c.maybeGrace(ctx, justOpened)

	var hover *lsp.Hover
	timeout := c.timeoutFor(peer, "textDocument/hover")
	if err := peer.Request(ctx, "textDocument/hover", textDocPositionParams(path, pos), timeout, &hover); err != nil {
		return nil, err
	}
	return hover, nil
}

// WorkspaceSymbol fans out workspace/symbol to every live peer and
// concatenates the results; with zero running peers it returns an empty
// list rather than an error.
func (c *Client) WorkspaceSymbol(ctx context.Context, query string) ([]lsp.SymbolInformation, error) {
	peers := c.servers.All()
	if len(peers) == 0 {
		return []lsp.SymbolInformation{}, nil
	}

	var all []lsp.SymbolInformation
	for _, peer := range peers {
		var result []lsp.SymbolInformation
		timeout := c.timeoutFor(peer, "workspace/symbol")
		err := peer.Request(ctx, "workspace/symbol", map[string]any{"query": query}, timeout, &result)
		if err != nil {
			continue
		}
		all = append(all, result...)
	}
	if all == nil {
		all = []lsp.SymbolInformation{}
	}
	return all, nil
}

// PrepareCallHierarchy resolves textDocument/prepareCallHierarchy.
func (c *Client) PrepareCallHierarchy(ctx context.Context, path string, pos lsp.Position) ([]lsp.CallHierarchyItem, error) {
	peer, justOpened, err := c.peerFor(ctx, path)
	if err != nil {
		return nil, err
	}
	c.maybeGrace(ctx, justOpened)

	var items []lsp.CallHierarchyItem
	timeout := c.timeoutFor(peer, "textDocument/prepareCallHierarchy")
	if err := peer.Request(ctx, "textDocument/prepareCallHierarchy", textDocPositionParams(path, pos), timeout, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// IncomingCalls resolves callHierarchy/incomingCalls for a previously
// prepared item, routed to the peer configured for that item's URI.
func (c *Client) IncomingCalls(ctx context.Context, item lsp.CallHierarchyItem) ([]lsp.CallHierarchyIncomingCall, error) {
	peer, _, err := c.peerFor(ctx, document.URIToPath(item.URI))
	if err != nil {
		return nil, err
	}
	var calls []lsp.CallHierarchyIncomingCall
	timeout := c.timeoutFor(peer, "callHierarchy/incomingCalls")
	if err := peer.Request(ctx, "callHierarchy/incomingCalls", map[string]any{"item": item}, timeout, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// OutgoingCalls resolves callHierarchy/outgoingCalls.
func (c *Client) OutgoingCalls(ctx context.Context, item lsp.CallHierarchyItem) ([]lsp.CallHierarchyOutgoingCall, error) {
	peer, _, err := c.peerFor(ctx, document.URIToPath(item.URI))
	if err != nil {
		return nil, err
	}
	var calls []lsp.CallHierarchyOutgoingCall
	timeout := c.timeoutFor(peer, "callHierarchy/outgoingCalls")
	if err := peer.Request(ctx, "callHierarchy/outgoingCalls", map[string]any{"item": item}, timeout, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// GetDiagnostics implements the pull-with-graceful-fallback algorithm of
// §4.3: return cached items immediately if present; otherwise try a pull
// request, then an idle wait, then a forced no-op edit kick plus a second
// idle wait.
func (c *Client) GetDiagnostics(ctx context.Context, path string) ([]lsp.Diagnostic, error) {
	peer, _, err := c.peerFor(ctx, path)
	if err != nil {
		return nil, err
	}

	uri := peer.Documents.URIFor(path)

	if items, ok := peer.Diagnostics.Get(uri); ok {
		return items, nil
	}

	var report struct {
		Kind  string          `json:"kind"`
		Items []lsp.Diagnostic `json:"items"`
	}
	params := map[string]any{"textDocument": map[string]any{"uri": uri}}
	timeout := c.timeoutFor(peer, "textDocument/diagnostic")
	pullErr := peer.Request(ctx, "textDocument/diagnostic", params, timeout, &report)
	if pullErr == nil {
		if report.Kind == "unchanged" {
			return []lsp.Diagnostic{}, nil
		}
		return report.Items, nil
	}

	peer.Diagnostics.WaitForIdle(ctx, uri, diagnostics.DefaultPullFallbackConfig())
	if items, ok := peer.Diagnostics.Get(uri); ok {
		return items, nil
	}

	if err := forceNoOpEditKick(peer, path); err != nil {
		return []lsp.Diagnostic{}, nil
	}
	peer.Diagnostics.WaitForIdle(ctx, uri, diagnostics.DefaultKickFallbackConfig())
	if items, ok := peer.Diagnostics.Get(uri); ok {
		return items, nil
	}
	return []lsp.Diagnostic{}, nil
}

// forceNoOpEditKick sends two didChange notifications restoring the
// original text, nudging a peer with no textDocument/diagnostic support
// into re-evaluating and republishing.
func forceNoOpEditKick(peer *servermgr.Peer, path string) error {
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := peer.Documents.SendChange(path, content+"\n"); err != nil {
		return err
	}
	return peer.Documents.SendChange(path, content)
}

// rawLocationReply tolerates a definition/implementation reply being a
// single object, a list of Locations, or a list of LocationLinks.
type rawLocationReply struct {
	single     *lsp.Location
	list       []lsp.Location
	linkList   []lsp.LocationLink
	wasObject  bool
	wasList    bool
	wasLinks   bool
}

func (r *rawLocationReply) UnmarshalJSON(data []byte) error {
	trimmed := skipWhitespace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '{' {
		var loc lsp.Location
		if err := unmarshalInto(data, &loc); err != nil {
			return err
		}
		r.single = &loc
		r.wasObject = true
		return nil
	}
	// A LocationLink list also decodes into []Location without error (its
	// fields just stay empty), so links are recognized by "targetUri" first.
	var links []lsp.LocationLink
	if err := unmarshalInto(data, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
		r.linkList = links
		r.wasLinks = true
		return nil
	}
	var list []lsp.Location
	if err := unmarshalInto(data, &list); err != nil {
		return err
	}
	r.list = list
	r.wasList = true
	return nil
}

// PreloadServers walks root, determines which configured servers have at
// least one matching file, and starts each distinct one (or, when
// dryRunOnly is true, only reports which configs would be started).
func (c *Client) PreloadServers(ctx context.Context, root string, dryRunOnly bool) ([]routing.ServerConfig, error) {
	return routing.Preload(c.config, root, dryRunOnly, func(startCtx context.Context, sc routing.ServerConfig) error {
		_, err := c.servers.GetOrStart(startCtx, sc)
		return err
	})
}

// WatchNewFiles watches root for files created after PreloadServers has
// already run once, so a peer already running for an extension also
// picks up files added later in the session instead of requiring a
// restart. The returned Watcher's Run must be started by the caller; its
// Close stops the watch.
func (c *Client) WatchNewFiles(root string) (*routing.Watcher, error) {
	return routing.NewWatcher(root, func(path string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		if _, _, err := c.peerFor(ctx, path); err != nil {
			log.Printf("[lspclient] watch: %s: %v", path, err)
		}
	})
}

// RestartResult reports the outcome of RestartServers.
type RestartResult struct {
	Success   bool
	Restarted []string
	Failed    []string
	Message   string
}

// RestartServers restarts every live peer whose config matches one of
// exts (or every live peer, when exts is empty). A call with no running
// peers returns success=false with an explanatory message.
func (c *Client) RestartServers(ctx context.Context, exts []string) RestartResult {
	peers := c.servers.All()
	if len(peers) == 0 {
		return RestartResult{Success: false, Message: "no servers running"}
	}

	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[e] = true
	}

	var restarted, failed []string
	for _, peer := range peers {
		if len(extSet) > 0 {
			matches := false
			for _, e := range peer.Config.Extensions {
				if extSet[e] {
					matches = true
					break
				}
			}
			if !matches {
				continue
			}
		}
		cfg := peer.Config
		if _, err := c.servers.Restart(ctx, cfg); err != nil {
			failed = append(failed, fmt.Sprintf("%v: %v", cfg.Command, err))
			continue
		}
		restarted = append(restarted, fmt.Sprintf("%v", cfg.Command))
	}

	return RestartResult{
		Success:   len(failed) == 0,
		Restarted: restarted,
		Failed:    failed,
	}
}

// WillRenameFiles asks peer for the edits it wants applied before oldPath
// is renamed to newPath, per workspace/willRenameFiles. A peer that never
// advertised the fileOperations.willRename capability typically replies
// with a null result; that is returned as (nil, nil), not an error.
func (c *Client) WillRenameFiles(ctx context.Context, peer *servermgr.Peer, oldPath, newPath string) (*lsp.WorkspaceEdit, error) {
	params := lsp.RenameFilesParams{Files: []lsp.FileRename{{
		OldURI: document.PathToURI(oldPath),
		NewURI: document.PathToURI(newPath),
	}}}
	var result *lsp.WorkspaceEdit
	err := peer.Request(ctx, "workspace/willRenameFiles", params, c.timeoutFor(peer, "workspace/willRenameFiles"), &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DidRenameFiles notifies peer that oldPath has been renamed to newPath,
// after the rename has already happened on disk.
func (c *Client) DidRenameFiles(peer *servermgr.Peer, oldPath, newPath string) error {
	params := lsp.RenameFilesParams{Files: []lsp.FileRename{{
		OldURI: document.PathToURI(oldPath),
		NewURI: document.PathToURI(newPath),
	}}}
	return peer.Notify("workspace/didRenameFiles", params)
}

// PeersForExtension returns every live peer whose config's extension list
// includes ext, used to fan willRenameFiles/didRenameFiles out to every
// server that might care about a move.
func (c *Client) PeersForExtension(ext string) []*servermgr.Peer {
	var out []*servermgr.Peer
	for _, peer := range c.servers.All() {
		for _, e := range peer.Config.Extensions {
			if e == ext {
				out = append(out, peer)
				break
			}
		}
	}
	return out
}

// Dispose clears restart timers and terminates every live peer.
func (c *Client) Dispose() {
	c.servers.DisposeAll()
}

// Servers exposes the underlying server manager for components (the move
// orchestrator) that need direct peer access beyond the normalized
// operations above.
func (c *Client) Servers() *servermgr.Manager { return c.servers }

// Config exposes the loaded routing configuration.
func (c *Client) Config() *routing.Config { return c.config }

func (r rawLocationReply) Locations() ([]lsp.Location, error) {
	switch {
	case r.wasObject:
		return []lsp.Location{*r.single}, nil
	case r.wasLinks:
		out := make([]lsp.Location, len(r.linkList))
		for i, l := range r.linkList {
			out[i] = l.AsLocation()
		}
		return out, nil
	default:
		if r.list == nil {
			return []lsp.Location{}, nil
		}
		return r.list, nil
	}
}
