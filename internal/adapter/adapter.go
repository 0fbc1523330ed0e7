// Package adapter provides per-peer hooks for language servers that don't
// follow the standard LSP handshake or timing assumptions: custom
// initialize parameters, custom server-initiated requests/notifications,
// and per-method timeout overrides. The registry is a constant,
// in-process list built at init; it is not user-extensible, matching the
// "mutable singletons" re-architecture guidance of keeping the set fixed.
package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rockerboo/lspbridge/internal/lsp"
)

// Config is the subset of a peer's configuration an adapter's Matches
// predicate can inspect.
type Config struct {
	Command []string
	Extensions []string
}

// Peer is the subset of server-manager state an adapter may act against
// when answering a server-initiated request.
type Peer interface {
	SendMessage(id *int64, result any, rpcErr error) error
}

// Adapter customizes peer behavior for one family of language servers.
type Adapter interface {
	Name() string
	Matches(cfg Config) bool
	// CustomizeInitializeParams mutates or replaces the outbound
	// initialize params. Adapters that don't need this may embed
	// NoCustomization.
	CustomizeInitializeParams(params map[string]any) map[string]any
	// HandleRequest answers a server-initiated request. ok is false when
	// this adapter doesn't recognize method, letting the server manager
	// leave the request unanswered (the peer will eventually time out or
	// fall back).
	HandleRequest(ctx context.Context, method string, params json.RawMessage) (result any, ok bool)
	// HandleNotification processes a server-initiated notification,
	// returning true if it fully handled it (the server manager's
	// built-in handling for that method, if any, is skipped).
	HandleNotification(method string, params json.RawMessage) (handled bool)
	// Timeout returns a method-specific timeout override, or (0, false)
	// to use the default.
	Timeout(method string) (time.Duration, bool)
}

// Base is embedded by adapters to get no-op defaults for hooks they don't
// need to override.
type Base struct{}

func (Base) CustomizeInitializeParams(params map[string]any) map[string]any { return params }
func (Base) HandleRequest(ctx context.Context, method string, params json.RawMessage) (any, bool) {
	return nil, false
}
func (Base) HandleNotification(method string, params json.RawMessage) bool { return false }
func (Base) Timeout(method string) (time.Duration, bool)                   { return 0, false }

// workspaceConfigurationAdapter answers workspace/configuration, a
// server-to-client request some servers (notably gopls and
// typescript-language-server) send during initialization and expect a
// reply to before proceeding; without it they stall waiting for settings
// this bridge has no UI to collect.
type workspaceConfigurationAdapter struct{ Base }

func (workspaceConfigurationAdapter) Name() string { return "workspace-configuration" }

func (workspaceConfigurationAdapter) Matches(Config) bool { return true }

func (workspaceConfigurationAdapter) HandleRequest(ctx context.Context, method string, params json.RawMessage) (any, bool) {
	switch method {
	case "workspace/configuration":
		var req struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(params, &req)
		result := make([]map[string]any, len(req.Items))
		for i := range result {
			result[i] = map[string]any{}
		}
		return result, true
	case "client/registerCapability":
		return map[string]any{}, true
	case "workspace/applyEdit":
		return map[string]any{"applied": true}, true
	}
	return nil, false
}

// pylspAdapter matches python-lsp-server family commands, supplying a
// default plugin configuration when the user's config omits
// initializationOptions (§4.5 step 7) and extending timeouts for its
// notoriously slow completion/hover paths.
type pylspAdapter struct{ Base }

func (pylspAdapter) Name() string { return "pylsp" }

func (pylspAdapter) Matches(cfg Config) bool {
	for _, arg := range cfg.Command {
		base := arg
		if idx := strings.LastIndexByte(arg, '/'); idx >= 0 {
			base = arg[idx+1:]
		}
		if base == "pylsp" || base == "pyls" {
			return true
		}
	}
	return false
}

func (pylspAdapter) CustomizeInitializeParams(params map[string]any) map[string]any {
	opts, _ := params["initializationOptions"].(map[string]any)
	if opts != nil {
		return params
	}
	params["initializationOptions"] = map[string]any{
		"pylsp": map[string]any{
			"plugins": map[string]any{
				"pycodestyle": map[string]any{"enabled": true},
				"pyflakes":    map[string]any{"enabled": true},
				"jedi_completion": map[string]any{"enabled": true},
			},
		},
	}
	return params
}

func (pylspAdapter) Timeout(method string) (time.Duration, bool) {
	switch method {
	case "textDocument/completion", "textDocument/hover":
		return 60 * time.Second, true
	}
	return 0, false
}

// registry is the fixed, ordered set of built-in adapters; first match
// wins.
var registry = []Adapter{
	pylspAdapter{},
	workspaceConfigurationAdapter{},
}

// For resolves the adapter applying to cfg, or nil if none match. Since
// workspaceConfigurationAdapter matches unconditionally, For always
// returns a non-nil adapter in the built-in registry; callers should not
// assume nil is possible but must still handle it defensively.
func For(cfg Config) Adapter {
	for _, a := range registry {
		if a.Matches(cfg) {
			return a
		}
	}
	return nil
}

// SymbolKindValueSet is a convenience used by the server manager to build
// the WorkspaceSymbolClientCapabilities/DocumentSymbolClientCapabilities
// valueSet advertised during initialize.
func SymbolKindValueSet() []lsp.SymbolKind {
	return lsp.AllSymbolKinds()
}
