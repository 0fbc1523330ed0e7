package servermgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rockerboo/lspbridge/internal/adapter"
	"github.com/rockerboo/lspbridge/internal/document"
	"github.com/rockerboo/lspbridge/internal/lsp"
	"github.com/rockerboo/lspbridge/internal/routing"
	"github.com/rockerboo/lspbridge/internal/transport"
)

// initTimeout is the best-effort wait for a server-side ready signal
// before a peer is marked ready anyway (§4.5 step 9).
const initTimeout = 3 * time.Second

// Manager owns every live peer, keyed by its config's stable Key(). Starts
// for the same config collapse via a singleflight.Group, satisfying the
// "concurrent starters collapse to one start attempt" invariant.
type Manager struct {
	debug bool

	mu    sync.Mutex
	peers map[string]*Peer
	group singleflight.Group
}

// New creates an empty server manager.
func New(debug bool) *Manager {
	return &Manager{peers: make(map[string]*Peer), debug: debug}
}

// GetOrStart returns the live peer for cfg, starting one if none exists.
// Concurrent callers for the same cfg.Key() share one start attempt.
func (m *Manager) GetOrStart(ctx context.Context, cfg routing.ServerConfig) (*Peer, error) {
	key := cfg.Key()

	m.mu.Lock()
	if p, ok := m.peers[key]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.Lock()
		if p, ok := m.peers[key]; ok {
			m.mu.Unlock()
			return p, nil
		}
		m.mu.Unlock()

		p, err := m.start(ctx, cfg)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.peers[key] = p
		m.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Peer), nil
}

// Get returns the live peer for key without starting one.
func (m *Manager) Get(key string) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[key]
	return p, ok
}

// All returns every currently live peer.
func (m *Manager) All() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

func (m *Manager) remove(key string) {
	m.mu.Lock()
	delete(m.peers, key)
	m.mu.Unlock()
}

// start spawns the child, wires the transport handler, runs the
// initialize handshake, arms a restart timer if configured, and installs
// the exit watcher that evicts the peer from the live map.
func (m *Manager) start(ctx context.Context, cfg routing.ServerConfig) (*Peer, error) {
	p, err := spawnPeer(cfg, m.debug)
	if err != nil {
		return nil, err
	}

	p.transport.SetHandler(func(id *int64, method string, params json.RawMessage) {
		m.dispatch(p, id, method, params)
	})
	p.transport.Start(ctx)

	go m.watchExit(p)

	if err := m.handshake(ctx, p); err != nil {
		p.Kill()
		return nil, err
	}

	if cfg.RestartInterval > 0 {
		interval := time.Duration(cfg.RestartInterval * float64(time.Minute))
		if interval < 100*time.Millisecond {
			interval = 100 * time.Millisecond
		}
		p.restartTimer = time.AfterFunc(interval, func() {
			log.Printf("[servermgr] %s: scheduled restart firing", p)
			if _, err := m.Restart(context.Background(), cfg); err != nil {
				log.Printf("[servermgr] %s: scheduled restart failed: %v", p, err)
			}
		})
	}

	return p, nil
}

// watchExit waits for the peer's process to exit, then rejects every
// pending request and evicts the peer from the live map so the next
// request against its config triggers a fresh start.
func (m *Manager) watchExit(p *Peer) {
	<-p.Exited()
	p.setStatus(StatusTerminated)
	if p.restartTimer != nil {
		p.restartTimer.Stop()
	}
	reason := fmt.Errorf("%w: %v", ErrPeerExit, p.exitErr)
	p.transport.RejectAllPending(reason)
	// Only evict p itself: after a Restart the key may already hold the
	// replacement peer, which must stay live.
	key := p.Config.Key()
	m.mu.Lock()
	if cur, ok := m.peers[key]; ok && cur == p {
		delete(m.peers, key)
	}
	m.mu.Unlock()
	log.Printf("[servermgr] %s exited: %v", p, p.exitErr)
}

// handshake runs the full initialize/initialized exchange (§4.5 steps
// 2-9).
func (m *Manager) handshake(ctx context.Context, p *Peer) error {
	p.setStatus(StatusInitializing)

	rootURI := document.PathToURI(p.Config.RootDir)
	params := map[string]any{
		"processId": nil,
		"clientInfo": map[string]any{
			"name":    "lspbridge",
			"version": "0.1.0",
		},
		"rootUri": rootURI,
		"workspaceFolders": []map[string]any{
			{"uri": rootURI, "name": "workspace"},
		},
		"capabilities": buildCapabilities(),
	}
	if len(p.Config.InitializationOptions) > 0 {
		var opts any
		if err := json.Unmarshal(p.Config.InitializationOptions, &opts); err == nil {
			params["initializationOptions"] = opts
		}
	}
	if p.Adapter != nil {
		params = p.Adapter.CustomizeInitializeParams(params)
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var result lsp.InitializeResult
	if err := p.transport.SendRequest(handshakeCtx, "initialize", params, 10*time.Second, &result); err != nil {
		return fmt.Errorf("servermgr: initialize %v: %w", p.Config.Command, err)
	}
	p.SetCapabilities(result.Capabilities)

	if err := p.transport.SendNotification("initialized", map[string]any{}); err != nil {
		return fmt.Errorf("servermgr: initialized notify %v: %w", p.Config.Command, err)
	}

	readyCtx, readyCancel := context.WithTimeout(ctx, initTimeout)
	defer readyCancel()
	select {
	case <-p.ready:
	case <-readyCtx.Done():
		log.Printf("[servermgr] %s: %v, marking ready anyway (best-effort)", p, ErrInitTimeout)
		p.markReady()
	case <-p.exited:
		return fmt.Errorf("%w during handshake", ErrPeerExit)
	}
	return nil
}

func buildCapabilities() map[string]any {
	kindValues := make([]int, 0, 26)
	for _, k := range adapter.SymbolKindValueSet() {
		kindValues = append(kindValues, int(k))
	}
	return map[string]any{
		"workspace": map[string]any{
			"applyEdit": true,
			"workspaceEdit": map[string]any{
				"documentChanges": true,
			},
			"didChangeConfiguration": map[string]any{"dynamicRegistration": false},
			"symbol": map[string]any{
				"symbolKind": map[string]any{"valueSet": kindValues},
			},
			"workspaceFolders": true,
			"fileOperations": map[string]any{
				"willRename": true,
				"didRename":  true,
			},
		},
		"textDocument": map[string]any{
			"synchronization": map[string]any{
				"didSave": true,
			},
			"definition": map[string]any{"linkSupport": false},
			"references": map[string]any{},
			"rename":     map[string]any{"prepareSupport": false},
			"documentSymbol": map[string]any{
				"hierarchicalDocumentSymbolSupport": true,
				"symbolKind":                        map[string]any{"valueSet": kindValues},
			},
			"completion": map[string]any{
				"completionItem": map[string]any{"snippetSupport": true},
			},
			"hover":         map[string]any{},
			"signatureHelp": map[string]any{},
			"publishDiagnostics": map[string]any{
				"relatedInformation": false,
				"versionSupport":     false,
			},
			"callHierarchy": map[string]any{},
		},
	}
}

// dispatch handles server-initiated traffic: requests (id != nil) go to
// the adapter, and a handled request's result is sent back to the peer
// via SendMessage; notifications update
// internal state (initialized/publishDiagnostics) or are offered to the
// adapter.
func (m *Manager) dispatch(p *Peer, id *int64, method string, params json.RawMessage) {
	if id != nil {
		var result any
		var ok bool
		if p.Adapter != nil {
			result, ok = p.Adapter.HandleRequest(context.Background(), method, params)
		}
		if !ok {
			// Unhandled server-initiated request: leave it unanswered: the
			// server will time out or otherwise degrade gracefully.
			return
		}
		if err := p.transport.SendMessage(&transport.Response{JSONRPC: "2.0", ID: id, Result: mustMarshal(result)}); err != nil {
			log.Printf("[servermgr] %s: replying to %s: %v", p, method, err)
		}
		return
	}

	if p.Adapter != nil && p.Adapter.HandleNotification(method, params) {
		return
	}

	switch method {
	case "initialized":
		p.markReady()
	case "textDocument/publishDiagnostics":
		var pd struct {
			URI         lsp.DocumentURI `json:"uri"`
			Version     *int32          `json:"version,omitempty"`
			Diagnostics []lsp.Diagnostic `json:"diagnostics"`
		}
		if err := json.Unmarshal(params, &pd); err != nil {
			log.Printf("[servermgr] %s: malformed publishDiagnostics: %v", p, err)
			return
		}
		p.Diagnostics.Update(pd.URI, pd.Diagnostics, pd.Version)
	case "window/showMessage", "window/logMessage":
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(params, &msg)
		log.Printf("[servermgr] %s message: %s", p, msg.Message)
	default:
		// Unrecognized notifications are ignored per §4.5.
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// Restart kills the live peer for cfg (if any) and starts a fresh one with
// the same config, resyncing its previously open documents.
func (m *Manager) Restart(ctx context.Context, cfg routing.ServerConfig) (*Peer, error) {
	key := cfg.Key()

	m.mu.Lock()
	old, hadOld := m.peers[key]
	delete(m.peers, key)
	m.mu.Unlock()

	var openPaths []string
	if hadOld {
		old.setStatus(StatusRestarting)
		if old.restartTimer != nil {
			old.restartTimer.Stop()
		}
		openPaths = old.Documents.OpenPaths()
		old.Kill()
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.start(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	p := v.(*Peer)

	m.mu.Lock()
	m.peers[key] = p
	m.mu.Unlock()

	for _, path := range openPaths {
		if _, err := p.Documents.EnsureOpen(ctx, path); err != nil {
			log.Printf("[servermgr] %s: resync %q: %v", p, path, err)
		}
	}

	return p, nil
}

// DisposeAll terminates every live peer and clears restart timers.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.peers = make(map[string]*Peer)
	m.mu.Unlock()

	for _, p := range peers {
		if p.restartTimer != nil {
			p.restartTimer.Stop()
		}
		p.Kill()
	}
}
