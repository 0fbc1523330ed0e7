// Package servermgr owns every live LSP peer process: it spawns them,
// drives the initialize handshake, serializes concurrent start attempts,
// routes server-initiated traffic to diagnostics/adapters, and disposes
// them cleanly. This is component E.
package servermgr

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rockerboo/lspbridge/internal/adapter"
	"github.com/rockerboo/lspbridge/internal/diagnostics"
	"github.com/rockerboo/lspbridge/internal/document"
	"github.com/rockerboo/lspbridge/internal/lsp"
	"github.com/rockerboo/lspbridge/internal/routing"
	"github.com/rockerboo/lspbridge/internal/transport"
)

// PeerStatus is the lifecycle stage of a Peer.
type PeerStatus int32

const (
	StatusSpawned PeerStatus = iota
	StatusInitializing
	StatusReady
	StatusRestarting
	StatusTerminated
)

func (s PeerStatus) String() string {
	switch s {
	case StatusSpawned:
		return "spawned"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusRestarting:
		return "restarting"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Peer is one live LSP child process and everything owned per-peer: its
// transport, document table, diagnostics cache, and adapter.
type Peer struct {
	ID      string
	Config  routing.ServerConfig
	Adapter adapter.Adapter

	cmd       *exec.Cmd
	transport *transport.Transport
	Documents *document.Manager
	Diagnostics *diagnostics.Cache

	status    atomic.Int32
	StartTime time.Time

	capMu        sync.RWMutex
	capabilities lsp.ServerCapabilities

	ready     chan struct{}
	readyOnce sync.Once

	restartTimer *time.Timer

	exited chan struct{}
	exitErr error
}

// Status returns the peer's current lifecycle stage.
func (p *Peer) Status() PeerStatus { return PeerStatus(p.status.Load()) }

func (p *Peer) setStatus(s PeerStatus) { p.status.Store(int32(s)) }

// WaitReady blocks until the initialize handshake completes (successfully
// or via the best-effort initialization timeout) or ctx is done.
func (p *Peer) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.exited:
		return fmt.Errorf("%w: peer exited before becoming ready", ErrPeerExit)
	}
}

// SetCapabilities stores the peer's decoded initialize-result
// capabilities. Called once by the server manager after the handshake's
// initialize reply arrives.
func (p *Peer) SetCapabilities(c lsp.ServerCapabilities) {
	p.capMu.Lock()
	p.capabilities = c
	p.capMu.Unlock()
}

// Capabilities returns the peer's advertised capabilities. Zero value
// before the handshake completes.
func (p *Peer) Capabilities() lsp.ServerCapabilities {
	p.capMu.RLock()
	defer p.capMu.RUnlock()
	return p.capabilities
}

func (p *Peer) markReady() {
	p.readyOnce.Do(func() {
		p.setStatus(StatusReady)
		close(p.ready)
	})
}

// Exited reports whether the child process has exited.
func (p *Peer) Exited() <-chan struct{} { return p.exited }

// SendNotification implements document.Sender.
func (p *Peer) SendNotification(method string, params any) error {
	return p.transport.SendNotification(method, params)
}

// Request sends an LSP request to this peer with the given timeout,
// decoding the result into out (may be nil).
func (p *Peer) Request(ctx context.Context, method string, params any, timeout time.Duration, out any) error {
	return p.transport.SendRequest(ctx, method, params, timeout, out)
}

// Notify sends a notification to this peer.
func (p *Peer) Notify(method string, params any) error {
	return p.transport.SendNotification(method, params)
}

// spawnPeer starts the child process and wires its transport, but does not
// run the initialize handshake; callers call initialize separately so
// that partially-constructed peers can still be torn down cleanly on
// failure.
func spawnPeer(cfg routing.ServerConfig, debug bool) (*Peer, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	if cfg.RootDir != "" {
		cmd.Dir = cfg.RootDir
	}
	cmd.Env = os.Environ()
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	id := uuid.NewString()
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			log.Printf("[peer %s] stderr: %s", id[:8], scanner.Text())
		}
	}()

	tr := transport.New(stdout, stdin, stdin, transport.WithDebug(debug))

	p := &Peer{
		ID:          id,
		Config:      cfg,
		Adapter:     adapter.For(adapter.Config{Command: cfg.Command, Extensions: cfg.Extensions}),
		cmd:         cmd,
		transport:   tr,
		Diagnostics: diagnostics.New(),
		StartTime:   time.Now(),
		ready:       make(chan struct{}),
		exited:      make(chan struct{}),
	}
	p.Documents = document.New(p)
	p.setStatus(StatusSpawned)

	go func() {
		waitErr := cmd.Wait()
		p.exitErr = waitErr
		p.transport.Close()
		close(p.exited)
	}()

	return p, nil
}

// Kill terminates the child process immediately.
func (p *Peer) Kill() {
	if p.cmd.Process != nil {
		killProcessGroup(p.cmd)
	}
}

func (p *Peer) String() string {
	id := p.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("peer[%s %v]", id, p.Config.Command)
}
