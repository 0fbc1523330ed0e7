// Package diagnostics holds the per-URI latest-diagnostics cache and the
// idle-wait primitive used when a peer doesn't support pulling diagnostics
// on demand.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/rockerboo/lspbridge/internal/lsp"
)

// entry is one URI's cached state.
type entry struct {
	items      []lsp.Diagnostic
	version    *int32
	lastUpdate time.Time
}

// Cache stores the latest published diagnostics per document URI. It has
// no expiration: entries are replaced wholesale by each publishDiagnostics
// notification and read by pull requests.
type Cache struct {
	mu      sync.RWMutex
	entries map[lsp.DocumentURI]*entry
}

// New creates an empty diagnostics cache.
func New() *Cache {
	return &Cache{entries: make(map[lsp.DocumentURI]*entry)}
}

// Update replaces the cached items for uri and stamps the update time.
// Called only by the server manager's dispatcher on publishDiagnostics.
func (c *Cache) Update(uri lsp.DocumentURI, items []lsp.Diagnostic, version *int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uri] = &entry{items: items, version: version, lastUpdate: time.Now()}
}

// Get returns the cached items for uri and whether anything has ever been
// published for it.
func (c *Cache) Get(uri lsp.DocumentURI) ([]lsp.Diagnostic, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[uri]
	if !ok {
		return nil, false
	}
	out := make([]lsp.Diagnostic, len(e.items))
	copy(out, e.items)
	return out, true
}

// LastUpdate returns the last publish time for uri, the zero time if
// nothing has been published yet.
func (c *Cache) LastUpdate(uri lsp.DocumentURI) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[uri]; ok {
		return e.lastUpdate
	}
	return time.Time{}
}

// IdleWaitConfig tunes WaitForIdle, resolving Open Question 1 (§9 of the
// originating design): implementers expose these as knobs with the stated
// defaults rather than hardcoding the policy.
type IdleWaitConfig struct {
	MaxWait time.Duration
	IdleGap time.Duration
	Poll    time.Duration
}

// DefaultPullFallbackConfig is used after a failed textDocument/diagnostic
// pull: wait up to 5s, considering the URI idle once 300ms pass with no
// new publish.
func DefaultPullFallbackConfig() IdleWaitConfig {
	return IdleWaitConfig{MaxWait: 5 * time.Second, IdleGap: 300 * time.Millisecond, Poll: 50 * time.Millisecond}
}

// DefaultKickFallbackConfig is used after the forced no-op edit kick: wait
// up to 3s with the same idle gap.
func DefaultKickFallbackConfig() IdleWaitConfig {
	return IdleWaitConfig{MaxWait: 3 * time.Second, IdleGap: 300 * time.Millisecond, Poll: 50 * time.Millisecond}
}

// WaitForIdle blocks until either uri's cache has been quiet for IdleGap
// (measured from the last observed publish), or MaxWait has elapsed,
// whichever comes first. It polls because there is no push-based
// "diagnostics settled" signal in the LSP protocol.
func (c *Cache) WaitForIdle(ctx context.Context, uri lsp.DocumentURI, cfg IdleWaitConfig) {
	deadline := time.Now().Add(cfg.MaxWait)
	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	for {
		last := c.LastUpdate(uri)
		if !last.IsZero() && time.Since(last) >= cfg.IdleGap {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Delete removes uri's cached entry.
func (c *Cache) Delete(uri lsp.DocumentURI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uri)
}
