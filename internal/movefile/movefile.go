// Package movefile orchestrates renaming a file on disk together with the
// workspace edits peers want applied as a consequence (import path
// rewrites and the like). This is component J.
package movefile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rockerboo/lspbridge/internal/document"
	"github.com/rockerboo/lspbridge/internal/editapply"
	"github.com/rockerboo/lspbridge/internal/lsp"
	"github.com/rockerboo/lspbridge/internal/servermgr"
)

// ErrMoveValidation marks a move rejected before any filesystem mutation:
// missing source, existing destination, or source is a directory.
var ErrMoveValidation = fmt.Errorf("movefile: validation failed")

// RenameClient is the subset of *lspclient.Client the orchestrator needs,
// kept as an interface so tests can supply fake peers without spawning
// real servermgr.Manager processes.
type RenameClient interface {
	PeersForExtension(ext string) []*servermgr.Peer
	WillRenameFiles(ctx context.Context, peer *servermgr.Peer, oldPath, newPath string) (*lsp.WorkspaceEdit, error)
	DidRenameFiles(peer *servermgr.Peer, oldPath, newPath string) error
}

// Result reports the outcome of Move.
type Result struct {
	Moved         bool
	DryRun        bool
	ImportChanges []string // file paths touched by merged willRenameFiles edits
	Warnings      []string
}

// Move validates source/destination, collects willRenameFiles edits from
// every peer that owns oldPath's extension, applies the merged edit plan,
// renames the file on disk, and notifies those peers via
// didRenameFiles. If dryRun is true, Move stops after collecting edits
// and reports what would happen without touching the filesystem.
func Move(ctx context.Context, client RenameClient, oldPath, newPath string, dryRun bool) (Result, error) {
	oldAbs, err := filepath.Abs(oldPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: resolve source: %v", ErrMoveValidation, err)
	}
	newAbs, err := filepath.Abs(newPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: resolve destination: %v", ErrMoveValidation, err)
	}

	info, err := os.Stat(oldAbs)
	if err != nil {
		return Result{}, fmt.Errorf("%w: source %q: %v", ErrMoveValidation, oldAbs, err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%w: source %q is a directory, not a file", ErrMoveValidation, oldAbs)
	}
	if _, err := os.Stat(newAbs); err == nil {
		return Result{}, fmt.Errorf("%w: destination %q already exists", ErrMoveValidation, newAbs)
	} else if !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("%w: checking destination %q: %v", ErrMoveValidation, newAbs, err)
	}

	ext := extensionOf(oldAbs)
	peers := client.PeersForExtension(ext)

	plan := editapply.Plan{}
	var warnings []string
	for _, peer := range peers {
		if !peer.Capabilities().SupportsWillRenameFiles() {
			warnings = append(warnings, fmt.Sprintf("%s: does not support willRenameFiles", peer.String()))
			continue
		}
		edit, err := client.WillRenameFiles(ctx, peer, oldAbs, newAbs)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: willRenameFiles failed: %v", peer.String(), err))
			continue
		}
		if edit == nil {
			continue
		}
		peerPlan, err := editapply.Normalize(edit)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: normalizing willRenameFiles edit: %v", peer.String(), err))
			continue
		}
		plan = editapply.Merge(plan, peerPlan)
	}

	importChanges := changedPaths(plan)

	if dryRun {
		return Result{Moved: false, DryRun: true, ImportChanges: importChanges, Warnings: warnings}, nil
	}

	if len(plan) > 0 {
		applyResult := editapply.Apply(plan, editapply.Options{})
		if !applyResult.Success {
			return Result{}, fmt.Errorf("movefile: applying import-change edits: %w", applyResult.Error)
		}
	}

	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return Result{}, fmt.Errorf("movefile: creating destination directory: %w", err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return Result{}, fmt.Errorf("movefile: renaming %q to %q: %w", oldAbs, newAbs, err)
	}

	for _, peer := range peers {
		if err := client.DidRenameFiles(peer, oldAbs, newAbs); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: didRenameFiles failed: %v", peer.String(), err))
		}
	}

	return Result{Moved: true, ImportChanges: importChanges, Warnings: warnings}, nil
}

func extensionOf(path string) string {
	ext := filepath.Ext(path)
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	return ext
}

func changedPaths(plan editapply.Plan) []string {
	out := make([]string, 0, len(plan))
	for uri := range plan {
		out = append(out, document.URIToPath(uri))
	}
	return out
}
