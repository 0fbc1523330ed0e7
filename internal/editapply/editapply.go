// Package editapply normalizes the two LSP workspace-edit reply shapes
// into one canonical form, validates ranges, and applies them to disk
// preserving symlinks, with backup and rollback on partial failure. This
// is component I.
package editapply

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rockerboo/lspbridge/internal/document"
	"github.com/rockerboo/lspbridge/internal/lsp"
)

// ErrValidation marks an edit set rejected before any write happens:
// out-of-bounds ranges or overlapping edits within one file.
var ErrValidation = errors.New("editapply: validation failed")

// ErrApply marks a write/rename failure after validation passed; already
// written files are rolled back before this is returned.
var ErrApply = errors.New("editapply: apply failed")

// Plan is the normalized form every workspace edit collapses into:
// uri -> ordered list of text edits.
type Plan map[lsp.DocumentURI][]lsp.TextEdit

// Normalize converts a raw peer WorkspaceEdit into a Plan. A populated
// Changes field is used as-is; a populated DocumentChanges field is
// merged, concatenating edits across entries for the same uri and
// skipping (with no error) resource operations this bridge doesn't apply
// (create/rename/delete file). Anything else normalizes to an empty plan.
func Normalize(edit *lsp.WorkspaceEdit) (Plan, error) {
	plan := make(Plan)
	if edit == nil {
		return plan, nil
	}

	if len(edit.Changes) > 0 {
		for uri, edits := range edit.Changes {
			plan[uri] = append(plan[uri], edits...)
		}
		return plan, nil
	}

	if len(edit.DocumentChanges) > 0 {
		entries, err := lsp.DecodeDocumentChanges(edit.DocumentChanges)
		if err != nil {
			return nil, fmt.Errorf("editapply: decode documentChanges: %w", err)
		}
		for _, e := range entries {
			if e.TextDocumentEdit != nil {
				uri := e.TextDocumentEdit.TextDocument.URI
				plan[uri] = append(plan[uri], e.TextDocumentEdit.Edits...)
			}
			// Resource operations (create/rename/delete) are not text
			// edits; callers needing those see them via the raw reply,
			// not through this plan.
		}
	}

	return plan, nil
}

// Merge combines an additional plan into base, concatenating per-uri edit
// lists and preserving order (base's edits for a uri precede extra's).
func Merge(base, extra Plan) Plan {
	out := make(Plan, len(base))
	for uri, edits := range base {
		out[uri] = append(out[uri], edits...)
	}
	for uri, edits := range extra {
		out[uri] = append(out[uri], edits...)
	}
	return out
}

// Options configures Apply.
type Options struct {
	CreateBackups bool
}

// Result reports what Apply did.
type Result struct {
	Success      bool
	Error        error
	FilesModified []string
	BackupFiles   []string
}

// Validate checks every edit's range against the current file text and
// rejects overlapping edits within a file, without touching the
// filesystem. It is run by Apply before any write but is exported so
// callers (e.g. the move orchestrator's dry-run path) can validate without
// applying.
func Validate(plan Plan) error {
	for uri, edits := range plan {
		path := document.URIToPath(uri)
		content, err := readTarget(path)
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrValidation, path, err)
		}
		lines := splitLines(content)

		for _, e := range edits {
			if !rangeInBounds(e.Range, lines) {
				return fmt.Errorf("%w: edit range out of bounds in %s: %+v", ErrValidation, path, e.Range)
			}
		}
		if overlaps(edits) {
			return fmt.Errorf("%w: overlapping edits in %s", ErrValidation, path)
		}
	}
	return nil
}

// Apply validates, then applies plan to disk. Applying an empty plan is a
// no-op returning success with empty lists. On any per-file apply failure
// after other files already succeeded, every already-written file is
// restored from its pre-edit snapshot (or its .bak backup, if
// CreateBackups was set) before returning a failure Result.
func Apply(plan Plan, opts Options) Result {
	if len(plan) == 0 {
		return Result{Success: true}
	}

	if err := Validate(plan); err != nil {
		return Result{Success: false, Error: err}
	}

	type snapshot struct {
		path    string
		content string
		backup  string
	}
	var written []snapshot

	rollback := func() {
		for _, s := range written {
			content := s.content
			if s.backup != "" {
				if data, err := os.ReadFile(s.backup); err == nil {
					content = string(data)
				}
			}
			_ = writeTarget(s.path, content)
		}
	}

	var modified, backups []string

	for uri, edits := range plan {
		path := document.URIToPath(uri)
		original, err := readTarget(path)
		if err != nil {
			rollback()
			return Result{Success: false, Error: fmt.Errorf("%w: reading %s: %v", ErrApply, path, err)}
		}

		var backupPath string
		if opts.CreateBackups {
			backupPath = path + ".bak"
			if err := os.WriteFile(backupPath, []byte(original), 0o644); err != nil {
				rollback()
				return Result{Success: false, Error: fmt.Errorf("%w: writing backup for %s: %v", ErrApply, path, err)}
			}
			backups = append(backups, backupPath)
		}

		newText, err := applyEdits(original, edits)
		if err != nil {
			rollback()
			return Result{Success: false, Error: fmt.Errorf("%w: %s: %v", ErrApply, path, err)}
		}

		if err := writeTarget(path, newText); err != nil {
			rollback()
			return Result{Success: false, Error: fmt.Errorf("%w: writing %s: %v", ErrApply, path, err)}
		}

		written = append(written, snapshot{path: path, content: original, backup: backupPath})
		modified = append(modified, path)
	}

	return Result{Success: true, FilesModified: modified, BackupFiles: backups}
}

// readTarget reads through a symlink to its target's content; for a
// regular file this is identical to os.ReadFile.
func readTarget(path string) (string, error) {
	resolved, err := resolveTarget(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeTarget writes to the path a symlink points at, never replacing the
// symlink node itself with a regular file; for a non-symlink path this
// writes atomically (temp file + rename).
func writeTarget(path, content string) error {
	resolved, err := resolveTarget(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	tmp, err := os.CreateTemp(dir, ".editapply-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	info, statErr := os.Stat(resolved)
	if statErr == nil {
		os.Chmod(tmpName, info.Mode())
	}

	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// resolveTarget returns the file a symlink points to (one level, which is
// all LSP-rename scenarios exercise), or path unchanged if it isn't a
// symlink.
func resolveTarget(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return path, nil
	}
	target, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return target, nil
}

func splitLines(content string) []string {
	if content == "" {
		return []string{""}
	}
	return strings.Split(content, "\n")
}

func rangeInBounds(r lsp.Range, lines []string) bool {
	if r.Start.Line > r.End.Line {
		return false
	}
	if int(r.End.Line) >= len(lines) {
		return false
	}
	if int(r.Start.Line) >= len(lines) {
		return false
	}
	if int(r.Start.Character) > len(lines[r.Start.Line]) {
		return false
	}
	if int(r.End.Character) > len(lines[r.End.Line]) {
		return false
	}
	return true
}

// overlaps reports whether any two edits in edits share any part of their
// range, treating ranges as [start, end) spans over (line, character)
// pairs.
func overlaps(edits []lsp.TextEdit) bool {
	sorted := append([]lsp.TextEdit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return lessPos(sorted[i].Range.Start, sorted[j].Range.Start) })
	for i := 1; i < len(sorted); i++ {
		if lessPos(sorted[i].Range.Start, sorted[i-1].Range.End) {
			return true
		}
	}
	return false
}

func lessPos(a, b lsp.Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

// applyEdits splices every edit's NewText into content, processing edits
// bottom-to-top (descending by start position) so earlier positions in
// the same file are never shifted by a later (already-applied) edit.
func applyEdits(content string, edits []lsp.TextEdit) (string, error) {
	sorted := append([]lsp.TextEdit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return lessPos(sorted[j].Range.Start, sorted[i].Range.Start) })

	lines := splitLines(content)
	lineEnding := "\n"
	if strings.Contains(content, "\r\n") {
		lineEnding = "\r\n"
		lines = strings.Split(content, "\r\n")
	}

	for _, e := range sorted {
		if !rangeInBounds(e.Range, lines) {
			return "", fmt.Errorf("edit range out of bounds after prior splices: %+v", e.Range)
		}
		startLine, startChar := int(e.Range.Start.Line), int(e.Range.Start.Character)
		endLine, endChar := int(e.Range.End.Line), int(e.Range.End.Character)

		before := lines[startLine][:startChar]
		after := lines[endLine][endChar:]

		replacement := strings.Split(e.NewText, "\n")
		var spliced []string
		if len(replacement) == 1 {
			spliced = []string{before + replacement[0] + after}
		} else {
			spliced = append(spliced, before+replacement[0])
			spliced = append(spliced, replacement[1:len(replacement)-1]...)
			spliced = append(spliced, replacement[len(replacement)-1]+after)
		}

		newLines := make([]string, 0, len(lines)-(endLine-startLine+1)+len(spliced))
		newLines = append(newLines, lines[:startLine]...)
		newLines = append(newLines, spliced...)
		newLines = append(newLines, lines[endLine+1:]...)
		lines = newLines
	}

	return strings.Join(lines, lineEnding), nil
}
