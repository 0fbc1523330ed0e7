// Package facade exposes the tool surface a model-facing host calls into:
// thin dispatchers that translate one-indexed user positions into the
// zero-indexed wire format, resolve relative paths, and format results
// and errors into short text payloads. This is component K.
package facade

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rockerboo/lspbridge/internal/document"
	"github.com/rockerboo/lspbridge/internal/editapply"
	"github.com/rockerboo/lspbridge/internal/lsp"
	"github.com/rockerboo/lspbridge/internal/lspclient"
	"github.com/rockerboo/lspbridge/internal/movefile"
	"github.com/rockerboo/lspbridge/internal/symbols"
)

// Facade wires a Client and a symbol Resolver into the tool surface.
type Facade struct {
	client   *lspclient.Client
	resolver *symbols.Resolver
}

// New builds a facade over client, constructing its own symbol resolver.
func New(client *lspclient.Client) *Facade {
	return &Facade{client: client, resolver: symbols.New(client)}
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", path, err)
	}
	return abs, nil
}

// toZeroIndexed converts one-indexed user-supplied line/character into the
// zero-indexed wire Position.
func toZeroIndexed(line, character int) lsp.Position {
	l, c := line-1, character-1
	if l < 0 {
		l = 0
	}
	if c < 0 {
		c = 0
	}
	return lsp.Position{Line: uint32(l), Character: uint32(c)}
}

// formatLocations renders a list of Locations as one-indexed path:line:col
// lines.
func formatLocations(locs []lsp.Location) string {
	if len(locs) == 0 {
		return "No results found."
	}
	lines := make([]string, len(locs))
	for i, l := range locs {
		lines[i] = fmt.Sprintf("%s:%d:%d", pathFromURI(l.URI), l.Range.Start.Line+1, l.Range.Start.Character+1)
	}
	return strings.Join(lines, "\n")
}

func pathFromURI(uri lsp.DocumentURI) string {
	return document.URIToPath(uri)
}

// formatMatches renders a symbols.Result as multi-line "name (kind)
// path:line:col" entries, prefixed by any resolver warning.
func formatMatches(path string, result symbols.Result) string {
	var b strings.Builder
	if result.Warning != "" {
		fmt.Fprintf(&b, "Warning: %s\n", result.Warning)
	}
	if len(result.Matches) == 0 {
		b.WriteString("No matching symbols found.")
		return b.String()
	}
	for i, m := range result.Matches {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%s) %s:%d:%d", m.Name, m.Kind.String(), path, m.Position.Line+1, m.Position.Character+1)
	}
	return b.String()
}

// FindDefinition resolves symbolName (optionally filtered by symbolKind)
// in filePath and returns every definition location across all matches.
func (f *Facade) FindDefinition(ctx context.Context, filePath, symbolName, symbolKind string) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	result, err := f.resolver.FindSymbolsByName(ctx, path, symbolName, symbolKind)
	if err != nil {
		return fmt.Sprintf("error resolving symbol: %v", err)
	}
	if len(result.Matches) == 0 {
		return prefixWarning(result.Warning, "No matching symbols found.")
	}

	var all []lsp.Location
	for _, m := range result.Matches {
		locs, err := f.client.FindDefinition(ctx, path, m.Position)
		if err != nil {
			continue
		}
		all = append(all, locs...)
	}
	return prefixWarning(result.Warning, formatLocations(all))
}

// FindReferences mirrors FindDefinition but dispatches to G's
// findReferences per resolved match.
func (f *Facade) FindReferences(ctx context.Context, filePath, symbolName, symbolKind string, includeDeclaration bool) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	result, err := f.resolver.FindSymbolsByName(ctx, path, symbolName, symbolKind)
	if err != nil {
		return fmt.Sprintf("error resolving symbol: %v", err)
	}
	if len(result.Matches) == 0 {
		return prefixWarning(result.Warning, "No matching symbols found.")
	}

	var all []lsp.Location
	for _, m := range result.Matches {
		locs, err := f.client.FindReferences(ctx, path, m.Position, includeDeclaration)
		if err != nil {
			continue
		}
		all = append(all, locs...)
	}
	return prefixWarning(result.Warning, formatLocations(all))
}

// FindImplementation dispatches directly to G using an explicit,
// one-indexed position.
func (f *Facade) FindImplementation(ctx context.Context, filePath string, line, character int) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	locs, err := f.client.FindImplementation(ctx, path, toZeroIndexed(line, character))
	if err != nil {
		return fmt.Sprintf("error finding implementation: %v", err)
	}
	return formatLocations(locs)
}

// renameOutcome applies a *lsp.WorkspaceEdit with dry-run semantics and
// formats the result.
func renameOutcome(edit *lsp.WorkspaceEdit, dryRun bool, label string) string {
	plan, err := editapply.Normalize(edit)
	if err != nil {
		return fmt.Sprintf("error normalizing rename edit: %v", err)
	}
	if len(plan) == 0 {
		return "No edits returned by server; nothing to rename."
	}

	files := changedFileList(plan)
	if dryRun {
		return fmt.Sprintf("[DRY RUN] %s would modify: %s", label, strings.Join(files, ", "))
	}

	result := editapply.Apply(plan, editapply.Options{})
	if !result.Success {
		return fmt.Sprintf("rename failed: %v", result.Error)
	}
	return fmt.Sprintf("%s applied to: %s", label, strings.Join(result.FilesModified, ", "))
}

func changedFileList(plan editapply.Plan) []string {
	files := make([]string, 0, len(plan))
	for uri := range plan {
		files = append(files, pathFromURI(uri))
	}
	sort.Strings(files)
	return files
}

// RenameSymbol resolves symbolName, and when exactly one candidate
// matches, renames it; when more than one matches, it returns the
// candidate list instead of guessing.
func (f *Facade) RenameSymbol(ctx context.Context, filePath, symbolName, symbolKind, newName string, dryRun bool) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	result, err := f.resolver.FindSymbolsByName(ctx, path, symbolName, symbolKind)
	if err != nil {
		return fmt.Sprintf("error resolving symbol: %v", err)
	}
	if len(result.Matches) == 0 {
		return prefixWarning(result.Warning, "No matching symbols found.")
	}
	if len(result.Matches) > 1 {
		return prefixWarning(result.Warning, fmt.Sprintf("Multiple matches found, re-run with a specific position:\n%s", formatMatches(path, result)))
	}

	m := result.Matches[0]
	edit, err := f.client.RenameSymbol(ctx, path, m.Position, newName)
	if err != nil {
		return fmt.Sprintf("rename failed: %v", err)
	}
	label := fmt.Sprintf("%s (%s)", m.Name, m.Kind.String())
	return renameOutcome(edit, dryRun, label)
}

// RenameSymbolStrict renames the symbol at an exact one-indexed position,
// bypassing name/kind resolution.
func (f *Facade) RenameSymbolStrict(ctx context.Context, filePath string, line, character int, newName string, dryRun bool) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	pos := toZeroIndexed(line, character)
	edit, err := f.client.RenameSymbol(ctx, path, pos, newName)
	if err != nil {
		return fmt.Sprintf("rename failed: %v", err)
	}
	return renameOutcome(edit, dryRun, fmt.Sprintf("rename at %d:%d", line, character))
}

// GetDiagnostics returns the current diagnostics for filePath, pulling
// fresh ones through the idle-wait fallback when necessary.
func (f *Facade) GetDiagnostics(ctx context.Context, filePath string) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	diags, err := f.client.GetDiagnostics(ctx, path)
	if err != nil {
		return fmt.Sprintf("error getting diagnostics: %v", err)
	}
	if len(diags) == 0 {
		return "No diagnostics."
	}
	lines := make([]string, len(diags))
	for i, d := range diags {
		lines[i] = fmt.Sprintf("%s:%d:%d [%s] %s", filePath, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity.String(), d.Message)
	}
	return strings.Join(lines, "\n")
}

// GetHover returns formatted hover contents at a one-indexed position.
func (f *Facade) GetHover(ctx context.Context, filePath string, line, character int) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	hover, err := f.client.Hover(ctx, path, toZeroIndexed(line, character))
	if err != nil {
		return fmt.Sprintf("error getting hover: %v", err)
	}
	if hover == nil || hover.Contents.Value == "" {
		return "No hover information."
	}
	return hover.Contents.Value
}

// FindWorkspaceSymbols fans query out across every running peer.
func (f *Facade) FindWorkspaceSymbols(ctx context.Context, query string) string {
	syms, err := f.client.WorkspaceSymbol(ctx, query)
	if err != nil {
		return fmt.Sprintf("error searching workspace symbols: %v", err)
	}
	if len(syms) == 0 {
		return "No matching symbols found."
	}
	lines := make([]string, len(syms))
	for i, s := range syms {
		lines[i] = fmt.Sprintf("%s (%s) %s:%d:%d", s.Name, s.Kind.String(), pathFromURI(s.Location.URI), s.Location.Range.Start.Line+1, s.Location.Range.Start.Character+1)
	}
	return strings.Join(lines, "\n")
}

// PrepareCallHierarchy returns the call-hierarchy items available at a
// one-indexed position; callers pass the chosen item's identity back into
// GetIncomingCalls/GetOutgoingCalls by re-supplying the same coordinates.
func (f *Facade) PrepareCallHierarchy(ctx context.Context, filePath string, line, character int) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	items, err := f.client.PrepareCallHierarchy(ctx, path, toZeroIndexed(line, character))
	if err != nil {
		return fmt.Sprintf("error preparing call hierarchy: %v", err)
	}
	if len(items) == 0 {
		return "No call hierarchy item at this position."
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%s (%s) %s:%d:%d", it.Name, it.Kind.String(), pathFromURI(it.URI), it.Range.Start.Line+1, it.Range.Start.Character+1)
	}
	return strings.Join(lines, "\n")
}

// GetIncomingCalls re-prepares the call hierarchy at the given position
// and returns incoming calls for the first resolved item.
func (f *Facade) GetIncomingCalls(ctx context.Context, filePath string, line, character int) string {
	return f.callHierarchyCalls(ctx, filePath, line, character, true)
}

// GetOutgoingCalls mirrors GetIncomingCalls for outgoing calls.
func (f *Facade) GetOutgoingCalls(ctx context.Context, filePath string, line, character int) string {
	return f.callHierarchyCalls(ctx, filePath, line, character, false)
}

func (f *Facade) callHierarchyCalls(ctx context.Context, filePath string, line, character int, incoming bool) string {
	path, err := absPath(filePath)
	if err != nil {
		return err.Error()
	}
	items, err := f.client.PrepareCallHierarchy(ctx, path, toZeroIndexed(line, character))
	if err != nil {
		return fmt.Sprintf("error preparing call hierarchy: %v", err)
	}
	if len(items) == 0 {
		return "No call hierarchy item at this position."
	}
	item := items[0]

	if incoming {
		calls, err := f.client.IncomingCalls(ctx, item)
		if err != nil {
			return fmt.Sprintf("error getting incoming calls: %v", err)
		}
		if len(calls) == 0 {
			return "No incoming calls."
		}
		lines := make([]string, len(calls))
		for i, c := range calls {
			lines[i] = fmt.Sprintf("%s %s:%d:%d", c.From.Name, pathFromURI(c.From.URI), c.From.Range.Start.Line+1, c.From.Range.Start.Character+1)
		}
		return strings.Join(lines, "\n")
	}

	calls, err := f.client.OutgoingCalls(ctx, item)
	if err != nil {
		return fmt.Sprintf("error getting outgoing calls: %v", err)
	}
	if len(calls) == 0 {
		return "No outgoing calls."
	}
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = fmt.Sprintf("%s %s:%d:%d", c.To.Name, pathFromURI(c.To.URI), c.To.Range.Start.Line+1, c.To.Range.Start.Character+1)
	}
	return strings.Join(lines, "\n")
}

// RestartServer restarts every live peer, optionally filtered to exts.
func (f *Facade) RestartServer(ctx context.Context, exts []string) string {
	result := f.client.RestartServers(ctx, exts)
	if !result.Success && result.Message != "" {
		return result.Message
	}
	var b strings.Builder
	if len(result.Restarted) > 0 {
		fmt.Fprintf(&b, "Restarted: %s", strings.Join(result.Restarted, ", "))
	}
	if len(result.Failed) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Failed: %s", strings.Join(result.Failed, ", "))
	}
	if b.Len() == 0 {
		return "No servers running."
	}
	return b.String()
}

// MoveFile moves src to dst, applying any import-rewrite edits peers
// supply via willRenameFiles. Not in the minimal tool list but part of the
// public API (§4.1); exposed here as move_file.
func (f *Facade) MoveFile(ctx context.Context, src, dst string, dryRun bool) string {
	srcAbs, err := absPath(src)
	if err != nil {
		return err.Error()
	}
	dstAbs, err := absPath(dst)
	if err != nil {
		return err.Error()
	}

	result, err := movefile.Move(ctx, f.client, srcAbs, dstAbs, dryRun)
	if err != nil {
		return fmt.Sprintf("move failed: %v", err)
	}

	var b strings.Builder
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	switch {
	case result.DryRun:
		fmt.Fprintf(&b, "[DRY RUN] would move %s to %s", src, dst)
		if len(result.ImportChanges) > 0 {
			fmt.Fprintf(&b, "; would update imports in: %s", strings.Join(result.ImportChanges, ", "))
		}
	case result.Moved:
		fmt.Fprintf(&b, "Moved %s to %s", src, dst)
		if len(result.ImportChanges) > 0 {
			fmt.Fprintf(&b, "; updated imports in: %s", strings.Join(result.ImportChanges, ", "))
		}
	}
	return b.String()
}

// PreloadServers scans root and starts one peer per distinct matching
// config, or just reports what would start when dryRunOnly is true.
func (f *Facade) PreloadServers(ctx context.Context, root string, dryRunOnly bool) string {
	configs, err := f.client.PreloadServers(ctx, root, dryRunOnly)
	if err != nil {
		return fmt.Sprintf("error preloading servers: %v", err)
	}
	if len(configs) == 0 {
		return "No matching server configs found."
	}
	lines := make([]string, len(configs))
	for i, c := range configs {
		lines[i] = strings.Join(c.Command, " ")
	}
	verb := "Started"
	if dryRunOnly {
		verb = "Would start"
	}
	return fmt.Sprintf("%s: %s", verb, strings.Join(lines, "; "))
}

func prefixWarning(warning, body string) string {
	if warning == "" {
		return body
	}
	return fmt.Sprintf("Warning: %s\n%s", warning, body)
}
