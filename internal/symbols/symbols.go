// Package symbols resolves (file, name, kind?) to concrete positions via
// document symbols, tolerating both hierarchical and flat reply shapes and
// falling back across kinds when a strict kind filter finds nothing. This
// is component H.
package symbols

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rockerboo/lspbridge/internal/lsp"
	"github.com/rockerboo/lspbridge/internal/lspclient"
)

// DocumentSymbolsProvider is the subset of *lspclient.Client the resolver
// needs, kept as an interface so tests can supply document symbols
// without spawning a real peer.
type DocumentSymbolsProvider interface {
	GetDocumentSymbols(ctx context.Context, path string) (lspclient.DocumentSymbolReply, error)
}

// Match is the normalized resolution result (§3 SymbolMatch).
type Match struct {
	Name   string
	Kind   lsp.SymbolKind
	Position lsp.Position
	Range  lsp.Range
	Detail string
}

// Result is findSymbolsByName's return value: matches plus an optional
// warning describing a dropped or widened filter.
type Result struct {
	Matches []Match
	Warning string
}

// Resolver resolves symbol names to positions using a Client's document
// symbols.
type Resolver struct {
	client DocumentSymbolsProvider
}

// New builds a resolver over client.
func New(client DocumentSymbolsProvider) *Resolver {
	return &Resolver{client: client}
}

// FindSymbolsByName implements the §4.8 algorithm: validate the kind
// filter, fetch document symbols, traverse (flattening hierarchical
// replies), collect name+kind matches, and fall back to an unfiltered
// search with a warning if a kind filter yielded nothing.
func (r *Resolver) FindSymbolsByName(ctx context.Context, path, name, kind string) (Result, error) {
	var kindFilter string
	var warning string
	if kind != "" {
		normalized := strings.ToLower(kind)
		if _, ok := lsp.ParseSymbolKind(normalized); ok {
			kindFilter = normalized
		} else {
			warning = fmt.Sprintf("invalid kind %q; ignoring kind filter", kind)
		}
	}

	reply, err := r.client.GetDocumentSymbols(ctx, path)
	if err != nil {
		return Result{}, err
	}

	candidates := flatten(reply, path)

	matches := filterCandidates(candidates, name, kindFilter)
	if kindFilter != "" && len(matches) == 0 {
		fallback := filterCandidates(candidates, name, "")
		if len(fallback) > 0 {
			kindsFound := distinctKinds(fallback)
			warning = fmt.Sprintf("no symbols with kind %q; found %d of other kinds: %s", kindFilter, len(fallback), strings.Join(kindsFound, ", "))
			return Result{Matches: fallback, Warning: warning}, nil
		}
	}

	return Result{Matches: matches, Warning: warning}, nil
}

type candidate struct {
	name           string
	kind           lsp.SymbolKind
	rng            lsp.Range
	selectionStart lsp.Position
	hasSelection   bool
	detail         string
}

// flatten depth-first-expands a hierarchical reply or iterates a flat one
// directly into a uniform candidate list.
func flatten(reply lspclient.DocumentSymbolReply, path string) []candidate {
	var out []candidate
	if reply.Hierarchical != nil {
		var walk func(syms []lsp.DocumentSymbol)
		walk = func(syms []lsp.DocumentSymbol) {
			for _, s := range syms {
				out = append(out, candidate{
					name:           s.Name,
					kind:           s.Kind,
					rng:            s.Range,
					selectionStart: s.SelectionRange.Start,
					hasSelection:   true,
					detail:         s.Detail,
				})
				if len(s.Children) > 0 {
					walk(s.Children)
				}
			}
		}
		walk(reply.Hierarchical)
		return out
	}

	content, _ := os.ReadFile(path)
	lines := strings.Split(string(content), "\n")
	for _, s := range reply.Flat {
		pos := positionOfNameInRange(lines, s.Name, s.Location.Range)
		out = append(out, candidate{
			name:           s.Name,
			kind:           s.Kind,
			rng:            s.Location.Range,
			selectionStart: pos,
			hasSelection:   true,
		})
	}
	return out
}

// positionOfNameInRange searches for the literal name text within the
// declared range, returning the first occurrence's start position, or the
// range's own start if the name text can't be found (e.g. the file
// couldn't be read).
func positionOfNameInRange(lines []string, name string, rng lsp.Range) lsp.Position {
	if len(lines) == 0 || name == "" {
		return rng.Start
	}
	for lineNum := rng.Start.Line; lineNum <= rng.End.Line && int(lineNum) < len(lines); lineNum++ {
		line := lines[lineNum]
		searchFrom := 0
		if lineNum == rng.Start.Line {
			searchFrom = int(rng.Start.Character)
		}
		if searchFrom > len(line) {
			continue
		}
		idx := strings.Index(line[searchFrom:], name)
		if idx >= 0 {
			return lsp.Position{Line: lineNum, Character: uint32(searchFrom + idx)}
		}
	}
	return rng.Start
}

func filterCandidates(candidates []candidate, name, kindFilter string) []Match {
	var out []Match
	for _, c := range candidates {
		nameMatches := c.name == name || strings.Contains(c.name, name)
		if !nameMatches {
			continue
		}
		kindMatches := kindFilter == "" || strings.EqualFold(c.kind.String(), kindFilter)
		if !kindMatches {
			continue
		}
		pos := c.rng.Start
		if c.hasSelection {
			pos = c.selectionStart
		}
		out = append(out, Match{
			Name:   c.name,
			Kind:   c.kind,
			Position: pos,
			Range:  c.rng,
			Detail: c.detail,
		})
	}
	return out
}

func distinctKinds(matches []Match) []string {
	seen := make(map[string]bool)
	var kinds []string
	for _, m := range matches {
		k := m.Kind.String()
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}
