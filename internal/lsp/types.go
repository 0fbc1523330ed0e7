// Package lsp defines the wire types shared by every LSP peer interaction:
// positions, ranges, diagnostics, symbols, and workspace edits. These are
// the JSON shapes that travel across the framing transport; nothing in this
// package talks to a process or a socket.
package lsp

import (
	"encoding/json"
	"strings"
)

// Position is zero-indexed, matching the LSP wire format. User-facing
// one-indexed values are converted at the facade boundary only.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range is a half-open span; Start must not be after End.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// DocumentURI is a file:// URI string.
type DocumentURI string

// Location pairs a URI with a range inside it.
type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

// LocationLink is the richer form some servers return from definition
// requests; AsLocation maps TargetURI/TargetSelectionRange to Location's
// URI/Range.
type LocationLink struct {
	OriginSelectionRange *Range      `json:"originSelectionRange,omitempty"`
	TargetURI            DocumentURI `json:"targetUri"`
	TargetRange          Range       `json:"targetRange"`
	TargetSelectionRange Range       `json:"targetSelectionRange"`
}

// AsLocation converts a LocationLink to a plain Location using its target
// selection range, which is the span a caret should land on.
func (l LocationLink) AsLocation() Location {
	return Location{URI: l.TargetURI, Range: l.TargetSelectionRange}
}

// DiagnosticSeverity mirrors the LSP enum.
type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInformation:
		return "INFO"
	case SeverityHint:
		return "HINT"
	default:
		return "UNKNOWN"
	}
}

// DiagnosticTag mirrors the LSP enum.
type DiagnosticTag int

const (
	TagUnnecessary DiagnosticTag = 1
	TagDeprecated  DiagnosticTag = 2
)

// Diagnostic is a single problem reported for a range in a document.
type Diagnostic struct {
	Range              Range                          `json:"range"`
	Severity           DiagnosticSeverity             `json:"severity,omitempty"`
	Code               json.RawMessage                `json:"code,omitempty"`
	Source             string                         `json:"source,omitempty"`
	Message            string                         `json:"message"`
	Tags               []DiagnosticTag                `json:"tags,omitempty"`
	RelatedInformation []DiagnosticRelatedInformation `json:"relatedInformation,omitempty"`
}

// DiagnosticRelatedInformation points at a secondary location explaining a
// diagnostic (e.g. "first declared here").
type DiagnosticRelatedInformation struct {
	Location Location `json:"location"`
	Message  string   `json:"message"`
}

// SymbolKind is the closed LSP enum (1-26); String is the only place kinds
// are named textually, used both for display and for resolver matching.
type SymbolKind int

const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindNumber        SymbolKind = 16
	SymbolKindBoolean       SymbolKind = 17
	SymbolKindArray         SymbolKind = 18
	SymbolKindObject        SymbolKind = 19
	SymbolKindKey           SymbolKind = 20
	SymbolKindNull          SymbolKind = 21
	SymbolKindEnumMember    SymbolKind = 22
	SymbolKindStruct        SymbolKind = 23
	SymbolKindEvent         SymbolKind = 24
	SymbolKindOperator      SymbolKind = 25
	SymbolKindTypeParameter SymbolKind = 26
)

var symbolKindNames = map[SymbolKind]string{
	SymbolKindFile:          "file",
	SymbolKindModule:        "module",
	SymbolKindNamespace:     "namespace",
	SymbolKindPackage:       "package",
	SymbolKindClass:         "class",
	SymbolKindMethod:        "method",
	SymbolKindProperty:      "property",
	SymbolKindField:         "field",
	SymbolKindConstructor:   "constructor",
	SymbolKindEnum:          "enum",
	SymbolKindInterface:     "interface",
	SymbolKindFunction:      "function",
	SymbolKindVariable:      "variable",
	SymbolKindConstant:      "constant",
	SymbolKindString:        "string",
	SymbolKindNumber:        "number",
	SymbolKindBoolean:       "boolean",
	SymbolKindArray:         "array",
	SymbolKindObject:        "object",
	SymbolKindKey:           "key",
	SymbolKindNull:          "null",
	SymbolKindEnumMember:    "enummember",
	SymbolKindStruct:        "struct",
	SymbolKindEvent:         "event",
	SymbolKindOperator:      "operator",
	SymbolKindTypeParameter: "typeparameter",
}

var symbolKindByName = func() map[string]SymbolKind {
	m := make(map[string]SymbolKind, len(symbolKindNames))
	for k, v := range symbolKindNames {
		m[v] = k
	}
	return m
}()

// String returns the canonical lowercase name for a kind, or
// "unknown" for a value outside 1..26.
func (k SymbolKind) String() string {
	if name, ok := symbolKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseSymbolKind maps a case-insensitive kind name back to its enum value.
// The second return is false when the name isn't one of the 26 canonical
// kinds.
func ParseSymbolKind(name string) (SymbolKind, bool) {
	k, ok := symbolKindByName[strings.ToLower(name)]
	return k, ok
}

// AllSymbolKinds returns the 26 canonical kinds in ascending order, used to
// populate client capability valueSets.
func AllSymbolKinds() []SymbolKind {
	kinds := make([]SymbolKind, 26)
	for i := range kinds {
		kinds[i] = SymbolKind(i + 1)
	}
	return kinds
}

// DocumentSymbol is the hierarchical documentSymbol reply shape.
// SelectionRange is always contained within Range.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Tags           []int            `json:"tags,omitempty"`
	Deprecated     bool             `json:"deprecated,omitempty"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is the flat documentSymbol/workspaceSymbol reply shape.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Tags          []int      `json:"tags,omitempty"`
	Deprecated    bool       `json:"deprecated,omitempty"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// TextEdit replaces the text in Range with NewText.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// VersionedTextDocumentIdentifier names a document and, optionally, the
// version the edit was computed against.
type VersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version *int32      `json:"version,omitempty"`
}

// TextDocumentEdit is one entry of a documentChanges-shaped workspace edit.
type TextDocumentEdit struct {
	TextDocument VersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                      `json:"edits"`
}

// ResourceOperation is a non-edit entry of documentChanges (create/rename/
// delete a file); this bridge skips these rather than applying
// them, since §4.9 only normalizes text edits.
type ResourceOperation struct {
	Kind   string      `json:"kind"`
	URI    DocumentURI `json:"uri,omitempty"`
	OldURI DocumentURI `json:"oldUri,omitempty"`
	NewURI DocumentURI `json:"newUri,omitempty"`
}

// DocumentChangeEntry is a polymorphic documentChanges element: exactly one
// of TextDocumentEdit or Resource is populated once decoded by
// DecodeDocumentChanges.
type DocumentChangeEntry struct {
	TextDocumentEdit *TextDocumentEdit
	Resource         *ResourceOperation
}

// WorkspaceEdit is the raw peer reply shape for rename and willRenameFiles:
// at most one of Changes or DocumentChanges is populated by a conforming
// server. Normalization to map<uri,[]TextEdit> happens in internal/editapply.
type WorkspaceEdit struct {
	Changes         map[DocumentURI][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []json.RawMessage          `json:"documentChanges,omitempty"`
}

// DecodeDocumentChanges parses the polymorphic documentChanges array,
// distinguishing text-document edits from create/rename/delete resource
// operations by probing for a "kind" field.
func DecodeDocumentChanges(raw []json.RawMessage) ([]DocumentChangeEntry, error) {
	entries := make([]DocumentChangeEntry, 0, len(raw))
	for _, r := range raw {
		var probe struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(r, &probe); err != nil {
			return nil, err
		}
		if probe.Kind != "" {
			var op ResourceOperation
			if err := json.Unmarshal(r, &op); err != nil {
				return nil, err
			}
			entries = append(entries, DocumentChangeEntry{Resource: &op})
			continue
		}
		var tde TextDocumentEdit
		if err := json.Unmarshal(r, &tde); err != nil {
			return nil, err
		}
		entries = append(entries, DocumentChangeEntry{TextDocumentEdit: &tde})
	}
	return entries, nil
}

// TextDocumentItem is the payload of didOpen.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int32       `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentContentChangeEvent is one entry of didChange; this bridge
// only ever sends whole-document replacements (no Range), matching B's
// full-text sync contract.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

// CallHierarchyItem identifies a function/method for incoming/outgoing
// call-hierarchy requests.
type CallHierarchyItem struct {
	Name           string      `json:"name"`
	Kind           SymbolKind  `json:"kind"`
	Tags           []int       `json:"tags,omitempty"`
	Detail         string      `json:"detail,omitempty"`
	URI            DocumentURI `json:"uri"`
	Range          Range       `json:"range"`
	SelectionRange Range       `json:"selectionRange"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// CallHierarchyIncomingCall pairs a caller item with the ranges it calls
// from.
type CallHierarchyIncomingCall struct {
	From       CallHierarchyItem `json:"from"`
	FromRanges []Range           `json:"fromRanges"`
}

// CallHierarchyOutgoingCall pairs a callee item with the ranges it's called
// from in the source item.
type CallHierarchyOutgoingCall struct {
	To         CallHierarchyItem `json:"to"`
	FromRanges []Range           `json:"fromRanges"`
}

// MarkupContent is the hover contents payload.
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Hover is the normalized hover reply; a null reply (nil *Hover) is a
// legitimate "no hover" response, and Range is optional.
type Hover struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// FileOperationFilter and related types describe server capability
// advertisements for file-rename notifications (§4.5, §4.10).
type FileOperationFilter struct {
	Scheme  string                  `json:"scheme,omitempty"`
	Pattern FileOperationPattern    `json:"pattern"`
}

type FileOperationPattern struct {
	Glob    string `json:"glob"`
	Matches string `json:"matches,omitempty"`
}

type FileOperationRegistrationOptions struct {
	Filters []FileOperationFilter `json:"filters"`
}

type FileRename struct {
	OldURI DocumentURI `json:"oldUri"`
	NewURI DocumentURI `json:"newUri"`
}

type RenameFilesParams struct {
	Files []FileRename `json:"files"`
}

// WorkspaceFileOperationsCapabilities is the
// workspace.fileOperations block of a peer's initialize result; WillRename
// non-nil means the peer wants a workspace/willRenameFiles round trip
// before a rename proceeds (§4.10 step 3).
type WorkspaceFileOperationsCapabilities struct {
	WillRename *FileOperationRegistrationOptions `json:"willRename,omitempty"`
	DidRename  *FileOperationRegistrationOptions `json:"didRename,omitempty"`
}

// WorkspaceServerCapabilities is the workspace block of ServerCapabilities.
type WorkspaceServerCapabilities struct {
	FileOperations *WorkspaceFileOperationsCapabilities `json:"fileOperations,omitempty"`
}

// ServerCapabilities is the subset of a peer's initialize result this
// bridge inspects after the handshake. Unrecognized fields are dropped by
// encoding/json, not an error.
type ServerCapabilities struct {
	Workspace *WorkspaceServerCapabilities `json:"workspace,omitempty"`
}

// InitializeResult is the decoded reply to the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
}

// SupportsWillRenameFiles reports whether the peer advertised
// workspace.fileOperations.willRename during initialize.
func (c ServerCapabilities) SupportsWillRenameFiles() bool {
	return c.Workspace != nil && c.Workspace.FileOperations != nil && c.Workspace.FileOperations.WillRename != nil
}
