package main

import (
	"context"
	"fmt"

	"github.com/metoro-io/mcp-golang"
	"github.com/rockerboo/lspbridge/internal/facade"
)

type findDefinitionArgs struct {
	FilePath   string `json:"filePath" jsonschema:"required,description=Absolute or workspace-relative path to the file containing the symbol"`
	SymbolName string `json:"symbolName" jsonschema:"required,description=Name of the symbol to find the definition of"`
	SymbolKind string `json:"symbolKind" jsonschema:"description=Optional kind filter (function, class, variable, ...)"`
}

type findReferencesArgs struct {
	FilePath           string `json:"filePath" jsonschema:"required,description=Absolute or workspace-relative path to the file containing the symbol"`
	SymbolName         string `json:"symbolName" jsonschema:"required,description=Name of the symbol to find references to"`
	SymbolKind         string `json:"symbolKind" jsonschema:"description=Optional kind filter"`
	IncludeDeclaration bool   `json:"includeDeclaration" jsonschema:"default=true,description=Include the declaration itself among the references"`
}

type findImplementationArgs struct {
	FilePath  string `json:"filePath" jsonschema:"required,description=Path to the file"`
	Line      int    `json:"line" jsonschema:"required,description=One-indexed line number"`
	Character int    `json:"character" jsonschema:"required,description=One-indexed character offset"`
}

type renameSymbolArgs struct {
	FilePath   string `json:"filePath" jsonschema:"required,description=Path to the file containing the symbol"`
	SymbolName string `json:"symbolName" jsonschema:"required,description=Name of the symbol to rename"`
	SymbolKind string `json:"symbolKind" jsonschema:"description=Optional kind filter to disambiguate multiple matches"`
	NewName    string `json:"newName" jsonschema:"required,description=The new name for the symbol"`
	DryRun     bool   `json:"dryRun" jsonschema:"default=false,description=Report the would-be changes without writing any file"`
}

type renameSymbolStrictArgs struct {
	FilePath  string `json:"filePath" jsonschema:"required,description=Path to the file containing the symbol"`
	Line      int    `json:"line" jsonschema:"required,description=One-indexed line number of the symbol"`
	Character int    `json:"character" jsonschema:"required,description=One-indexed character offset of the symbol"`
	NewName   string `json:"newName" jsonschema:"required,description=The new name for the symbol"`
	DryRun    bool   `json:"dryRun" jsonschema:"default=false,description=Report the would-be changes without writing any file"`
}

type getDiagnosticsArgs struct {
	FilePath string `json:"filePath" jsonschema:"required,description=Path to the file to get diagnostics for"`
}

type getHoverArgs struct {
	FilePath  string `json:"filePath" jsonschema:"required,description=Path to the file"`
	Line      int    `json:"line" jsonschema:"required,description=One-indexed line number"`
	Character int    `json:"character" jsonschema:"required,description=One-indexed character offset"`
}

type findWorkspaceSymbolsArgs struct {
	Query string `json:"query" jsonschema:"required,description=Symbol name or substring to search for across the whole workspace"`
}

type callHierarchyArgs struct {
	FilePath  string `json:"filePath" jsonschema:"required,description=Path to the file"`
	Line      int    `json:"line" jsonschema:"required,description=One-indexed line number"`
	Character int    `json:"character" jsonschema:"required,description=One-indexed character offset"`
}

type restartServerArgs struct {
	Extensions []string `json:"extensions" jsonschema:"description=Limit the restart to peers serving these extensions; omit to restart every peer"`
}

type moveFileArgs struct {
	SourcePath      string `json:"sourcePath" jsonschema:"required,description=Current path of the file"`
	DestinationPath string `json:"destinationPath" jsonschema:"required,description=New path for the file"`
	DryRun          bool   `json:"dryRun" jsonschema:"default=false,description=Report the would-be import changes without moving anything"`
}

func registerTools(server *mcp_golang.Server, tools *facade.Facade, ctx context.Context) error {
	err := server.RegisterTool("find_definition",
		"Find where a symbol is defined, given its name and file.",
		func(args findDefinitionArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.FindDefinition(ctx, args.FilePath, args.SymbolName, args.SymbolKind)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("find_references",
		"Find every usage of a symbol, given its name and file.",
		func(args findReferencesArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.FindReferences(ctx, args.FilePath, args.SymbolName, args.SymbolKind, args.IncludeDeclaration)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("find_implementation",
		"Find the concrete implementation(s) of an interface or abstract method at a specific position.",
		func(args findImplementationArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.FindImplementation(ctx, args.FilePath, args.Line, args.Character)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("rename_symbol",
		"Rename a symbol given its name and file. Returns a candidate list instead of renaming if the name is ambiguous.",
		func(args renameSymbolArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.RenameSymbol(ctx, args.FilePath, args.SymbolName, args.SymbolKind, args.NewName, args.DryRun)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("rename_symbol_strict",
		"Rename the symbol at an exact line/character position.",
		func(args renameSymbolStrictArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.RenameSymbolStrict(ctx, args.FilePath, args.Line, args.Character, args.NewName, args.DryRun)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("get_diagnostics",
		"Get the current diagnostics (errors, warnings) for a file.",
		func(args getDiagnosticsArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.GetDiagnostics(ctx, args.FilePath)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("get_hover",
		"Get hover information (type signature, docs) at a position.",
		func(args getHoverArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.GetHover(ctx, args.FilePath, args.Line, args.Character)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("find_workspace_symbols",
		"Search for symbols by name across every running peer.",
		func(args findWorkspaceSymbolsArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.FindWorkspaceSymbols(ctx, args.Query)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("prepare_call_hierarchy",
		"List the call hierarchy items available at a position.",
		func(args callHierarchyArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.PrepareCallHierarchy(ctx, args.FilePath, args.Line, args.Character)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("get_incoming_calls",
		"List callers of the function/method at a position.",
		func(args callHierarchyArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.GetIncomingCalls(ctx, args.FilePath, args.Line, args.Character)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("get_outgoing_calls",
		"List functions/methods called by the one at a position.",
		func(args callHierarchyArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.GetOutgoingCalls(ctx, args.FilePath, args.Line, args.Character)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("restart_server",
		"Restart running LSP peers, optionally limited to a set of extensions.",
		func(args restartServerArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.RestartServer(ctx, args.Extensions)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	err = server.RegisterTool("move_file",
		"Move/rename a file on disk, updating imports in dependent files via each peer's willRenameFiles support.",
		func(args moveFileArgs) (*mcp_golang.ToolResponse, error) {
			text := tools.MoveFile(ctx, args.SourcePath, args.DestinationPath, args.DryRun)
			return mcp_golang.NewToolResponse(mcp_golang.NewTextContent(text)), nil
		})
	if err != nil {
		return fmt.Errorf("failed to register tool: %v", err)
	}

	return nil
}
