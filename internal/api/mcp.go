package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bilal-raza12/ShopEase/internal/retrieval"
	"github.com/bilal-raza12/ShopEase/internal/tools"
)

// MCPTools is the tool registry exposed over MCP.
type MCPTools interface {
	Specs() []tools.Spec
	Dispatch(ctx context.Context, userID string, c tools.Call) (string, error)
}

// MCPIndex reports index health for the index_stats tool.
type MCPIndex interface {
	Stats(ctx context.Context) (retrieval.CollectionStats, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tools   MCPTools
	Index   MCPIndex // optional; index_stats is not registered when nil
	Version string
}

// NewMCPServer creates an MCP server exposing the shopping tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"shopease",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("ShopEase store tools: product search and details, categories, and a customer's order status."),
		server.WithRecovery(),
	)

	for _, spec := range deps.Tools.Specs() {
		s.AddTool(mcpToolFor(spec), mcpToolCall(deps, spec))
	}

	if deps.Index != nil {
		s.AddTool(
			mcp.NewTool("index_stats",
				mcp.WithDescription("Report the size and status of the product search index."),
			),
			mcpIndexStats(deps),
		)
	}

	return s
}

// mcpToolFor converts a registry spec to an MCP tool definition. The order
// status tool gains a required user_id: over MCP there is no session that
// carries the customer's identity.
func mcpToolFor(spec tools.Spec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}

	required := make(map[string]bool, len(spec.Required))
	for _, r := range spec.Required {
		required[r] = true
	}
	names := make([]string, 0, len(spec.Properties))
	for name := range spec.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := spec.Properties[name]
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if required[name] {
			popts = append(popts, mcp.Required())
		}
		switch p.Type {
		case "number", "integer":
			opts = append(opts, mcp.WithNumber(name, popts...))
		default:
			opts = append(opts, mcp.WithString(name, popts...))
		}
	}
	if spec.Kind == tools.OrderStatus {
		opts = append(opts, mcp.WithString("user_id", mcp.Description("ID of the customer whose orders to look up"), mcp.Required()))
	}
	return mcp.NewTool(spec.Name, opts...)
}

func mcpToolCall(deps MCPDeps, spec tools.Spec) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		call, err := tools.ParseCall(spec.Name, raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var userID string
		if spec.Kind == tools.OrderStatus {
			if userID, err = req.RequireString("user_id"); err != nil || userID == "" {
				return mcpError("user_id is required"), nil
			}
		}

		out, err := deps.Tools.Dispatch(ctx, userID, call)
		if err != nil {
			return mcpError(fmt.Sprintf("%s failed: %v", spec.Name, err)), nil
		}
		return mcpText(out), nil
	}
}

func mcpIndexStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Index.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("index stats failed: %v", err)), nil
		}
		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
