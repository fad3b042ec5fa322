package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/devsearch/internal/catalog"
	"github.com/kalambet/devsearch/internal/tools"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tools   *tools.Manager
	Health  func() catalog.Report // optional; the health resource is omitted when nil
	Version string
}

// NewMCPServer creates an MCP server that exposes every tool registered with
// deps.Tools. Tools registered afterwards are not visible to it.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	opts := []server.ServerOption{
		server.WithToolCapabilities(true),
		server.WithInstructions("devsearch: search projects, API endpoints and tags of the development catalog."),
		server.WithRecovery(),
	}
	if deps.Health != nil {
		opts = append(opts, server.WithResourceCapabilities(false, true))
	}
	s := server.NewMCPServer("devsearch", version, opts...)

	for _, info := range deps.Tools.List() {
		s.AddTool(
			mcp.NewToolWithRawSchema(info.Name, info.Description, info.Schema),
			mcpTool(deps.Tools, info.Name),
		)
	}

	if deps.Health != nil {
		s.AddResource(
			mcp.NewResource(
				"devsearch://health",
				"Health",
				mcp.WithResourceDescription("Tool, search service and index health as JSON"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceHealth(deps),
		)
	}
	s.AddResource(
		mcp.NewResource(
			"devsearch://tools/stats",
			"Tool Statistics",
			mcp.WithResourceDescription("Per-tool call counts, failures and latency"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceToolStats(deps),
	)

	return s
}

// mcpTool routes one MCP tool call through the manager. Failures are
// reported in-band as error results so the client sees the error code.
func mcpTool(m *tools.Manager, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqID := uuid.NewString()
		res, err := m.Execute(ctx, name, req.GetArguments(), tools.ExecuteOptions{RequestID: reqID})
		if err != nil {
			res = tools.ErrorResult(err, reqID)
		}
		return mcpResult(res), nil
	}
}

func mcpResult(res *tools.Result) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: res.IsError}
	for _, c := range res.Content {
		out.Content = append(out.Content, mcp.TextContent{Type: "text", Text: c.Text})
	}
	if meta := metaFields(res.Meta); meta != nil {
		out.Meta = &mcp.Meta{AdditionalFields: meta}
	}
	return out
}

func metaFields(m tools.Meta) map[string]any {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil
	}
	return fields
}

func mcpResourceHealth(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Health())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health report: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func mcpResourceToolStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Tools.Stats())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool stats: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func jsonResource(uri string, b []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}
}
