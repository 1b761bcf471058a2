package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/shaderexec/response"
)

// Dispatcher runs tools by name.
type Dispatcher interface {
	DispatchJSON(ctx context.Context, name string, args []byte) response.ToolResponse
}

// MCPConfig configures the MCP server.
type MCPConfig struct {
	Name    string
	Version string
	Logger  *slog.Logger
}

// NewMCPServer registers every catalog tool on a new MCP server. Tool
// arguments are decoded by the dispatcher so that malformed requests
// come back as validation responses rather than protocol errors.
func NewMCPServer(cfg MCPConfig, catalog *Catalog, d Dispatcher) *mcp.Server {
	if cfg.Name == "" {
		cfg.Name = "shaderexec"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	server := mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)
	for _, t := range catalog.Tools() {
		tool := t.Tool
		name := tool.Name
		server.AddTool(&tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.Params.Arguments
			if len(args) == 0 || string(args) == "null" {
				args = json.RawMessage("{}")
			}
			resp := d.DispatchJSON(ctx, name, args)
			logger.Debug("tool call", "tool", name, "request_id", resp.RequestID, "kind", resp.Kind)
			return ToolResult(resp), nil
		})
	}
	return server
}

// ToolResult renders a response as MCP content: the text summary first,
// then any images, with the full response as structured content.
// Anything but a success is flagged as an error result.
func ToolResult(resp response.ToolResponse) *mcp.CallToolResult {
	res := &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: resp.Text()}},
		StructuredContent: resp,
		IsError:           resp.Kind != response.KindSuccess,
	}
	if s := resp.Success; s != nil {
		for _, img := range []*response.ImageRef{s.Image, s.Screenshot} {
			if img != nil && len(img.Data) > 0 {
				res.Content = append(res.Content, &mcp.ImageContent{Data: img.Data, MIMEType: img.MIMEType})
			}
		}
	}
	return res
}
