package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/voloshyn/retouch/internal/controller"
	"github.com/voloshyn/retouch/internal/provider"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Controller *controller.Controller
	Version    string
}

// NewMCPServer creates an MCP server exposing the enhancement workflow and
// history as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"retouch",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("retouch — AI image enhancement with local history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("enhance_image",
			mcp.WithDescription("Enhance an image with a natural-language instruction. Returns the enhanced image as base64 and records it in history."),
			mcp.WithString("image_data", mcp.Description("Base64-encoded source image"), mcp.Required()),
			mcp.WithString("mime_type", mcp.Description("MIME type of the source image (default image/png)")),
			mcp.WithString("prompt", mcp.Description("Enhancement instruction"), mcp.Required()),
			mcp.WithString("resolution", mcp.Description("Output resolution: 1K, 2K, or 4K")),
		),
		mcpEnhanceImage(deps),
	)

	s.AddTool(
		mcp.NewTool("list_history",
			mcp.WithDescription("List past enhancements (metadata only, most recent first)."),
		),
		mcpListHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_history_item",
			mcp.WithDescription("Delete one enhancement record by id."),
			mcp.WithString("id", mcp.Description("History record id"), mcp.Required()),
		),
		mcpDeleteHistoryItem(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_history",
			mcp.WithDescription("Delete all enhancement records."),
		),
		mcpClearHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"retouch://history",
			"Enhancement History",
			mcp.WithResourceDescription("Past enhancement records as JSON (metadata only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

// historySummary is a history record without its image payloads; base64
// blobs are too large for tool output.
type historySummary struct {
	ID         string `json:"id"`
	Prompt     string `json:"prompt"`
	Timestamp  int64  `json:"timestamp"`
	Resolution string `json:"resolution"`
	MimeType   string `json:"mime_type"`
}

func summarizeHistory(deps MCPDeps) ([]byte, error) {
	items := deps.Controller.History()
	results := make([]historySummary, len(items))
	for i, item := range items {
		results[i] = historySummary{
			ID:         item.ID,
			Prompt:     item.Prompt,
			Timestamp:  item.Timestamp,
			Resolution: item.Resolution,
			MimeType:   item.EnhancedImageMimeType,
		}
	}
	return json.Marshal(results)
}

func mcpEnhanceImage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		imageData, err := req.RequireString("image_data")
		if err != nil {
			return mcpError("image_data is required"), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}

		mimeType := req.GetString("mime_type", "image/png")

		var resolution provider.Resolution
		if tag := req.GetString("resolution", ""); tag != "" {
			resolution, err = provider.ParseResolution(tag)
			if err != nil {
				return mcpError(err.Error()), nil
			}
		}

		item, err := deps.Controller.EnhanceOnce(ctx, provider.Request{
			ImageData:  imageData,
			MimeType:   mimeType,
			Prompt:     prompt,
			Resolution: resolution,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("enhancement failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]string{
			"id":         item.ID,
			"image_data": item.EnhancedImage,
			"mime_type":  item.EnhancedImageMimeType,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := summarizeHistory(deps)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeleteHistoryItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		deps.Controller.RemoveHistory(id)
		return mcpText(fmt.Sprintf("Deleted history item %s", id)), nil
	}
}

func mcpClearHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.Controller.ClearHistory()
		return mcpText("History cleared"), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := summarizeHistory(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
