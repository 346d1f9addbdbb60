package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/flash-offline/internal/web"
)

// CacheInspectHandler returns the MCP tool handler for the "cache-inspect" tool.
func CacheInspectHandler(host Host) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		entry, err := host.Match(ctx, url)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		doc, err := web.Render(entry)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatDocument(doc, entry.Opaque)), nil
	}
}

func formatDocument(doc *web.Document, opaque bool) string {
	var sb strings.Builder
	if doc.Title != "" {
		sb.WriteString("# ")
		sb.WriteString(doc.Title)
		sb.WriteString("\n\n")
	}
	if doc.Description != "" {
		sb.WriteString(doc.Description)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Cached %s (status %d", doc.URL, doc.Status)
	if doc.ContentType != "" {
		sb.WriteString(", ")
		sb.WriteString(doc.ContentType)
	}
	fmt.Fprintf(&sb, ", %d bytes)", doc.Size)
	if opaque {
		sb.WriteString(", opaque")
	}
	if doc.Text != "" {
		sb.WriteString("\n\n")
		sb.WriteString(doc.Text)
	}
	return sb.String()
}
