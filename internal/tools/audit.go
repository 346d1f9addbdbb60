package tools

import (
	"context"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/flash-offline/internal/web"
)

// ManifestAuditHandler returns the MCP tool handler for the "manifest-audit"
// tool. assets returns the manifest currently in use.
func ManifestAuditHandler(auditor web.Auditor, scope *url.URL, assets func() ([]string, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := assets()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		report, err := auditor.Audit(ctx, scope, list)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatReport(report)), nil
	}
}

func formatReport(r *web.AuditReport) string {
	var sb strings.Builder
	if r.OK() {
		sb.WriteString("The manifest covers every referenced asset.\n")
	} else {
		sb.WriteString("Referenced but not precached (bump the generation after adding them):\n")
		list(&sb, r.Missing)
	}
	if len(r.Unreferenced) > 0 {
		sb.WriteString("\nPrecached but not referenced by any page:\n")
		list(&sb, r.Unreferenced)
	}
	if len(r.Failures) > 0 {
		sb.WriteString("\nFailed requests:\n")
		list(&sb, r.Failures)
	}
	sb.WriteString("\nVisited:\n")
	list(&sb, r.Visited)
	return strings.TrimRight(sb.String(), "\n")
}

func list(sb *strings.Builder, items []string) {
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
}
