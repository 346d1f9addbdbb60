package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/worker"
)

// OfflineStatusHandler returns the MCP tool handler for the "offline-status" tool.
func OfflineStatusHandler(host Host, updater Updater) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := host.Status(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		stats, err := host.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatStatus(st, stats, updater)), nil
	}
}

// ApplyUpdateHandler returns the MCP tool handler for the "apply-update" tool.
func ApplyUpdateHandler(updater Updater) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ok, err := updater.Accept(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !ok {
			return mcp.NewToolResultText("No update is waiting."), nil
		}
		return mcp.NewToolResultText("Updating. The page reloads once the new version takes control."), nil
	}
}

// CheckUpdateHandler returns the MCP tool handler for the "check-update" tool.
func CheckUpdateHandler(host Host) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		info, err := host.Update(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Worker %d (%s) is %s.", info.ID, info.Generation, info.State)), nil
	}
}

func formatStatus(st *worker.Status, stats []cache.PartitionStats, updater Updater) string {
	var sb strings.Builder
	sb.WriteString("Scope: ")
	sb.WriteString(st.Scope)
	sb.WriteString("\n")
	line := func(label string, w *worker.WorkerInfo) {
		if w == nil {
			return
		}
		fmt.Fprintf(&sb, "%s: worker %d, %s\n", label, w.ID, w.Generation)
	}
	line("Active", st.Active)
	line("Waiting", st.Waiting)
	line("Installing", st.Installing)
	if st.Active == nil {
		sb.WriteString("No active worker: requests go straight to the network.\n")
	}
	fmt.Fprintf(&sb, "Pages: %d\n", st.Clients)

	if len(stats) > 0 {
		sb.WriteString("\n## Caches\n")
		for _, ps := range stats {
			fmt.Fprintf(&sb, "- %s: %d entries, %d bytes\n", ps.Name, ps.Entries, ps.Bytes)
		}
	}

	switch {
	case updater.Pending():
		sb.WriteString("\nUpdating: waiting for the new version to take control.")
	case updater.Offered():
		sb.WriteString("\nAn update is ready. Use apply-update to switch.")
	}
	return strings.TrimRight(sb.String(), "\n")
}
