// Package mcpserver registers MCP tools that expose the dashboard's
// widget snapshots to assistants.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/ambient-dash/internal/dashboard"
)

// RegisterTools adds the dashboard tools to the given MCP server.
func RegisterTools(server *mcp.Server, d *dashboard.Dashboard) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "dashboard_widgets",
		Description: "List every dashboard widget with its current status and data (clock, weather, transit arrivals, now playing, tasks).",
	}, widgetsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dashboard_widget",
		Description: "Read one dashboard widget by name. Status is one of pending, ok, empty, auth_required, transient, config_error.",
	}, widgetHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dashboard_refresh",
		Description: "Ask a widget to fetch fresh data now instead of waiting for its next scheduled poll. Returns immediately.",
	}, refreshHandler(d))
}

// --- Input types ---

// WidgetsInput has no parameters.
type WidgetsInput struct{}

// WidgetInput names one widget.
type WidgetInput struct {
	Name string `json:"name" jsonschema:"widget name, e.g. spotify or transit"`
}

// --- Output types ---

// WidgetsResult lists every widget in display order.
type WidgetsResult struct {
	Widgets []dashboard.Snapshot `json:"widgets"`
}

// RefreshResult acknowledges a refresh request.
type RefreshResult struct {
	Name      string `json:"name"`
	Requested bool   `json:"requested"`
}

// --- Handlers ---

func widgetsHandler(d *dashboard.Dashboard) mcp.ToolHandlerFor[WidgetsInput, *WidgetsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ WidgetsInput) (*mcp.CallToolResult, *WidgetsResult, error) {
		result := &WidgetsResult{Widgets: d.Snapshots()}
		return textResult(result), result, nil
	}
}

func widgetHandler(d *dashboard.Dashboard) mcp.ToolHandlerFor[WidgetInput, *dashboard.Snapshot] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input WidgetInput) (*mcp.CallToolResult, *dashboard.Snapshot, error) {
		snap, err := d.Snapshot(input.Name)
		if err != nil {
			return nil, nil, err
		}
		return textResult(snap), &snap, nil
	}
}

func refreshHandler(d *dashboard.Dashboard) mcp.ToolHandlerFor[WidgetInput, *RefreshResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input WidgetInput) (*mcp.CallToolResult, *RefreshResult, error) {
		if err := d.Refresh(input.Name); err != nil {
			return nil, nil, err
		}
		result := &RefreshResult{Name: input.Name, Requested: true}
		return textResult(result), result, nil
	}
}

// textResult wraps a value as indented JSON text content.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
