// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the dashboard views as tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/eduops/internal/view"
)

// Server wraps the MCP server with view tools. The filter, sort and page
// position of every view persist across calls in one session.
type Server struct {
	mcp     *server.MCPServer
	reg     *view.Registry
	session *view.Session
}

// DefaultPageSize is used when New is given no page size.
const DefaultPageSize = 25

// New creates a new MCP server with all view tools registered.
func New(reg *view.Registry, pageSize int) *Server {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	s := &Server{reg: reg, session: view.NewSession(pageSize)}

	s.mcp = server.NewMCPServer(
		"EduOps",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_views",
		mcp.WithDescription("List the dashboard views with their filters and sort keys."),
	), s.listViews)

	s.mcp.AddTool(mcp.NewTool("query_view",
		mcp.WithDescription("Apply filters to a view and return its current page. "+
			"Filters merge into the view's state; an empty string or \"all\" clears one. "+
			"Changing filters returns to page 1."),
		mcp.WithString("view", mcp.Required(), mcp.Description("View name (see list_views)")),
		mcp.WithObject("filters", mcp.Description("Filter params, e.g. {\"status\":\"used\",\"country\":\"IN,NG\"}")),
		mcp.WithNumber("page_size", mcp.Description("Optional page size")),
	), s.queryView)

	s.mcp.AddTool(mcp.NewTool("toggle_sort",
		mcp.WithDescription("Cycle the sort on a key: descending, ascending, then the view's default order."),
		mcp.WithString("view", mcp.Required(), mcp.Description("View name")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Sort key (see list_views)")),
	), s.toggleSort)

	s.mcp.AddTool(mcp.NewTool("goto_page",
		mcp.WithDescription("Move a view to a page. Out of range pages are clamped."),
		mcp.WithString("view", mcp.Required(), mcp.Description("View name")),
		mcp.WithNumber("page", mcp.Required(), mcp.Description("1-based page number")),
	), s.gotoPage)

	s.mcp.AddTool(mcp.NewTool("refresh_view",
		mcp.WithDescription("Discard cached data of a view, reload every source and return to page 1."),
		mcp.WithString("view", mcp.Required(), mcp.Description("View name")),
	), s.refreshView)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

// apply runs the view with the state produced by fn and stores that state
// only when the query succeeded.
func (s *Server) apply(ctx context.Context, req mcp.CallToolRequest, fn func(view.State) view.State) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("view")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.reg.Get(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	next := fn(s.session.Get(name))
	res, err := v.Query(ctx, next.Query())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.session.Update(name, func(view.State) view.State { return next })
	return jsonResult(res), nil
}

type viewInfo struct {
	Name     string        `json:"name"`
	Strategy view.Strategy `json:"strategy"`
	Filters  []string      `json:"filters"`
	SortKeys []string      `json:"sort_keys"`
}

func (s *Server) listViews(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var out []viewInfo
	for _, v := range s.reg.All() {
		out = append(out, viewInfo{Name: v.Name(), Strategy: v.Strategy(), Filters: v.FilterParams(), SortKeys: v.SortKeys()})
	}
	return jsonResult(out), nil
}

func (s *Server) queryView(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filters := map[string]string{}
	if raw, ok := req.GetArguments()["filters"].(map[string]any); ok {
		for k, v := range raw {
			if v == nil {
				filters[k] = ""
				continue
			}
			filters[k] = fmt.Sprint(v)
		}
	}
	size := req.GetInt("page_size", 0)
	return s.apply(ctx, req, func(st view.State) view.State {
		return st.SetFilters(filters).WithPageSize(size)
	})
}

func (s *Server) toggleSort(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.apply(ctx, req, func(st view.State) view.State { return st.ToggleSort(key) })
}

func (s *Server) gotoPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := req.RequireInt("page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("view")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.reg.Get(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// The clamp needs the filtered count under the current state.
	cur, err := v.Query(ctx, s.session.Get(name).Query())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.apply(ctx, req, func(st view.State) view.State { return st.Goto(page, cur.Filtered) })
}

func (s *Server) refreshView(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("view")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.reg.Get(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := v.Refresh(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("refresh %s: %v", name, err)), nil
	}
	return s.apply(ctx, req, func(st view.State) view.State { return st.Refreshed() })
}
