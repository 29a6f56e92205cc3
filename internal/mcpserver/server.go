// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes package index queries for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/pkgsnap/internal/apperr"
	"github.com/starford/pkgsnap/internal/packageservice"
)

const searchLimit = 20

// Server wraps the MCP server with package index tools.
type Server struct {
	mcp *server.MCPServer
	svc *packageservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *packageservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"pkgsnap",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("search_packages",
		mcp.WithDescription("Search packages by id or name (case-insensitive substring match)."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for in package ids and names")),
	), s.searchPackages)

	s.mcp.AddTool(mcp.NewTool("get_package",
		mcp.WithDescription("Get one package by id, including tags and the time its current version was first seen."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Package id, e.g. Git.Git")),
	), s.getPackage)

	s.mcp.AddTool(mcp.NewTool("list_changes",
		mcp.WithDescription("List packages that are new or changed version at or after a point in time. "+
			"Without since, lists the packages changed by the most recent run."),
		mcp.WithString("since", mcp.Description("Optional RFC 3339 timestamp")),
	), s.listChanges)

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

func (s *Server) searchPackages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, total, err := s.svc.ListPackages(ctx, query, "", searchLimit, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if total == 0 {
		return mcp.NewToolResultText("no packages found"), nil
	}
	return jsonResult(map[string]any{
		"packages": packageservice.FromTrackedList(items),
		"total":    total,
	}), nil
}

func (s *Server) getPackage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.GetPackage(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(packageservice.FromTracked(*p)), nil
}

func (s *Server) listChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var since time.Time
	if raw, err := req.RequireString("since"); err == nil && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError("since must be an RFC 3339 timestamp"), nil
		}
		since = t
	}
	items, _, err := s.svc.Changes(ctx, since)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no changes found"), nil
	}
	return jsonResult(packageservice.FromTrackedList(items)), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}
