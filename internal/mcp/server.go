package mcpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ingest/internal/service"
)

// Server is the MCP server for ingest.
// It exposes tools, resources, and prompts so AI agents can inspect
// connectors, preview decompositions and run sync jobs.
type Server struct {
	mcp      *server.MCPServer
	approval *ApprovalQueue

	// Services (injected from app layer)
	sync *service.SyncService
}

// Deps holds all dependencies passed from the App layer to the MCP server.
type Deps struct {
	Notifier    service.Notifier
	Sync        *service.SyncService
	ApprovalDB  *sql.DB // When set, approvals go through the mcp_approvals table
	AutoApprove bool
}

// New creates and configures a new MCP server with all tools and resources.
func New(ctx context.Context, deps Deps) *Server {
	approval := NewApprovalQueue(ctx, deps.Notifier)
	if deps.ApprovalDB != nil {
		approval.SetDB(deps.ApprovalDB)
	}
	approval.SetAutoApprove(deps.AutoApprove)

	s := &Server{
		approval: approval,
		sync:     deps.Sync,
	}

	s.mcp = server.NewMCPServer(
		"ingest-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerConnectorTools()
	s.registerJobTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Println("[MCP] Starting stdio server...")
	return server.ServeStdio(s.mcp)
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Approve forwards a user approval to the approval queue.
func (s *Server) Approve(actionID string) {
	s.approval.Approve(actionID)
}

// Reject forwards a user rejection to the approval queue.
func (s *Server) Reject(actionID string) {
	s.approval.Reject(actionID)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func boolPtr(v bool) *bool { return &v }
