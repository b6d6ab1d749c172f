package app

import (
	"context"
	"log"

	mcpserver "ingest/internal/mcp"
)

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
// Unless autoApprove is set, destructive tools wait for an operator to
// resolve them with `ingest approvals` from another process.
func (a *App) ServeMCP(ctx context.Context, autoApprove bool) error {
	deps := mcpserver.Deps{
		Sync:        a.sync,
		AutoApprove: autoApprove,
	}
	if !autoApprove {
		deps.ApprovalDB = a.db.Conn() // SQLite-based approval IPC
	}
	srv := mcpserver.New(ctx, deps)

	log.Println("[MCP] Starting standalone stdio server...")
	return srv.ServeStdio()
}

// PendingApprovals lists the MCP actions waiting for a decision.
func (a *App) PendingApprovals() ([]mcpserver.PendingAction, error) {
	return mcpserver.ListPendingApprovals(a.db.Conn())
}

// ResolveApproval approves or rejects a pending MCP action.
func (a *App) ResolveApproval(id string, approved bool) error {
	return mcpserver.ResolveApproval(a.db.Conn(), id, approved)
}
