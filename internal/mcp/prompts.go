package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("design_connector",
		mcp.WithPromptDescription("Guide through declaring how a nested API payload splits into tables"),
		mcp.WithArgument("apiName",
			mcp.ArgumentDescription("Name of the API whose payloads will be decomposed"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("rootTable",
			mcp.ArgumentDescription("Table name for the payload's top-level objects"),
			mcp.RequiredArgument(),
		),
	), s.handleDesignConnectorPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("incremental_sync",
		mcp.WithPromptDescription("Set up an incremental sync job that reads a windowed API into a destination"),
		mcp.WithArgument("connector",
			mcp.ArgumentDescription("Connector preset to sync"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("destinationId",
			mcp.ArgumentDescription("Destination the rows are written to"),
			mcp.RequiredArgument(),
		),
	), s.handleIncrementalSyncPrompt)
}

func (s *Server) handleDesignConnectorPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	apiName := req.Params.Arguments["apiName"]
	root := req.Params.Arguments["rootTable"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Design a connector for %s", apiName),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Design a connector for the %s API whose top-level objects go to the "%s" table. Follow these steps:

1. Use list_connectors and get_connector on an existing preset to see the declaration format
2. For every array of objects in the payload, declare a relationship (field, child_table, optional foreign_key)
3. For arrays of scalars, set value_field so each element becomes one row
4. List single nested objects that should become prefixed columns under "flatten"
5. List reference objects ({guid, entityType}) under "references" with the column their guid goes to
6. Add every table whose items have no natural key to synthetic_keys
7. Call flatten_preview with a real sample payload and check that each child row carries its parent's key

Children are written before parents, so nothing should depend on a parent row existing first.`, apiName, root),
				},
			},
		},
	}, nil
}

func (s *Server) handleIncrementalSyncPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	connector := req.Params.Arguments["connector"]
	destID := req.Params.Arguments["destinationId"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Incremental sync of %s", connector),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Set up an incremental sync of the "%s" connector into destination %s:

1. Call preview_source with a small maxRecords to confirm the credentials and the row shapes
2. Call create_sync_job with incremental=true and an initialSyncStart such as 2024-01-01T00:00:00.000Z
3. Use triggerType "schedule" with a cron expression if it should run unattended
4. Call run_sync_job (the user must approve it) and then list_run_logs to confirm the result

Each run reads at most 30 days per window and resumes from the last saved checkpoint.`, connector, destID),
				},
			},
		},
	}, nil
}
