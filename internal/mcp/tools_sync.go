package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"ingest/internal/connectors"
	"ingest/internal/etl"
	"ingest/internal/service"
)

func (s *Server) registerConnectorTools() {
	s.mcp.AddTool(mcp.NewTool("list_connectors",
		mcp.WithDescription("List connector presets: root table, source type and the tables each one produces"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListConnectors)

	s.mcp.AddTool(mcp.NewTool("get_connector",
		mcp.WithDescription("Show a connector's full declarations: relationships, flattened fields, references, synthetic-key tables and schemas"),
		mcp.WithString("name", mcp.Description("Connector name"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleGetConnector)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List available source types with their configuration schemas"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("flatten_preview",
		mcp.WithDescription(`Decompose a nested JSON payload into flat table rows using a connector's declarations. Nothing is written.
Children are listed before their parents; every child row carries its parent's key as {parent_table}_guid.`),
		mcp.WithString("connector", mcp.Description("Connector name (use list_connectors)"), mcp.Required()),
		mcp.WithString("table", mcp.Description("Table of the payload's root objects (defaults to the connector's root table)")),
		mcp.WithString("payloadJSON", mcp.Description("One JSON object or an array of objects"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleFlattenPreview)

	s.mcp.AddTool(mcp.NewTool("preview_source",
		mcp.WithDescription("Read the first records from a connector's source and return their rows without persisting anything"),
		mcp.WithString("connector", mcp.Description("Connector name"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration overrides as JSON")),
		mcp.WithNumber("maxRecords", mcp.Description("Number of root records to read (default 20)")),
	), s.handlePreviewSource)
}

func (s *Server) registerJobTools() {
	s.mcp.AddTool(mcp.NewTool("create_sync_job",
		mcp.WithDescription("Create a sync job that reads a connector's source and writes the decomposed rows to a destination"),
		mcp.WithString("name", mcp.Description("Job name")),
		mcp.WithString("connector", mcp.Description("Connector name"), mcp.Required()),
		mcp.WithString("destinationId", mcp.Description("Destination ID"), mcp.Required()),
		mcp.WithString("rootTable", mcp.Description("Override the connector's root table")),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration overrides as JSON")),
		mcp.WithString("transformsJSON", mcp.Description(`Optional JSON array of row transforms, each {type, table, config}. Available types:
- inject: {fields: {name: value}} : add constant columns (e.g. restaurant_guid)
- filter: {field, op (eq|neq|gt|lt|contains), value} : drop rows not matching
- rename: {mapping: {oldName: newName}} : rename columns
- select: {fields: ["col1","col2"]} : keep only listed columns
- type_cast: {field, castType (number|string|bool)} : convert a column
table scopes a transform to one table; omit it to apply to all.`)),
		mcp.WithBoolean("incremental", mcp.Description("Read in 30-day windows from the last checkpoint")),
		mcp.WithString("initialSyncStart", mcp.Description("First window start for incremental jobs, e.g. 2024-01-01T00:00:00.000Z")),
		mcp.WithBoolean("dedupe", mcp.Description("Drop repeated primary keys within one run")),
		mcp.WithString("triggerType", mcp.Description("manual | schedule | file_watch")),
		mcp.WithString("triggerConfig", mcp.Description("Cron expression or watched file path")),
	), s.handleCreateSyncJob)

	s.mcp.AddTool(mcp.NewTool("list_sync_jobs",
		mcp.WithDescription("List sync jobs with their last run status"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListSyncJobs)

	s.mcp.AddTool(mcp.NewTool("run_sync_job",
		mcp.WithDescription("🛑 DESTRUCTIVE: Execute a sync job. Upserts and deletes rows in the destination. Requires user approval."),
		mcp.WithString("jobId", mcp.Description("Sync job ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunSyncJob)

	s.mcp.AddTool(mcp.NewTool("list_run_logs",
		mcp.WithDescription("Show recent runs of a sync job, newest first"),
		mcp.WithString("jobId", mcp.Description("Sync job ID"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListRunLogs)
}

// ── Connectors ─────────────────────────────────────────────

type connectorSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	RootTable   string   `json:"rootTable"`
	SourceType  string   `json:"sourceType"`
	Tables      []string `json:"tables"`
}

func summarizeConnector(c *etl.Connector) connectorSummary {
	tables := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		tables[i] = t.Table
	}
	return connectorSummary{
		Name:        c.Name,
		Description: c.Description,
		RootTable:   c.RootTable,
		SourceType:  c.SourceType,
		Tables:      tables,
	}
}

func (s *Server) handleListConnectors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.sync.ListConnectors()
	out := make([]connectorSummary, len(list))
	for i, c := range list {
		out[i] = summarizeConnector(c)
	}
	return jsonResult(out)
}

func (s *Server) handleGetConnector(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	c, err := connectors.Get(name)
	if err != nil {
		return nil, err
	}
	return jsonResult(c)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sync.ListSources())
}

// flattenResult is the response of flatten_preview.
type flattenResult struct {
	RowCount int            `json:"rowCount"`
	Tables   map[string]int `json:"tables"`
	Rows     []etl.Row      `json:"rows"`
}

func (s *Server) handleFlattenPreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	connector, _ := args["connector"].(string)
	table, _ := args["table"].(string)
	if connector == "" {
		return nil, fmt.Errorf("connector is required")
	}

	// payloadJSON may come as a string or as a raw JSON value
	var payload string
	switch v := args["payloadJSON"].(type) {
	case string:
		payload = v
	case nil:
		return nil, fmt.Errorf("payloadJSON is required")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("parse payloadJSON: %w", err)
		}
		payload = string(b)
	}

	rows, err := s.sync.Flatten(connector, table, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Table]++
	}
	return jsonResult(flattenResult{RowCount: len(rows), Tables: counts, Rows: rows})
}

func (s *Server) handlePreviewSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	in := service.PreviewInput{
		Connector:  req.GetString("connector", ""),
		MaxRecords: req.GetInt("maxRecords", 0),
	}
	if in.Connector == "" {
		return nil, fmt.Errorf("connector is required")
	}
	if err := jsonArg(args, "sourceConfigJSON", &in.SourceConfig); err != nil {
		return nil, err
	}

	rows, err := s.sync.Preview(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("preview source: %w", err)
	}
	return jsonResult(rows)
}

// ── Jobs ───────────────────────────────────────────────────

func (s *Server) handleCreateSyncJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	input := service.CreateJobInput{
		Name:             req.GetString("name", ""),
		Connector:        req.GetString("connector", ""),
		DestinationID:    req.GetString("destinationId", ""),
		RootTable:        req.GetString("rootTable", ""),
		Incremental:      req.GetBool("incremental", false),
		InitialSyncStart: req.GetString("initialSyncStart", ""),
		Dedupe:           req.GetBool("dedupe", false),
		TriggerType:      req.GetString("triggerType", ""),
		TriggerConfig:    req.GetString("triggerConfig", ""),
		Enabled:          true,
	}
	if err := jsonArg(args, "sourceConfigJSON", &input.SourceConfig); err != nil {
		return nil, err
	}
	if err := jsonArg(args, "transformsJSON", &input.Transforms); err != nil {
		return nil, err
	}

	job, err := s.sync.CreateJob(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}
	return jsonResult(job)
}

func (s *Server) handleListSyncJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.sync.ListJobs()
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []etl.SyncJob{}
	}
	return jsonResult(jobs)
}

func (s *Server) handleRunSyncJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := req.GetString("jobId", "")
	if jobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}

	meta, _ := json.Marshal(map[string]string{"jobId": jobID})
	approved, err := s.approval.Request("run_sync_job",
		fmt.Sprintf("Run sync job %s (writes and deletes destination rows)", jobID), string(meta))
	if err != nil || !approved {
		return textResult("Action rejected by user"), nil
	}

	result, err := s.sync.RunJob(ctx, jobID)
	if err != nil {
		if result != nil {
			// report partial progress alongside the failure
			res, _ := jsonResult(result)
			res.IsError = true
			return res, nil
		}
		return nil, fmt.Errorf("run sync job: %w", err)
	}
	return jsonResult(result)
}

func (s *Server) handleListRunLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := req.GetString("jobId", "")
	if jobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	logs, err := s.sync.ListRunLogs(jobID, req.GetInt("limit", 20))
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []etl.SyncRunLog{}
	}
	return jsonResult(logs)
}
