package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// ── ingest://connectors ────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"ingest://connectors",
		"Connector Presets",
		mcp.WithMIMEType("application/json"),
	), s.handleConnectorsResource)

	// ── ingest://jobs ──────────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"ingest://jobs",
		"Sync Jobs",
		mcp.WithMIMEType("application/json"),
	), s.handleJobsResource)

	// ── ingest://jobs/{jobId}/runs ─────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"ingest://jobs/{jobId}/runs",
			"Recent Runs of a Sync Job",
		),
		s.handleJobRunsResource,
	)
}

func (s *Server) handleConnectorsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	list := s.sync.ListConnectors()
	out := make([]connectorSummary, len(list))
	for i, c := range list {
		out[i] = summarizeConnector(c)
	}
	return jsonContents(req.Params.URI, out)
}

func (s *Server) handleJobsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jobs, err := s.sync.ListJobs()
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, jobs)
}

func (s *Server) handleJobRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	jobID := jobIDFromURI(uri)
	if jobID == "" {
		return nil, fmt.Errorf("could not extract jobId from URI: %s", uri)
	}

	logs, err := s.sync.ListRunLogs(jobID, 20)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, logs)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// jobIDFromURI extracts the job ID from "ingest://jobs/{id}/runs".
func jobIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, "ingest://jobs/")
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/runs")
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
