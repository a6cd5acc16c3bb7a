// Package mcp exposes read-only catalog lineage and job tools over the
// Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/graph"
	"github.com/rmax-ai/catalogctl/pkg/lineage"
	"github.com/rmax-ai/catalogctl/pkg/store"
)

const historyURI = "catalogctl://history"

// Catalog is what the tools read from.
type Catalog interface {
	GetAsset(ctx context.Context, id, segments string) (catalog.Asset, error)
	JobStatus(ctx context.Context, jobID string) (catalog.JobStatus, error)
}

// Server adapts catalogctl to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	cat       Catalog
	history   store.CampaignStore
	maxDepth  int
	logger    *slog.Logger
}

// NewServer creates a new MCP server instance. history may be nil, in
// which case the history resource is not offered. maxDepth caps every
// trace; zero leaves it to the catalog's hop horizon.
func NewServer(cat Catalog, history store.CampaignStore, maxDepth int, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer("catalogctl", version),
		cat:       cat,
		history:   history,
		maxDepth:  maxDepth,
		logger:    logger,
	}
	if history != nil {
		s.registerResources()
	}
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		historyURI,
		"Campaign History",
		mcp.WithResourceDescription("The 20 most recent purge and export campaigns"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadHistory)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"trace_lineage",
		mcp.WithDescription("Walk the lineage of a cataloged asset in one direction and return every reachable asset."),
		mcp.WithString("asset_id", mcp.Required(), mcp.Description("Identity of the starting asset")),
		mcp.WithString("direction", mcp.Description("inbound (upstream sources) or outbound (downstream consumers); default outbound")),
		mcp.WithNumber("max_depth", mcp.Description("Stop descending below this depth; 0 follows the whole graph")),
		mcp.WithBoolean("graph", mcp.Description("Return a nodes/edges graph instead of the record list")),
	), s.handleTraceLineage)

	s.mcpServer.AddTool(mcp.NewTool(
		"lineage_summary",
		mcp.WithDescription("Count an asset's lineage links and its farthest hop distance."),
		mcp.WithString("asset_id", mcp.Required(), mcp.Description("Identity of the asset")),
	), s.handleLineageSummary)

	s.mcpServer.AddTool(mcp.NewTool(
		"job_status",
		mcp.WithDescription("Read the current state of an asynchronous catalog job."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job identifier returned by a purge request")),
	), s.handleJobStatus)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"catalog-lineage",
		mcp.WithPromptDescription("Explains catalog lineage concepts and how to use the lineage tools"),
	), s.handleGetPrompt)
}

// --- Handlers ---

type traceResult struct {
	Root      catalog.AssetRef  `json:"root"`
	Direction catalog.Direction `json:"direction"`
	Records   []lineage.Record  `json:"records"`
	Loops     []lineage.Loop    `json:"loops,omitempty"`
	Failures  []string          `json:"failures,omitempty"`
}

func (s *Server) handleTraceLineage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID := mcp.ParseString(request, "asset_id", "")
	if assetID == "" {
		return mcp.NewToolResultError("asset_id is required"), nil
	}
	dir, err := catalog.ParseDirection(mcp.ParseString(request, "direction", string(catalog.Outbound)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	depth := mcp.ParseInt(request, "max_depth", 0)
	if s.maxDepth > 0 && (depth <= 0 || depth > s.maxDepth) {
		depth = s.maxDepth
	}

	t := lineage.NewTraverser(s.cat, lineage.WithMaxDepth(depth), lineage.WithLogger(s.logger))
	walk, err := t.Traverse(ctx, assetID, dir)
	if err != nil {
		return toolError(err), nil
	}

	proj := graph.NewProjection(walk.Root())
	records, err := proj.Consume(walk)
	if err != nil {
		return toolError(err), nil
	}

	if mcp.ParseBoolean(request, "graph", false) {
		return jsonResult(proj.GetGraph())
	}

	res := traceResult{
		Root:      walk.Root().Ref(),
		Direction: dir,
		Records:   records,
		Loops:     walk.Loops(),
	}
	for _, f := range walk.Failures() {
		res.Failures = append(res.Failures, f.Error())
	}
	return jsonResult(res)
}

func (s *Server) handleLineageSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID := mcp.ParseString(request, "asset_id", "")
	if assetID == "" {
		return mcp.NewToolResultError("asset_id is required"), nil
	}
	a, err := s.cat.GetAsset(ctx, assetID, catalog.SurveySegments)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(lineage.Summarize(a))
}

func (s *Server) handleJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id is required"), nil
	}
	status, err := s.cat.JobStatus(ctx, jobID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(struct {
		JobID    string            `json:"job_id"`
		Status   catalog.JobStatus `json:"status"`
		Terminal bool              `json:"terminal"`
	}{jobID, status, status.IsTerminal()})
}

func (s *Server) handleReadHistory(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	campaigns, err := s.history.ListCampaigns(ctx, store.CampaignFilter{Limit: 20})
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	data, err := json.MarshalIndent(campaigns, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal campaigns: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "catalog-lineage" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are working with a metadata catalog.

Concepts:
- Asset: a cataloged object (table, column, report, business term) with an opaque identity.
- Lineage: directed data-flow edges between assets. Inbound lineage points to upstream sources,
  outbound lineage to downstream consumers.
- Hop distance: how many edges separate an asset from the one queried. The catalog reports at most 5.
- Loop: a lineage edge that leads back to an asset already seen; it is reported, not followed.

Use 'lineage_summary' to check whether an asset has lineage at all before tracing it.
Use 'trace_lineage' with a direction to list every reachable asset; set max_depth on large graphs.
Use 'job_status' to check a purge job; COMPLETED, FAILED, COMPLETED_WITH_ERRORS and
PARTIAL_COMPLETED are final, anything else means the job is still running.
`

	return mcp.NewGetPromptResult(
		"catalog-lineage",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}

func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, catalog.ErrNotFound) {
		return mcp.NewToolResultError("not found: " + err.Error())
	}
	return mcp.NewToolResultError(fmt.Sprintf("catalog error: %v", err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
