package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
)

const serverName = "evidence-engine"

// Server exposes dimension planning and evidence assembly as MCP tools.
type Server struct {
	evidence ports.EvidenceService
	mcp      *server.MCPServer
	logger   *slog.Logger
}

func NewServer(evidence ports.EvidenceService, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		evidence: evidence,
		mcp:      server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
		logger:   logger,
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("build_dimensions",
		mcp.WithDescription("Plan the literature search dimensions for a biomedical entity. "+
			"Returns the combination key (letters from TDRM) and one boolean query per dimension."),
		mcp.WithObject("entity",
			mcp.Required(),
			mcp.Description("Entity with optional target, disease, therapy and drug terms. "+
				"Each term is a name string or {\"name\", \"aliases\"}."),
		),
	), s.handleBuildDimensions)

	s.mcp.AddTool(mcp.NewTool("assemble_evidence",
		mcp.WithDescription("Chunk and index the given PubMed records, retrieve evidence for every "+
			"dimension of the entity and return the numbered evidence bundle."),
		mcp.WithObject("entity", mcp.Required(), mcp.Description("Entity to gather evidence for.")),
		mcp.WithArray("documents",
			mcp.Required(),
			mcp.Description("PubMed records with pmid, title, abstract and optional metadata."),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithObject("options", mcp.Description("Retrieval overrides such as top_k or score_threshold.")),
	), s.handleAssembleEvidence)
}

type buildDimensionsArgs struct {
	Entity domain.Entity `json:"entity"`
}

type buildDimensionsResult struct {
	CombinationKey domain.CombinationKey `json:"combination_key"`
	Dimensions     []domain.Dimension    `json:"dimensions"`
}

func (s *Server) handleBuildDimensions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args buildDimensionsArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	key, dims := s.evidence.Plan(args.Entity)
	return jsonResult(buildDimensionsResult{CombinationKey: key, Dimensions: dims})
}

func (s *Server) handleAssembleEvidence(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := domain.EvidenceRequest{Options: s.evidence.DefaultOptions()}
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	bundle, err := s.evidence.Assemble(ctx, args)
	if err != nil {
		s.logger.Warn("mcp_assemble_failed", "documents", len(args.Documents), "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(bundle)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
