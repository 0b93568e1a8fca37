// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes grove knowledge tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/grovekb/grove/internal/index"
	"github.com/grovekb/grove/internal/kb"
	"github.com/grovekb/grove/internal/models"
)

// Server wraps the MCP server with grove tools.
type Server struct {
	mcp *server.MCPServer
	kb  *kb.KnowledgeBase
}

// New creates a new MCP server with all grove tools registered.
func New(k *kb.KnowledgeBase) *Server {
	s := &Server{kb: k}

	s.mcp = server.NewMCPServer(
		"Grove",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_knowledge",
		mcp.WithDescription("Semantic search over the knowledge base. "+
			"Optional tier/tag filters narrow candidates before scoring."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("tier", mcp.Description("Filter: leaves | branches | trunk | roots")),
		mcp.WithString("tag", mcp.Description("Filter: exact tag")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 5)")),
	), s.searchKnowledge)

	s.mcp.AddTool(mcp.NewTool("read_leaf",
		mcp.WithDescription("Read a leaf by its exact path (e.g. trading/patterns/macd.md)."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Leaf path: tree/branch/name.md")),
	), s.readLeaf)

	s.mcp.AddTool(mcp.NewTool("add_leaf",
		mcp.WithDescription("Store a new piece of knowledge. Content MUST follow the "+
			"canonical leaf format; read the grove://leaf-format resource first. "+
			"Tree may be omitted when the branch name is unambiguous."),
		mcp.WithString("branch", mcp.Required(), mcp.Description("Branch name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("The knowledge body")),
		mcp.WithString("tree", mcp.Description("Tree name (required if branch is ambiguous)")),
		mcp.WithString("tier", mcp.Description("leaves | branches | trunk | roots (default leaves)")),
		mcp.WithNumber("confidence", mcp.Description("Confidence in [0.0, 1.0] (default 0.5)")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
	), s.addLeaf)

	s.mcp.AddTool(mcp.NewTool("related_leaves",
		mcp.WithDescription("List leaves linked to the given leaf, outgoing and incoming, with relation labels."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Leaf path")),
	), s.relatedLeaves)

	s.mcp.AddTool(mcp.NewTool("knowledge_stats",
		mcp.WithDescription("Store health: leaf counts per tier, trees, branches, links, tags, pending embeddings."),
	), s.knowledgeStats)

	// Resource: leaf format contract.
	s.mcp.AddResource(
		mcp.NewResource("grove://leaf-format", "Leaf Format Contract",
			mcp.WithResourceDescription("Canonical leaf file format all knowledge must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLeafFormatResource,
	)

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

func (s *Server) searchKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	f := index.Filter{Tag: req.GetString("tag", "")}
	if t := req.GetString("tier", ""); t != "" {
		tier, err := models.ParseTier(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f.Tier = tier
	}
	limit := req.GetInt("limit", 0)

	results, err := s.kb.Search(ctx, query, f, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readLeaf(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	leaf, err := s.kb.GetLeaf(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(leaf, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) addLeaf(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branch, err := req.RequireString("branch")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p := kb.AddLeafParams{
		Tree:       req.GetString("tree", ""),
		Branch:     branch,
		Content:    content,
		Tier:       models.Tier(req.GetString("tier", string(models.TierLeaves))),
		Confidence: req.GetFloat("confidence", 0.5),
		Tags:       splitTags(req.GetString("tags", "")),
	}

	leaf, err := s.kb.AddLeaf(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", leaf.Path)), nil
}

func (s *Server) relatedLeaves(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.kb.Related(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("no linked leaves"), nil
	}
	out, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) knowledgeStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.kb.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readLeafFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "grove://leaf-format",
			MIMEType: "text/markdown",
			Text:     LeafFormatContract,
		},
	}, nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if t := s[start:i]; t != "" {
				out = append(out, t)
			}
			start = i + 1
		}
	}
	return out
}
