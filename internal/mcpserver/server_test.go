package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/grovekb/grove/internal/testutil"
)

func testMCP(t *testing.T) *Server {
	t.Helper()
	return New(testutil.TestKB(t))
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct test dispatcher, so call the handler functions.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_knowledge":
		result, err = srv.searchKnowledge(ctx, req)
	case "read_leaf":
		result, err = srv.readLeaf(ctx, req)
	case "add_leaf":
		result, err = srv.addLeaf(ctx, req)
	case "related_leaves":
		result, err = srv.relatedLeaves(ctx, req)
	case "knowledge_stats":
		result, err = srv.knowledgeStats(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestAddAndReadLeaf(t *testing.T) {
	srv := testMCP(t)

	r := callTool(t, srv, "add_leaf", map[string]interface{}{
		"tree":       "trading",
		"branch":     "patterns",
		"content":    "MACD crossovers work best in trending markets",
		"tier":       "trunk",
		"confidence": 0.8,
		"tags":       "indicators,momentum",
	})
	text := resultText(r)
	if r.IsError || !strings.HasPrefix(text, "created: trading/patterns/") {
		t.Fatalf("add result = %q", text)
	}
	path := strings.TrimPrefix(text, "created: ")

	r = callTool(t, srv, "read_leaf", map[string]interface{}{"path": path})
	text = resultText(r)
	if r.IsError {
		t.Fatalf("read errored: %q", text)
	}
	for _, want := range []string{"MACD crossovers", `"trunk"`, "momentum"} {
		if !strings.Contains(text, want) {
			t.Errorf("read result missing %q:\n%s", want, text)
		}
	}
}

func TestAddLeafValidation(t *testing.T) {
	srv := testMCP(t)

	r := callTool(t, srv, "add_leaf", map[string]interface{}{
		"branch":  "patterns",
		"content": "x",
		"tier":    "bogus",
	})
	if !r.IsError {
		t.Error("invalid tier accepted")
	}

	r = callTool(t, srv, "add_leaf", map[string]interface{}{"branch": "patterns"})
	if !r.IsError {
		t.Error("missing content accepted")
	}
}

func TestSearchKnowledge(t *testing.T) {
	srv := testMCP(t)
	callTool(t, srv, "add_leaf", map[string]interface{}{
		"tree": "trading", "branch": "patterns",
		"content": "momentum indicators confirm the trend",
	})
	callTool(t, srv, "add_leaf", map[string]interface{}{
		"tree": "trading", "branch": "patterns",
		"content": "volume spikes near support",
	})

	r := callTool(t, srv, "search_knowledge", map[string]interface{}{
		"query": "momentum indicators",
		"limit": 1,
	})
	text := resultText(r)
	if r.IsError {
		t.Fatalf("search errored: %q", text)
	}
	if !strings.Contains(text, "momentum") || strings.Contains(text, "volume spikes") {
		t.Errorf("search result = %s", text)
	}

	r = callTool(t, srv, "search_knowledge", map[string]interface{}{
		"query": "momentum",
		"tier":  "bogus",
	})
	if !r.IsError {
		t.Error("invalid tier filter accepted")
	}
}

func TestReadLeafMissing(t *testing.T) {
	srv := testMCP(t)
	r := callTool(t, srv, "read_leaf", map[string]interface{}{"path": "t/b/nope.md"})
	if !r.IsError {
		t.Error("expected error for missing leaf")
	}
}

func TestRelatedLeaves(t *testing.T) {
	srv := testMCP(t)
	a := resultText(callTool(t, srv, "add_leaf", map[string]interface{}{
		"tree": "t", "branch": "b", "content": "first",
	}))
	b := resultText(callTool(t, srv, "add_leaf", map[string]interface{}{
		"tree": "t", "branch": "b", "content": "second",
	}))
	aPath := strings.TrimPrefix(a, "created: ")
	bPath := strings.TrimPrefix(b, "created: ")

	if err := srv.kb.Link(context.Background(), aPath, bPath, "supports"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	r := callTool(t, srv, "related_leaves", map[string]interface{}{"path": aPath})
	text := resultText(r)
	if !strings.Contains(text, bPath) || !strings.Contains(text, "supports") {
		t.Errorf("related = %s", text)
	}

	r = callTool(t, srv, "related_leaves", map[string]interface{}{"path": bPath})
	if !strings.Contains(resultText(r), "is_supported_by") {
		t.Errorf("incoming related = %s", resultText(r))
	}
}

func TestRelatedLeavesEmpty(t *testing.T) {
	srv := testMCP(t)
	p := strings.TrimPrefix(resultText(callTool(t, srv, "add_leaf", map[string]interface{}{
		"tree": "t", "branch": "b", "content": "lonely",
	})), "created: ")

	r := callTool(t, srv, "related_leaves", map[string]interface{}{"path": p})
	if resultText(r) != "no linked leaves" {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestKnowledgeStats(t *testing.T) {
	srv := testMCP(t)
	callTool(t, srv, "add_leaf", map[string]interface{}{
		"tree": "t", "branch": "b", "content": "one leaf", "tags": "x",
	})

	r := callTool(t, srv, "knowledge_stats", map[string]interface{}{})
	text := resultText(r)
	if r.IsError {
		t.Fatalf("stats errored: %q", text)
	}
	for _, want := range []string{`"leaves": 1`, `"trees": 1`, `"provider": "lite"`} {
		if !strings.Contains(text, want) {
			t.Errorf("stats missing %q:\n%s", want, text)
		}
	}
}

func TestLeafFormatResource(t *testing.T) {
	srv := testMCP(t)
	contents, err := srv.readLeafFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("resource read: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents type %T", contents[0])
	}
	if tc.URI != "grove://leaf-format" || !strings.Contains(tc.Text, "confidence") {
		t.Errorf("resource = %+v", tc)
	}
}
