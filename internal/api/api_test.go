package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/grovekb/grove/internal/kb"
	"github.com/grovekb/grove/internal/models"
	"github.com/grovekb/grove/internal/testutil"
)

func testServer(t *testing.T) (*httptest.Server, *kb.KnowledgeBase) {
	t.Helper()
	k := testutil.TestKB(t)
	srv := httptest.NewServer(NewHandler(k).serveMux())
	t.Cleanup(srv.Close)
	return srv, k
}

func seedLeaf(t *testing.T, k *kb.KnowledgeBase, p kb.AddLeafParams) *models.Leaf {
	t.Helper()
	leaf, err := k.AddLeaf(context.Background(), p)
	if err != nil {
		t.Fatalf("AddLeaf: %v", err)
	}
	return leaf
}

func getJSON(t *testing.T, srv *httptest.Server, path string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d", path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	var live map[string]string
	getJSON(t, srv, "/health/live", http.StatusOK, &live)
	if live["status"] != "ok" {
		t.Errorf("live = %v", live)
	}

	var ready map[string]string
	getJSON(t, srv, "/health/ready", http.StatusOK, &ready)
	if ready["status"] != "ok" {
		t.Errorf("ready = %v", ready)
	}
}

func TestListLeaves(t *testing.T) {
	srv, k := testServer(t)
	seedLeaf(t, k, kb.AddLeafParams{Tree: "trading", Branch: "patterns", Content: "alpha", Tier: models.TierTrunk, Confidence: 0.8, Tags: []string{"momentum"}})
	seedLeaf(t, k, kb.AddLeafParams{Tree: "chess", Branch: "openings", Content: "beta", Confidence: 0.5})

	var all struct {
		Leaves []struct {
			Path    string `json:"path"`
			Tier    string `json:"tier"`
			Pending bool   `json:"pending"`
		} `json:"leaves"`
		Total int `json:"total"`
	}
	getJSON(t, srv, "/api/leaves", http.StatusOK, &all)
	if all.Total != 2 {
		t.Fatalf("total = %d, want 2", all.Total)
	}
	for _, l := range all.Leaves {
		if l.Pending {
			t.Errorf("%s reported pending", l.Path)
		}
	}

	var filtered struct {
		Total int `json:"total"`
	}
	getJSON(t, srv, "/api/leaves?tier=trunk", http.StatusOK, &filtered)
	if filtered.Total != 1 {
		t.Errorf("tier filter total = %d", filtered.Total)
	}
	getJSON(t, srv, "/api/leaves?tree=chess", http.StatusOK, &filtered)
	if filtered.Total != 1 {
		t.Errorf("tree filter total = %d", filtered.Total)
	}
	getJSON(t, srv, "/api/leaves?tag=momentum", http.StatusOK, &filtered)
	if filtered.Total != 1 {
		t.Errorf("tag filter total = %d", filtered.Total)
	}

	getJSON(t, srv, "/api/leaves?tier=bogus", http.StatusBadRequest, nil)
}

func TestGetLeaf(t *testing.T) {
	srv, k := testServer(t)
	leaf := seedLeaf(t, k, kb.AddLeafParams{Tree: "trading", Branch: "patterns", Content: "macd detail", Confidence: 0.7})

	var got models.Leaf
	getJSON(t, srv, "/api/leaves/"+leaf.Path, http.StatusOK, &got)
	if got.Path != leaf.Path || got.Content != "macd detail" {
		t.Errorf("leaf = %+v", got)
	}

	// Encoded slashes resolve to the same leaf.
	getJSON(t, srv, "/api/leaves/"+url.PathEscape(leaf.Path), http.StatusOK, &got)
	if got.Path != leaf.Path {
		t.Errorf("escaped lookup = %+v", got)
	}

	getJSON(t, srv, "/api/leaves/trading/patterns/ghost.md", http.StatusNotFound, nil)
}

func TestSearchEndpoint(t *testing.T) {
	srv, k := testServer(t)
	macd := seedLeaf(t, k, kb.AddLeafParams{Tree: "trading", Branch: "patterns", Content: "MACD momentum indicators in trending markets", Confidence: 0.8})
	seedLeaf(t, k, kb.AddLeafParams{Tree: "trading", Branch: "patterns", Content: "volume spikes near support", Confidence: 0.5})

	getJSON(t, srv, "/api/search", http.StatusBadRequest, nil)

	var body struct {
		Results []models.SearchResult `json:"results"`
	}
	getJSON(t, srv, "/api/search?q="+url.QueryEscape("momentum indicators"), http.StatusOK, &body)
	if len(body.Results) == 0 || body.Results[0].Path != macd.Path {
		t.Errorf("results = %+v", body.Results)
	}

	getJSON(t, srv, "/api/search?q=momentum&limit=1", http.StatusOK, &body)
	if len(body.Results) != 1 {
		t.Errorf("limit ignored: %d results", len(body.Results))
	}

	// No matches is an empty array, not an error.
	getJSON(t, srv, "/api/search?q=momentum&tree=ghost", http.StatusOK, &body)
	if body.Results == nil || len(body.Results) != 0 {
		t.Errorf("empty results = %+v", body.Results)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, k := testServer(t)
	seedLeaf(t, k, kb.AddLeafParams{Tree: "trading", Branch: "patterns", Content: "alpha", Confidence: 0.5, Tags: []string{"x"}})

	var s kb.Stats
	getJSON(t, srv, "/api/stats", http.StatusOK, &s)
	if s.Leaves != 1 || s.Trees != 1 || s.Provider != "lite" {
		t.Errorf("stats = %+v", s)
	}
}

func TestRelatedEndpoint(t *testing.T) {
	srv, k := testServer(t)
	a := seedLeaf(t, k, kb.AddLeafParams{Tree: "t", Branch: "b", Content: "a", Confidence: 0.5})
	b := seedLeaf(t, k, kb.AddLeafParams{Tree: "t", Branch: "b", Content: "b", Confidence: 0.5})
	if err := k.Link(context.Background(), a.Path, b.Path, "supports"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	var body struct {
		Related []kb.RelatedEntry `json:"related"`
	}
	getJSON(t, srv, "/api/related/"+a.Path, http.StatusOK, &body)
	if len(body.Related) != 1 || body.Related[0].Path != b.Path || body.Related[0].Relation != "supports" {
		t.Errorf("related = %+v", body.Related)
	}

	getJSON(t, srv, "/api/related/"+b.Path, http.StatusOK, &body)
	if len(body.Related) != 1 || body.Related[0].Relation != "is_supported_by" {
		t.Errorf("incoming related = %+v", body.Related)
	}

	getJSON(t, srv, "/api/related/t/b/ghost.md", http.StatusNotFound, nil)
}
