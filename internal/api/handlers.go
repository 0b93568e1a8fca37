// Package api implements the read-only HTTP surface behind `grove serve`.
package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/grovekb/grove/internal/index"
	"github.com/grovekb/grove/internal/kb"
	"github.com/grovekb/grove/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	kb *kb.KnowledgeBase
}

// NewHandler creates a new Handler.
func NewHandler(k *kb.KnowledgeBase) *Handler {
	return &Handler{kb: k}
}

// leafPath extracts the leaf path from the wildcard URL segment. Encoded
// slashes are supported (e.g. trading%2Fpatterns%2Fa.md).
func leafPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListLeaves handles GET /api/leaves with tier, tag, tree, and branch
// filters.
func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := index.Filter{
		Tree:   q.Get("tree"),
		Branch: q.Get("branch"),
		Tag:    q.Get("tag"),
	}
	if t := q.Get("tier"); t != "" {
		tier, err := models.ParseTier(t)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Tier = tier
	}
	rows, err := h.kb.ListLeaves(f)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, map[string]any{
			"path":       row.Path,
			"tier":       row.Tier,
			"confidence": row.Confidence,
			"tags":       row.Tags,
			"pending":    row.Embedding == nil,
			"updated_at": row.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leaves": items,
		"total":  len(items),
	})
}

// GetLeaf handles GET /api/leaves/*.
func (h *Handler) GetLeaf(w http.ResponseWriter, r *http.Request) {
	leaf, err := h.kb.GetLeaf(r.Context(), leafPath(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaf)
}

// Search handles GET /api/search?q=&limit=&tier=&tag=&tree=&branch=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing query parameter q"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	f := index.Filter{
		Tree:   q.Get("tree"),
		Branch: q.Get("branch"),
		Tag:    q.Get("tag"),
	}
	if t := q.Get("tier"); t != "" {
		tier, err := models.ParseTier(t)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Tier = tier
	}
	results, err := h.kb.Search(r.Context(), query, f, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.kb.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Related handles GET /api/related/*.
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	entries, err := h.kb.Related(r.Context(), leafPath(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []kb.RelatedEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"related": entries})
}
