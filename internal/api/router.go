package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/grovekb/grove/internal/kb"
)

// NewRouter creates a chi router with the read-only API routes mounted.
func NewRouter(k *kb.KnowledgeBase) chi.Router {
	h := NewHandler(k)

	r := chi.NewRouter()

	r.Get("/leaves", h.ListLeaves)
	r.Get("/leaves/*", h.GetLeaf)
	r.Get("/search", h.Search)
	r.Get("/stats", h.Stats)
	r.Get("/related/*", h.Related)

	return r
}
