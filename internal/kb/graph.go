package kb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/grovekb/grove/internal/apperr"
	"github.com/grovekb/grove/internal/models"
)

// RelatedEntry is one edge from Related: incoming edges carry an inverted
// label so `a supports b` reads as `b is_supported_by a` from b's side.
type RelatedEntry struct {
	Path     string      `json:"path"`
	Relation string      `json:"relation"`
	Incoming bool        `json:"incoming"`
	Tier     models.Tier `json:"tier"`
	Excerpt  string      `json:"excerpt"`
}

// Link inserts a directed edge between two existing leaves. The graph is a
// general multigraph: no symmetry or cycle constraints.
func (k *KnowledgeBase) Link(_ context.Context, from, to, relation string) error {
	if err := models.ValidateRelation(relation); err != nil {
		return err
	}
	for _, p := range []string{from, to} {
		if !k.store.Exists(p) {
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, p)
		}
	}
	return k.db.AddLink(from, to, relation, time.Now().UTC())
}

// Unlink removes an edge; removing a missing edge is not an error.
func (k *KnowledgeBase) Unlink(_ context.Context, from, to, relation string) error {
	if err := models.ValidateRelation(relation); err != nil {
		return err
	}
	return k.db.RemoveLink(from, to, relation)
}

// Related returns the leaf's outgoing and incoming edges, ordered by
// relation label then target path for determinism.
func (k *KnowledgeBase) Related(_ context.Context, leafPath string) ([]RelatedEntry, error) {
	if !k.store.Exists(leafPath) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, leafPath)
	}

	outgoing, err := k.db.LinksFrom(leafPath)
	if err != nil {
		return nil, err
	}
	incoming, err := k.db.LinksTo(leafPath)
	if err != nil {
		return nil, err
	}

	entries := make([]RelatedEntry, 0, len(outgoing)+len(incoming))
	for _, l := range outgoing {
		entries = append(entries, k.relatedEntry(l.To, l.Relation, false))
	}
	for _, l := range incoming {
		entries = append(entries, k.relatedEntry(l.From, inverseLabel(l.Relation), true))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Relation != entries[j].Relation {
			return entries[i].Relation < entries[j].Relation
		}
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func (k *KnowledgeBase) relatedEntry(target, relation string, incoming bool) RelatedEntry {
	e := RelatedEntry{Path: target, Relation: relation, Incoming: incoming}
	if row, err := k.db.GetLeaf(target); err == nil {
		e.Tier = row.Tier
	}
	if data, err := k.store.Read(target); err == nil {
		if leaf, err := leafFromFile(target, data); err == nil {
			e.Excerpt = makeExcerpt(leaf.Content)
		}
	}
	return e
}

// inverseLabel renders a relation as seen from the target side.
func inverseLabel(relation string) string {
	switch relation {
	case models.RelationSupports:
		return "is_supported_by"
	case models.RelationContradicts:
		return "is_contradicted_by"
	case models.RelationRefines:
		return "is_refined_by"
	case models.RelationRelatedTo:
		return models.RelationRelatedTo
	default:
		return "is_" + relation + "_by"
	}
}
