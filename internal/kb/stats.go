package kb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grovekb/grove/internal/index"
	"github.com/grovekb/grove/internal/models"
)

// Stats is the store health snapshot.
type Stats struct {
	Root       string         `json:"root"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	Dimensions int            `json:"dimensions"`
	Trees      int            `json:"trees"`
	Branches   int            `json:"branches"`
	Leaves     int            `json:"leaves"`
	Links      int            `json:"links"`
	Pending    int            `json:"pending_embeddings"`
	Tiers      map[string]int `json:"tiers"`
	Tags       map[string]int `json:"tags"`
}

// Stats gathers counts across the store. Pending counts leaves awaiting an
// embedding (written while the provider was failing).
func (k *KnowledgeBase) Stats(ctx context.Context) (*Stats, error) {
	if err := k.Sync(ctx); err != nil {
		return nil, err
	}

	rows, err := k.db.ListLeaves(index.Filter{})
	if err != nil {
		return nil, err
	}
	links, err := k.db.AllLinks()
	if err != nil {
		return nil, err
	}
	pending, err := k.db.PendingCount()
	if err != nil {
		return nil, err
	}
	trees, err := k.db.ListTrees()
	if err != nil {
		return nil, err
	}

	branches := 0
	for _, t := range trees {
		b, err := k.db.ListBranches(t)
		if err != nil {
			return nil, err
		}
		branches += len(b)
	}

	s := &Stats{
		Root:       k.root,
		Provider:   k.cfg.Provider,
		Model:      k.embedder.Model(),
		Dimensions: k.embedder.Dimensions(),
		Trees:      len(trees),
		Branches:   branches,
		Leaves:     len(rows),
		Links:      len(links),
		Pending:    pending,
		Tiers:      make(map[string]int, len(models.Tiers)),
		Tags:       make(map[string]int),
	}
	for _, t := range models.Tiers {
		s.Tiers[string(t)] = 0
	}
	for _, r := range rows {
		s.Tiers[string(r.Tier)]++
		for _, tag := range r.Tags {
			s.Tags[tag]++
		}
	}
	return s, nil
}

// TagCount pairs a tag with how many leaves carry it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Tags lists every tag with its leaf count, most used first, ties by name.
func (k *KnowledgeBase) Tags(ctx context.Context) ([]TagCount, error) {
	s, err := k.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TagCount, 0, len(s.Tags))
	for tag, n := range s.Tags {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

// PrimeReport is the session-priming summary: what the store holds and the
// knowledge most worth loading first.
type PrimeReport struct {
	Stats   *Stats                `json:"stats"`
	TopTags []TagCount            `json:"top_tags"`
	Roots   []models.SearchResult `json:"roots"`
	Recent  []models.SearchResult `json:"recent"`
}

// Prime summarizes the store for a fresh agent session: tier counts, the
// most used tags, every roots-tier leaf, and the five most recently updated
// leaves.
func (k *KnowledgeBase) Prime(ctx context.Context) (*PrimeReport, error) {
	s, err := k.Stats(ctx)
	if err != nil {
		return nil, err
	}

	tags, err := k.Tags(ctx)
	if err != nil {
		return nil, err
	}
	if len(tags) > 10 {
		tags = tags[:10]
	}

	rootRows, err := k.db.ListLeaves(index.Filter{Tier: models.TierRoots})
	if err != nil {
		return nil, err
	}
	roots := make([]models.SearchResult, 0, len(rootRows))
	for _, r := range rootRows {
		roots = append(roots, k.result(r, DefaultRankPolicy.Score(0, r.Tier, r.Confidence)))
	}

	allRows, err := k.db.ListLeaves(index.Filter{})
	if err != nil {
		return nil, err
	}
	if len(allRows) > DefaultSearchLimit {
		allRows = allRows[:DefaultSearchLimit]
	}
	recent := make([]models.SearchResult, 0, len(allRows))
	for _, r := range allRows {
		recent = append(recent, k.result(r, 0))
	}

	return &PrimeReport{Stats: s, TopTags: tags, Roots: roots, Recent: recent}, nil
}

// ShowTree renders a tree's branches and leaves as an indented listing with
// tier markers.
func (k *KnowledgeBase) ShowTree(ctx context.Context, tree string) (string, error) {
	if err := k.Sync(ctx); err != nil {
		return "", err
	}
	branches, err := k.ListBranches(tree)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s/\n", tree)
	for _, br := range branches {
		fmt.Fprintf(&b, "  %s/", br.Name)
		if br.Description != "" {
			fmt.Fprintf(&b, "  # %s", br.Description)
		}
		b.WriteString("\n")
		rows, err := k.db.ListLeaves(index.Filter{Tree: tree, Branch: br.Name})
		if err != nil {
			return "", err
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
		for _, r := range rows {
			fmt.Fprintf(&b, "    %s %s.md  (%.2f", r.Tier.Marker(), r.Name, r.Confidence)
			if len(r.Tags) > 0 {
				fmt.Fprintf(&b, ", %s", strings.Join(r.Tags, " "))
			}
			b.WriteString(")\n")
		}
	}
	return b.String(), nil
}
