package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/index"
)

// PruneOptions tune the advisory analysis.
type PruneOptions struct {
	StaleDays     int     // leaves not updated for this many days; 0 disables
	MinConfidence float64 // leaves below this confidence; 0 disables
	SimilarAbove  float64 // cross-branch near-duplicate threshold; 0 disables
}

// DefaultPruneOptions flag leaves untouched for 90 days, below 0.3
// confidence, or near-duplicated (cosine >= 0.95) across branches.
var DefaultPruneOptions = PruneOptions{StaleDays: 90, MinConfidence: 0.3, SimilarAbove: 0.95}

// PruneCandidate is one advisory finding. Counterpart is set for pairwise
// findings (contradictions, near-duplicates).
type PruneCandidate struct {
	Path        string `json:"path"`
	Reason      string `json:"reason"`
	Counterpart string `json:"counterpart,omitempty"`
}

// Prune surfaces stale, low-confidence, contradicted, and near-duplicate
// leaves. Analysis only: nothing is deleted.
func (k *KnowledgeBase) Prune(ctx context.Context, opts PruneOptions) ([]PruneCandidate, error) {
	if err := k.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := k.db.ListLeaves(index.Filter{})
	if err != nil {
		return nil, err
	}

	var out []PruneCandidate

	if opts.StaleDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -opts.StaleDays)
		for _, r := range rows {
			if r.UpdatedAt.Before(cutoff) {
				out = append(out, PruneCandidate{
					Path:   r.Path,
					Reason: fmt.Sprintf("stale: not updated since %s", r.UpdatedAt.Format("2006-01-02")),
				})
			}
		}
	}

	if opts.MinConfidence > 0 {
		for _, r := range rows {
			if r.Confidence < opts.MinConfidence {
				out = append(out, PruneCandidate{
					Path:   r.Path,
					Reason: fmt.Sprintf("low confidence: %.2f", r.Confidence),
				})
			}
		}
	}

	links, err := k.db.AllLinks()
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.Relation == "contradicts" {
			out = append(out, PruneCandidate{
				Path:        l.From,
				Reason:      "contradicts a linked leaf",
				Counterpart: l.To,
			})
		}
	}

	if opts.SimilarAbove > 0 {
		out = append(out, nearDuplicates(rows, opts.SimilarAbove)...)
	}
	return out, nil
}

// nearDuplicates flags cross-branch pairs whose vectors are almost
// identical; same-branch similarity is expected and skipped.
func nearDuplicates(rows []index.LeafRow, threshold float64) []PruneCandidate {
	var out []PruneCandidate
	for i := 0; i < len(rows); i++ {
		if rows[i].Embedding == nil {
			continue
		}
		for j := i + 1; j < len(rows); j++ {
			if rows[j].Embedding == nil {
				continue
			}
			if rows[i].Tree == rows[j].Tree && rows[i].Branch == rows[j].Branch {
				continue
			}
			sim := embedding.Cosine(rows[i].Embedding, rows[j].Embedding)
			if sim >= threshold {
				out = append(out, PruneCandidate{
					Path:        rows[i].Path,
					Reason:      fmt.Sprintf("near-duplicate (cosine %.2f)", sim),
					Counterpart: rows[j].Path,
				})
			}
		}
	}
	return out
}
