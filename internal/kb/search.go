package kb

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/index"
	"github.com/grovekb/grove/internal/models"
	"github.com/grovekb/grove/internal/parser"
)

// DefaultSearchLimit bounds result sets when the caller gives no limit.
const DefaultSearchLimit = 5

const excerptLen = 200

// RankPolicy weighs cosine similarity against tier and confidence for the
// prime/context paths. Plain search uses similarity alone. The blend is a
// tunable policy, not a fixed law; the weights only need to keep the score
// monotonic in similarity and in tier.
type RankPolicy struct {
	SimWeight  float64
	TierWeight float64
	ConfWeight float64
}

// DefaultRankPolicy favors similarity, nudged by tier and confidence.
var DefaultRankPolicy = RankPolicy{SimWeight: 0.8, TierWeight: 0.15, ConfWeight: 0.05}

// Score blends a similarity in [0,1] with the leaf's tier rank and
// confidence.
func (p RankPolicy) Score(sim float64, tier models.Tier, confidence float64) float64 {
	return p.SimWeight*sim + p.TierWeight*float64(tier.Rank())/3 + p.ConfWeight*confidence
}

// Search embeds the query, applies the structural filter in SQL, scores the
// remaining candidates by cosine similarity, and returns the top hits sorted
// by score descending with most-recent-update tie-break. Rows with a pending
// embedding never enter the semantic path. An empty result is not an error.
func (k *KnowledgeBase) Search(ctx context.Context, query string, f index.Filter, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if err := k.Sync(ctx); err != nil {
		return nil, err
	}

	qvec, err := k.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := k.db.ListLeaves(f)
	if err != nil {
		return nil, err
	}
	return k.rank(rows, qvec, limit, nil), nil
}

// SearchByTags returns leaves carrying the tag, most recently updated first,
// without touching the semantic path. This is how pending leaves stay
// reachable.
func (k *KnowledgeBase) SearchByTags(ctx context.Context, tag string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if err := k.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := k.db.ListLeaves(index.Filter{Tag: tag})
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]models.SearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, k.result(r, 0))
	}
	return out, nil
}

// ContextMode selects how `context` matches leaves against a prompt.
type ContextMode string

// Context matching modes.
const (
	ContextTags     ContextMode = "tags"     // prompt words against tags only
	ContextLite     ContextMode = "lite"     // hashing embedder regardless of config
	ContextSemantic ContextMode = "semantic" // active provider
)

// ContextOptions tune the Context call.
type ContextOptions struct {
	Mode ContextMode
	// Threshold is the minimum blended score (after the Policy weighs
	// similarity, tier, and confidence); 0 means no floor.
	Threshold float64
	Limit     int
	Policy    RankPolicy
}

// Context ranks leaves relevant to a free-form prompt, biased toward
// validated knowledge: the rank blends similarity with tier and confidence.
func (k *KnowledgeBase) Context(ctx context.Context, prompt string, opts ContextOptions) ([]models.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.Policy == (RankPolicy{}) {
		opts.Policy = DefaultRankPolicy
	}
	if err := k.Sync(ctx); err != nil {
		return nil, err
	}

	if opts.Mode == ContextTags {
		return k.contextByTags(prompt, opts)
	}

	embedder := k.embedder
	if opts.Mode == ContextLite {
		embedder = embedding.NewLite(k.cfg.Dimensions)
	}
	qvec, err := embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, err
	}
	rows, err := k.db.ListLeaves(index.Filter{})
	if err != nil {
		return nil, err
	}

	results := k.rank(rows, qvec, opts.Limit, &opts.Policy)
	if opts.Threshold > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= opts.Threshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	return results, nil
}

func (k *KnowledgeBase) contextByTags(prompt string, opts ContextOptions) ([]models.SearchResult, error) {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}

	rows, err := k.db.ListLeaves(index.Filter{})
	if err != nil {
		return nil, err
	}
	var out []models.SearchResult
	for _, r := range rows {
		hits := 0
		for _, tag := range r.Tags {
			if words[tag] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		overlap := float64(hits) / float64(len(r.Tags))
		out = append(out, k.result(r, opts.Policy.Score(overlap, r.Tier, r.Confidence)))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// rank scores rows against qvec. A nil policy means similarity-only search
// order; otherwise the blended prime/context order.
func (k *KnowledgeBase) rank(rows []index.LeafRow, qvec []float32, limit int, policy *RankPolicy) []models.SearchResult {
	type scored struct {
		row   index.LeafRow
		score float64
	}
	candidates := make([]scored, 0, len(rows))
	for _, r := range rows {
		if r.Embedding == nil {
			continue
		}
		sim := embedding.Cosine(qvec, r.Embedding)
		score := sim
		if policy != nil {
			score = policy.Score(sim, r.Tier, r.Confidence)
		}
		candidates = append(candidates, scored{row: r, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].row.UpdatedAt.After(candidates[j].row.UpdatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]models.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, k.result(c.row, c.score))
	}
	return out
}

// result builds a SearchResult, reading the canonical file for the excerpt.
func (k *KnowledgeBase) result(row index.LeafRow, score float64) models.SearchResult {
	excerpt := ""
	if data, err := k.store.Read(row.Path); err == nil {
		if res, err := parser.Parse(data); err == nil {
			excerpt = makeExcerpt(res.Body)
		}
	}
	return models.SearchResult{
		Path:       row.Path,
		Excerpt:    excerpt,
		Tier:       row.Tier,
		Confidence: row.Confidence,
		Tags:       row.Tags,
		Score:      score,
	}
}

func makeExcerpt(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) <= excerptLen {
		return s
	}
	cut := s[:excerptLen]
	for len(cut) > 0 && !utf8.RuneStart(s[len(cut)]) {
		cut = cut[:len(cut)-1]
	}
	if i := strings.LastIndex(cut, " "); i > excerptLen/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
