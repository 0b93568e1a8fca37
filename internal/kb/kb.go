// Package kb implements the knowledge base service: canonical markdown
// leaves under <root>/<tree>/<branch>/, mirrored into a SQLite index with
// embeddings for semantic recall.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grovekb/grove/internal/apperr"
	"github.com/grovekb/grove/internal/checksum"
	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/embedserver"
	"github.com/grovekb/grove/internal/index"
	"github.com/grovekb/grove/internal/models"
	"github.com/grovekb/grove/internal/parser"
	"github.com/grovekb/grove/internal/storage"
)

const metaFile = "_meta.yaml"

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// KnowledgeBase coordinates the canonical file store, the index mirror, and
// the embedding provider. A single process writes at a time; readers are
// safe concurrently.
type KnowledgeBase struct {
	root     string
	cfg      StoreConfig
	store    *storage.FS
	db       *index.DB
	embedder embedding.Embedder
	logger   *slog.Logger
}

// Init creates a new store at root: the directory, the default _config.yaml,
// and an empty index. Idempotent for an existing store.
func Init(root string, logger *slog.Logger) (*KnowledgeBase, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(root, ConfigFile)); errors.Is(err, os.ErrNotExist) {
		if err := SaveStoreConfig(root, NewDefaultStoreConfig()); err != nil {
			return nil, err
		}
	}
	return Open(root, logger)
}

// Open opens an existing store. The embedding provider is built from the
// store config; in server mode it degrades to the lite hasher per call when
// the daemon is unreachable.
func Open(root string, logger *slog.Logger) (*KnowledgeBase, error) {
	return open(root, logger, true)
}

// OpenForReindex opens a store whose index metadata no longer matches the
// configured provider, skipping the check Open enforces. The only safe
// operation on the result is Reindex, which rebuilds the index under the
// active provider and restores consistency.
func OpenForReindex(root string, logger *slog.Logger) (*KnowledgeBase, error) {
	return open(root, logger, false)
}

func open(root string, logger *slog.Logger, enforceMeta bool) (*KnowledgeBase, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadStoreConfig(root)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFS(root)
	if err != nil {
		return nil, err
	}
	db, err := index.Open(filepath.Join(root, IndexFile))
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if enforceMeta {
		if err := db.EnsureDimensions(cfg.Provider, embedder.Model(), embedder.Dimensions()); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &KnowledgeBase{
		root:     root,
		cfg:      cfg,
		store:    store,
		db:       db,
		embedder: embedder,
		logger:   logger,
	}, nil
}

func buildEmbedder(cfg StoreConfig, logger *slog.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case embedding.ProviderServer:
		alias := cfg.Model
		if alias == "" {
			alias = embedserver.DefaultModel
		}
		model, err := embedserver.ResolveModel(alias)
		if err != nil {
			return nil, err
		}
		return embedding.NewFallback(embedserver.NewClient(model), logger), nil
	default:
		return embedding.NewLite(cfg.Dimensions), nil
	}
}

// Close releases the index handle.
func (k *KnowledgeBase) Close() error { return k.db.Close() }

// Root returns the store root directory.
func (k *KnowledgeBase) Root() string { return k.root }

// Config returns the store configuration the base was opened with.
func (k *KnowledgeBase) Config() StoreConfig { return k.cfg }

// Index exposes the index handle for read-side collaborators.
func (k *KnowledgeBase) Index() *index.DB { return k.db }

// Store exposes the canonical file store.
func (k *KnowledgeBase) Store() *storage.FS { return k.store }

// Embedder returns the active embedding provider.
func (k *KnowledgeBase) Embedder() embedding.Embedder { return k.embedder }

// Sync runs the lazy checksum-diff repair pass over the whole store.
func (k *KnowledgeBase) Sync(ctx context.Context) error {
	return index.Sync(ctx, k.db, k.store, k.embedder, k.logger)
}

// Watch keeps the index in step with external file edits until ctx is done.
func (k *KnowledgeBase) Watch(ctx context.Context, cb index.EventCallback) error {
	return index.Watch(ctx, k.db, k.store, k.store.Root(), k.embedder, k.logger, cb)
}

// Reindex rebuilds the index from the canonical files and swaps it in
// atomically. Returns the number of leaves indexed. The old index stays
// live until the rebuild fully succeeds.
func (k *KnowledgeBase) Reindex(ctx context.Context) (int, error) {
	db, n, err := index.Rebuild(ctx, k.db, k.store, k.embedder, k.cfg.Provider, k.logger)
	if err != nil {
		return 0, err
	}
	k.db = db
	return n, nil
}

// CreateTree creates a new tree directory with its _meta.yaml descriptor.
func (k *KnowledgeBase) CreateTree(name, description string) (*TreeSummary, error) {
	if err := validateName("tree", name); err != nil {
		return nil, err
	}
	metaPath := path.Join(name, metaFile)
	if k.store.Exists(metaPath) {
		return nil, fmt.Errorf("%w: tree %s", apperr.ErrAlreadyExists, name)
	}
	now := time.Now().UTC()
	if err := k.writeMeta(metaPath, name, description, now); err != nil {
		return nil, err
	}
	if err := k.db.UpsertTree(name, now); err != nil {
		return nil, err
	}
	return &TreeSummary{Name: name, Description: description, CreatedAt: now}, nil
}

// CreateBranch creates a branch directory under an existing tree.
func (k *KnowledgeBase) CreateBranch(tree, name, description string) (*BranchSummary, error) {
	if err := validateName("branch", name); err != nil {
		return nil, err
	}
	if !k.store.Exists(path.Join(tree, metaFile)) {
		trees, err := k.store.Dirs("")
		if err != nil {
			return nil, err
		}
		if !contains(trees, tree) {
			return nil, fmt.Errorf("%w: tree %s", apperr.ErrNotFound, tree)
		}
	}
	metaPath := path.Join(tree, name, metaFile)
	if k.store.Exists(metaPath) {
		return nil, fmt.Errorf("%w: branch %s/%s", apperr.ErrAlreadyExists, tree, name)
	}
	now := time.Now().UTC()
	if err := k.writeMeta(metaPath, name, description, now); err != nil {
		return nil, err
	}
	if err := k.db.UpsertBranch(tree, name, now); err != nil {
		return nil, err
	}
	return &BranchSummary{Tree: tree, Name: name, Description: description, CreatedAt: now}, nil
}

// TreeSummary describes a tree with its leaf count.
type TreeSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	Branches    int       `json:"branches"`
	Leaves      int       `json:"leaves"`
}

// BranchSummary describes a branch with its leaf count.
type BranchSummary struct {
	Tree        string    `json:"tree"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	Leaves      int       `json:"leaves"`
}

// ListTrees returns every tree with branch and leaf counts, sorted by name.
func (k *KnowledgeBase) ListTrees() ([]TreeSummary, error) {
	names, err := k.store.Dirs("")
	if err != nil {
		return nil, err
	}
	out := make([]TreeSummary, 0, len(names))
	for _, name := range names {
		s := TreeSummary{Name: name}
		if meta, err := k.readMeta(path.Join(name, metaFile)); err == nil {
			s.Description = meta.Description
			s.CreatedAt = meta.CreatedAt
		}
		branches, err := k.store.Dirs(name)
		if err != nil {
			return nil, err
		}
		s.Branches = len(branches)
		leaves, err := k.db.ListLeaves(index.Filter{Tree: name})
		if err != nil {
			return nil, err
		}
		s.Leaves = len(leaves)
		out = append(out, s)
	}
	return out, nil
}

// ListBranches returns the branches of a tree with leaf counts.
func (k *KnowledgeBase) ListBranches(tree string) ([]BranchSummary, error) {
	trees, err := k.store.Dirs("")
	if err != nil {
		return nil, err
	}
	if !contains(trees, tree) {
		return nil, fmt.Errorf("%w: tree %s", apperr.ErrNotFound, tree)
	}
	names, err := k.store.Dirs(tree)
	if err != nil {
		return nil, err
	}
	out := make([]BranchSummary, 0, len(names))
	for _, name := range names {
		s := BranchSummary{Tree: tree, Name: name}
		if meta, err := k.readMeta(path.Join(tree, name, metaFile)); err == nil {
			s.Description = meta.Description
			s.CreatedAt = meta.CreatedAt
		}
		leaves, err := k.db.ListLeaves(index.Filter{Tree: tree, Branch: name})
		if err != nil {
			return nil, err
		}
		s.Leaves = len(leaves)
		out = append(out, s)
	}
	return out, nil
}

// AddLeafParams are the inputs to AddLeaf. Tree may be empty when Branch is
// unambiguous across trees. Name is optional; a slug is derived from content
// when absent.
type AddLeafParams struct {
	Tree       string
	Branch     string
	Name       string
	Content    string
	Tier       models.Tier
	Confidence float64
	Tags       []string
}

// AddLeaf writes a new canonical leaf file and its index row. Tree and
// branch are created implicitly when the reference is unambiguous. An
// embedding failure leaves the row pending, never fails the add.
func (k *KnowledgeBase) AddLeaf(ctx context.Context, p AddLeafParams) (*models.Leaf, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, errors.New("kb: empty content")
	}
	tier := p.Tier
	if tier == "" {
		tier = models.TierLeaves
	}
	if _, err := models.ParseTier(string(tier)); err != nil {
		return nil, err
	}
	if err := models.ValidateConfidence(p.Confidence); err != nil {
		return nil, err
	}

	tree, branch, err := k.resolveBranch(p.Tree, p.Branch)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := k.ensureStructure(tree, branch, now); err != nil {
		return nil, err
	}

	name := p.Name
	if name == "" {
		name = slugify(p.Content)
	} else {
		name = slugify(name)
	}
	if name == "" {
		name = "leaf"
	}
	leafPath := k.dedupePath(tree, branch, name)

	leaf := &models.Leaf{
		Tree:       tree,
		Branch:     branch,
		Name:       strings.TrimSuffix(path.Base(leafPath), ".md"),
		Path:       leafPath,
		Content:    p.Content,
		Tier:       tier,
		Confidence: p.Confidence,
		Tags:       normalizeTags(p.Tags),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	data, err := parser.Compose(leaf)
	if err != nil {
		return nil, err
	}
	if err := k.store.Write(leafPath, data); err != nil {
		return nil, err
	}
	if err := index.IndexFile(ctx, k.db, k.embedder, leafPath, data); err != nil {
		return nil, err
	}
	return leaf, nil
}

// GetLeaf reads a leaf by exact path. A checksum drift against the index
// row triggers lazy repair of that row.
func (k *KnowledgeBase) GetLeaf(ctx context.Context, leafPath string) (*models.Leaf, error) {
	data, err := k.store.Read(leafPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, leafPath)
		}
		return nil, err
	}

	if cs, err := k.db.GetChecksum(leafPath); err == nil && cs != checksum.Sum(data) {
		if err := index.IndexFile(ctx, k.db, k.embedder, leafPath, data); err != nil {
			k.logger.Warn("kb: lazy repair failed", slog.String("path", leafPath), slog.String("error", err.Error()))
		}
	}

	return leafFromFile(leafPath, data)
}

// UpdateLeafParams are the optional fields of UpdateLeaf; nil means keep.
type UpdateLeafParams struct {
	Tier       *string
	Confidence *float64
	Tags       []string
	Content    *string
}

// UpdateLeaf applies a partial update, rewrites the canonical file, and
// reindexes the row. Validation failures leave the leaf untouched.
func (k *KnowledgeBase) UpdateLeaf(ctx context.Context, leafPath string, p UpdateLeafParams) (*models.Leaf, error) {
	leaf, err := k.GetLeaf(ctx, leafPath)
	if err != nil {
		return nil, err
	}

	if p.Tier != nil {
		tier, err := models.ParseTier(*p.Tier)
		if err != nil {
			return nil, err
		}
		leaf.Tier = tier
	}
	if p.Confidence != nil {
		if err := models.ValidateConfidence(*p.Confidence); err != nil {
			return nil, err
		}
		leaf.Confidence = *p.Confidence
	}
	if p.Tags != nil {
		leaf.Tags = normalizeTags(p.Tags)
	}
	if p.Content != nil {
		if strings.TrimSpace(*p.Content) == "" {
			return nil, errors.New("kb: empty content")
		}
		leaf.Content = *p.Content
	}
	leaf.UpdatedAt = time.Now().UTC()

	data, err := parser.Compose(leaf)
	if err != nil {
		return nil, err
	}
	if err := k.store.Write(leafPath, data); err != nil {
		return nil, err
	}
	if err := index.IndexFile(ctx, k.db, k.embedder, leafPath, data); err != nil {
		return nil, err
	}
	return leaf, nil
}

// DeleteLeaf removes the canonical file, the index row, and any links
// touching the leaf.
func (k *KnowledgeBase) DeleteLeaf(_ context.Context, leafPath string) error {
	if err := k.store.Delete(leafPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, leafPath)
		}
		return err
	}
	return k.db.DeleteLeaf(leafPath)
}

// ListLeaves lists index rows matching the filter, most recently updated
// first.
func (k *KnowledgeBase) ListLeaves(f index.Filter) ([]index.LeafRow, error) {
	return k.db.ListLeaves(f)
}

// resolveBranch resolves a possibly tree-less branch reference. A bare
// branch name matching more than one tree fails with ErrAmbiguousBranch; a
// bare name matching none cannot be created implicitly.
func (k *KnowledgeBase) resolveBranch(tree, branch string) (string, string, error) {
	if branch == "" {
		return "", "", errors.New("kb: branch required")
	}
	if err := validateName("branch", branch); err != nil {
		return "", "", err
	}
	if tree != "" {
		if err := validateName("tree", tree); err != nil {
			return "", "", err
		}
		return tree, branch, nil
	}

	trees, err := k.store.Dirs("")
	if err != nil {
		return "", "", err
	}
	var matches []string
	for _, t := range trees {
		branches, err := k.store.Dirs(t)
		if err != nil {
			return "", "", err
		}
		if contains(branches, branch) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], branch, nil
	case 0:
		return "", "", fmt.Errorf("%w: branch %s (qualify with a tree to create it)", apperr.ErrNotFound, branch)
	default:
		return "", "", fmt.Errorf("%w: branch %s exists in trees %s", apperr.ErrAmbiguousBranch, branch, strings.Join(matches, ", "))
	}
}

// ensureStructure creates tree and branch directories (with descriptors and
// index rows) when absent.
func (k *KnowledgeBase) ensureStructure(tree, branch string, now time.Time) error {
	treeMeta := path.Join(tree, metaFile)
	if !k.store.Exists(treeMeta) {
		if err := k.writeMeta(treeMeta, tree, "", now); err != nil {
			return err
		}
	}
	if err := k.db.UpsertTree(tree, now); err != nil {
		return err
	}
	branchMeta := path.Join(tree, branch, metaFile)
	if !k.store.Exists(branchMeta) {
		if err := k.writeMeta(branchMeta, branch, "", now); err != nil {
			return err
		}
	}
	return k.db.UpsertBranch(tree, branch, now)
}

// dedupePath appends -2, -3, ... until the slug is free.
func (k *KnowledgeBase) dedupePath(tree, branch, name string) string {
	p := path.Join(tree, branch, name+".md")
	for i := 2; k.store.Exists(p); i++ {
		p = path.Join(tree, branch, fmt.Sprintf("%s-%d.md", name, i))
	}
	return p
}

type dirMeta struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
}

func (k *KnowledgeBase) writeMeta(metaPath, name, description string, now time.Time) error {
	data, err := yaml.Marshal(dirMeta{Name: name, Description: description, CreatedAt: now})
	if err != nil {
		return err
	}
	return k.store.Write(metaPath, data)
}

func (k *KnowledgeBase) readMeta(metaPath string) (*dirMeta, error) {
	data, err := k.store.Read(metaPath)
	if err != nil {
		return nil, err
	}
	var m dirMeta
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func leafFromFile(leafPath string, data []byte) (*models.Leaf, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(leafPath, "/", 3)
	leaf := &models.Leaf{
		Path:       leafPath,
		Content:    res.Body,
		Tier:       res.Tier,
		Confidence: res.Confidence,
		Tags:       res.Tags,
		CreatedAt:  res.CreatedAt,
		UpdatedAt:  res.UpdatedAt,
	}
	if len(parts) == 3 {
		leaf.Tree = parts[0]
		leaf.Branch = parts[1]
		leaf.Name = strings.TrimSuffix(parts[2], ".md")
	}
	if leaf.UpdatedAt.IsZero() {
		leaf.UpdatedAt = leaf.CreatedAt
	}
	return leaf, nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a file-name slug from free text: lowercase, non-alphanumeric
// runs collapsed to single dashes, capped at 40 characters on a word boundary.
func slugify(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = s[:40]
		if i := strings.LastIndex(s, "-"); i > 0 {
			s = s[:i]
		}
	}
	return strings.Trim(s, "-")
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func validateName(kind, name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("kb: invalid %s name %q (want lowercase letters, digits, - or _)", kind, name)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
