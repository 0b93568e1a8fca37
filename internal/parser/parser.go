// Package parser converts between canonical leaf files (YAML frontmatter +
// markdown body) and structured metadata.
package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grovekb/grove/internal/models"
)

// frontmatter is the on-disk metadata header of a leaf file.
type frontmatter struct {
	Tier string `yaml:"tier"`
	// Pointer so an explicit 0.0 is distinguishable from an absent key.
	Confidence *float64 `yaml:"confidence"`
	Tags       []string `yaml:"tags"`
	CreatedAt  string   `yaml:"created_at"`
	UpdatedAt  string   `yaml:"updated_at,omitempty"`
}

// Result holds the parsed content and metadata of a leaf file.
type Result struct {
	Body       string
	Tier       models.Tier
	Confidence float64
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Parse extracts frontmatter and body from raw leaf bytes. A file without a
// valid frontmatter block is treated as all-body with default metadata
// (tier leaves, confidence 0.5), matching what reindex expects from
// hand-edited files.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)

	res := &Result{
		Body:       body,
		Tier:       models.TierLeaves,
		Confidence: 0.5,
		Tags:       []string{},
	}
	if fm == nil {
		return res, nil
	}

	if fm.Tier != "" {
		tier, err := models.ParseTier(fm.Tier)
		if err == nil {
			res.Tier = tier
		}
	}
	if fm.Confidence != nil && *fm.Confidence >= 0 && *fm.Confidence <= 1 {
		res.Confidence = *fm.Confidence
	}
	if fm.Tags != nil {
		res.Tags = fm.Tags
	}
	if t, err := time.Parse(time.RFC3339, fm.CreatedAt); err == nil {
		res.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, fm.UpdatedAt); err == nil {
		res.UpdatedAt = t
	}
	return res, nil
}

// Compose renders a leaf file: frontmatter block followed by the body.
// Parse(Compose(leaf)) round-trips tier, confidence, tags, and timestamps
// at second precision.
func Compose(leaf *models.Leaf) ([]byte, error) {
	confidence := leaf.Confidence
	fm := frontmatter{
		Tier:       string(leaf.Tier),
		Confidence: &confidence,
		Tags:       leaf.Tags,
		CreatedAt:  leaf.CreatedAt.UTC().Format(time.RFC3339),
	}
	if fm.Tags == nil {
		fm.Tags = []string{}
	}
	if !leaf.UpdatedAt.IsZero() {
		fm.UpdatedAt = leaf.UpdatedAt.UTC().Format(time.RFC3339)
	}

	block, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("parser: marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(block)
	buf.WriteString("---\n\n")
	buf.WriteString(leaf.Content)
	if !strings.HasSuffix(leaf.Content, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// splitFrontmatter separates the YAML block between leading --- delimiters
// from the body. Invalid YAML is tolerated: the whole file becomes body.
func splitFrontmatter(data []byte) (*frontmatter, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimSpace(string(afterDelim))

	var fm frontmatter
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return &fm, body
}
