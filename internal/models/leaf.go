// Package models defines the domain types for grove.
package models

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/grovekb/grove/internal/apperr"
)

// Leaf is the atomic knowledge unit, canonically stored as a markdown file
// at <store>/<tree>/<branch>/<name>.md.
type Leaf struct {
	Tree       string    `json:"tree"`
	Branch     string    `json:"branch"`
	Name       string    `json:"name"`
	Path       string    `json:"path"` // tree/branch/name.md, unique per store
	Content    string    `json:"content"`
	Tier       Tier      `json:"tier"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TreeInfo describes a tree directory's _meta.yaml.
type TreeInfo struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
}

// BranchInfo describes a branch directory's _meta.yaml.
type BranchInfo struct {
	Tree        string    `yaml:"-" json:"tree"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
}

// SearchResult is one ranked hit from semantic search.
type SearchResult struct {
	Path       string   `json:"path"`
	Excerpt    string   `json:"excerpt"`
	Tier       Tier     `json:"tier"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
	Score      float64  `json:"score"`
}

// ValidateConfidence checks the [0.0, 1.0] domain.
func ValidateConfidence(c float64) error {
	if err := validation.Validate(c, validation.Min(0.0), validation.Max(1.0)); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidConfidence, c)
	}
	return nil
}
