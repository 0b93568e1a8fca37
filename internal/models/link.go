package models

import (
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/grovekb/grove/internal/apperr"
)

// Well-known relation labels. The set is open: any label passing
// ValidateRelation is accepted at write time.
const (
	RelationSupports    = "supports"
	RelationContradicts = "contradicts"
	RelationRefines     = "refines"
	RelationRelatedTo   = "related_to"
)

// Link is a directed, labeled edge between two leaves. Multiple relations
// between the same pair are allowed; the (from, to, relation) triple is
// unique.
type Link struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Relation  string    `json:"relation"`
	CreatedAt time.Time `json:"created_at"`
}

var relationRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateRelation checks length and charset only, not membership in the
// well-known set.
func ValidateRelation(relation string) error {
	err := validation.Validate(relation,
		validation.Required,
		validation.Length(1, 64),
		validation.Match(relationRe),
	)
	if err != nil {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidRelation, relation)
	}
	return nil
}
