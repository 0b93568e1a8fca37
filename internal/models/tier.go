package models

import (
	"fmt"

	"github.com/grovekb/grove/internal/apperr"
)

// Tier is the validation stage of a leaf, ordered ascending:
// leaves < branches < trunk < roots.
type Tier string

const (
	TierLeaves   Tier = "leaves"
	TierBranches Tier = "branches"
	TierTrunk    Tier = "trunk"
	TierRoots    Tier = "roots"
)

// Tiers lists all tiers in ascending order of validation.
var Tiers = []Tier{TierLeaves, TierBranches, TierTrunk, TierRoots}

var tierRank = map[Tier]int{
	TierLeaves:   0,
	TierBranches: 1,
	TierTrunk:    2,
	TierRoots:    3,
}

// ParseTier validates s against the fixed tier set.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierRank[t]; !ok {
		return "", fmt.Errorf("%w: %q", apperr.ErrInvalidTier, s)
	}
	return t, nil
}

// Rank returns the tier's position in the ascending order, 0 for leaves
// through 3 for roots. Unknown tiers rank as leaves.
func (t Tier) Rank() int {
	return tierRank[t]
}

// Marker returns the single-letter display marker used by tree listings.
func (t Tier) Marker() string {
	switch t {
	case TierRoots:
		return "[R]"
	case TierTrunk:
		return "[T]"
	case TierBranches:
		return "[B]"
	case TierLeaves:
		return "[L]"
	}
	return "[?]"
}
