package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/grovekb/grove/internal/models"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntier: trunk\nconfidence: 0.8\ntags:\n  - indicators\n  - momentum\ncreated_at: 2025-01-15T10:00:00Z\nupdated_at: 2025-01-16T10:00:00Z\n---\nMACD crossovers work best in trending markets.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Tier != models.TierTrunk {
		t.Errorf("tier = %q, want trunk", r.Tier)
	}
	if r.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", r.Confidence)
	}
	if len(r.Tags) != 2 || r.Tags[0] != "indicators" || r.Tags[1] != "momentum" {
		t.Errorf("tags = %v, want [indicators momentum]", r.Tags)
	}
	if !strings.Contains(r.Body, "MACD crossovers") {
		t.Errorf("body = %q", r.Body)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.Before(r.CreatedAt) {
		t.Errorf("timestamps: created=%v updated=%v", r.CreatedAt, r.UpdatedAt)
	}
}

func TestParse_NoFrontmatterDefaults(t *testing.T) {
	r, err := Parse([]byte("Just a plain observation.\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Tier != models.TierLeaves {
		t.Errorf("tier = %q, want leaves", r.Tier)
	}
	if r.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", r.Confidence)
	}
	if r.Body != "Just a plain observation.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_InvalidYAMLFallsBackToBody(t *testing.T) {
	input := []byte("---\n: bad: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Tier != models.TierLeaves || r.Confidence != 0.5 {
		t.Errorf("invalid yaml should keep defaults, got tier=%q conf=%v", r.Tier, r.Confidence)
	}
}

func TestComposeParseRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	leaf := &models.Leaf{
		Path:       "trading/patterns/macd.md",
		Content:    "MACD crossovers work best in trending markets.",
		Tier:       models.TierTrunk,
		Confidence: 0.8,
		Tags:       []string{"indicators", "momentum"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	data, err := Compose(leaf)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Tier != leaf.Tier || r.Confidence != leaf.Confidence {
		t.Errorf("got tier=%q conf=%v", r.Tier, r.Confidence)
	}
	if len(r.Tags) != 2 || r.Tags[0] != "indicators" {
		t.Errorf("tags = %v", r.Tags)
	}
	if strings.TrimSpace(r.Body) != leaf.Content {
		t.Errorf("body = %q, want %q", r.Body, leaf.Content)
	}
	if !r.CreatedAt.Equal(now) || !r.UpdatedAt.Equal(now) {
		t.Errorf("timestamps: %v / %v", r.CreatedAt, r.UpdatedAt)
	}
}

func TestZeroConfidenceRoundTrip(t *testing.T) {
	leaf := &models.Leaf{
		Path:      "trading/gotchas/disproven.md",
		Content:   "Fully disproven claim.",
		Tier:      models.TierLeaves,
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := Compose(leaf)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 (explicit 0.0 must not default)", r.Confidence)
	}
}

func TestParse_MissingConfidenceDefaults(t *testing.T) {
	r, err := Parse([]byte("---\ntier: trunk\n---\nBody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 default", r.Confidence)
	}
}

func TestParse_UnknownTierTolerated(t *testing.T) {
	input := []byte("---\ntier: mystery\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Tier != models.TierLeaves {
		t.Errorf("unknown tier should default to leaves, got %q", r.Tier)
	}
}
