package embedding

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"math"
	"strings"
)

// DefaultLiteDimensions is the vector length of the lite embedder when the
// store does not configure one.
const DefaultLiteDimensions = 384

// Lite approximates semantics with lexical overlap: character trigrams and
// word unigrams hashed into a fixed number of buckets, L2-normalized.
// Zero dependencies, works offline, deterministic.
type Lite struct {
	dim int
}

var _ Embedder = (*Lite)(nil)

// NewLite returns a lite embedder producing vectors of the given length.
// A non-positive dim falls back to DefaultLiteDimensions.
func NewLite(dim int) *Lite {
	if dim <= 0 {
		dim = DefaultLiteDimensions
	}
	return &Lite{dim: dim}
}

func (l *Lite) Dimensions() int { return l.dim }

func (l *Lite) Model() string { return ProviderLite }

func (l *Lite) Embed(_ context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	vec := make([]float32, l.dim)

	// Character trigrams.
	runes := []rune(text)
	for i := 0; i+3 <= len(runes); i++ {
		vec[l.bucket(string(runes[i:i+3]))]++
	}

	// Word unigrams, weighted above trigrams.
	for _, word := range strings.Fields(text) {
		vec[l.bucket(word)] += 2
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (l *Lite) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (l *Lite) bucket(s string) int {
	sum := md5.Sum([]byte(s))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(l.dim))
}
