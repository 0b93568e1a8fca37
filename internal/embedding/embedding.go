// Package embedding provides vector embedding generation for semantic
// search: a dependency-free n-gram hashing embedder and a server-backed
// embedder that degrades to hashing when the daemon is unreachable.
package embedding

import (
	"context"
	"encoding/binary"
	"math"
)

// Provider names recorded in store configuration.
const (
	ProviderLite   = "lite"
	ProviderServer = "server"
)

// Embedder generates fixed-length vectors from text. For a given
// configuration the same text always yields the same vector (model-backed
// implementations are deterministic up to the model's own guarantees).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// Cosine returns the cosine similarity of two vectors, 0 when either has
// zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EncodeVector serializes a vector as little-endian float32 for blob storage.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector deserializes a blob written by EncodeVector.
func DecodeVector(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec
}
