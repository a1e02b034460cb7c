package local

import (
	"hash/fnv"
	"math"
	"strings"
)

// StubEmbedder produces deterministic hash-based vectors. The same
// text always yields the same vector and texts sharing tokens overlap,
// which is enough for exercising similarity logic without a model.
type StubEmbedder struct {
	dimension int
}

// NewStubEmbedder creates a stub embedder with the given dimension.
func NewStubEmbedder(dimension int) *StubEmbedder {
	if dimension <= 0 {
		dimension = 128
	}
	return &StubEmbedder{dimension: dimension}
}

// Embed returns a deterministic L2-normalized pseudo-embedding.
func (e *StubEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, e.dimension)

	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	for _, token := range tokens {
		h := fnv.New32a()
		h.Write([]byte(token))
		seed := h.Sum32()
		// Spread each token over a few dimensions.
		for j := uint32(0); j < 4; j++ {
			idx := int((seed + j*2654435761) % uint32(e.dimension))
			vec[idx] += 1.0
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Close is a no-op.
func (e *StubEmbedder) Close() error {
	return nil
}
